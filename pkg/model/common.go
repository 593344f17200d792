// Package model 定义人力分配优化引擎的核心数据模型
package model

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout 日期格式
const DateLayout = "2006-01-02"

// HalfDay 半天时段
type HalfDay string

const (
	Morning   HalfDay = "morning"   // 上午
	Afternoon HalfDay = "afternoon" // 下午
)

// HalfDays 按时间顺序返回全部半天时段
func HalfDays() []HalfDay {
	return []HalfDay{Morning, Afternoon}
}

// Valid 检查半天时段是否合法
func (h HalfDay) Valid() bool {
	return h == Morning || h == Afternoon
}

// Other 返回同一天的另一个半天
func (h HalfDay) Other() HalfDay {
	if h == Morning {
		return Afternoon
	}
	return Morning
}

// Order 排序用序号
func (h HalfDay) Order() int {
	if h == Morning {
		return 0
	}
	return 1
}

// ClockWindow 一天内的时间窗口（自零点起的分钟数）
type ClockWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Minutes 窗口长度
func (w ClockWindow) Minutes() int {
	return w.End - w.Start
}

// Overlap 返回两个窗口重叠的分钟数，不重叠返回 0
func (w ClockWindow) Overlap(other ClockWindow) int {
	start := w.Start
	if other.Start > start {
		start = other.Start
	}
	end := w.End
	if other.End < end {
		end = other.End
	}
	if end <= start {
		return 0
	}
	return end - start
}

// ParseClock 解析 HH:MM 为分钟数
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("时间格式无效 %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// NewClockWindow 由 HH:MM 字符串构建窗口
func NewClockWindow(start, end string) (ClockWindow, error) {
	s, err := ParseClock(start)
	if err != nil {
		return ClockWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return ClockWindow{}, err
	}
	if e <= s {
		return ClockWindow{}, fmt.Errorf("结束时间 %s 必须晚于开始时间 %s", end, start)
	}
	return ClockWindow{Start: s, End: e}, nil
}

// DateRange 日期范围（含首尾）
type DateRange struct {
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"` // YYYY-MM-DD
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`   // YYYY-MM-DD
}

// Dates 展开为逐日列表
func (r DateRange) Dates() ([]string, error) {
	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return nil, fmt.Errorf("开始日期无效: %w", err)
	}
	end, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return nil, fmt.Errorf("结束日期无效: %w", err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("结束日期 %s 早于开始日期 %s", r.EndDate, r.StartDate)
	}

	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}

// Contains 检查日期是否在范围内
func (r DateRange) Contains(date string) bool {
	return date >= r.StartDate && date <= r.EndDate
}

// Overlaps 检查两个范围是否相交
func (r DateRange) Overlaps(other DateRange) bool {
	return r.StartDate <= other.EndDate && other.StartDate <= r.EndDate
}

// WeekStart 返回日期所在周的周一
func WeekStart(date string) string {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset).Format(DateLayout)
}

// IsWeekend 检查日期是否为周末
func IsWeekend(date string) bool {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return false
	}
	return d.Weekday() == time.Saturday || d.Weekday() == time.Sunday
}

// AddDays 日期偏移
func AddDays(date string, days int) string {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return d.AddDate(0, 0, days).Format(DateLayout)
}

// StringSet 字符串集合
type StringSet map[string]struct{}

// NewStringSet 创建集合
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Has 检查元素是否存在
func (s StringSet) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Sorted 返回排序后的元素
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HalfDayWindows 上下午时间窗口
type HalfDayWindows struct {
	Morning   ClockWindow `json:"morning"`
	Afternoon ClockWindow `json:"afternoon"`
}

// DefaultHalfDayWindows 默认窗口 08:00-12:30 / 13:00-17:30
func DefaultHalfDayWindows() HalfDayWindows {
	return HalfDayWindows{
		Morning:   ClockWindow{Start: 8 * 60, End: 12*60 + 30},
		Afternoon: ClockWindow{Start: 13 * 60, End: 17*60 + 30},
	}
}

// Window 返回半天对应的窗口
func (w HalfDayWindows) Window(h HalfDay) ClockWindow {
	if h == Morning {
		return w.Morning
	}
	return w.Afternoon
}
