// Package stats 提供分配结果统计分析功能
package stats

import (
	"sort"

	"github.com/paiban/staffplan/pkg/model"
)

// CoverageMetrics 覆盖率指标
type CoverageMetrics struct {
	// 整体覆盖率
	TotalRequired   float64 `json:"total_required"`   // 需求人数合计（小数）
	TotalSlots      int     `json:"total_slots"`      // 向上取整后的席位数
	Assigned        int     `json:"assigned"`         // 已填充席位（不超过需求）
	Unmet           int     `json:"unmet"`            // 未填充席位
	OverallCoverage float64 `json:"overall_coverage"` // 整体覆盖率 (%)

	// 按日期统计
	DailyCoverage map[string]DayCoverage `json:"daily_coverage"`

	// 按站点统计
	LocationCoverage map[string]float64 `json:"location_coverage"`

	// 按半天统计
	HalfDayCoverage map[model.HalfDay]float64 `json:"half_day_coverage"`

	// 行政占位人数
	Placeholders int `json:"placeholders"`

	// 问题识别
	Uncovered []UncoveredDemand `json:"uncovered"`
}

// DayCoverage 每日覆盖情况
type DayCoverage struct {
	Date         string  `json:"date"`
	Slots        int     `json:"slots"`
	Assigned     int     `json:"assigned"`
	CoverageRate float64 `json:"coverage_rate"`
	StaffCount   int     `json:"staff_count"`
}

// UncoveredDemand 未满足的需求单元
type UncoveredDemand struct {
	Date       string           `json:"date"`
	HalfDay    model.HalfDay    `json:"half_day"`
	LocationID string           `json:"location_id"`
	RoleID     string           `json:"role_id"`
	Kind       model.DemandKind `json:"kind"`
	Required   float64          `json:"required"`
	Assigned   int              `json:"assigned"`
	Shortage   int              `json:"shortage"`
}

// CoverageAnalyzer 覆盖率分析器
type CoverageAnalyzer struct{}

// NewCoverageAnalyzer 创建覆盖率分析器
func NewCoverageAnalyzer() *CoverageAnalyzer {
	return &CoverageAnalyzer{}
}

// Analyze 分析覆盖率
func (c *CoverageAnalyzer) Analyze(demand []model.DemandUnit, assignments []model.Assignment) *CoverageMetrics {
	metrics := &CoverageMetrics{
		DailyCoverage:    make(map[string]DayCoverage),
		LocationCoverage: make(map[string]float64),
		HalfDayCoverage:  make(map[model.HalfDay]float64),
	}

	counts := make(map[model.DemandKey]int)
	staff := make(map[string]map[string]bool)
	for _, a := range assignments {
		if a.IsPlaceholder() {
			metrics.Placeholders++
			continue
		}
		counts[*a.DemandKey]++
		if staff[a.Date] == nil {
			staff[a.Date] = make(map[string]bool)
		}
		staff[a.Date][a.PersonID.String()] = true
	}

	dailyStats := make(map[string]*DayCoverage)
	locTotals := make(map[string][2]int)
	halfTotals := make(map[model.HalfDay][2]int)

	for _, d := range demand {
		slots := d.Slots()
		if slots == 0 {
			continue
		}
		filled := counts[d.Key()]
		if filled > slots {
			filled = slots
		}

		metrics.TotalRequired += d.RequiredCount
		metrics.TotalSlots += slots
		metrics.Assigned += filled

		if filled < slots {
			metrics.Uncovered = append(metrics.Uncovered, UncoveredDemand{
				Date:       d.Date,
				HalfDay:    d.HalfDay,
				LocationID: d.LocationID,
				RoleID:     d.RoleID,
				Kind:       d.Kind,
				Required:   d.RequiredCount,
				Assigned:   filled,
				Shortage:   slots - filled,
			})
		}

		day, exists := dailyStats[d.Date]
		if !exists {
			day = &DayCoverage{Date: d.Date, StaffCount: len(staff[d.Date])}
			dailyStats[d.Date] = day
		}
		day.Slots += slots
		day.Assigned += filled

		lt := locTotals[d.LocationID]
		locTotals[d.LocationID] = [2]int{lt[0] + slots, lt[1] + filled}
		ht := halfTotals[d.HalfDay]
		halfTotals[d.HalfDay] = [2]int{ht[0] + slots, ht[1] + filled}
	}

	metrics.Unmet = metrics.TotalSlots - metrics.Assigned
	metrics.OverallCoverage = rate(metrics.Assigned, metrics.TotalSlots)

	for date, day := range dailyStats {
		day.CoverageRate = rate(day.Assigned, day.Slots)
		metrics.DailyCoverage[date] = *day
	}
	for loc, t := range locTotals {
		metrics.LocationCoverage[loc] = rate(t[1], t[0])
	}
	for half, t := range halfTotals {
		metrics.HalfDayCoverage[half] = rate(t[1], t[0])
	}

	sort.Slice(metrics.Uncovered, func(i, j int) bool {
		a, b := metrics.Uncovered[i], metrics.Uncovered[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.HalfDay != b.HalfDay {
			return a.HalfDay.Order() < b.HalfDay.Order()
		}
		return a.LocationID < b.LocationID
	})
	return metrics
}

// UnmetByDate 每日未填充席位数
func (m *CoverageMetrics) UnmetByDate() map[string]int {
	out := make(map[string]int)
	for _, u := range m.Uncovered {
		out[u.Date] += u.Shortage
	}
	return out
}

// rate 覆盖率百分比，无需求时为 100
func rate(assigned, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(assigned) / float64(total) * 100
}
