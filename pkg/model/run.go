package model

import (
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/paiban/staffplan/pkg/errors"
)

// Phase 优化阶段
type Phase string

const (
	PhaseOperatingRoom Phase = "operating_room"      // 手术室
	PhaseSites         Phase = "sites"               // 站点
	PhaseClosing       Phase = "closing_responsible" // 关门职责
	PhaseFlexible      Phase = "flexible_quota"      // 灵活配额
)

// PhaseOrder 固定执行顺序
func PhaseOrder() []Phase {
	return []Phase{PhaseOperatingRoom, PhaseSites, PhaseClosing, PhaseFlexible}
}

// Valid 检查阶段是否合法
func (p Phase) Valid() bool {
	for _, known := range PhaseOrder() {
		if p == known {
			return true
		}
	}
	return false
}

// ConsumesSupply 该阶段是否占用供给单元
// 关门阶段只为已有站点分配打标签
func (p Phase) ConsumesSupply() bool {
	return p != PhaseClosing
}

// Scope 优化范围：单日或一周
type Scope struct {
	DateRange
}

// DayScope 单日范围
func DayScope(date string) Scope {
	return Scope{DateRange{StartDate: date, EndDate: date}}
}

// WeekScope 周范围（周一至周日）
func WeekScope(date string) Scope {
	start := WeekStart(date)
	return Scope{DateRange{StartDate: start, EndDate: AddDays(start, 6)}}
}

// Key 作为锁或日志使用的键
func (s Scope) Key() string {
	if s.StartDate == s.EndDate {
		return s.StartDate
	}
	return s.StartDate + ".." + s.EndDate
}

// Weeks 范围覆盖的所有周一
func (s Scope) Weeks() []string {
	dates, err := s.Dates()
	if err != nil {
		return nil
	}
	seen := NewStringSet()
	var weeks []string
	for _, d := range dates {
		w := WeekStart(d)
		if !seen.Has(w) {
			seen[w] = struct{}{}
			weeks = append(weeks, w)
		}
	}
	return weeks
}

// WeeklyRoleCounter 每人每周关门职责计数
type WeeklyRoleCounter struct {
	PersonID  uuid.UUID `json:"person_id"`
	WeekStart string    `json:"week_start"`
	Primary   int       `json:"primary"`
	Second    int       `json:"second"`
	Third     int       `json:"third"`
}

// Limited 受每周上限约束的次数
func (c WeeklyRoleCounter) Limited() int {
	return c.Second + c.Third
}

// CounterKey 计数器索引键
type CounterKey struct {
	PersonID  uuid.UUID
	WeekStart string
}

// CountWeeklyRoles 从分配中统计每周关门职责
func CountWeeklyRoles(list []Assignment) map[CounterKey]*WeeklyRoleCounter {
	out := make(map[CounterKey]*WeeklyRoleCounter)
	for _, a := range list {
		if a.RoleTag == TagNone {
			continue
		}
		key := CounterKey{PersonID: a.PersonID, WeekStart: WeekStart(a.Date)}
		c, ok := out[key]
		if !ok {
			c = &WeeklyRoleCounter{PersonID: a.PersonID, WeekStart: key.WeekStart}
			out[key] = c
		}
		switch a.RoleTag {
		case TagFirst:
			c.Primary++
		case TagSecond:
			c.Second++
		case TagThird:
			c.Third++
		}
	}
	return out
}

// OptimizationRun 一次优化运行记录
type OptimizationRun struct {
	ID             uuid.UUID          `json:"id" db:"id"`
	Scope          Scope              `json:"scope" db:"-"`
	PhasesExecuted []Phase            `json:"phases_executed" db:"-"`
	ObjectiveScore float64            `json:"objective_score" db:"objective_score"`
	Penalties      map[string]float64 `json:"penalties" db:"-"`
	DryRun         bool               `json:"dry_run" db:"dry_run"`
	GeneratedAt    time.Time          `json:"generated_at" db:"generated_at"`
}

// NewOptimizationRun 创建运行记录
func NewOptimizationRun(scope Scope, dryRun bool) *OptimizationRun {
	return &OptimizationRun{
		ID:          uuid.New(),
		Scope:       scope,
		Penalties:   make(map[string]float64),
		DryRun:      dryRun,
		GeneratedAt: time.Now(),
	}
}

// Change 预演差异中的单条变更
type Change struct {
	PersonID uuid.UUID   `json:"person_id"`
	Date     string      `json:"date"`
	HalfDay  HalfDay     `json:"half_day"`
	Before   *Assignment `json:"before,omitempty"`
	After    *Assignment `json:"after,omitempty"`
}

// Slot 变更所在人员半天
func (c Change) Slot() SlotKey {
	return SlotKey{PersonID: c.PersonID, Date: c.Date, HalfDay: c.HalfDay}
}

// InputIssue 被跳过的输入记录
type InputIssue struct {
	Source   string         `json:"source"`
	RecordID string         `json:"record_id"`
	Code     apperrors.Code `json:"code"`
	Reason   string         `json:"reason"`
}

// NewInputIssue 由跳过原因生成输入问题，非 AppError 归为 INPUT_DATA
func NewInputIssue(source, recordID string, err error) InputIssue {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.InputData(err.Error())
	}
	return InputIssue{Source: source, RecordID: recordID, Code: appErr.Code, Reason: appErr.Message}
}

// Inputs 一次运行读取的原始输入
type Inputs struct {
	Records      []ScheduleRecord     `json:"records"`
	Persons      []Person             `json:"persons"`
	Availability []AvailabilityRecord `json:"availability"`
}
