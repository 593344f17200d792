// Package validator 提供分配结果验证功能
package validator

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

// ConflictType 冲突类型
type ConflictType string

const (
	ConflictDoubleBooking ConflictType = "double_booking" // 同一人员同一半天多次分配
	ConflictOverCoverage  ConflictType = "over_coverage"  // 超过向上取整后的需求人数
	ConflictWeeklyRole    ConflictType = "weekly_role"    // 每周 2F/3F 超限
	ConflictDuplicateRole ConflictType = "duplicate_role" // 同一站点同一天职责重复
	ConflictMissingRole   ConflictType = "missing_role"   // 关门站点缺少第一关门人
)

// 严重程度
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Conflict 冲突信息
type Conflict struct {
	Type        ConflictType  `json:"type"`
	Severity    string        `json:"severity"` // error/warning
	PersonID    uuid.UUID     `json:"person_id,omitempty"`
	Date        string        `json:"date"`
	HalfDay     model.HalfDay `json:"half_day,omitempty"`
	LocationID  string        `json:"location_id,omitempty"`
	Message     string        `json:"message"`
	Assignments []uuid.UUID   `json:"assignments,omitempty"` // 相关的分配ID
}

// DetectorConfig 检测器配置
type DetectorConfig struct {
	WeeklyRoleLimit   int  // 每人每周 2F/3F 上限
	CheckCoverage     bool // 是否检查覆盖上限
	CheckWeeklyRoles  bool // 是否检查每周职责上限
	CheckClosingRoles bool // 是否检查关门职责唯一与缺失
}

// DefaultDetectorConfig 返回默认配置
func DefaultDetectorConfig() *DetectorConfig {
	return &DetectorConfig{
		WeeklyRoleLimit:   1,
		CheckCoverage:     true,
		CheckWeeklyRoles:  true,
		CheckClosingRoles: true,
	}
}

// ConflictDetector 冲突检测器
type ConflictDetector struct {
	config *DetectorConfig
}

// NewConflictDetector 创建冲突检测器
func NewConflictDetector(config *DetectorConfig) *ConflictDetector {
	if config == nil {
		config = DefaultDetectorConfig()
	}
	return &ConflictDetector{config: config}
}

// DetectAll 检测所有冲突
func (d *ConflictDetector) DetectAll(assignments []model.Assignment, demand []model.DemandUnit) []Conflict {
	conflicts := d.DetectDoubleBooking(assignments)
	if d.config.CheckCoverage {
		conflicts = append(conflicts, d.detectOverCoverage(assignments, demand)...)
	}
	if d.config.CheckWeeklyRoles {
		conflicts = append(conflicts, d.detectWeeklyRoles(assignments)...)
	}
	if d.config.CheckClosingRoles {
		conflicts = append(conflicts, d.detectClosingRoles(assignments, demand)...)
	}
	return conflicts
}

// DetectForBatch 检测新批次与其他阶段已有分配之间的重复占用
func (d *ConflictDetector) DetectForBatch(batch, existing []model.Assignment) []Conflict {
	owned := model.AssignmentsBySlot(existing)
	var conflicts []Conflict
	for _, a := range batch {
		other, ok := owned[a.Slot()]
		if !ok || other.ID == a.ID {
			continue
		}
		conflicts = append(conflicts, doubleBooking(a, other))
	}
	return append(conflicts, d.DetectDoubleBooking(batch)...)
}

// DetectDoubleBooking 同一人员同一半天只能有一条分配
func (d *ConflictDetector) DetectDoubleBooking(assignments []model.Assignment) []Conflict {
	seen := make(map[model.SlotKey]model.Assignment, len(assignments))
	var conflicts []Conflict
	for _, a := range assignments {
		if first, ok := seen[a.Slot()]; ok {
			conflicts = append(conflicts, doubleBooking(a, first))
			continue
		}
		seen[a.Slot()] = a
	}
	return conflicts
}

func doubleBooking(a, b model.Assignment) Conflict {
	return Conflict{
		Type:        ConflictDoubleBooking,
		Severity:    SeverityError,
		PersonID:    a.PersonID,
		Date:        a.Date,
		HalfDay:     a.HalfDay,
		Message:     fmt.Sprintf("人员 %s 在 %s %s 已分配到 %s", a.PersonID, a.Date, a.HalfDay, b.LocationID),
		Assignments: []uuid.UUID{a.ID, b.ID},
	}
}

// detectOverCoverage 分配人数不超过向上取整的需求
func (d *ConflictDetector) detectOverCoverage(assignments []model.Assignment, demand []model.DemandUnit) []Conflict {
	counts := make(map[model.DemandKey][]uuid.UUID)
	for _, a := range assignments {
		if a.DemandKey != nil {
			counts[*a.DemandKey] = append(counts[*a.DemandKey], a.ID)
		}
	}
	var conflicts []Conflict
	for _, u := range demand {
		ids := counts[u.Key()]
		if len(ids) <= u.Slots() {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Type:        ConflictOverCoverage,
			Severity:    SeverityError,
			Date:        u.Date,
			HalfDay:     u.HalfDay,
			LocationID:  u.LocationID,
			Message:     fmt.Sprintf("%s 分配 %d 人，超过需求 %d 人", u.Key(), len(ids), u.Slots()),
			Assignments: ids,
		})
	}
	return conflicts
}

// detectWeeklyRoles 每人每周 2F/3F 合计不超过上限
func (d *ConflictDetector) detectWeeklyRoles(assignments []model.Assignment) []Conflict {
	counters := model.CountWeeklyRoles(assignments)
	keys := make([]model.CounterKey, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].WeekStart != keys[j].WeekStart {
			return keys[i].WeekStart < keys[j].WeekStart
		}
		return keys[i].PersonID.String() < keys[j].PersonID.String()
	})

	var conflicts []Conflict
	for _, k := range keys {
		c := counters[k]
		if c.Limited() <= d.config.WeeklyRoleLimit {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Type:     ConflictWeeklyRole,
			Severity: SeverityError,
			PersonID: k.PersonID,
			Date:     k.WeekStart,
			Message:  fmt.Sprintf("人员 %s 在 %s 当周承担 2F/3F 共 %d 次", k.PersonID, k.WeekStart, c.Limited()),
		})
	}
	return conflicts
}

// detectClosingRoles 同一站点同一天每种职责至多一人，关门站点需有 1R
func (d *ConflictDetector) detectClosingRoles(assignments []model.Assignment, demand []model.DemandUnit) []Conflict {
	type roleKey struct {
		date     string
		location string
		tag      model.RoleTag
	}
	holders := make(map[roleKey][]model.Assignment)
	for _, a := range assignments {
		if a.RoleTag == model.TagNone {
			continue
		}
		k := roleKey{a.Date, a.LocationID, a.RoleTag}
		holders[k] = append(holders[k], a)
	}

	var conflicts []Conflict
	for k, list := range holders {
		if len(list) < 2 {
			continue
		}
		ids := make([]uuid.UUID, 0, len(list))
		for _, a := range list {
			ids = append(ids, a.ID)
		}
		conflicts = append(conflicts, Conflict{
			Type:        ConflictDuplicateRole,
			Severity:    SeverityError,
			Date:        k.date,
			LocationID:  k.location,
			Message:     fmt.Sprintf("%s %s 的 %s 有 %d 人", k.date, k.location, k.tag, len(list)),
			Assignments: ids,
		})
	}

	staffed := make(map[[2]string]bool)
	for _, a := range assignments {
		if !a.IsPlaceholder() {
			staffed[[2]string{a.Date, a.LocationID}] = true
		}
	}
	reported := make(map[[2]string]bool)
	for _, u := range demand {
		k := [2]string{u.Date, u.LocationID}
		if !u.ClosesLocation || reported[k] || !staffed[k] {
			continue
		}
		reported[k] = true
		if len(holders[roleKey{u.Date, u.LocationID, model.TagFirst}]) == 0 {
			conflicts = append(conflicts, Conflict{
				Type:       ConflictMissingRole,
				Severity:   SeverityWarning,
				Date:       u.Date,
				LocationID: u.LocationID,
				Message:    fmt.Sprintf("%s %s 有人在岗但没有第一关门人", u.Date, u.LocationID),
			})
		}
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		if conflicts[i].Date != conflicts[j].Date {
			return conflicts[i].Date < conflicts[j].Date
		}
		return conflicts[i].LocationID < conflicts[j].LocationID
	})
	return conflicts
}

// HasErrors 是否存在错误级冲突
func HasErrors(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == SeverityError {
			return true
		}
	}
	return false
}
