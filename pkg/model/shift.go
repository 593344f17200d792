package model

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// DemandKind 需求类型
type DemandKind string

const (
	KindSite          DemandKind = "site"           // 院区站点
	KindOperatingRoom DemandKind = "operating_room" // 手术室
)

// slotTolerance 向上取整时容忍的浮点误差
const slotTolerance = 1e-9

// ScheduleRecord 原始排班需求记录
type ScheduleRecord struct {
	ID            string     `json:"id" validate:"required"`
	StartDate     string     `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string     `json:"end_date" validate:"required,datetime=2006-01-02"`
	StartTime     string     `json:"start_time" validate:"required,datetime=15:04"`
	EndTime       string     `json:"end_time" validate:"required,datetime=15:04"`
	LocationID    string     `json:"location_id" validate:"required"`
	RoleID        string     `json:"role_id" validate:"required"`
	Kind          DemandKind `json:"kind" validate:"required,oneof=site operating_room"`
	StaffingRatio float64    `json:"staffing_ratio" validate:"gt=0"`
}

// DemandKey 需求单元唯一键
type DemandKey struct {
	Date       string  `json:"date"`
	HalfDay    HalfDay `json:"half_day"`
	LocationID string  `json:"location_id"`
	RoleID     string  `json:"role_id"`
}

// String 返回键的文本形式
func (k DemandKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Date, k.HalfDay, k.LocationID, k.RoleID)
}

// DemandUnit 半天需求单元
type DemandUnit struct {
	Date           string     `json:"date" db:"date"`
	HalfDay        HalfDay    `json:"half_day" db:"half_day"`
	LocationID     string     `json:"location_id" db:"location_id"`
	RoleID         string     `json:"role_id" db:"role_id"`
	Kind           DemandKind `json:"kind" db:"kind"`
	RequiredCount  float64    `json:"required_count" db:"required_count"` // 保留小数，不提前取整
	ClosesLocation bool       `json:"closes_location" db:"closes_location"`
}

// Key 返回需求单元键
func (d DemandUnit) Key() DemandKey {
	return DemandKey{Date: d.Date, HalfDay: d.HalfDay, LocationID: d.LocationID, RoleID: d.RoleID}
}

// Slots 需要填充的人数（向上取整）
func (d DemandUnit) Slots() int {
	return CeilSlots(d.RequiredCount)
}

// CeilSlots 对小数需求向上取整
func CeilSlots(required float64) int {
	if required <= slotTolerance {
		return 0
	}
	return int(math.Ceil(required - slotTolerance))
}

// RoleTag 关门职责标签
type RoleTag string

const (
	TagNone   RoleTag = ""   // 无职责
	TagFirst  RoleTag = "1R" // 第一关门人
	TagSecond RoleTag = "2F" // 第二关门人
	TagThird  RoleTag = "3F" // 第三关门人
)

// Valid 检查标签是否合法
func (t RoleTag) Valid() bool {
	switch t {
	case TagNone, TagFirst, TagSecond, TagThird:
		return true
	}
	return false
}

// IsWeeklyLimited 2F/3F 受每周一次的硬约束
func (t RoleTag) IsWeeklyLimited() bool {
	return t == TagSecond || t == TagThird
}

// Assignment 分配结果
type Assignment struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	RunID        uuid.UUID  `json:"run_id" db:"run_id"`
	Phase        Phase      `json:"phase" db:"phase"`
	DemandKey    *DemandKey `json:"demand_key,omitempty" db:"-"` // 为空表示行政占位
	SupplyUnitID string     `json:"supply_unit_id" db:"supply_unit_id"`
	PersonID     uuid.UUID  `json:"person_id" db:"person_id"`
	Date         string     `json:"date" db:"date"`
	HalfDay      HalfDay    `json:"half_day" db:"half_day"`
	LocationID   string     `json:"location_id" db:"location_id"`
	RoleID       string     `json:"role_id" db:"role_id"`
	RoleTag      RoleTag    `json:"role_tag,omitempty" db:"role_tag"`
}

// SlotKey 人员半天唯一键
type SlotKey struct {
	PersonID uuid.UUID
	Date     string
	HalfDay  HalfDay
}

// Slot 返回分配占用的人员半天
func (a Assignment) Slot() SlotKey {
	return SlotKey{PersonID: a.PersonID, Date: a.Date, HalfDay: a.HalfDay}
}

// IsPlaceholder 是否为行政占位分配
func (a Assignment) IsPlaceholder() bool {
	return a.DemandKey == nil
}

// SameContent 比较两个分配的业务内容（忽略 ID 与批次）
func (a Assignment) SameContent(b Assignment) bool {
	return a.PersonID == b.PersonID && a.Date == b.Date && a.HalfDay == b.HalfDay &&
		a.LocationID == b.LocationID && a.RoleID == b.RoleID && a.RoleTag == b.RoleTag
}

// AssignmentsBySlot 按人员半天索引分配
func AssignmentsBySlot(list []Assignment) map[SlotKey]Assignment {
	idx := make(map[SlotKey]Assignment, len(list))
	for _, a := range list {
		idx[a.Slot()] = a
	}
	return idx
}
