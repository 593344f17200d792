package model

import (
	"fmt"

	"github.com/google/uuid"
)

// PersonKind 人员类型
type PersonKind string

const (
	PersonStaff  PersonKind = "staff"  // 正式人员
	PersonBackup PersonKind = "backup" // 机动替补池
)

// AvailabilitySource 可用性来源
type AvailabilitySource string

const (
	SourceSchedule AvailabilitySource = "schedule" // 个人排班
	SourceCapacity AvailabilitySource = "capacity" // 产能声明
	SourceBackup   AvailabilitySource = "backup"   // 替补池日分配
)

// Person 人员
type Person struct {
	ID                 uuid.UUID  `json:"id" db:"id" validate:"required"`
	Name               string     `json:"name" db:"name"`
	Kind               PersonKind `json:"kind" db:"kind" validate:"required,oneof=staff backup"`
	EligibleLocations  []string   `json:"eligible_locations" db:"-"`
	EligibleRoles      []string   `json:"eligible_roles" db:"-"`
	PreferredLocations []string   `json:"preferred_locations,omitempty" db:"-"`
	FlexibleQuota      int        `json:"flexible_quota" db:"flexible_quota" validate:"gte=0,lte=7"` // 每周可灵活安排天数
	Active             bool       `json:"active" db:"active"`
}

// IsBackup 是否为替补池成员
func (p *Person) IsBackup() bool {
	return p.Kind == PersonBackup
}

// AvailabilityRecord 原始可用性记录
type AvailabilityRecord struct {
	PersonID  uuid.UUID          `json:"person_id" validate:"required"`
	StartDate string             `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string             `json:"end_date" validate:"required,datetime=2006-01-02"`
	StartTime string             `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string             `json:"end_time" validate:"required,datetime=15:04"`
	Source    AvailabilitySource `json:"source" validate:"required,oneof=schedule capacity backup"`
}

// SupplyUnit 半天供给单元
type SupplyUnit struct {
	ID                string     `json:"id"`
	Date              string     `json:"date"`
	HalfDay           HalfDay    `json:"half_day"`
	PersonID          uuid.UUID  `json:"person_id"`
	PersonKind        PersonKind `json:"person_kind"`
	EligibleLocations StringSet  `json:"-"`
	EligibleRoles     StringSet  `json:"-"`
	PrefersLocations  StringSet  `json:"-"`
	FlexibleQuota     int        `json:"flexible_quota"`
	AlreadyAssigned   bool       `json:"already_assigned"`
}

// SupplyUnitID 供给单元的确定性 ID
func SupplyUnitID(personID uuid.UUID, date string, half HalfDay) string {
	return fmt.Sprintf("%s|%s|%s", personID, date, half)
}

// Slot 返回供给单元对应的人员半天
func (s SupplyUnit) Slot() SlotKey {
	return SlotKey{PersonID: s.PersonID, Date: s.Date, HalfDay: s.HalfDay}
}

// IsBackup 是否来自替补池
func (s SupplyUnit) IsBackup() bool {
	return s.PersonKind == PersonBackup
}

// CanCover 检查是否可以覆盖需求单元
func (s SupplyUnit) CanCover(d DemandUnit) bool {
	if s.Date != d.Date || s.HalfDay != d.HalfDay {
		return false
	}
	return s.EligibleLocations.Has(d.LocationID) && s.EligibleRoles.Has(d.RoleID)
}

// Prefers 是否偏好该站点
func (s SupplyUnit) Prefers(locationID string) bool {
	return s.PrefersLocations.Has(locationID)
}

// IsFlexible 是否为灵活配额人员
func (s SupplyUnit) IsFlexible() bool {
	return s.FlexibleQuota > 0
}

// CapacityForecast 理论产能预测（仅用于比较，不生成分配）
type CapacityForecast struct {
	Date    string  `json:"date"`
	HalfDay HalfDay `json:"half_day"`
	Demand  float64 `json:"demand"`
	Supply  float64 `json:"supply"`
	Gap     float64 `json:"gap"`
}
