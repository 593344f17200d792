package constraint

import (
	"sort"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

// Type 约束规则类型标识
type Type string

const (
	// 硬约束类型
	TypeSingleUse     Type = "single_use"
	TypeCoverage      Type = "coverage_cap"
	TypeWeeklyCloser  Type = "weekly_closer_limit"
	TypeCloserPerDay  Type = "closer_per_day"
	TypeCloserUnique  Type = "closer_unique"
	TypeFlexibleQuota Type = "flexible_quota"

	// 软约束类型
	TypeSiteContinuity Type = "site_continuity"
)

// Category 约束类别
type Category string

const (
	CategoryHard Category = "hard" // 硬约束（必须满足）
	CategorySoft Category = "soft" // 软约束（进入目标函数）
)

// Rule 约束规则：向模型写入行（软约束可同时添加辅助变量）
type Rule interface {
	// Name 返回规则名称
	Name() string

	// Type 返回规则类型
	Type() Type

	// Category 返回规则类别
	Category() Category

	// Weight 返回规则权重 (1-100)，同类别内权重高的先写入
	Weight() int

	// Apply 向构建器中的模型写入约束
	Apply(b *Builder) error
}

// Topology 模型构建所需的站点信息
type Topology interface {
	ClosesLocation(locationID string) bool
	NeedsThirdCloser(locationID string) bool
	Excluded(room, site string) bool
}

// ObjectiveFunc 计算变量的目标系数
type ObjectiveFunc func(kind VarKind, meta Meta) float64

// Context 阶段构建上下文
type Context struct {
	Phase  model.Phase
	Scope  model.Scope
	Demand []model.DemandUnit
	// Supply 剩余供给（已被其他阶段占用的单元标记为 AlreadyAssigned）
	Supply []model.SupplyUnit
	// Others 其他阶段已提交的分配（覆盖范围所在的整周）
	Others    []model.Assignment
	Backup    map[uuid.UUID]bool
	Topology  Topology
	Objective ObjectiveFunc

	byDemand map[model.DemandKey]int
	byPerson map[uuid.UUID][]model.Assignment
}

// NewContext 创建构建上下文
func NewContext(phase model.Phase, scope model.Scope) *Context {
	return &Context{
		Phase:  phase,
		Scope:  scope,
		Backup: make(map[uuid.UUID]bool),
	}
}

// SetOthers 设置其他阶段的分配并重建索引
func (c *Context) SetOthers(list []model.Assignment) {
	c.Others = list
	c.byDemand = make(map[model.DemandKey]int)
	c.byPerson = make(map[uuid.UUID][]model.Assignment)
	for _, a := range list {
		if a.DemandKey != nil && c.Scope.Contains(a.Date) {
			c.byDemand[*a.DemandKey]++
		}
		c.byPerson[a.PersonID] = append(c.byPerson[a.PersonID], a)
	}
	for id := range c.byPerson {
		sort.SliceStable(c.byPerson[id], func(i, j int) bool {
			a, b := c.byPerson[id][i], c.byPerson[id][j]
			if a.Date != b.Date {
				return a.Date < b.Date
			}
			return a.HalfDay.Order() < b.HalfDay.Order()
		})
	}
}

// Covered 其他阶段已覆盖该需求的人数
func (c *Context) Covered(key model.DemandKey) int {
	return c.byDemand[key]
}

// Remaining 需求剩余可填充人数
func (c *Context) Remaining(d model.DemandUnit) int {
	rem := d.Slots() - c.Covered(d.Key())
	if rem < 0 {
		return 0
	}
	return rem
}

// PersonAssignments 人员在其他阶段的分配
func (c *Context) PersonAssignments(personID uuid.UUID) []model.Assignment {
	return c.byPerson[personID]
}

// WeeklyTagsOutside 人员在某周范围外日期已承担的 2F/3F 次数
func (c *Context) WeeklyTagsOutside(personID uuid.UUID, week string) int {
	n := 0
	for _, a := range c.byPerson[personID] {
		if a.RoleTag.IsWeeklyLimited() && model.WeekStart(a.Date) == week && !c.Scope.Contains(a.Date) {
			n++
		}
	}
	return n
}

// UsedDays 人员在某周已有分配的日期（任意阶段，占位分配除外）
// 灵活配额按出勤天数计，这些日期再分配不会占用新的配额
func (c *Context) UsedDays(personID uuid.UUID, week string) model.StringSet {
	days := model.NewStringSet()
	for _, a := range c.byPerson[personID] {
		if !a.IsPlaceholder() && model.WeekStart(a.Date) == week {
			days[a.Date] = struct{}{}
		}
	}
	return days
}

// objective 计算目标系数，未配置时使用覆盖率默认值
func (c *Context) objective(kind VarKind, meta Meta) float64 {
	if c.Objective != nil {
		return c.Objective(kind, meta)
	}
	if kind == VarAssign && meta.Slots > 0 {
		return 1 / float64(meta.Slots)
	}
	if kind == VarClosing {
		return 1
	}
	return 0
}
