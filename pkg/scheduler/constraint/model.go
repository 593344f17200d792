// Package constraint 定义整数规划模型与各阶段的约束构建
package constraint

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

// eps 浮点比较容差
const eps = 1e-9

// Sense 优化方向
type Sense int

const (
	Maximize Sense = iota
	Minimize
)

// BoundKind 行约束边界类型
type BoundKind string

const (
	BoundUpper  BoundKind = "UP" // activity <= Up
	BoundLower  BoundKind = "LO" // activity >= Lo
	BoundFixed  BoundKind = "FX" // activity == Lo == Up
	BoundDouble BoundKind = "DB" // Lo <= activity <= Up
)

// VarKind 变量类别
type VarKind string

const (
	VarAssign  VarKind = "assign"  // 供给单元 -> 需求单元
	VarClosing VarKind = "closing" // 人员 -> 关门职责
	VarPair    VarKind = "pair"    // 上下午同站点辅助变量
	VarDay     VarKind = "day"     // 灵活配额按天辅助变量
)

// IsAux 是否为辅助变量
func (k VarKind) IsAux() bool {
	return k == VarPair || k == VarDay
}

// RowKind 行约束类别
type RowKind string

const (
	RowCoverage   RowKind = "coverage"    // 需求覆盖上限
	RowSingleUse  RowKind = "single_use"  // 供给单元至多使用一次
	RowRoleUnique RowKind = "role_unique" // 关门职责唯一
	RowPersonDay  RowKind = "person_day"  // 每人每天至多一个职责
	RowWeekly     RowKind = "weekly"      // 2F/3F 每周上限
	RowLink       RowKind = "link"        // 辅助变量联动
	RowQuota      RowKind = "quota"       // 灵活配额天数上限
)

// Meta 变量的业务含义
type Meta struct {
	SupplyUnitID string           `json:"supply_unit_id,omitempty"`
	AssignmentID uuid.UUID        `json:"assignment_id,omitempty"`
	PersonID     uuid.UUID        `json:"person_id"`
	Date         string           `json:"date"`
	HalfDay      model.HalfDay    `json:"half_day,omitempty"`
	LocationID   string           `json:"location_id,omitempty"`
	RoleID       string           `json:"role_id,omitempty"`
	DemandKey    *model.DemandKey `json:"demand_key,omitempty"`
	Slots        int              `json:"slots,omitempty"`
	RoleTag      model.RoleTag    `json:"role_tag,omitempty"`
	Backup       bool             `json:"backup,omitempty"`
	Prefers      bool             `json:"prefers,omitempty"`
}

// Owner 占用者键：同一供给单元（或同一人员当天）
func (m Meta) Owner() string {
	if m.SupplyUnitID != "" {
		return m.SupplyUnitID
	}
	return fmt.Sprintf("%s|%s", m.PersonID, m.Date)
}

// Target 目标键：需求单元或关门职责
func (m Meta) Target() string {
	if m.DemandKey != nil {
		return m.DemandKey.String()
	}
	return fmt.Sprintf("%s|%s|%s", m.Date, m.LocationID, m.RoleTag)
}

// Variable 0-1 决策变量
type Variable struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Kind      VarKind `json:"kind"`
	Objective float64 `json:"objective"`
	Meta      Meta    `json:"meta"`
}

// Term 行中的一项
type Term struct {
	Var  int     `json:"var"`
	Coef float64 `json:"coef"`
}

// Row 线性约束行
type Row struct {
	Index    int       `json:"index"`
	Name     string    `json:"name"`
	Kind     RowKind   `json:"kind"`
	Bound    BoundKind `json:"bound"`
	Lo       float64   `json:"lo"`
	Up       float64   `json:"up"`
	Priority int       `json:"priority"`
	Terms    []Term    `json:"terms"`
}

// Activity 计算行活动值
func (r *Row) Activity(values []int) float64 {
	var sum float64
	for _, t := range r.Terms {
		sum += t.Coef * float64(values[t.Var])
	}
	return sum
}

// Admits 活动值是否满足边界
func (r *Row) Admits(activity float64) bool {
	return r.AdmitsUpper(activity) && r.AdmitsLower(activity)
}

// AdmitsUpper 检查上界
func (r *Row) AdmitsUpper(activity float64) bool {
	switch r.Bound {
	case BoundUpper, BoundFixed, BoundDouble:
		return activity <= r.Up+eps
	}
	return true
}

// AdmitsLower 检查下界
func (r *Row) AdmitsLower(activity float64) bool {
	switch r.Bound {
	case BoundLower, BoundFixed, BoundDouble:
		return activity >= r.Lo-eps
	}
	return true
}

// Target 行希望达到的活动值（覆盖行为上界，固定行为下界）
func (r *Row) Target() float64 {
	switch r.Bound {
	case BoundUpper:
		return r.Up
	default:
		return r.Lo
	}
}

// IsAtMostOne 是否为系数全为 1、上界为 1 的互斥行
func (r *Row) IsAtMostOne() bool {
	if r.Bound != BoundUpper || math.Abs(r.Up-1) > eps {
		return false
	}
	for _, t := range r.Terms {
		if math.Abs(t.Coef-1) > eps {
			return false
		}
	}
	return true
}

// Model 0-1 整数规划模型
type Model struct {
	Name  string      `json:"name"`
	Phase model.Phase `json:"phase"`
	Sense Sense       `json:"sense"`
	Vars  []*Variable `json:"vars"`
	Rows  []*Row      `json:"rows"`

	varRows [][]int
	byPair  map[string]int
}

// NewModel 创建模型
func NewModel(name string, phase model.Phase) *Model {
	return &Model{
		Name:   name,
		Phase:  phase,
		Sense:  Maximize,
		byPair: make(map[string]int),
	}
}

// AddVar 添加变量并返回下标
func (m *Model) AddVar(kind VarKind, meta Meta, objective float64) int {
	idx := len(m.Vars)
	v := &Variable{
		Index:     idx,
		Kind:      kind,
		Objective: objective,
		Meta:      meta,
	}
	v.Name = fmt.Sprintf("%s[%s->%s]", kind, meta.Owner(), meta.Target())
	m.Vars = append(m.Vars, v)
	m.varRows = append(m.varRows, nil)
	if !kind.IsAux() {
		m.byPair[meta.Owner()+"#"+meta.Target()] = idx
	}
	return idx
}

// AddRow 添加行约束
func (m *Model) AddRow(row *Row) error {
	if len(row.Terms) == 0 {
		return nil
	}
	for _, t := range row.Terms {
		if t.Var < 0 || t.Var >= len(m.Vars) {
			return fmt.Errorf("行 %s 引用了不存在的变量 %d", row.Name, t.Var)
		}
	}
	if row.Bound == BoundFixed {
		row.Up = row.Lo
	}
	row.Index = len(m.Rows)
	m.Rows = append(m.Rows, row)
	for _, t := range row.Terms {
		m.varRows[t.Var] = append(m.varRows[t.Var], row.Index)
	}
	return nil
}

// RowsOf 变量所在的行
func (m *Model) RowsOf(v int) []int {
	return m.varRows[v]
}

// Lookup 按占用者与目标查找变量
func (m *Model) Lookup(owner, target string) (int, bool) {
	idx, ok := m.byPair[owner+"#"+target]
	return idx, ok
}

// NumVars 变量个数
func (m *Model) NumVars() int {
	return len(m.Vars)
}

// Objective 计算目标值
func (m *Model) Objective(values []int) float64 {
	var sum float64
	for i, v := range m.Vars {
		sum += v.Objective * float64(values[i])
	}
	return sum
}

// Violations 返回不满足的行
func (m *Model) Violations(values []int) []*Row {
	var out []*Row
	for _, r := range m.Rows {
		if !r.Admits(r.Activity(values)) {
			out = append(out, r)
		}
	}
	return out
}

// Feasible 检查取值是否满足全部约束
func (m *Model) Feasible(values []int) bool {
	if len(values) != len(m.Vars) {
		return false
	}
	return len(m.Violations(values)) == 0
}

// Selected 返回取值为 1 的非辅助变量
func (m *Model) Selected(values []int) []*Variable {
	var out []*Variable
	for i, v := range m.Vars {
		if values[i] == 1 && !v.Kind.IsAux() {
			out = append(out, v)
		}
	}
	return out
}

// Implications 变量取 1 时必须同时取 1 的变量（形如 x - w <= 0 的联动行）
func (m *Model) Implications(v int) []int {
	var out []int
	for _, ri := range m.varRows[v] {
		r := m.Rows[ri]
		if r.Kind != RowLink || len(r.Terms) != 2 || r.Bound != BoundUpper || math.Abs(r.Up) > eps {
			continue
		}
		var self, other Term
		if r.Terms[0].Var == v {
			self, other = r.Terms[0], r.Terms[1]
		} else {
			self, other = r.Terms[1], r.Terms[0]
		}
		if self.Coef > 0 && other.Coef < 0 {
			out = append(out, other.Var)
		}
	}
	return out
}

// Relax 返回松弛模型：带下界的行改为上界行，行内变量获得覆盖奖励
// 奖励大于全部目标系数绝对值之和，松弛模型的最优解先让尽量多的下界行得到满足
// 变量与行的下标与原模型一致，取值可直接用于原模型
func (m *Model) Relax() *Model {
	reward := 1.0
	for _, v := range m.Vars {
		reward += math.Abs(v.Objective)
	}
	bonus := make([]float64, len(m.Vars))
	for _, r := range m.Rows {
		if r.Bound == BoundUpper {
			continue
		}
		for _, t := range r.Terms {
			if t.Coef > 0 {
				bonus[t.Var] += reward
			}
		}
	}

	out := NewModel(m.Name+":relaxed", m.Phase)
	out.Sense = m.Sense
	for i, v := range m.Vars {
		out.AddVar(v.Kind, v.Meta, v.Objective+bonus[i])
	}
	for _, r := range m.Rows {
		cp := *r
		cp.Terms = append([]Term(nil), r.Terms...)
		switch r.Bound {
		case BoundFixed, BoundDouble:
			cp.Bound = BoundUpper
		case BoundLower:
			cp.Bound = BoundUpper
			cp.Up = math.Inf(1)
		}
		cp.Lo = 0
		// 下标在原模型中已校验
		_ = out.AddRow(&cp)
	}
	return out
}
