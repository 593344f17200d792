// Package scoring 计算分配方案的覆盖率得分与软约束惩罚
package scoring

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/scheduler/constraint"
)

// 惩罚与奖励项名称
const (
	PenaltySiteChange      = "site_change"
	PenaltyClosureOverload = "closure_overload"
	PenaltyLocationOveruse = "location_overuse"
	BonusContinuity        = "continuity"
)

// Weights 评分权重
type Weights struct {
	CoverageReward    float64 `json:"coverage_reward"`    // 覆盖奖励（目标函数中保持主导）
	SiteChange        float64 `json:"site_change"`        // 上下午换站点
	ClosureOverload   float64 `json:"closure_overload"`   // 关门职责过载
	OverloadThreshold int     `json:"overload_threshold"` // 窗口内不计惩罚的关门次数
	OverloadWindow    int     `json:"overload_window"`    // 关门次数统计窗口（天）
	LocationOveruse   float64 `json:"location_overuse"`   // 高需求站点重复使用
	OveruseWindow     int     `json:"overuse_window"`     // 站点使用统计窗口（天）
	Continuity        float64 `json:"continuity"`         // 与上次结果一致
	PreferredLocation float64 `json:"preferred_location"` // 偏好站点
}

// DefaultWeights 返回默认权重
func DefaultWeights() Weights {
	return Weights{
		CoverageReward:    100,
		SiteChange:        0.5,
		ClosureOverload:   0.25,
		OverloadThreshold: 2,
		OverloadWindow:    28,
		LocationOveruse:   0.1,
		OveruseWindow:     28,
		Continuity:        0.05,
		PreferredLocation: 0.1,
	}
}

// HighDemand 判断站点是否为高需求站点
type HighDemand interface {
	IsHighDemand(locationID string) bool
}

// Context 评分上下文
type Context struct {
	// Demand 范围内的需求单元
	Demand []model.DemandUnit
	// History 范围之前已提交的分配（回看窗口内）
	History []model.Assignment
	// Previous 上一次提交的范围内分配，用于连续性奖励
	Previous []model.Assignment
	// Preferred 人员偏好站点
	Preferred map[uuid.UUID]model.StringSet
	Topology  HighDemand
	// Reference 回看窗口的参照日期（通常为范围起始日）
	Reference string
}

// Score 评分结果
type Score struct {
	Base      float64            `json:"base"`
	Penalties map[string]float64 `json:"penalties"`
	Bonuses   map[string]float64 `json:"bonuses"`
	Total     float64            `json:"total"`
}

// Evaluator 评分器
type Evaluator struct {
	weights Weights
	ctx     Context

	closings map[uuid.UUID]int // 窗口内历史关门次数
	usage    map[usageKey]int  // 窗口内历史站点使用次数
	previous map[model.SlotKey]model.Assignment
}

type usageKey struct {
	person   uuid.UUID
	location string
}

// NewEvaluator 创建评分器
func NewEvaluator(w Weights, ctx Context) *Evaluator {
	e := &Evaluator{
		weights:  w,
		ctx:      ctx,
		closings: make(map[uuid.UUID]int),
		usage:    make(map[usageKey]int),
		previous: model.AssignmentsBySlot(ctx.Previous),
	}

	for _, a := range ctx.History {
		if a.RoleTag != model.TagNone && e.inWindow(a.Date, w.OverloadWindow) {
			e.closings[a.PersonID]++
		}
		if !a.IsPlaceholder() && e.inWindow(a.Date, w.OveruseWindow) {
			e.usage[usageKey{a.PersonID, a.LocationID}]++
		}
	}
	return e
}

// Weights 返回当前权重
func (e *Evaluator) Weights() Weights {
	return e.weights
}

// inWindow 日期是否落在参照日之前的窗口内
func (e *Evaluator) inWindow(date string, days int) bool {
	if e.ctx.Reference == "" || days <= 0 {
		return true
	}
	return date < e.ctx.Reference && date >= model.AddDays(e.ctx.Reference, -days)
}

// Evaluate 对一批分配评分
func (e *Evaluator) Evaluate(batch []model.Assignment) Score {
	score := Score{
		Base:      e.base(batch),
		Penalties: map[string]float64{},
		Bonuses:   map[string]float64{},
	}

	if v := e.siteChange(batch); v > 0 {
		score.Penalties[PenaltySiteChange] = v
	}
	if v := e.closureOverload(batch); v > 0 {
		score.Penalties[PenaltyClosureOverload] = v
	}
	if v := e.locationOveruse(batch); v > 0 {
		score.Penalties[PenaltyLocationOveruse] = v
	}
	if v := e.continuity(batch); v > 0 {
		score.Bonuses[BonusContinuity] = v
	}

	score.Total = score.Base
	for _, p := range score.Penalties {
		score.Total -= p
	}
	for _, b := range score.Bonuses {
		score.Total += b
	}
	return score
}

// Penalty 惩罚减奖励，局部搜索以此为下降目标
func (e *Evaluator) Penalty(batch []model.Assignment) float64 {
	return e.siteChange(batch) + e.closureOverload(batch) + e.locationOveruse(batch) - e.continuity(batch)
}

// base Σ min(已分配, 需求人数) / 需求人数
func (e *Evaluator) base(batch []model.Assignment) float64 {
	counts := make(map[model.DemandKey]int)
	for _, a := range batch {
		if a.DemandKey != nil {
			counts[*a.DemandKey]++
		}
	}
	var total float64
	for _, d := range e.ctx.Demand {
		slots := d.Slots()
		if slots == 0 {
			continue
		}
		n := counts[d.Key()]
		if n > slots {
			n = slots
		}
		total += float64(n) / float64(slots)
	}
	return total
}

// siteChange 同一人同一天上下午不在同一站点
func (e *Evaluator) siteChange(batch []model.Assignment) float64 {
	if e.weights.SiteChange == 0 {
		return 0
	}
	type dayKey struct {
		person uuid.UUID
		date   string
	}
	halves := make(map[dayKey]map[model.HalfDay]string)
	for _, a := range batch {
		if a.IsPlaceholder() {
			continue
		}
		k := dayKey{a.PersonID, a.Date}
		if halves[k] == nil {
			halves[k] = make(map[model.HalfDay]string)
		}
		halves[k][a.HalfDay] = a.LocationID
	}
	changes := 0
	for _, h := range halves {
		am, okAM := h[model.Morning]
		pm, okPM := h[model.Afternoon]
		if okAM && okPM && am != pm {
			changes++
		}
	}
	return e.weights.SiteChange * float64(changes)
}

// closureOverload 窗口内关门次数超过阈值的平方惩罚
func (e *Evaluator) closureOverload(batch []model.Assignment) float64 {
	if e.weights.ClosureOverload == 0 {
		return 0
	}
	counts := make(map[uuid.UUID]int)
	for id, n := range e.closings {
		counts[id] = n
	}
	for _, a := range batch {
		if a.RoleTag != model.TagNone {
			counts[a.PersonID]++
		}
	}
	var total float64
	for _, n := range counts {
		excess := n - e.weights.OverloadThreshold
		if excess > 0 {
			total += e.weights.ClosureOverload * float64(excess*excess)
		}
	}
	return total
}

// locationOveruse 非偏好高需求站点的递进惩罚
func (e *Evaluator) locationOveruse(batch []model.Assignment) float64 {
	if e.weights.LocationOveruse == 0 || e.ctx.Topology == nil {
		return 0
	}
	ordered := make([]model.Assignment, 0, len(batch))
	for _, a := range batch {
		if !a.IsPlaceholder() && e.overuseApplies(a.PersonID, a.LocationID) {
			ordered = append(ordered, a)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Date != ordered[j].Date {
			return ordered[i].Date < ordered[j].Date
		}
		return ordered[i].HalfDay.Order() < ordered[j].HalfDay.Order()
	})

	seen := make(map[usageKey]int)
	var total float64
	for _, a := range ordered {
		k := usageKey{a.PersonID, a.LocationID}
		total += e.weights.LocationOveruse * float64(e.usage[k]+seen[k])
		seen[k]++
	}
	return total
}

func (e *Evaluator) overuseApplies(person uuid.UUID, location string) bool {
	if !e.ctx.Topology.IsHighDemand(location) {
		return false
	}
	return !e.ctx.Preferred[person].Has(location)
}

// continuity 与上次提交完全一致的分配
func (e *Evaluator) continuity(batch []model.Assignment) float64 {
	if e.weights.Continuity == 0 || len(e.previous) == 0 {
		return 0
	}
	n := 0
	for _, a := range batch {
		if prev, ok := e.previous[a.Slot()]; ok && prev.SameContent(a) {
			n++
		}
	}
	return e.weights.Continuity * float64(n)
}

// AssignValue 分配变量的目标系数
func (e *Evaluator) AssignValue(meta constraint.Meta) float64 {
	if meta.Slots <= 0 {
		return 0
	}
	v := e.weights.CoverageReward / float64(meta.Slots)
	if meta.Prefers {
		v += e.weights.PreferredLocation
	}
	if e.ctx.Topology != nil && !meta.Prefers && e.ctx.Topology.IsHighDemand(meta.LocationID) {
		v -= e.weights.LocationOveruse * float64(e.usage[usageKey{meta.PersonID, meta.LocationID}])
	}
	if prev, ok := e.previous[model.SlotKey{PersonID: meta.PersonID, Date: meta.Date, HalfDay: meta.HalfDay}]; ok &&
		prev.LocationID == meta.LocationID && prev.RoleID == meta.RoleID {
		v += e.weights.Continuity
	}
	return v
}

// ClosingValue 关门职责变量的目标系数
// 1R 优先正式人员，2F/3F 优先替补池人员，再扣除过载的边际惩罚
func (e *Evaluator) ClosingValue(meta constraint.Meta) float64 {
	var v float64
	switch {
	case meta.RoleTag == model.TagFirst && !meta.Backup,
		meta.RoleTag.IsWeeklyLimited() && meta.Backup:
		v = 1
	default:
		v = 0.5
	}

	n := e.closings[meta.PersonID]
	t := e.weights.OverloadThreshold
	after := math.Max(0, float64(n+1-t))
	before := math.Max(0, float64(n-t))
	v -= e.weights.ClosureOverload * (after*after - before*before)

	if prev, ok := e.previous[model.SlotKey{PersonID: meta.PersonID, Date: meta.Date, HalfDay: meta.HalfDay}]; ok &&
		prev.RoleTag == meta.RoleTag && prev.LocationID == meta.LocationID {
		v += e.weights.Continuity
	}
	return v
}

// PairValue 上下午同站点辅助变量的系数
func (e *Evaluator) PairValue(meta constraint.Meta) float64 {
	return e.weights.SiteChange
}

// Objective 返回模型构建使用的目标系数函数
func (e *Evaluator) Objective() constraint.ObjectiveFunc {
	return func(kind constraint.VarKind, meta constraint.Meta) float64 {
		switch kind {
		case constraint.VarAssign:
			return e.AssignValue(meta)
		case constraint.VarClosing:
			return e.ClosingValue(meta)
		case constraint.VarPair:
			return e.PairValue(meta)
		}
		return 0
	}
}

// Compare 按总分比较，a 更好返回 1
func Compare(a, b Score) int {
	switch {
	case a.Total > b.Total+1e-9:
		return 1
	case a.Total < b.Total-1e-9:
		return -1
	}
	return 0
}
