package constraint

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

// 覆盖行优先级：手术室 > 关门站点 > 普通站点
const (
	PriorityGeneral  = 1
	PriorityClosure  = 2
	PriorityOperRoom = 3
)

// SingleUseRule 每个供给单元至多使用一次
type SingleUseRule struct{}

func (SingleUseRule) Name() string       { return "供给单元单次使用" }
func (SingleUseRule) Type() Type         { return TypeSingleUse }
func (SingleUseRule) Category() Category { return CategoryHard }
func (SingleUseRule) Weight() int        { return 100 }

func (SingleUseRule) Apply(b *Builder) error {
	for _, id := range b.unitOrder {
		row := &Row{Name: "use:" + id, Kind: RowSingleUse, Bound: BoundUpper, Up: 1}
		for _, v := range b.byUnit[id] {
			row.Terms = append(row.Terms, Term{Var: v, Coef: 1})
		}
		if err := b.Model.AddRow(row); err != nil {
			return err
		}
	}
	return nil
}

// CoverageRule 每个需求单元的分配人数不超过向上取整后的需求
type CoverageRule struct{}

func (CoverageRule) Name() string       { return "需求覆盖上限" }
func (CoverageRule) Type() Type         { return TypeCoverage }
func (CoverageRule) Category() Category { return CategoryHard }
func (CoverageRule) Weight() int        { return 90 }

func (CoverageRule) Apply(b *Builder) error {
	for _, d := range b.demands {
		vars := b.byDemand[d.Key()]
		if len(vars) == 0 {
			continue
		}
		row := &Row{
			Name:     "cover:" + d.Key().String(),
			Kind:     RowCoverage,
			Bound:    BoundUpper,
			Up:       float64(b.Ctx.Remaining(d)),
			Priority: coveragePriority(d),
		}
		for _, v := range vars {
			row.Terms = append(row.Terms, Term{Var: v, Coef: 1})
		}
		if err := b.Model.AddRow(row); err != nil {
			return err
		}
	}
	return nil
}

func coveragePriority(d model.DemandUnit) int {
	switch {
	case d.Kind == model.KindOperatingRoom:
		return PriorityOperRoom
	case d.ClosesLocation:
		return PriorityClosure
	default:
		return PriorityGeneral
	}
}

// SiteContinuityRule 上下午在同一站点时获得换站惩罚的返还
// 辅助变量 y <= Σx_上午, y <= Σx_下午
type SiteContinuityRule struct{}

func (SiteContinuityRule) Name() string       { return "上下午同站点" }
func (SiteContinuityRule) Type() Type         { return TypeSiteContinuity }
func (SiteContinuityRule) Category() Category { return CategorySoft }
func (SiteContinuityRule) Weight() int        { return 50 }

func (SiteContinuityRule) Apply(b *Builder) error {
	type key struct {
		person uuid.UUID
		date   string
		site   string
	}
	halves := make(map[key]map[model.HalfDay][]int)
	var order []key
	for i, v := range b.Model.Vars {
		if v.Kind != VarAssign {
			continue
		}
		k := key{v.Meta.PersonID, v.Meta.Date, v.Meta.LocationID}
		if _, ok := halves[k]; !ok {
			halves[k] = make(map[model.HalfDay][]int)
			order = append(order, k)
		}
		halves[k][v.Meta.HalfDay] = append(halves[k][v.Meta.HalfDay], i)
	}

	for _, k := range order {
		am, pm := halves[k][model.Morning], halves[k][model.Afternoon]
		if len(am) == 0 || len(pm) == 0 {
			continue
		}
		meta := Meta{PersonID: k.person, Date: k.date, LocationID: k.site}
		obj := b.Ctx.objective(VarPair, meta)
		if obj <= 0 {
			continue
		}
		y := b.Model.AddVar(VarPair, meta, obj)
		for _, half := range [][]int{am, pm} {
			row := &Row{
				Name:  fmt.Sprintf("pair:%s|%s|%s", k.person, k.date, k.site),
				Kind:  RowLink,
				Bound: BoundUpper,
				Up:    0,
				Terms: []Term{{Var: y, Coef: 1}},
			}
			for _, x := range half {
				row.Terms = append(row.Terms, Term{Var: x, Coef: -1})
			}
			if err := b.Model.AddRow(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// WeeklyCloserRule 每人每周 2F/3F 合计不超过一次（扣除范围外已承担的次数）
type WeeklyCloserRule struct{}

func (WeeklyCloserRule) Name() string       { return "每周第二/第三关门人上限" }
func (WeeklyCloserRule) Type() Type         { return TypeWeeklyCloser }
func (WeeklyCloserRule) Category() Category { return CategoryHard }
func (WeeklyCloserRule) Weight() int        { return 100 }

func (WeeklyCloserRule) Apply(b *Builder) error {
	type key struct {
		person uuid.UUID
		week   string
	}
	groups := make(map[key][]int)
	var order []key
	for i, v := range b.Model.Vars {
		if v.Kind != VarClosing || !v.Meta.RoleTag.IsWeeklyLimited() {
			continue
		}
		k := key{v.Meta.PersonID, model.WeekStart(v.Meta.Date)}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].week != order[j].week {
			return order[i].week < order[j].week
		}
		return order[i].person.String() < order[j].person.String()
	})

	for _, k := range order {
		limit := 1 - b.Ctx.WeeklyTagsOutside(k.person, k.week)
		if limit < 0 {
			limit = 0
		}
		row := &Row{
			Name:  fmt.Sprintf("weekly:%s|%s", k.person, k.week),
			Kind:  RowWeekly,
			Bound: BoundUpper,
			Up:    float64(limit),
		}
		for _, v := range groups[k] {
			row.Terms = append(row.Terms, Term{Var: v, Coef: 1})
		}
		if err := b.Model.AddRow(row); err != nil {
			return err
		}
	}
	return nil
}

// CloserPerDayRule 每人每天至多承担一个关门职责
type CloserPerDayRule struct{}

func (CloserPerDayRule) Name() string       { return "每人每天单一职责" }
func (CloserPerDayRule) Type() Type         { return TypeCloserPerDay }
func (CloserPerDayRule) Category() Category { return CategoryHard }
func (CloserPerDayRule) Weight() int        { return 95 }

func (CloserPerDayRule) Apply(b *Builder) error {
	groups := make(map[string][]int)
	var order []string
	for i, v := range b.Model.Vars {
		if v.Kind != VarClosing {
			continue
		}
		k := fmt.Sprintf("%s|%s", v.Meta.Date, v.Meta.PersonID)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}
	sort.Strings(order)

	for _, k := range order {
		row := &Row{Name: "day:" + k, Kind: RowPersonDay, Bound: BoundUpper, Up: 1}
		for _, v := range groups[k] {
			row.Terms = append(row.Terms, Term{Var: v, Coef: 1})
		}
		if err := b.Model.AddRow(row); err != nil {
			return err
		}
	}
	return nil
}

// CloserUniqueRule 每个关门站点每天 1R、2F（需要时 3F）各恰好一人
// 候选人不足时，排在后面的职责降为至多一人
type CloserUniqueRule struct{}

func (CloserUniqueRule) Name() string       { return "关门职责唯一" }
func (CloserUniqueRule) Type() Type         { return TypeCloserUnique }
func (CloserUniqueRule) Category() Category { return CategoryHard }
func (CloserUniqueRule) Weight() int        { return 90 }

func (CloserUniqueRule) Apply(b *Builder) error {
	for _, g := range b.groups {
		for i, tag := range g.Roles {
			vars := g.Vars[tag]
			if len(vars) == 0 {
				continue
			}
			row := &Row{
				Name:     fmt.Sprintf("closer:%s|%s|%s", g.Date, g.Site, tag),
				Kind:     RowRoleUnique,
				Bound:    BoundFixed,
				Lo:       1,
				Up:       1,
				Priority: PriorityClosure,
			}
			if i >= g.Candidates {
				row.Bound, row.Lo = BoundUpper, 0
			}
			for _, v := range vars {
				row.Terms = append(row.Terms, Term{Var: v, Coef: 1})
			}
			if err := b.Model.AddRow(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlexibleQuotaRule 灵活配额人员每周出勤天数不超过配额，手术室与灵活阶段共用
// 按天辅助变量 w：x <= w，Σw <= 配额 - 本周已出勤天数
// 已出勤的日期不建 w，当天再分配不占新配额
type FlexibleQuotaRule struct{}

func (FlexibleQuotaRule) Name() string       { return "灵活配额天数" }
func (FlexibleQuotaRule) Type() Type         { return TypeFlexibleQuota }
func (FlexibleQuotaRule) Category() Category { return CategoryHard }
func (FlexibleQuotaRule) Weight() int        { return 80 }

func (FlexibleQuotaRule) Apply(b *Builder) error {
	type dayKey struct {
		person uuid.UUID
		date   string
	}
	type weekKey struct {
		person uuid.UUID
		week   string
	}
	used := make(map[weekKey]model.StringSet)
	usedDays := func(wk weekKey) model.StringSet {
		if s, ok := used[wk]; ok {
			return s
		}
		s := b.Ctx.UsedDays(wk.person, wk.week)
		used[wk] = s
		return s
	}

	byDay := make(map[dayKey][]int)
	var days []dayKey
	for i, v := range b.Model.Vars {
		if v.Kind != VarAssign {
			continue
		}
		if _, ok := b.quota[v.Meta.PersonID]; !ok {
			continue
		}
		if usedDays(weekKey{v.Meta.PersonID, model.WeekStart(v.Meta.Date)}).Has(v.Meta.Date) {
			continue
		}
		k := dayKey{v.Meta.PersonID, v.Meta.Date}
		if _, ok := byDay[k]; !ok {
			days = append(days, k)
		}
		byDay[k] = append(byDay[k], i)
	}
	sort.SliceStable(days, func(i, j int) bool {
		if days[i].person != days[j].person {
			return days[i].person.String() < days[j].person.String()
		}
		return days[i].date < days[j].date
	})

	weeks := make(map[weekKey][]int)
	var weekOrder []weekKey
	for _, k := range days {
		meta := Meta{PersonID: k.person, Date: k.date}
		w := b.Model.AddVar(VarDay, meta, b.Ctx.objective(VarDay, meta))
		for _, x := range byDay[k] {
			row := &Row{
				Name:  fmt.Sprintf("flexday:%s|%s", k.person, k.date),
				Kind:  RowLink,
				Bound: BoundUpper,
				Up:    0,
				Terms: []Term{{Var: x, Coef: 1}, {Var: w, Coef: -1}},
			}
			if err := b.Model.AddRow(row); err != nil {
				return err
			}
		}
		wk := weekKey{k.person, model.WeekStart(k.date)}
		if _, ok := weeks[wk]; !ok {
			weekOrder = append(weekOrder, wk)
		}
		weeks[wk] = append(weeks[wk], w)
	}

	for _, wk := range weekOrder {
		limit := b.quota[wk.person] - len(usedDays(wk))
		if limit < 0 {
			limit = 0
		}
		row := &Row{
			Name:  fmt.Sprintf("quota:%s|%s", wk.person, wk.week),
			Kind:  RowQuota,
			Bound: BoundUpper,
			Up:    float64(limit),
		}
		for _, w := range weeks[wk] {
			row.Terms = append(row.Terms, Term{Var: w, Coef: 1})
		}
		if err := b.Model.AddRow(row); err != nil {
			return err
		}
	}
	return nil
}
