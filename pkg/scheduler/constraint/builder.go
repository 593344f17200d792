package constraint

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

// closingGroup 同一关门站点同一天的候选人与职责
type closingGroup struct {
	Date       string
	Site       string
	Roles      []model.RoleTag
	Vars       map[model.RoleTag][]int
	Candidates int
}

// Builder 阶段模型构建器
type Builder struct {
	Ctx   *Context
	Model *Model

	demands    []model.DemandUnit
	byDemand   map[model.DemandKey][]int
	unitOrder  []string
	byUnit     map[string][]int
	quota      map[uuid.UUID]int
	groups     []*closingGroup
	rowsByRule map[Type]int
}

// DefaultManager 返回阶段默认的规则集合
func DefaultManager(phase model.Phase) *Manager {
	switch phase {
	case model.PhaseOperatingRoom:
		return NewManager(SingleUseRule{}, CoverageRule{}, FlexibleQuotaRule{})
	case model.PhaseSites:
		return NewManager(SingleUseRule{}, CoverageRule{}, SiteContinuityRule{})
	case model.PhaseClosing:
		return NewManager(WeeklyCloserRule{}, CloserPerDayRule{}, CloserUniqueRule{})
	case model.PhaseFlexible:
		return NewManager(SingleUseRule{}, CoverageRule{}, FlexibleQuotaRule{})
	}
	return NewManager()
}

// Build 使用默认规则构建阶段模型
func Build(ctx *Context) (*Model, error) {
	return BuildWith(ctx, DefaultManager(ctx.Phase))
}

// BuildWith 使用指定规则构建阶段模型
func BuildWith(ctx *Context, manager *Manager) (*Model, error) {
	if !ctx.Phase.Valid() {
		return nil, fmt.Errorf("未知阶段 %q", ctx.Phase)
	}
	if ctx.byDemand == nil {
		ctx.SetOthers(ctx.Others)
	}

	b := &Builder{
		Ctx:        ctx,
		Model:      NewModel(fmt.Sprintf("%s:%s", ctx.Phase, ctx.Scope.Key()), ctx.Phase),
		byDemand:   make(map[model.DemandKey][]int),
		byUnit:     make(map[string][]int),
		quota:      make(map[uuid.UUID]int),
		rowsByRule: make(map[Type]int),
	}

	switch ctx.Phase {
	case model.PhaseOperatingRoom:
		b.assignVars(model.KindOperatingRoom, func(u model.SupplyUnit, d model.DemandUnit) bool { return true })
	case model.PhaseSites:
		b.assignVars(model.KindSite, b.sitesEligible)
	case model.PhaseClosing:
		b.closingVars()
	case model.PhaseFlexible:
		b.assignVars(model.KindSite, func(u model.SupplyUnit, d model.DemandUnit) bool { return u.IsFlexible() })
	}

	if err := manager.Apply(b); err != nil {
		return nil, err
	}
	return b.Model, nil
}

// Demands 参与本阶段的需求单元
func (b *Builder) Demands() []model.DemandUnit {
	return b.demands
}

// RowsByRule 每条规则写入的行数
func (b *Builder) RowsByRule() map[Type]int {
	return b.rowsByRule
}

// assignVars 为供给单元与需求单元的可行组合建立变量
func (b *Builder) assignVars(kind model.DemandKind, eligible func(model.SupplyUnit, model.DemandUnit) bool) {
	for _, d := range b.Ctx.Demand {
		if d.Kind != kind || !b.Ctx.Scope.Contains(d.Date) {
			continue
		}
		if b.Ctx.Phase == model.PhaseFlexible && b.Ctx.Remaining(d) == 0 {
			continue
		}
		b.demands = append(b.demands, d)
		key := d.Key()

		for _, u := range b.Ctx.Supply {
			if u.AlreadyAssigned || !u.CanCover(d) || !eligible(u, d) {
				continue
			}
			k := key
			meta := Meta{
				SupplyUnitID: u.ID,
				PersonID:     u.PersonID,
				Date:         d.Date,
				HalfDay:      d.HalfDay,
				LocationID:   d.LocationID,
				RoleID:       d.RoleID,
				DemandKey:    &k,
				Slots:        d.Slots(),
				Backup:       u.IsBackup(),
				Prefers:      u.Prefers(d.LocationID),
			}
			idx := b.Model.AddVar(VarAssign, meta, b.Ctx.objective(VarAssign, meta))
			b.byDemand[key] = append(b.byDemand[key], idx)
			if _, seen := b.byUnit[u.ID]; !seen {
				b.unitOrder = append(b.unitOrder, u.ID)
			}
			b.byUnit[u.ID] = append(b.byUnit[u.ID], idx)
			if u.FlexibleQuota > 0 {
				b.quota[u.PersonID] = u.FlexibleQuota
			}
		}
	}
}

// sitesEligible 站点阶段：排除灵活配额人员与地理互斥组合
func (b *Builder) sitesEligible(u model.SupplyUnit, d model.DemandUnit) bool {
	if u.IsFlexible() {
		return false
	}
	if b.Ctx.Topology == nil {
		return true
	}
	for _, a := range b.Ctx.PersonAssignments(u.PersonID) {
		if a.Phase != model.PhaseOperatingRoom || a.Date != d.Date {
			continue
		}
		if b.Ctx.Topology.Excluded(a.LocationID, d.LocationID) {
			return false
		}
	}
	return true
}

// closingVars 为关门站点的在岗人员建立职责变量
// 候选人取当天下午在该站点的分配，下午无人时取上午
func (b *Builder) closingVars() {
	type siteDay struct{ date, site string }
	seen := make(map[siteDay]bool)
	var days []siteDay
	for _, d := range b.Ctx.Demand {
		if d.Kind != model.KindSite || !d.ClosesLocation || !b.Ctx.Scope.Contains(d.Date) {
			continue
		}
		sd := siteDay{d.Date, d.LocationID}
		if !seen[sd] {
			seen[sd] = true
			days = append(days, sd)
		}
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].date != days[j].date {
			return days[i].date < days[j].date
		}
		return days[i].site < days[j].site
	})

	candidates := make(map[siteDay]map[model.HalfDay][]model.Assignment)
	for _, a := range b.Ctx.Others {
		if a.Phase != model.PhaseSites || a.IsPlaceholder() {
			continue
		}
		sd := siteDay{a.Date, a.LocationID}
		if !seen[sd] {
			continue
		}
		if candidates[sd] == nil {
			candidates[sd] = make(map[model.HalfDay][]model.Assignment)
		}
		candidates[sd][a.HalfDay] = append(candidates[sd][a.HalfDay], a)
	}

	for _, sd := range days {
		pool := candidates[sd][model.Afternoon]
		if len(pool) == 0 {
			pool = candidates[sd][model.Morning]
		}
		pool = uniquePersons(pool)

		roles := []model.RoleTag{model.TagFirst, model.TagSecond}
		if b.Ctx.Topology != nil && b.Ctx.Topology.NeedsThirdCloser(sd.site) {
			roles = append(roles, model.TagThird)
		}
		g := &closingGroup{
			Date:       sd.date,
			Site:       sd.site,
			Roles:      roles,
			Vars:       make(map[model.RoleTag][]int),
			Candidates: len(pool),
		}
		for _, a := range pool {
			for _, tag := range roles {
				meta := Meta{
					SupplyUnitID: a.SupplyUnitID,
					AssignmentID: a.ID,
					PersonID:     a.PersonID,
					Date:         a.Date,
					HalfDay:      a.HalfDay,
					LocationID:   a.LocationID,
					RoleID:       a.RoleID,
					RoleTag:      tag,
					Backup:       b.Ctx.Backup[a.PersonID],
				}
				idx := b.Model.AddVar(VarClosing, meta, b.Ctx.objective(VarClosing, meta))
				g.Vars[tag] = append(g.Vars[tag], idx)
			}
		}
		b.groups = append(b.groups, g)
	}
}

// uniquePersons 同一人员只保留一条分配，按人员 ID 排序
func uniquePersons(list []model.Assignment) []model.Assignment {
	seen := make(map[uuid.UUID]bool)
	var out []model.Assignment
	for _, a := range list {
		if seen[a.PersonID] {
			continue
		}
		seen[a.PersonID] = true
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PersonID.String() < out[j].PersonID.String()
	})
	return out
}
