package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/scheduler/constraint"
	"github.com/paiban/staffplan/pkg/scheduler/optimizer"
	"github.com/paiban/staffplan/pkg/scheduler/solver"
	"github.com/paiban/staffplan/pkg/scoring"
)

// runState 单次运行在阶段之间传递的状态
type runState struct {
	scope  model.Scope
	inputs *model.Inputs
	demand []model.DemandUnit
	issues []model.InputIssue
	backup map[uuid.UUID]bool

	// current 覆盖范围所在整周的分配，随阶段推进更新
	current []model.Assignment
	// previous 运行开始时范围内已提交的分配
	previous  []model.Assignment
	residual  Residual
	evaluator *scoring.Evaluator
}

// prepare 读取输入并建立初始状态
// 要重跑的阶段在范围内的旧分配不再占用供给，重跑关门阶段时清空范围内的职责标签
func (e *Engine) prepare(ctx context.Context, scope model.Scope, phases []model.Phase) (*runState, error) {
	inputs, err := e.store.LoadInputs(ctx, scope)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "读取输入失败")
	}

	demand, issues := e.normalizer.Normalize(inputs.Records, scope)
	units, supplyIssues := e.aggregator.Aggregate(inputs.Persons, inputs.Availability, scope)
	issues = append(issues, supplyIssues...)

	weeks := model.DateRange{
		StartDate: model.WeekStart(scope.StartDate),
		EndDate:   model.AddDays(model.WeekStart(scope.EndDate), 6),
	}
	committed, err := e.store.LoadCommitted(ctx, weeks)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "读取已提交分配失败")
	}
	history, err := e.store.LoadHistory(ctx, model.AddDays(scope.StartDate, -e.cfg.HistoryLookbackDays), scope.StartDate)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "读取历史分配失败")
	}

	rerun := make(map[model.Phase]bool, len(phases))
	for _, p := range phases {
		rerun[p] = true
	}

	st := &runState{
		scope:  scope,
		inputs: inputs,
		demand: demand,
		issues: issues,
		backup: make(map[uuid.UUID]bool),
	}
	for _, a := range committed {
		if !scope.Contains(a.Date) {
			st.current = append(st.current, a)
			continue
		}
		st.previous = append(st.previous, a)
		if rerun[a.Phase] {
			continue
		}
		if rerun[model.PhaseClosing] {
			a.RoleTag = model.TagNone
		}
		st.current = append(st.current, a)
	}

	preferred := make(map[uuid.UUID]model.StringSet, len(inputs.Persons))
	for _, p := range inputs.Persons {
		preferred[p.ID] = model.NewStringSet(p.PreferredLocations...)
		if p.IsBackup() {
			st.backup[p.ID] = true
		}
	}

	inScope := st.inScope()
	st.residual = NewResidual(units).Consume(inScope)
	st.evaluator = scoring.NewEvaluator(e.cfg.Weights, scoring.Context{
		Demand:    demand,
		History:   history,
		Previous:  st.previous,
		Preferred: preferred,
		Topology:  e.topo,
		Reference: scope.StartDate,
	})
	return st, nil
}

// inScope 当前范围内的分配
func (st *runState) inScope() []model.Assignment {
	var out []model.Assignment
	for _, a := range st.current {
		if st.scope.Contains(a.Date) {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out
}

// apply 合并阶段结果并推进剩余供给
func (st *runState) apply(phase model.Phase, batch []model.Assignment) {
	st.current = mergeBatch(phase, st.current, batch)
	if phase.ConsumesSupply() {
		st.residual = st.residual.Consume(batch)
	}
}

// runPhase 构建、求解、校验并落库一个阶段
func (e *Engine) runPhase(ctx context.Context, st *runState, runID uuid.UUID, phase model.Phase, dryRun bool) (*PhaseResult, error) {
	start := time.Now()

	cctx := constraint.NewContext(phase, st.scope)
	cctx.Demand = st.demand
	cctx.Supply = st.residual.Units()
	cctx.Backup = st.backup
	cctx.Topology = e.topo
	cctx.Objective = st.evaluator.Objective()
	cctx.SetOthers(st.current)

	m, err := constraint.Build(cctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, fmt.Sprintf("构建 %s 模型失败", phase))
	}

	byID := make(map[uuid.UUID]model.Assignment, len(st.current))
	for _, a := range st.current {
		byID[a.ID] = a
	}
	penalty := func(m *constraint.Model, values []int) float64 {
		return st.evaluator.Penalty(toBatch(m, values, phase, byID))
	}

	sol, err := e.solve(ctx, phase, m, penalty)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeTimeout, fmt.Sprintf("阶段 %s 被取消", phase))
		}
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, fmt.Sprintf("阶段 %s 求解失败", phase))
	}

	result, fellBack := sol.result, sol.fellBack
	batch := toBatch(m, result.Values, phase, byID)
	if phase.ConsumesSupply() {
		for i := range batch {
			batch[i].ID = uuid.New()
			batch[i].RunID = runID
		}
	}
	placeholders := 0
	if phase == model.PhaseSites && e.cfg.AssignAdministrative {
		extra := st.placeholders(runID, e.topo.Administrative(), batch)
		placeholders = len(extra)
		batch = append(batch, extra...)
	}
	sortAssignments(batch)

	warnings, err := e.materializer.Validate(phase, batch, st.current, st.demand)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		if err := e.materializer.Commit(ctx, phase, st.scope, batch); err != nil {
			return nil, err
		}
	}
	st.apply(phase, batch)

	pr := &PhaseResult{
		Phase:         phase,
		Solver:        result.Solver,
		Status:        result.Status,
		FellBack:      fellBack,
		AssignedCount: len(batch) - placeholders,
		UnmetCount:    st.unmet(phase, m, result.Values),
		Placeholders:  placeholders,
		Objective:     result.Objective,
		Penalties:     st.evaluator.Evaluate(batch).Penalties,
		Vars:          m.NumVars(),
		Rows:          len(m.Rows),
		Duration:      time.Since(start),
	}
	for _, w := range sol.warnings {
		pr.Warnings = append(pr.Warnings, w.Message)
	}
	for _, w := range warnings {
		pr.Warnings = append(pr.Warnings, w.Message)
	}

	e.logger.PhaseComplete(string(phase), pr.Solver, pr.AssignedCount, pr.UnmetCount, pr.Duration)
	if e.observer != nil {
		e.observer.ObservePhase(phase, pr.Solver, fellBack, pr.UnmetCount, pr.Duration)
	}
	return pr, nil
}

// solved 阶段求解结果与降级过程中产生的告警
type solved struct {
	result   *solver.Result
	fellBack bool
	warnings []*apperrors.AppError
}

// solve 先做精确求解（以贪心解为初始下界），未证明最优时降级
// 候选解为精确求解的部分解、无可行解时松弛模型的精确解与启发式解，
// 只取满足全部上界的候选，先比较违反的行数，再比较目标值
func (e *Engine) solve(ctx context.Context, phase model.Phase, m *constraint.Model, penalty optimizer.PenaltyFunc) (*solved, error) {
	exact := solver.NewBranchAndBound(e.cfg.Exact).WithSeed(solver.NewGreedySolver())
	res, err := exact.Solve(ctx, m)
	if err != nil {
		return nil, err
	}
	if res.Status == solver.StatusOptimal {
		return &solved{result: res}, nil
	}

	e.logger.Fallback(string(phase), string(res.Status))
	out := &solved{fellBack: true}
	if res.TooLarge {
		out.warnings = append(out.warnings, apperrors.ModelTooLarge(string(phase), m.NumVars(), e.cfg.Exact.MaxVars))
	}

	var candidates []*solver.Result
	if res.HasSolution() {
		candidates = append(candidates, res)
	}
	if res.Status == solver.StatusInfeasible {
		relaxed, err := solver.NewBranchAndBound(e.cfg.Exact).WithSeed(solver.NewGreedySolver()).Solve(ctx, m.Relax())
		if err != nil {
			return nil, err
		}
		if relaxed.HasSolution() {
			candidates = append(candidates, relaxed)
		}
	}
	search := e.cfg.Search
	fallback, err := optimizer.NewHeuristic(optimizer.NewLocalSearchOptimizer(&search, penalty)).Solve(ctx, m)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, fallback)

	best, violated := pickCandidate(m, candidates)
	result := *best
	result.Objective = m.Objective(result.Values)
	result.Status = solver.StatusFeasible
	if violated > 0 {
		result.Status = solver.StatusInfeasible
		out.warnings = append(out.warnings, apperrors.NoFeasibleSolution(string(phase), violated))
	}
	out.result = &result
	return out, nil
}

// pickCandidate 满足全部上界的候选中违反行最少者，其次目标值最高者，相同时取靠前的
// 启发式解总是满足上界，列表中至少有一个可选
func pickCandidate(m *constraint.Model, candidates []*solver.Result) (*solver.Result, int) {
	var best *solver.Result
	bestViolated := 0
	bestObj := 0.0
	for _, c := range candidates {
		if !solver.NewState(m, c.Values).WithinUpper() {
			continue
		}
		violated := len(m.Violations(c.Values))
		obj := m.Objective(c.Values)
		if best == nil || violated < bestViolated || (violated == bestViolated && obj > bestObj+1e-9) {
			best, bestViolated, bestObj = c, violated, obj
		}
	}
	if best == nil {
		last := candidates[len(candidates)-1]
		return last, len(m.Violations(last.Values))
	}
	return best, bestViolated
}

// toBatch 将取值转换为分配，关门阶段返回带职责标签的站点分配
func toBatch(m *constraint.Model, values []int, phase model.Phase, byID map[uuid.UUID]model.Assignment) []model.Assignment {
	var batch []model.Assignment
	for _, v := range m.Selected(values) {
		switch v.Kind {
		case constraint.VarAssign:
			key := *v.Meta.DemandKey
			batch = append(batch, model.Assignment{
				Phase:        phase,
				DemandKey:    &key,
				SupplyUnitID: v.Meta.SupplyUnitID,
				PersonID:     v.Meta.PersonID,
				Date:         v.Meta.Date,
				HalfDay:      v.Meta.HalfDay,
				LocationID:   v.Meta.LocationID,
				RoleID:       v.Meta.RoleID,
			})
		case constraint.VarClosing:
			a, ok := byID[v.Meta.AssignmentID]
			if !ok {
				continue
			}
			a.RoleTag = v.Meta.RoleTag
			batch = append(batch, a)
		}
	}
	return batch
}

// placeholders 站点阶段后仍空闲的正式人员分配到行政站点
func (st *runState) placeholders(runID uuid.UUID, admin string, batch []model.Assignment) []model.Assignment {
	if admin == "" {
		return nil
	}
	var out []model.Assignment
	for _, u := range st.residual.Consume(batch).Available() {
		if u.IsBackup() || u.IsFlexible() || !st.scope.Contains(u.Date) {
			continue
		}
		out = append(out, model.Assignment{
			ID:           uuid.New(),
			RunID:        runID,
			Phase:        model.PhaseSites,
			SupplyUnitID: u.ID,
			PersonID:     u.PersonID,
			Date:         u.Date,
			HalfDay:      u.HalfDay,
			LocationID:   admin,
		})
	}
	return out
}

// unmet 阶段结束后未满足的需求人数；关门阶段为未落实的职责数
func (st *runState) unmet(phase model.Phase, m *constraint.Model, values []int) int {
	if phase == model.PhaseClosing {
		n := 0
		for _, r := range m.Rows {
			if r.Kind == constraint.RowRoleUnique && r.Activity(values) < 0.5 {
				n++
			}
		}
		return n
	}

	kind := model.KindSite
	if phase == model.PhaseOperatingRoom {
		kind = model.KindOperatingRoom
	}
	covered := make(map[model.DemandKey]int)
	for _, a := range st.current {
		if a.DemandKey != nil {
			covered[*a.DemandKey]++
		}
	}
	n := 0
	for _, d := range st.demand {
		if d.Kind != kind || !st.scope.Contains(d.Date) {
			continue
		}
		if gap := d.Slots() - covered[d.Key()]; gap > 0 {
			n += gap
		}
	}
	return n
}

// mergeBatch 将阶段结果合并进已有分配
func mergeBatch(phase model.Phase, current, batch []model.Assignment) []model.Assignment {
	out := make([]model.Assignment, 0, len(current)+len(batch))
	out = append(out, current...)
	if phase.ConsumesSupply() {
		return append(out, batch...)
	}
	tags := make(map[uuid.UUID]model.RoleTag, len(batch))
	for _, a := range batch {
		tags[a.ID] = a.RoleTag
	}
	for i := range out {
		if tag, ok := tags[out[i].ID]; ok {
			out[i].RoleTag = tag
		}
	}
	return out
}

// sortAssignments 按日期、半天、站点、人员排序
func sortAssignments(list []model.Assignment) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.HalfDay != b.HalfDay {
			return a.HalfDay.Order() < b.HalfDay.Order()
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.PersonID.String() < b.PersonID.String()
	})
}
