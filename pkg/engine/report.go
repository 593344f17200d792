package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/scoring"
	"github.com/paiban/staffplan/pkg/stats"
	"github.com/paiban/staffplan/pkg/validator"
)

// Report 已提交排班的质量报告
type Report struct {
	Scope       model.Scope               `json:"scope"`
	Assignments int                       `json:"assignments"`
	Score       scoring.Score             `json:"score"`
	Coverage    *stats.CoverageMetrics    `json:"coverage"`
	Fairness    *stats.FairnessMetrics    `json:"fairness"`
	WeeklyRoles []model.WeeklyRoleCounter `json:"weekly_roles"`
	Conflicts   []validator.Conflict      `json:"conflicts,omitempty"`
	// Valid 不存在错误级冲突
	Valid bool `json:"valid"`
}

// Report 对范围内已提交的分配计算评分、覆盖率与公平性，不加锁也不写入
func (e *Engine) Report(ctx context.Context, scope model.Scope) (*Report, error) {
	if _, err := scope.Dates(); err != nil {
		return nil, apperrors.InvalidInput("scope", err.Error())
	}
	inputs, err := e.store.LoadInputs(ctx, scope)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "读取输入失败")
	}
	demand, _ := e.normalizer.Normalize(inputs.Records, scope)

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

	var inScope []model.Assignment
	for _, a := range committed {
		if scope.Contains(a.Date) {
			inScope = append(inScope, a)
		}
	}
	sortAssignments(inScope)

	preferred := make(map[uuid.UUID]model.StringSet, len(inputs.Persons))
	for _, p := range inputs.Persons {
		preferred[p.ID] = model.NewStringSet(p.PreferredLocations...)
	}
	evaluator := scoring.NewEvaluator(e.cfg.Weights, scoring.Context{
		Demand:    demand,
		History:   history,
		Preferred: preferred,
		Topology:  e.topo,
		Reference: scope.StartDate,
	})

	report := &Report{
		Scope:       scope,
		Assignments: len(inScope),
		Score:       evaluator.Evaluate(inScope),
		Coverage:    stats.NewCoverageAnalyzer().Analyze(demand, inScope),
		Fairness:    stats.NewFairnessAnalyzer().Analyze(inScope, inputs.Persons),
		Conflicts:   validator.NewConflictDetector(nil).DetectAll(committed, demand),
	}
	report.Valid = !validator.HasErrors(report.Conflicts)
	for _, c := range model.CountWeeklyRoles(committed) {
		report.WeeklyRoles = append(report.WeeklyRoles, *c)
	}
	sort.Slice(report.WeeklyRoles, func(i, j int) bool {
		a, b := report.WeeklyRoles[i], report.WeeklyRoles[j]
		if a.WeekStart != b.WeekStart {
			return a.WeekStart < b.WeekStart
		}
		return a.PersonID.String() < b.PersonID.String()
	})
	return report, nil
}
