package engine

import (
	"context"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/model"
)

// ForecastResult 理论产能预测
type ForecastResult struct {
	Scope     model.Scope              `json:"scope"`
	Rows      []model.CapacityForecast `json:"rows"`
	TotalGap  float64                  `json:"total_gap"`
	Shortages int                      `json:"shortages"` // 供给低于需求的半天数
	Issues    []model.InputIssue       `json:"issues,omitempty"`
}

// Forecast 计算理论供给与需求的差距 (供给 - 需求)，不生成分配
func (e *Engine) Forecast(ctx context.Context, scope model.Scope) (*ForecastResult, error) {
	if _, err := scope.Dates(); err != nil {
		return nil, apperrors.InvalidInput("scope", err.Error())
	}
	inputs, err := e.store.LoadInputs(ctx, scope)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "读取输入失败")
	}

	demand, issues := e.normalizer.Normalize(inputs.Records, scope)
	units, supplyIssues := e.aggregator.Aggregate(inputs.Persons, inputs.Availability, scope)
	issues = append(issues, supplyIssues...)

	rows, err := e.aggregator.Theoretical(inputs.Persons, units, demand, scope)
	if err != nil {
		return nil, apperrors.InvalidInput("scope", err.Error())
	}

	result := &ForecastResult{Scope: scope, Rows: rows, Issues: issues}
	for _, r := range rows {
		result.TotalGap += r.Gap
		if r.Gap < 0 {
			result.Shortages++
		}
	}
	return result, nil
}
