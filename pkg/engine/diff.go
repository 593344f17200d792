package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/validator"
)

// Diff 按人员半天比较两组分配，内容相同的半天不输出
func Diff(before, after []model.Assignment) []model.Change {
	prev := model.AssignmentsBySlot(before)
	next := model.AssignmentsBySlot(after)

	slots := make([]model.SlotKey, 0, len(prev)+len(next))
	for k := range prev {
		slots = append(slots, k)
	}
	for k := range next {
		if _, ok := prev[k]; !ok {
			slots = append(slots, k)
		}
	}
	sort.Slice(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.HalfDay != b.HalfDay {
			return a.HalfDay.Order() < b.HalfDay.Order()
		}
		return a.PersonID.String() < b.PersonID.String()
	})

	var changes []model.Change
	for _, k := range slots {
		b, hasBefore := prev[k]
		a, hasAfter := next[k]
		if hasBefore && hasAfter && b.SameContent(a) {
			continue
		}
		c := model.Change{PersonID: k.PersonID, Date: k.Date, HalfDay: k.HalfDay}
		if hasBefore {
			c.Before = &b
		}
		if hasAfter {
			c.After = &a
		}
		changes = append(changes, c)
	}
	return changes
}

// ApplyResult 审批提交结果
type ApplyResult struct {
	Scope   model.Scope `json:"scope"`
	Applied int         `json:"applied"`
}

// Apply 提交操作员从预演差异中选定的变更
// 变更逐个人员半天替换，全部在一个事务内完成
func (e *Engine) Apply(ctx context.Context, scope model.Scope, changes []model.Change) (*ApplyResult, error) {
	if _, err := scope.Dates(); err != nil {
		return nil, apperrors.InvalidInput("scope", err.Error())
	}
	if len(changes) == 0 {
		return &ApplyResult{Scope: scope}, nil
	}

	prepared := make([]model.Change, 0, len(changes))
	seen := make(map[model.SlotKey]bool, len(changes))
	for _, c := range changes {
		if !scope.Contains(c.Date) {
			return nil, apperrors.InvalidInput("changes", "变更日期 "+c.Date+" 不在范围内")
		}
		if !c.HalfDay.Valid() {
			return nil, apperrors.InvalidInput("changes", "半天时段无效: "+string(c.HalfDay))
		}
		if seen[c.Slot()] {
			return nil, apperrors.InvalidInput("changes", "同一人员半天出现多条变更")
		}
		seen[c.Slot()] = true

		if c.After != nil {
			after := *c.After
			if after.Slot() != c.Slot() {
				return nil, apperrors.InvalidInput("changes", "变更内容与人员半天不一致")
			}
			if !after.Phase.Valid() {
				return nil, apperrors.InvalidInput("changes", "变更缺少所属阶段")
			}
			if after.ID == uuid.Nil {
				after.ID = uuid.New()
			}
			if after.DemandKey == nil && after.RoleID != "" {
				key := model.DemandKey{Date: after.Date, HalfDay: after.HalfDay, LocationID: after.LocationID, RoleID: after.RoleID}
				after.DemandKey = &key
			}
			c.After = &after
		}
		prepared = append(prepared, c)
	}

	unlock, err := e.lock(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer unlock()

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

	merged := applyChanges(committed, prepared)
	for _, c := range validator.NewConflictDetector(nil).DetectAll(merged, demand) {
		if c.Severity == validator.SeverityError {
			e.logger.ConstraintViolation(string(c.Type), c.Message)
			return nil, apperrors.ConstraintViolation(string(c.Type), c.Message)
		}
	}

	if err := e.store.ApplyChanges(ctx, prepared); err != nil {
		return nil, apperrors.PersistenceFailed("apply", err)
	}
	return &ApplyResult{Scope: scope, Applied: len(prepared)}, nil
}

// applyChanges 在内存中按人员半天替换
func applyChanges(list []model.Assignment, changes []model.Change) []model.Assignment {
	touched := make(map[model.SlotKey]bool, len(changes))
	for _, c := range changes {
		touched[c.Slot()] = true
	}
	out := make([]model.Assignment, 0, len(list)+len(changes))
	for _, a := range list {
		if !touched[a.Slot()] {
			out = append(out, a)
		}
	}
	for _, c := range changes {
		if c.After != nil {
			out = append(out, *c.After)
		}
	}
	return out
}
