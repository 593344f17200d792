package engine

import (
	"context"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/logger"
	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/validator"
)

// Materializer 校验阶段结果并按 (阶段, 范围) 整体替换写入
type Materializer struct {
	store    Store
	detector *validator.ConflictDetector
	logger   *logger.OptimizerLogger
}

// NewMaterializer 创建落库器
func NewMaterializer(store Store, detector *validator.ConflictDetector) *Materializer {
	if detector == nil {
		detector = validator.NewConflictDetector(nil)
	}
	return &Materializer{
		store:    store,
		detector: detector,
		logger:   logger.NewOptimizerLogger().With("stage", "materialize"),
	}
}

// Materialize 校验后写入，返回非致命的警告
func (m *Materializer) Materialize(ctx context.Context, phase model.Phase, scope model.Scope, batch, current []model.Assignment, demand []model.DemandUnit) ([]validator.Conflict, error) {
	warnings, err := m.Validate(phase, batch, current, demand)
	if err != nil {
		return nil, err
	}
	return warnings, m.Commit(ctx, phase, scope, batch)
}

// Validate 检查批次与其他阶段分配合并后的不变量
// 重复占用与其他错误级冲突都是致命的
func (m *Materializer) Validate(phase model.Phase, batch, current []model.Assignment, demand []model.DemandUnit) ([]validator.Conflict, error) {
	if phase.ConsumesSupply() {
		if dup := m.detector.DetectForBatch(batch, current); len(dup) > 0 {
			c := dup[0]
			m.logger.ConstraintViolation(string(c.Type), c.Message)
			return nil, apperrors.DoubleBooking(c.PersonID.String(), c.Date, string(c.HalfDay))
		}
	}

	var warnings []validator.Conflict
	for _, c := range m.detector.DetectAll(mergeBatch(phase, current, batch), demand) {
		if c.Severity == validator.SeverityError {
			m.logger.ConstraintViolation(string(c.Type), c.Message)
			if c.Type == validator.ConflictDoubleBooking {
				return nil, apperrors.DoubleBooking(c.PersonID.String(), c.Date, string(c.HalfDay))
			}
			return nil, apperrors.ConstraintViolation(string(c.Type), c.Message)
		}
		// 关门阶段之前缺少 1R 是正常的
		if c.Type == validator.ConflictMissingRole && phase != model.PhaseClosing {
			continue
		}
		warnings = append(warnings, c)
	}
	return warnings, nil
}

// Commit 在一个事务内替换阶段在范围内的结果
func (m *Materializer) Commit(ctx context.Context, phase model.Phase, scope model.Scope, batch []model.Assignment) error {
	var err error
	if phase == model.PhaseClosing {
		err = m.store.ReplaceRoleTags(ctx, scope, batch)
	} else {
		err = m.store.ReplacePhase(ctx, phase, scope, batch)
	}
	if err != nil {
		return apperrors.PersistenceFailed(string(phase), err)
	}
	return nil
}
