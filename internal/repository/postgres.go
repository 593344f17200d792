package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/paiban/staffplan/internal/database"
	"github.com/paiban/staffplan/pkg/model"
)

// ErrSerialization 并发事务冲突，调用方可在稍后重试
var ErrSerialization = errors.New("并发事务冲突")

// assignmentColumns 分配表查询列，日期统一格式化为 YYYY-MM-DD
const assignmentColumns = `
	id, run_id, phase, supply_unit_id, person_id,
	to_char(date, 'YYYY-MM-DD') AS date, half_day, location_id, role_id, role_tag`

// personRow 人员表行
type personRow struct {
	ID                 uuid.UUID      `db:"id"`
	Name               string         `db:"name"`
	Kind               string         `db:"kind"`
	EligibleLocations  pq.StringArray `db:"eligible_locations"`
	EligibleRoles      pq.StringArray `db:"eligible_roles"`
	PreferredLocations pq.StringArray `db:"preferred_locations"`
	FlexibleQuota      int            `db:"flexible_quota"`
	Active             bool           `db:"active"`
}

func (r personRow) toModel() model.Person {
	return model.Person{
		ID:                 r.ID,
		Name:               r.Name,
		Kind:               model.PersonKind(r.Kind),
		EligibleLocations:  []string(r.EligibleLocations),
		EligibleRoles:      []string(r.EligibleRoles),
		PreferredLocations: []string(r.PreferredLocations),
		FlexibleQuota:      r.FlexibleQuota,
		Active:             r.Active,
	}
}

// recordRow 排班需求表行
type recordRow struct {
	ID            string  `db:"id"`
	StartDate     string  `db:"start_date"`
	EndDate       string  `db:"end_date"`
	StartTime     string  `db:"start_time"`
	EndTime       string  `db:"end_time"`
	LocationID    string  `db:"location_id"`
	RoleID        string  `db:"role_id"`
	Kind          string  `db:"kind"`
	StaffingRatio float64 `db:"staffing_ratio"`
}

// availabilityRow 可用性表行
type availabilityRow struct {
	PersonID  uuid.UUID `db:"person_id"`
	StartDate string    `db:"start_date"`
	EndDate   string    `db:"end_date"`
	StartTime string    `db:"start_time"`
	EndTime   string    `db:"end_time"`
	Source    string    `db:"source"`
}

// PostgresStore PostgreSQL 存储
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore 创建 PostgreSQL 存储
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// LoadInputs 读取与范围相交的需求、全部有效人员与可用性
func (s *PostgresStore) LoadInputs(ctx context.Context, scope model.Scope) (*model.Inputs, error) {
	var records []recordRow
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, to_char(start_date, 'YYYY-MM-DD') AS start_date, to_char(end_date, 'YYYY-MM-DD') AS end_date,
			start_time, end_time, location_id, role_id, kind, staffing_ratio
		FROM schedule_records
		WHERE start_date <= $2 AND end_date >= $1
		ORDER BY id`, scope.StartDate, scope.EndDate)
	if err != nil {
		return nil, fmt.Errorf("查询排班需求失败: %w", err)
	}

	var persons []personRow
	err = s.db.SelectContext(ctx, &persons, `
		SELECT id, name, kind, eligible_locations, eligible_roles, preferred_locations, flexible_quota, active
		FROM persons
		WHERE active = true
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("查询人员失败: %w", err)
	}

	var avail []availabilityRow
	err = s.db.SelectContext(ctx, &avail, `
		SELECT person_id, to_char(start_date, 'YYYY-MM-DD') AS start_date, to_char(end_date, 'YYYY-MM-DD') AS end_date,
			start_time, end_time, source
		FROM availability
		WHERE start_date <= $2 AND end_date >= $1
		ORDER BY person_id, start_date`, scope.StartDate, scope.EndDate)
	if err != nil {
		return nil, fmt.Errorf("查询可用性失败: %w", err)
	}

	out := &model.Inputs{
		Records:      make([]model.ScheduleRecord, 0, len(records)),
		Persons:      make([]model.Person, 0, len(persons)),
		Availability: make([]model.AvailabilityRecord, 0, len(avail)),
	}
	for _, r := range records {
		out.Records = append(out.Records, model.ScheduleRecord{
			ID:            r.ID,
			StartDate:     r.StartDate,
			EndDate:       r.EndDate,
			StartTime:     r.StartTime,
			EndTime:       r.EndTime,
			LocationID:    r.LocationID,
			RoleID:        r.RoleID,
			Kind:          model.DemandKind(r.Kind),
			StaffingRatio: r.StaffingRatio,
		})
	}
	for _, p := range persons {
		out.Persons = append(out.Persons, p.toModel())
	}
	for _, a := range avail {
		out.Availability = append(out.Availability, model.AvailabilityRecord{
			PersonID:  a.PersonID,
			StartDate: a.StartDate,
			EndDate:   a.EndDate,
			StartTime: a.StartTime,
			EndTime:   a.EndTime,
			Source:    model.AvailabilitySource(a.Source),
		})
	}
	return out, nil
}

// LoadCommitted 读取区间内已提交的分配
func (s *PostgresStore) LoadCommitted(ctx context.Context, r model.DateRange) ([]model.Assignment, error) {
	var list []model.Assignment
	err := s.db.SelectContext(ctx, &list, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE date BETWEEN $1 AND $2
		ORDER BY date, half_day, location_id, person_id`, r.StartDate, r.EndDate)
	if err != nil {
		return nil, fmt.Errorf("查询已提交分配失败: %w", err)
	}
	return withDemandKeys(list), nil
}

// LoadHistory 读取 [from, to) 内的分配
func (s *PostgresStore) LoadHistory(ctx context.Context, from, to string) ([]model.Assignment, error) {
	var list []model.Assignment
	err := s.db.SelectContext(ctx, &list, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE date >= $1 AND date < $2
		ORDER BY date, half_day, location_id, person_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("查询历史分配失败: %w", err)
	}
	return withDemandKeys(list), nil
}

// ReplacePhase 在可串行化事务内删除阶段在范围内的分配并写入新批次
func (s *PostgresStore) ReplacePhase(ctx context.Context, phase model.Phase, scope model.Scope, batch []model.Assignment) error {
	return s.transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM assignments WHERE phase = $1 AND date BETWEEN $2 AND $3`,
			string(phase), scope.StartDate, scope.EndDate)
		if err != nil {
			return fmt.Errorf("删除阶段 %s 分配失败: %w", phase, err)
		}
		for _, a := range batch {
			if err := insertAssignment(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceRoleTags 清空范围内的关门职责后按 ID 写入新标签
func (s *PostgresStore) ReplaceRoleTags(ctx context.Context, scope model.Scope, tagged []model.Assignment) error {
	return s.transaction(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE assignments SET role_tag = '' WHERE date BETWEEN $1 AND $2 AND role_tag <> ''`,
			scope.StartDate, scope.EndDate)
		if err != nil {
			return fmt.Errorf("清空关门职责失败: %w", err)
		}
		for _, a := range tagged {
			res, err := tx.ExecContext(ctx,
				`UPDATE assignments SET role_tag = $2 WHERE id = $1`, a.ID, string(a.RoleTag))
			if err != nil {
				return fmt.Errorf("写入关门职责失败: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("分配 %s 不存在", a.ID)
			}
		}
		return nil
	})
}

// ApplyChanges 按人员半天删除后写入变更后的分配
func (s *PostgresStore) ApplyChanges(ctx context.Context, changes []model.Change) error {
	return s.transaction(ctx, func(tx *sqlx.Tx) error {
		for _, c := range changes {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM assignments WHERE person_id = $1 AND date = $2 AND half_day = $3`,
				c.PersonID, c.Date, string(c.HalfDay))
			if err != nil {
				return fmt.Errorf("删除人员半天分配失败: %w", err)
			}
			if c.After == nil {
				continue
			}
			if err := insertAssignment(ctx, tx, *c.After); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveRun 保存运行记录
func (s *PostgresStore) SaveRun(ctx context.Context, run *model.OptimizationRun) error {
	penalties, err := json.Marshal(run.Penalties)
	if err != nil {
		return fmt.Errorf("序列化惩罚项失败: %w", err)
	}
	phases := make([]string, len(run.PhasesExecuted))
	for i, p := range run.PhasesExecuted {
		phases[i] = string(p)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO optimization_runs (
			id, start_date, end_date, phases, objective_score, penalties, dry_run, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Scope.StartDate, run.Scope.EndDate, pq.Array(phases),
		run.ObjectiveScore, penalties, run.DryRun, run.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("保存运行记录失败: %w", err)
	}
	return nil
}

// transaction 执行事务，并发冲突转换为 ErrSerialization
func (s *PostgresStore) transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	err := s.db.Transaction(ctx, fn)
	if err != nil && database.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return err
}

func insertAssignment(ctx context.Context, tx *sqlx.Tx, a model.Assignment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO assignments (
			id, run_id, phase, supply_unit_id, person_id, date, half_day, location_id, role_id, role_tag
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.RunID, string(a.Phase), a.SupplyUnitID, a.PersonID,
		a.Date, string(a.HalfDay), a.LocationID, a.RoleID, string(a.RoleTag),
	)
	if err != nil {
		return fmt.Errorf("写入分配 %s 失败: %w", a.ID, err)
	}
	return nil
}

// withDemandKeys 非占位分配的需求键由自身字段还原，占位分配没有岗位
func withDemandKeys(list []model.Assignment) []model.Assignment {
	for i := range list {
		a := &list[i]
		if a.RoleID == "" {
			a.DemandKey = nil
			continue
		}
		a.DemandKey = &model.DemandKey{Date: a.Date, HalfDay: a.HalfDay, LocationID: a.LocationID, RoleID: a.RoleID}
	}
	return list
}
