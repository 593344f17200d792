package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

// MemoryStore 内存存储，写操作在锁内基于副本完成后整体替换
// 用于开发环境与测试
type MemoryStore struct {
	mu          sync.RWMutex
	inputs      model.Inputs
	assignments []model.Assignment
	runs        []model.OptimizationRun
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(inputs *model.Inputs) *MemoryStore {
	s := &MemoryStore{}
	if inputs != nil {
		s.inputs = *inputs
	}
	return s
}

// Seed 写入初始分配（覆盖已有数据）
func (s *MemoryStore) Seed(list []model.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = cloneAssignments(list)
}

// SetInputs 替换输入数据
func (s *MemoryStore) SetInputs(inputs model.Inputs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = inputs
}

// Assignments 当前全部分配的副本
func (s *MemoryStore) Assignments() []model.Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAssignments(s.assignments)
}

// Runs 已保存的运行记录
func (s *MemoryStore) Runs() []model.OptimizationRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OptimizationRun, len(s.runs))
	copy(out, s.runs)
	return out
}

// LoadInputs 返回与范围相交的需求与可用性记录，人员全部返回
func (s *MemoryStore) LoadInputs(ctx context.Context, scope model.Scope) (*model.Inputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &model.Inputs{Persons: append([]model.Person(nil), s.inputs.Persons...)}
	for _, r := range s.inputs.Records {
		if scope.Overlaps(model.DateRange{StartDate: r.StartDate, EndDate: r.EndDate}) {
			out.Records = append(out.Records, r)
		}
	}
	for _, a := range s.inputs.Availability {
		if scope.Overlaps(model.DateRange{StartDate: a.StartDate, EndDate: a.EndDate}) {
			out.Availability = append(out.Availability, a)
		}
	}
	return out, nil
}

// LoadCommitted 返回区间内的分配
func (s *MemoryStore) LoadCommitted(ctx context.Context, r model.DateRange) ([]model.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Assignment
	for _, a := range s.assignments {
		if r.Contains(a.Date) {
			out = append(out, cloneAssignment(a))
		}
	}
	return out, nil
}

// LoadHistory 返回 [from, to) 内的分配
func (s *MemoryStore) LoadHistory(ctx context.Context, from, to string) ([]model.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Assignment
	for _, a := range s.assignments {
		if a.Date >= from && a.Date < to {
			out = append(out, cloneAssignment(a))
		}
	}
	return out, nil
}

// ReplacePhase 删除阶段在范围内的分配后写入新批次
func (s *MemoryStore) ReplacePhase(ctx context.Context, phase model.Phase, scope model.Scope, batch []model.Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]model.Assignment, 0, len(s.assignments)+len(batch))
	for _, a := range s.assignments {
		if a.Phase == phase && scope.Contains(a.Date) {
			continue
		}
		next = append(next, a)
	}
	next = append(next, cloneAssignments(batch)...)
	s.assignments = next
	return nil
}

// ReplaceRoleTags 清空范围内的关门职责后按 ID 写入新标签
func (s *MemoryStore) ReplaceRoleTags(ctx context.Context, scope model.Scope, tagged []model.Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tags := make(map[uuid.UUID]model.RoleTag, len(tagged))
	for _, a := range tagged {
		tags[a.ID] = a.RoleTag
	}

	next := cloneAssignments(s.assignments)
	for i := range next {
		if !scope.Contains(next[i].Date) {
			continue
		}
		next[i].RoleTag = model.TagNone
		if tag, ok := tags[next[i].ID]; ok {
			next[i].RoleTag = tag
		}
	}
	s.assignments = next
	return nil
}

// ApplyChanges 按人员半天替换
func (s *MemoryStore) ApplyChanges(ctx context.Context, changes []model.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[model.SlotKey]bool, len(changes))
	for _, c := range changes {
		touched[c.Slot()] = true
	}
	next := make([]model.Assignment, 0, len(s.assignments)+len(changes))
	for _, a := range s.assignments {
		if !touched[a.Slot()] {
			next = append(next, a)
		}
	}
	for _, c := range changes {
		if c.After != nil {
			next = append(next, cloneAssignment(*c.After))
		}
	}
	s.assignments = next
	return nil
}

// SaveRun 保存运行记录
func (s *MemoryStore) SaveRun(ctx context.Context, run *model.OptimizationRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func cloneAssignment(a model.Assignment) model.Assignment {
	if a.DemandKey != nil {
		key := *a.DemandKey
		a.DemandKey = &key
	}
	return a
}

func cloneAssignments(list []model.Assignment) []model.Assignment {
	out := make([]model.Assignment, len(list))
	for i, a := range list {
		out[i] = cloneAssignment(a)
	}
	return out
}
