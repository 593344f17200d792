package solver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paiban/staffplan/pkg/scheduler/constraint"
)

// GreedySolver 贪心构造求解器
// 按优先级依次填充覆盖行与职责行，候选变量按目标系数降序、下标升序选择
type GreedySolver struct {
	maxIterations int
}

// NewGreedySolver 创建贪心求解器
func NewGreedySolver() *GreedySolver {
	return &GreedySolver{maxIterations: 1000000}
}

// Name 返回求解器名称
func (s *GreedySolver) Name() string {
	return "greedy"
}

// SetMaxIterations 设置最大迭代次数
func (s *GreedySolver) SetMaxIterations(max int) {
	s.maxIterations = max
}

// Solve 构造一个满足上界约束的解
func (s *GreedySolver) Solve(ctx context.Context, m *constraint.Model) (*Result, error) {
	start := time.Now()
	state := NewState(m, nil)

	rows := fillRows(m)
	iterations := 0

	for _, ri := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := m.Rows[ri]
		target := row.Target()

		candidates := make([]int, 0, len(row.Terms))
		for _, t := range row.Terms {
			if t.Coef > 0 && !m.Vars[t.Var].Kind.IsAux() {
				candidates = append(candidates, t.Var)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			oi, oj := m.Vars[candidates[i]].Objective, m.Vars[candidates[j]].Objective
			if oi != oj {
				return oi > oj
			}
			return candidates[i] < candidates[j]
		})

		for _, v := range candidates {
			if state.Activity(ri) >= target-1e-9 {
				break
			}
			iterations++
			if iterations > s.maxIterations {
				return nil, fmt.Errorf("贪心求解超过最大迭代次数 %d", s.maxIterations)
			}
			if state.Values[v] == 1 {
				continue
			}
			state.TrySet(v)
		}
	}

	state.Settle()

	result := &Result{
		Status:    StatusFeasible,
		Values:    state.Snapshot(),
		Objective: m.Objective(state.Values),
		Nodes:     iterations,
		Duration:  time.Since(start),
		Solver:    s.Name(),
	}
	if !state.Feasible() {
		result.Status = StatusInfeasible
		result.Message = fmt.Sprintf("%d 条约束未满足", len(m.Violations(state.Values)))
	}
	return result, nil
}

// fillRows 需要填充的行：覆盖行与职责行，按优先级降序、下标升序
func fillRows(m *constraint.Model) []int {
	var rows []int
	for i, r := range m.Rows {
		if r.Kind == constraint.RowCoverage || r.Kind == constraint.RowRoleUnique {
			rows = append(rows, i)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		pi, pj := m.Rows[rows[i]].Priority, m.Rows[rows[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return rows[i] < rows[j]
	})
	return rows
}
