package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/paiban/staffplan/pkg/scheduler/constraint"
	"github.com/paiban/staffplan/pkg/scheduler/solver"
)

// Heuristic 启发式求解器：贪心构造后做局部搜索，与精确求解器接口一致
// 构造结果不可行时同样做局部搜索，优先补齐未落实的下界行
type Heuristic struct {
	constructive solver.Solver
	search       *LocalSearchOptimizer
}

// NewHeuristic 创建启发式求解器，search 为空时只做构造
func NewHeuristic(search *LocalSearchOptimizer) *Heuristic {
	return &Heuristic{
		constructive: solver.NewGreedySolver(),
		search:       search,
	}
}

// Name 返回求解器名称
func (h *Heuristic) Name() string {
	return "heuristic"
}

// Solve 构造并改进
func (h *Heuristic) Solve(ctx context.Context, m *constraint.Model) (*solver.Result, error) {
	start := time.Now()
	result, err := h.constructive.Solve(ctx, m)
	if err != nil {
		return nil, err
	}
	result.Solver = h.Name()

	if h.search != nil {
		values, stats, err := h.search.Optimize(ctx, m, result.Values)
		if err != nil {
			return nil, err
		}
		result.Values = values
		result.Objective = m.Objective(values)
		result.Nodes += stats.MovesEvaluated
		result.Status = solver.StatusFeasible
		result.Message = ""
		if violated := len(m.Violations(values)); violated > 0 {
			result.Status = solver.StatusInfeasible
			result.Message = fmt.Sprintf("%d 条约束未满足", violated)
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}
