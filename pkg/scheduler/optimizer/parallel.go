package optimizer

import (
	"context"
	"sync"

	"github.com/paiban/staffplan/pkg/scheduler/constraint"
	"github.com/paiban/staffplan/pkg/scheduler/solver"
)

// PenaltyFunc 计算取值对应方案的惩罚（越小越好），需可并发调用
type PenaltyFunc func(m *constraint.Model, values []int) float64

// ParallelEvaluator 并行评估邻域移动
type ParallelEvaluator struct {
	workers int
	penalty PenaltyFunc
}

// NewParallelEvaluator 创建并行评估器
func NewParallelEvaluator(workers int, penalty PenaltyFunc) *ParallelEvaluator {
	if workers <= 0 {
		workers = 4
	}
	return &ParallelEvaluator{
		workers: workers,
		penalty: penalty,
	}
}

// EvaluationResult 评估结果
// Feasible 表示移动可以执行且满足全部上界，Shortfall 为仍未达到下界的行数
type EvaluationResult struct {
	Index     int
	Move      Move
	Values    []int
	Shortfall int
	Penalty   float64
	Feasible  bool
}

// better 先比较未满足的下界行数，再比较惩罚
func better(shortfall int, penalty float64, thanShortfall int, thanPenalty float64) bool {
	if shortfall != thanShortfall {
		return shortfall < thanShortfall
	}
	return penalty < thanPenalty-1e-12
}

// EvaluateBatch 在 base 取值上并行尝试一批移动，结果按移动顺序返回
func (p *ParallelEvaluator) EvaluateBatch(ctx context.Context, m *constraint.Model, base []int, moves []Move) []EvaluationResult {
	if len(moves) == 0 {
		return nil
	}

	resultChan := make(chan EvaluationResult, len(moves))
	jobChan := make(chan int, len(moves))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				select {
				case <-ctx.Done():
					return
				default:
					result := p.evaluateSingle(m, base, moves[idx])
					result.Index = idx
					resultChan <- result
				}
			}
		}()
	}

	for i := range moves {
		jobChan <- i
	}
	close(jobChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]EvaluationResult, len(moves))
	for i := range results {
		results[i].Index = -1
	}
	for result := range resultChan {
		results[result.Index] = result
	}
	return results
}

// evaluateSingle 应用移动并评估
func (p *ParallelEvaluator) evaluateSingle(m *constraint.Model, base []int, move Move) EvaluationResult {
	state := solver.NewState(m, base)
	for _, v := range move.Remove {
		state.Unset(v)
	}
	state.Settle()
	for _, v := range move.Add {
		if !state.TrySet(v) {
			return EvaluationResult{Move: move}
		}
	}
	state.Settle()
	if !state.WithinUpper() {
		return EvaluationResult{Move: move}
	}

	result := EvaluationResult{Move: move, Values: state.Snapshot(), Shortfall: state.Shortfall(), Feasible: true}
	if p.penalty != nil {
		result.Penalty = p.penalty(m, result.Values)
	}
	return result
}

// FindBest 可行结果中未满足下界行最少、惩罚最小者，相同时取下标最小
func (p *ParallelEvaluator) FindBest(results []EvaluationResult, skip func(EvaluationResult) bool) *EvaluationResult {
	var best *EvaluationResult
	for i := range results {
		r := &results[i]
		if r.Index < 0 || !r.Feasible || (skip != nil && skip(*r)) {
			continue
		}
		if best == nil || better(r.Shortfall, r.Penalty, best.Shortfall, best.Penalty) {
			best = r
		}
	}
	return best
}
