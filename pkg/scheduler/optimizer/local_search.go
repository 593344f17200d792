// Package optimizer 提供启发式回退求解：贪心构造加局部搜索
package optimizer

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/paiban/staffplan/pkg/logger"
	"github.com/paiban/staffplan/pkg/scheduler/constraint"
	"github.com/paiban/staffplan/pkg/scheduler/solver"
)

// OptimizationConfig 局部搜索配置
type OptimizationConfig struct {
	MaxIterations   int           `json:"max_iterations"`   // 最大改进轮数
	MaxTime         time.Duration `json:"max_time"`         // 最大运行时间
	TabuSize        int           `json:"tabu_size"`        // 禁忌表大小
	ParallelWorkers int           `json:"parallel_workers"` // 并行评估协程数
}

// DefaultOptConfig 默认配置
func DefaultOptConfig() *OptimizationConfig {
	return &OptimizationConfig{
		MaxIterations:   50,
		MaxTime:         5 * time.Second,
		TabuSize:        256,
		ParallelWorkers: 4,
	}
}

// SearchStats 局部搜索统计
type SearchStats struct {
	Iterations       int     `json:"iterations"`
	Accepted         int     `json:"accepted"`
	InitialShortfall int     `json:"initial_shortfall"`
	FinalShortfall   int     `json:"final_shortfall"`
	InitialPenalty   float64 `json:"initial_penalty"`
	FinalPenalty     float64 `json:"final_penalty"`
	MovesEvaluated   int     `json:"moves_evaluated"`
	StoppedByTabu    bool    `json:"stopped_by_tabu"`
}

// LocalSearchOptimizer 局部搜索优化器
// 每轮评估全部邻域移动，只接受严格改进的移动：
// 先减少未达到下界的行数，其次降低惩罚。起点可以是不可行的部分解。
type LocalSearchOptimizer struct {
	config    *OptimizationConfig
	penalty   PenaltyFunc
	neighbors *NeighborhoodGenerator
	evaluator *ParallelEvaluator
}

// NewLocalSearchOptimizer 创建局部搜索优化器
func NewLocalSearchOptimizer(config *OptimizationConfig, penalty PenaltyFunc) *LocalSearchOptimizer {
	if config == nil {
		config = DefaultOptConfig()
	}
	return &LocalSearchOptimizer{
		config:    config,
		penalty:   penalty,
		neighbors: NewNeighborhoodGenerator(),
		evaluator: NewParallelEvaluator(config.ParallelWorkers, penalty),
	}
}

// Neighbors 返回邻域生成器
func (o *LocalSearchOptimizer) Neighbors() *NeighborhoodGenerator {
	return o.neighbors
}

// Optimize 从 initial 出发改进，返回改进后的取值
func (o *LocalSearchOptimizer) Optimize(ctx context.Context, m *constraint.Model, initial []int) ([]int, SearchStats, error) {
	start := time.Now()
	current := make([]int, len(initial))
	copy(current, initial)

	stats := SearchStats{}
	if o.penalty == nil {
		return current, stats, nil
	}

	currentShortfall := solver.NewState(m, current).Shortfall()
	currentPenalty := o.penalty(m, current)
	stats.InitialShortfall = currentShortfall
	stats.FinalShortfall = currentShortfall
	stats.InitialPenalty = currentPenalty
	stats.FinalPenalty = currentPenalty

	tabu := NewTabuList(o.config.TabuSize)
	tabu.Add(hashValues(current))

	for i := 0; i < o.config.MaxIterations; i++ {
		select {
		case <-ctx.Done():
			return current, stats, ctx.Err()
		default:
		}
		if o.config.MaxTime > 0 && time.Since(start) > o.config.MaxTime {
			logger.Debug().Str("model", m.Name).Msg("局部搜索达到最大运行时间")
			break
		}
		stats.Iterations++

		moves := o.neighbors.Generate(m, current)
		if len(moves) == 0 {
			break
		}
		results := o.evaluator.EvaluateBatch(ctx, m, current, moves)
		stats.MovesEvaluated += len(moves)

		tabuHit := false
		best := o.evaluator.FindBest(results, func(r EvaluationResult) bool {
			if tabu.Contains(hashValues(r.Values)) {
				tabuHit = true
				return true
			}
			return false
		})
		if best == nil || !better(best.Shortfall, best.Penalty, currentShortfall, currentPenalty) {
			stats.StoppedByTabu = tabuHit && best == nil
			break
		}

		current = best.Values
		currentShortfall = best.Shortfall
		currentPenalty = best.Penalty
		tabu.Add(hashValues(current))
		stats.Accepted++
		logger.Debug().
			Str("model", m.Name).
			Str("move", best.Move.Type.String()).
			Int("shortfall", currentShortfall).
			Float64("penalty", currentPenalty).
			Int("iteration", i).
			Msg("局部搜索接受改进")
	}

	stats.FinalShortfall = currentShortfall
	stats.FinalPenalty = currentPenalty
	return current, stats, nil
}

// hashValues 取值为 1 的变量集合的哈希 (FNV-1a)
func hashValues(values []int) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 0, 16)
	for i, v := range values {
		if v == 1 {
			buf = strconv.AppendInt(buf[:0], int64(i), 10)
			buf = append(buf, ',')
			h.Write(buf)
		}
	}
	return h.Sum64()
}

// TabuList 禁忌表（使用uint64哈希作为键提高性能）
type TabuList struct {
	items   map[uint64]struct{}
	order   []uint64
	maxSize int
	mu      sync.RWMutex
}

// NewTabuList 创建禁忌表
func NewTabuList(size int) *TabuList {
	if size <= 0 {
		size = 1
	}
	return &TabuList{
		items:   make(map[uint64]struct{}),
		order:   make([]uint64, 0, size),
		maxSize: size,
	}
}

// Add 添加到禁忌表
func (t *TabuList) Add(key uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.items[key]; exists {
		return
	}

	// 超出容量时移除最旧的
	if len(t.order) >= t.maxSize {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.items, oldest)
	}

	t.items[key] = struct{}{}
	t.order = append(t.order, key)
}

// Contains 检查是否在禁忌表中
func (t *TabuList) Contains(key uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.items[key]
	return exists
}

// Len 禁忌表当前大小
func (t *TabuList) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}
