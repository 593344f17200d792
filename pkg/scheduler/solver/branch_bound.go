package solver

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/paiban/staffplan/pkg/scheduler/constraint"
)

// BranchAndBoundConfig 精确求解配置
type BranchAndBoundConfig struct {
	Timeout    time.Duration // 单次求解时限
	NodeBudget int           // 搜索节点上限
	MaxVars    int           // 模型规模上限，超过直接返回超时
}

// DefaultBranchAndBoundConfig 返回默认配置
func DefaultBranchAndBoundConfig() BranchAndBoundConfig {
	return BranchAndBoundConfig{
		Timeout:    10 * time.Second,
		NodeBudget: 2000000,
		MaxVars:    4000,
	}
}

// BranchAndBound 分支定界精确求解器
// 模型先按连通分量拆分，各分量独立做深度优先搜索：
// 行活动值区间传播剪枝，目标上界按互斥行取组内最大收益收紧。
// 个别分量无可行解时该分量取 0，其余分量照常求解，结果为带取值的 infeasible。
type BranchAndBound struct {
	cfg  BranchAndBoundConfig
	seed Solver
}

// NewBranchAndBound 创建精确求解器
func NewBranchAndBound(cfg BranchAndBoundConfig) *BranchAndBound {
	return &BranchAndBound{cfg: cfg}
}

// WithSeed 使用另一个求解器的可行解作为初始下界
func (s *BranchAndBound) WithSeed(seed Solver) *BranchAndBound {
	s.seed = seed
	return s
}

// Name 返回求解器名称
func (s *BranchAndBound) Name() string {
	return "branch_and_bound"
}

// Solve 求解模型
func (s *BranchAndBound) Solve(ctx context.Context, m *constraint.Model) (*Result, error) {
	start := time.Now()
	result := &Result{Solver: s.Name()}

	n := m.NumVars()
	if n == 0 {
		result.Status = StatusOptimal
		result.Values = []int{}
		result.Duration = time.Since(start)
		return result, nil
	}
	if s.cfg.MaxVars > 0 && n > s.cfg.MaxVars {
		result.Status = StatusTimeout
		result.TooLarge = true
		result.Message = fmt.Sprintf("模型变量数 %d 超过上限 %d", n, s.cfg.MaxVars)
		result.Duration = time.Since(start)
		return result, nil
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	// 种子解按分量使用：分量内的行全部满足才作为该分量的初始下界
	var incumbent []int
	if s.seed != nil {
		if seeded, err := s.seed.Solve(ctx, m); err == nil && seeded.HasSolution() {
			incumbent = seeded.Values
		}
	}

	tree := newSearch(ctx, m, s.cfg.NodeBudget)
	values := make([]int, n)
	status := StatusOptimal
	infeasible := 0

	for _, comp := range components(m) {
		best, res := tree.run(comp, incumbent)
		switch res {
		case outcomeInfeasible:
			infeasible++
			continue
		case outcomeAborted:
			if best == nil {
				result.Status = StatusTimeout
				result.Nodes = tree.nodes
				result.Message = "超出时限或节点预算且无可行解"
				result.Duration = time.Since(start)
				return result, nil
			}
			status = StatusFeasible
		}
		for _, v := range comp.vars {
			values[v] = best[v]
		}
	}

	result.Status = status
	result.Values = values
	result.Objective = m.Objective(values)
	result.Nodes = tree.nodes
	result.Duration = time.Since(start)
	switch {
	case infeasible > 0:
		result.Status = StatusInfeasible
		result.Message = fmt.Sprintf("%d 个分量无可行解，其余分量已求解", infeasible)
	case status == StatusFeasible:
		result.Message = "超出时限或节点预算，返回当前最好解"
	}
	return result, nil
}

// component 连通分量
type component struct {
	vars []int
	rows []int
}

// components 通过行把变量并查集合并，分量内变量按下标升序
func components(m *constraint.Model) []component {
	n := m.NumVars()
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, r := range m.Rows {
		if len(r.Terms) == 0 {
			continue
		}
		root := find(r.Terms[0].Var)
		for _, t := range r.Terms[1:] {
			other := find(t.Var)
			if other != root {
				parent[other] = root
			}
		}
	}

	index := make(map[int]int)
	var out []component
	for v := 0; v < n; v++ {
		root := find(v)
		ci, ok := index[root]
		if !ok {
			ci = len(out)
			index[root] = ci
			out = append(out, component{})
		}
		out[ci].vars = append(out[ci].vars, v)
	}
	for ri, r := range m.Rows {
		if len(r.Terms) == 0 {
			continue
		}
		ci := index[find(r.Terms[0].Var)]
		out[ci].rows = append(out[ci].rows, ri)
	}
	return out
}

type outcome int

const (
	outcomeSolved outcome = iota
	outcomeInfeasible
	outcomeAborted
)

// search 深度优先搜索状态（跨分量共享节点计数）
type search struct {
	ctx    context.Context
	m      *constraint.Model
	budget int
	nodes  int

	value   []int8 // -1 未赋值
	act     []float64
	posRem  []float64
	negRem  []float64
	group   []int // 变量所属互斥行，-1 表示无
	aborted bool

	comp    component
	curObj  float64
	bestObj float64
	best    []int
}

func newSearch(ctx context.Context, m *constraint.Model, budget int) *search {
	n := m.NumVars()
	s := &search{
		ctx:    ctx,
		m:      m,
		budget: budget,
		value:  make([]int8, n),
		act:    make([]float64, len(m.Rows)),
		posRem: make([]float64, len(m.Rows)),
		negRem: make([]float64, len(m.Rows)),
		group:  make([]int, n),
	}
	for i := range s.group {
		s.group[i] = -1
	}
	for ri, r := range m.Rows {
		if !r.IsAtMostOne() {
			continue
		}
		for _, t := range r.Terms {
			if s.group[t.Var] == -1 {
				s.group[t.Var] = ri
			}
		}
	}
	return s
}

func (s *search) run(comp component, incumbent []int) ([]int, outcome) {
	s.comp = comp
	s.curObj = 0
	s.best = nil
	s.bestObj = math.Inf(-1)
	s.aborted = false

	for _, v := range comp.vars {
		s.value[v] = -1
	}
	for _, ri := range comp.rows {
		s.act[ri], s.posRem[ri], s.negRem[ri] = 0, 0, 0
		for _, t := range s.m.Rows[ri].Terms {
			if t.Coef > 0 {
				s.posRem[ri] += t.Coef
			} else {
				s.negRem[ri] += t.Coef
			}
		}
	}

	if incumbent != nil && s.admits(comp, incumbent) {
		s.best = make([]int, len(s.value))
		var obj float64
		for _, v := range comp.vars {
			s.best[v] = incumbent[v]
			obj += s.m.Vars[v].Objective * float64(incumbent[v])
		}
		s.bestObj = obj
	}

	for _, ri := range comp.rows {
		if !s.rowPossible(ri) {
			return s.best, outcomeInfeasible
		}
	}

	s.dfs(0)

	switch {
	case s.aborted:
		return s.best, outcomeAborted
	case s.best == nil:
		return nil, outcomeInfeasible
	}
	return s.best, outcomeSolved
}

// admits 取值是否满足分量内全部行
func (s *search) admits(comp component, values []int) bool {
	for _, ri := range comp.rows {
		r := s.m.Rows[ri]
		if !r.Admits(r.Activity(values)) {
			return false
		}
	}
	return true
}

func (s *search) dfs(pos int) {
	if s.aborted {
		return
	}
	s.nodes++
	if s.budget > 0 && s.nodes > s.budget {
		s.aborted = true
		return
	}
	if s.nodes&1023 == 0 && s.ctx.Err() != nil {
		s.aborted = true
		return
	}

	if pos == len(s.comp.vars) {
		if s.curObj > s.bestObj+eps || s.best == nil {
			if s.best == nil {
				s.best = make([]int, len(s.value))
			}
			for _, v := range s.comp.vars {
				s.best[v] = int(s.value[v])
			}
			s.bestObj = s.curObj
		}
		return
	}

	v := s.comp.vars[pos]
	order := [2]int8{1, 0}
	if s.m.Vars[v].Objective < 0 {
		order = [2]int8{0, 1}
	}
	for _, val := range order {
		if s.assign(v, val) && s.bound(pos+1) > s.bestObj+eps {
			s.dfs(pos + 1)
		}
		s.unassign(v, val)
		if s.aborted {
			return
		}
	}
}

const eps = 1e-9

// assign 赋值并更新行状态，返回相关行是否仍可能满足
func (s *search) assign(v int, val int8) bool {
	s.value[v] = val
	s.curObj += s.m.Vars[v].Objective * float64(val)
	ok := true
	for _, ri := range s.m.RowsOf(v) {
		for _, t := range s.m.Rows[ri].Terms {
			if t.Var != v {
				continue
			}
			if t.Coef > 0 {
				s.posRem[ri] -= t.Coef
			} else {
				s.negRem[ri] -= t.Coef
			}
			s.act[ri] += t.Coef * float64(val)
		}
		if ok && !s.rowPossible(ri) {
			ok = false
		}
	}
	return ok
}

func (s *search) unassign(v int, val int8) {
	for _, ri := range s.m.RowsOf(v) {
		for _, t := range s.m.Rows[ri].Terms {
			if t.Var != v {
				continue
			}
			if t.Coef > 0 {
				s.posRem[ri] += t.Coef
			} else {
				s.negRem[ri] += t.Coef
			}
			s.act[ri] -= t.Coef * float64(val)
		}
	}
	s.curObj -= s.m.Vars[v].Objective * float64(val)
	s.value[v] = -1
}

// rowPossible 剩余变量任意取值下行是否还可能满足
func (s *search) rowPossible(ri int) bool {
	r := s.m.Rows[ri]
	lo := s.act[ri] + s.negRem[ri]
	hi := s.act[ri] + s.posRem[ri]
	return r.AdmitsUpper(lo) && r.AdmitsLower(hi)
}

// bound 当前目标加上剩余变量的乐观收益
func (s *search) bound(pos int) float64 {
	total := s.curObj
	groupBest := make(map[int]float64)
	for _, v := range s.comp.vars[pos:] {
		obj := s.m.Vars[v].Objective
		if obj <= 0 {
			continue
		}
		g := s.group[v]
		if g == -1 {
			total += obj
			continue
		}
		if s.act[g] >= 1-eps {
			continue
		}
		if obj > groupBest[g] {
			groupBest[g] = obj
		}
	}
	for _, o := range groupBest {
		total += o
	}
	return total
}
