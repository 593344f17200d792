// Package solver 提供 0-1 整数规划求解器
package solver

import (
	"context"
	"time"

	"github.com/paiban/staffplan/pkg/scheduler/constraint"
)

// Status 求解状态
type Status string

const (
	StatusOptimal    Status = "optimal"    // 已证明最优
	StatusFeasible   Status = "feasible"   // 可行但未证明最优（启发式）
	StatusInfeasible Status = "infeasible" // 无可行解
	StatusTimeout    Status = "timeout"    // 超时或超出搜索预算
)

// Solver 求解器接口
type Solver interface {
	// Solve 求解模型；无可行解通过 Status 返回而不是 error
	Solve(ctx context.Context, m *constraint.Model) (*Result, error)

	// Name 返回求解器名称
	Name() string
}

// Result 求解结果
type Result struct {
	Status    Status        `json:"status"`
	Values    []int         `json:"values,omitempty"`
	Objective float64       `json:"objective"`
	Nodes     int           `json:"nodes"`
	Duration  time.Duration `json:"duration"`
	Solver    string        `json:"solver"`
	Message   string        `json:"message,omitempty"`
	// TooLarge 模型超过精确求解规模上限，未做搜索
	TooLarge bool `json:"too_large,omitempty"`
}

// HasSolution 是否带有可用取值
func (r *Result) HasSolution() bool {
	return r != nil && r.Values != nil
}

// State 维护取值与行活动值，供构造和局部搜索增量修改
type State struct {
	m      *constraint.Model
	Values []int
	act    []float64
}

// NewState 创建状态，values 为空时全部取 0
func NewState(m *constraint.Model, values []int) *State {
	s := &State{
		m:      m,
		Values: make([]int, m.NumVars()),
		act:    make([]float64, len(m.Rows)),
	}
	if values != nil {
		copy(s.Values, values)
		for i, r := range m.Rows {
			s.act[i] = r.Activity(s.Values)
		}
	}
	return s
}

// Activity 行当前活动值
func (s *State) Activity(row int) float64 {
	return s.act[row]
}

func (s *State) flip(v, val int) {
	if s.Values[v] == val {
		return
	}
	delta := float64(val - s.Values[v])
	s.Values[v] = val
	for _, ri := range s.m.RowsOf(v) {
		for _, t := range s.m.Rows[ri].Terms {
			if t.Var == v {
				s.act[ri] += t.Coef * delta
			}
		}
	}
}

// TrySet 把变量置 1，联动的辅助变量一并置 1；违反上界时回滚并返回 false
// 联动目标为非辅助变量且当前为 0 时视为失败
func (s *State) TrySet(v int) bool {
	if s.Values[v] == 1 {
		return true
	}
	var changed []int
	queue := []int{v}
	seen := map[int]bool{v: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if s.Values[cur] == 1 {
			continue
		}
		if cur != v && !s.m.Vars[cur].Kind.IsAux() {
			s.rollback(changed)
			return false
		}
		s.flip(cur, 1)
		changed = append(changed, cur)
		for _, next := range s.m.Implications(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, c := range changed {
		for _, ri := range s.m.RowsOf(c) {
			if !s.m.Rows[ri].AdmitsUpper(s.act[ri]) {
				s.rollback(changed)
				return false
			}
		}
	}
	return true
}

func (s *State) rollback(changed []int) {
	for i := len(changed) - 1; i >= 0; i-- {
		s.flip(changed[i], 0)
	}
}

// Unset 把变量置 0（辅助变量由 Settle 重新整理）
func (s *State) Unset(v int) {
	s.flip(v, 0)
}

// Settle 根据当前决策变量重新确定辅助变量：
// 按天变量取满足联动的最小值，同站点变量在可行且有收益时取 1
func (s *State) Settle() {
	for i, v := range s.m.Vars {
		if v.Kind.IsAux() {
			s.flip(i, 0)
		}
	}
	for i, v := range s.m.Vars {
		if v.Kind.IsAux() || s.Values[i] == 0 {
			continue
		}
		for _, w := range s.m.Implications(i) {
			if s.m.Vars[w].Kind.IsAux() {
				s.flip(w, 1)
			}
		}
	}
	for i, v := range s.m.Vars {
		if v.Kind == constraint.VarPair && v.Objective > 0 {
			s.TrySet(i)
		}
	}
}

// Feasible 当前取值是否满足全部约束
func (s *State) Feasible() bool {
	for i, r := range s.m.Rows {
		if !r.Admits(s.act[i]) {
			return false
		}
	}
	return true
}

// WithinUpper 当前取值是否满足全部上界
func (s *State) WithinUpper() bool {
	for i, r := range s.m.Rows {
		if !r.AdmitsUpper(s.act[i]) {
			return false
		}
	}
	return true
}

// Shortfall 未达到下界的行数
func (s *State) Shortfall() int {
	n := 0
	for i, r := range s.m.Rows {
		if !r.AdmitsLower(s.act[i]) {
			n++
		}
	}
	return n
}

// Snapshot 复制当前取值
func (s *State) Snapshot() []int {
	out := make([]int, len(s.Values))
	copy(out, s.Values)
	return out
}
