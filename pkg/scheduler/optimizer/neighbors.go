package optimizer

import (
	"github.com/paiban/staffplan/pkg/scheduler/constraint"
)

// MoveType 邻域移动类型
type MoveType int

const (
	MoveSwap     MoveType = iota // 同一天两个分配互换站点（可跨上下午）
	MoveRelocate                 // 同一供给单元换到需求人数相同的另一需求
	MoveReplace                  // 同一目标换由另一个供给单元承担
	MoveFill                     // 补齐未达到下界的行，必要时先让出占位
)

// String 返回移动类型名称
func (t MoveType) String() string {
	switch t {
	case MoveSwap:
		return "swap"
	case MoveRelocate:
		return "relocate"
	case MoveReplace:
		return "replace"
	case MoveFill:
		return "fill"
	}
	return "unknown"
}

// Move 邻域移动：把 Remove 中的变量置 0，再把 Add 中的变量置 1
type Move struct {
	Type   MoveType
	Remove []int
	Add    []int
}

// dayGroup 同一日期、变量类别
type dayGroup struct {
	date string
	kind constraint.VarKind
}

// NeighborhoodGenerator 邻域生成器
// 移动按变量下标顺序确定性生成；互换、改派与替换不改变各需求的覆盖人数，
// 补齐移动只在存在未达到下界的行时生成
type NeighborhoodGenerator struct {
	enabled map[MoveType]bool
}

// NewNeighborhoodGenerator 创建邻域生成器
func NewNeighborhoodGenerator() *NeighborhoodGenerator {
	return &NeighborhoodGenerator{
		enabled: map[MoveType]bool{
			MoveSwap:     true,
			MoveRelocate: true,
			MoveReplace:  true,
			MoveFill:     true,
		},
	}
}

// SetEnabled 开关某类移动
func (n *NeighborhoodGenerator) SetEnabled(t MoveType, on bool) {
	n.enabled[t] = on
}

// Generate 生成当前取值的全部邻域移动
func (n *NeighborhoodGenerator) Generate(m *constraint.Model, values []int) []Move {
	groups := make(map[dayGroup][]int)
	var order []dayGroup
	targets := make(map[dayGroup][]int) // 组内每个目标取一个代表变量
	seenTarget := make(map[string]bool)
	byTarget := make(map[string][]int)

	for i, v := range m.Vars {
		if v.Kind.IsAux() {
			continue
		}
		g := dayGroup{v.Meta.Date, v.Kind}
		target := v.Meta.Target()
		byTarget[target] = append(byTarget[target], i)
		if !seenTarget[target] {
			seenTarget[target] = true
			targets[g] = append(targets[g], i)
		}
		if values[i] == 1 {
			if _, ok := groups[g]; !ok {
				order = append(order, g)
			}
			groups[g] = append(groups[g], i)
		}
	}

	var moves []Move
	for _, g := range order {
		selected := groups[g]
		if n.enabled[MoveSwap] {
			moves = append(moves, swaps(m, selected)...)
		}
		if n.enabled[MoveRelocate] {
			moves = append(moves, relocations(m, values, selected, targets[g])...)
		}
		if n.enabled[MoveReplace] {
			moves = append(moves, replacements(m, values, selected, byTarget)...)
		}
	}
	if n.enabled[MoveFill] {
		moves = append(moves, fills(m, values, byTarget)...)
	}
	return moves
}

// swapTarget x 所在半天换成 y 的站点后的目标
// 关门职责变量直接交换职责目标
func swapTarget(x, y *constraint.Variable) string {
	if x.Kind != constraint.VarAssign || x.Meta.DemandKey == nil || y.Meta.DemandKey == nil {
		return y.Meta.Target()
	}
	key := *x.Meta.DemandKey
	key.LocationID = y.Meta.LocationID
	key.RoleID = y.Meta.RoleID
	return key.String()
}

// swaps 同一天两个分配互换站点：(o1,h1@L1),(o2,h2@L2) -> (o1,h1@L2),(o2,h2@L1)
// 同一半天时即两人互换；跨上下午时新目标的需求人数须与原目标相同
func swaps(m *constraint.Model, selected []int) []Move {
	var moves []Move
	for a := 0; a < len(selected); a++ {
		for b := a + 1; b < len(selected); b++ {
			x1, x2 := m.Vars[selected[a]], m.Vars[selected[b]]
			if x1.Meta.Owner() == x2.Meta.Owner() {
				continue
			}
			t1, t2 := swapTarget(x1, x2), swapTarget(x2, x1)
			if t1 == x1.Meta.Target() || t2 == x2.Meta.Target() {
				continue
			}
			y1, ok1 := m.Lookup(x1.Meta.Owner(), t1)
			y2, ok2 := m.Lookup(x2.Meta.Owner(), t2)
			if !ok1 || !ok2 {
				continue
			}
			crossHalf := x1.Meta.HalfDay != x2.Meta.HalfDay
			if crossHalf && (m.Vars[y1].Meta.Slots != x1.Meta.Slots || m.Vars[y2].Meta.Slots != x2.Meta.Slots) {
				continue
			}
			moves = append(moves, Move{
				Type:   MoveSwap,
				Remove: []int{selected[a], selected[b]},
				Add:    []int{y1, y2},
			})
		}
	}
	return moves
}

// relocations (o,t1) -> (o,t2)，两个需求的人数相同
func relocations(m *constraint.Model, values []int, selected, targets []int) []Move {
	var moves []Move
	for _, x := range selected {
		meta := m.Vars[x].Meta
		if m.Vars[x].Kind != constraint.VarAssign {
			continue
		}
		for _, rep := range targets {
			other := m.Vars[rep].Meta
			if other.Target() == meta.Target() || other.Slots != meta.Slots {
				continue
			}
			y, ok := m.Lookup(meta.Owner(), other.Target())
			if !ok || values[y] == 1 {
				continue
			}
			moves = append(moves, Move{Type: MoveRelocate, Remove: []int{x}, Add: []int{y}})
		}
	}
	return moves
}

// replacements (o1,t) -> (o2,t)
func replacements(m *constraint.Model, values []int, selected []int, byTarget map[string][]int) []Move {
	var moves []Move
	for _, x := range selected {
		for _, y := range byTarget[m.Vars[x].Meta.Target()] {
			if y == x || values[y] == 1 {
				continue
			}
			moves = append(moves, Move{Type: MoveReplace, Remove: []int{x}, Add: []int{y}})
		}
	}
	return moves
}

// fills 对未达到下界的行尝试补入候选变量 y：
// y 不受阻时直接补入；被已满的上界行阻挡时让出阻挡的 x，
// 并可由另一人 z 接替 x 的目标（如 1R 与 2F 在两人之间调换）
func fills(m *constraint.Model, values []int, byTarget map[string][]int) []Move {
	act := make([]float64, len(m.Rows))
	for i, r := range m.Rows {
		act[i] = r.Activity(values)
	}

	var moves []Move
	for ri, r := range m.Rows {
		if r.AdmitsLower(act[ri]) {
			continue
		}
		for _, t := range r.Terms {
			y := t.Var
			if t.Coef <= 0 || values[y] == 1 || m.Vars[y].Kind.IsAux() {
				continue
			}
			blockers := blocking(m, values, act, y)
			if len(blockers) == 0 {
				moves = append(moves, Move{Type: MoveFill, Add: []int{y}})
				continue
			}
			for _, x := range blockers {
				moves = append(moves, Move{Type: MoveFill, Remove: []int{x}, Add: []int{y}})
				for _, z := range byTarget[m.Vars[x].Meta.Target()] {
					if z == x || z == y || values[z] == 1 || m.Vars[z].Meta.PersonID == m.Vars[x].Meta.PersonID {
						continue
					}
					moves = append(moves, Move{Type: MoveFill, Remove: []int{x}, Add: []int{y, z}})
				}
			}
		}
	}
	return moves
}

// blocking y 置 1 会超出上界的行中已选的非辅助变量，按下标去重
func blocking(m *constraint.Model, values []int, act []float64, y int) []int {
	var out []int
	seen := make(map[int]bool)
	for _, ri := range m.RowsOf(y) {
		r := m.Rows[ri]
		if r.Kind == constraint.RowLink {
			continue
		}
		var coef float64
		for _, t := range r.Terms {
			if t.Var == y {
				coef += t.Coef
			}
		}
		if coef <= 0 || r.AdmitsUpper(act[ri]+coef) {
			continue
		}
		for _, t := range r.Terms {
			x := t.Var
			if x == y || t.Coef <= 0 || values[x] == 0 || seen[x] || m.Vars[x].Kind.IsAux() {
				continue
			}
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}
