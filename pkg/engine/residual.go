package engine

import (
	"github.com/paiban/staffplan/pkg/model"
)

// Residual 剩余供给，不可变值
// 每个阶段结束后通过 Consume 得到新值传给下一阶段
type Residual struct {
	units []model.SupplyUnit
	used  map[model.SlotKey]bool
}

// NewResidual 从全部供给单元创建
func NewResidual(units []model.SupplyUnit) Residual {
	cp := make([]model.SupplyUnit, len(units))
	copy(cp, units)
	used := make(map[model.SlotKey]bool)
	for _, u := range cp {
		if u.AlreadyAssigned {
			used[u.Slot()] = true
		}
	}
	return Residual{units: cp, used: used}
}

// Consume 返回占用了 list 中人员半天后的新剩余供给
func (r Residual) Consume(list []model.Assignment) Residual {
	used := make(map[model.SlotKey]bool, len(r.used)+len(list))
	for k := range r.used {
		used[k] = true
	}
	for _, a := range list {
		used[a.Slot()] = true
	}
	return Residual{units: r.units, used: used}
}

// Units 全部供给单元，已占用的标记 AlreadyAssigned
func (r Residual) Units() []model.SupplyUnit {
	out := make([]model.SupplyUnit, len(r.units))
	for i, u := range r.units {
		u.AlreadyAssigned = r.used[u.Slot()]
		out[i] = u
	}
	return out
}

// Available 尚未占用的供给单元
func (r Residual) Available() []model.SupplyUnit {
	var out []model.SupplyUnit
	for _, u := range r.units {
		if !r.used[u.Slot()] {
			out = append(out, u)
		}
	}
	return out
}
