package supply

import (
	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

type slot struct {
	date string
	half model.HalfDay
}

// Theoretical 周理论产能预测
// 实际供给单元按 1 计；没有当半天日分配的替补成员按 BackupGenericShare 折算。
// 结果只用于比较需求缺口，不参与生成分配。
func (a *Aggregator) Theoretical(persons []model.Person, units []model.SupplyUnit, demand []model.DemandUnit, scope model.Scope) ([]model.CapacityForecast, error) {
	dates, err := scope.Dates()
	if err != nil {
		return nil, err
	}

	supplied := make(map[slot]float64)
	covered := make(map[model.SlotKey]bool, len(units))
	for _, u := range units {
		supplied[slot{u.Date, u.HalfDay}]++
		covered[u.Slot()] = true
	}

	var backups []uuid.UUID
	for _, p := range persons {
		if p.Active && p.IsBackup() {
			backups = append(backups, p.ID)
		}
	}

	required := make(map[slot]float64)
	for _, d := range demand {
		required[slot{d.Date, d.HalfDay}] += d.RequiredCount
	}

	var out []model.CapacityForecast
	for _, date := range dates {
		if !a.cfg.IncludeWeekends && model.IsWeekend(date) {
			continue
		}
		for _, half := range model.HalfDays() {
			s := slot{date, half}
			supply := supplied[s]
			for _, id := range backups {
				if !covered[model.SlotKey{PersonID: id, Date: date, HalfDay: half}] {
					supply += a.cfg.BackupGenericShare
				}
			}
			out = append(out, model.CapacityForecast{
				Date:    date,
				HalfDay: half,
				Demand:  required[s],
				Supply:  supply,
				Gap:     supply - required[s],
			})
		}
	}
	return out, nil
}
