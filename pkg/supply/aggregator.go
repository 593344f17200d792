// Package supply 将人员可用性聚合为半天供给单元
package supply

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/logger"
	"github.com/paiban/staffplan/pkg/model"
)

// DefaultBackupGenericShare 未分配日程的替补成员每半天折算的理论供给
const DefaultBackupGenericShare = 0.2

// Config 聚合配置
type Config struct {
	Windows            model.HalfDayWindows
	IncludeWeekends    bool
	BackupGenericShare float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Windows:            model.DefaultHalfDayWindows(),
		BackupGenericShare: DefaultBackupGenericShare,
	}
}

// Aggregator 供给聚合器
type Aggregator struct {
	cfg      Config
	validate *validator.Validate
	logger   *logger.OptimizerLogger
}

// NewAggregator 创建聚合器
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger.NewOptimizerLogger().With("stage", "supply"),
	}
}

// Aggregate 实时逐日聚合，生成可分配的供给单元
// 同一人员同一半天只生成一个单元；替补成员只有日分配记录才产生单元
func (a *Aggregator) Aggregate(persons []model.Person, records []model.AvailabilityRecord, scope model.Scope) ([]model.SupplyUnit, []model.InputIssue) {
	people := make(map[uuid.UUID]*model.Person, len(persons))
	var issues []model.InputIssue

	skip := func(source, id string, err error) {
		issue := model.NewInputIssue(source, id, err)
		issues = append(issues, issue)
		a.logger.InputSkipped(source, id, issue.Reason)
	}

	for i := range persons {
		p := &persons[i]
		if err := a.validate.Struct(p); err != nil {
			skip("person", p.ID.String(), err)
			continue
		}
		people[p.ID] = p
	}

	units := make(map[model.SlotKey]model.SupplyUnit)
	for idx, rec := range records {
		recID := fmt.Sprintf("%s#%d", rec.PersonID, idx)
		if err := a.validate.Struct(rec); err != nil {
			skip("availability", recID, err)
			continue
		}
		person, ok := people[rec.PersonID]
		if !ok {
			skip("availability", recID, apperrors.InputData("人员不存在"))
			continue
		}
		if !person.Active {
			continue
		}
		if person.IsBackup() && rec.Source != model.SourceBackup {
			continue
		}

		window, err := model.NewClockWindow(rec.StartTime, rec.EndTime)
		if err != nil {
			skip("availability", recID, apperrors.InvalidTimeRange(err))
			continue
		}
		dates, err := model.DateRange{StartDate: rec.StartDate, EndDate: rec.EndDate}.Dates()
		if err != nil {
			skip("availability", recID, apperrors.InvalidTimeRange(err))
			continue
		}

		for _, date := range dates {
			if !scope.Contains(date) || (!a.cfg.IncludeWeekends && model.IsWeekend(date)) {
				continue
			}
			for _, half := range model.HalfDays() {
				if a.cfg.Windows.Window(half).Overlap(window) == 0 {
					continue
				}
				key := model.SlotKey{PersonID: person.ID, Date: date, HalfDay: half}
				if _, dup := units[key]; dup {
					continue
				}
				units[key] = newUnit(person, date, half)
			}
		}
	}

	out := make([]model.SupplyUnit, 0, len(units))
	for _, u := range units {
		out = append(out, u)
	}
	SortSupply(out)
	return out, issues
}

func newUnit(p *model.Person, date string, half model.HalfDay) model.SupplyUnit {
	return model.SupplyUnit{
		ID:                model.SupplyUnitID(p.ID, date, half),
		Date:              date,
		HalfDay:           half,
		PersonID:          p.ID,
		PersonKind:        p.Kind,
		EligibleLocations: model.NewStringSet(p.EligibleLocations...),
		EligibleRoles:     model.NewStringSet(p.EligibleRoles...),
		PrefersLocations:  model.NewStringSet(p.PreferredLocations...),
		FlexibleQuota:     p.FlexibleQuota,
	}
}

// SortSupply 按日期、半天、人员排序，保证结果可复现
func SortSupply(units []model.SupplyUnit) {
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.HalfDay != b.HalfDay {
			return a.HalfDay.Order() < b.HalfDay.Order()
		}
		return a.PersonID.String() < b.PersonID.String()
	})
}
