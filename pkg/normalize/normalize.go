// Package normalize 将原始排班需求记录转换为半天需求单元
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/logger"
	"github.com/paiban/staffplan/pkg/model"
)

// DefaultReferenceSlotMinutes 参考时段长度（4.5 小时）
const DefaultReferenceSlotMinutes = 270

// Topology 需求归一化所需的站点信息
type Topology interface {
	Known(locationID string) bool
	ClosesLocation(locationID string) bool
}

// Config 归一化配置
type Config struct {
	Windows              model.HalfDayWindows
	ReferenceSlotMinutes int
	IncludeWeekends      bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Windows:              model.DefaultHalfDayWindows(),
		ReferenceSlotMinutes: DefaultReferenceSlotMinutes,
	}
}

// Normalizer 需求归一化器
type Normalizer struct {
	cfg      Config
	topo     Topology
	validate *validator.Validate
	logger   *logger.OptimizerLogger
}

// New 创建归一化器
func New(cfg Config, topo Topology) *Normalizer {
	if cfg.ReferenceSlotMinutes <= 0 {
		cfg.ReferenceSlotMinutes = DefaultReferenceSlotMinutes
	}
	return &Normalizer{
		cfg:      cfg,
		topo:     topo,
		validate: validator.New(),
		logger:   logger.NewOptimizerLogger().With("stage", "normalize"),
	}
}

// Normalize 生成范围内的需求单元
// 无效记录被跳过并作为 InputIssue 返回，不中断处理
func (n *Normalizer) Normalize(records []model.ScheduleRecord, scope model.Scope) ([]model.DemandUnit, []model.InputIssue) {
	units := make(map[model.DemandKey]*model.DemandUnit)
	var issues []model.InputIssue

	skip := func(id string, err error) {
		issue := model.NewInputIssue("schedule", id, err)
		issues = append(issues, issue)
		n.logger.InputSkipped("schedule", id, issue.Reason)
	}

	for _, rec := range records {
		window, dates, err := n.check(rec)
		if err != nil {
			skip(rec.ID, err)
			continue
		}

		for _, date := range dates {
			if !scope.Contains(date) {
				continue
			}
			if !n.cfg.IncludeWeekends && model.IsWeekend(date) {
				continue
			}
			for _, half := range model.HalfDays() {
				overlap := n.cfg.Windows.Window(half).Overlap(window)
				if overlap == 0 {
					continue
				}
				contribution := rec.StaffingRatio * float64(overlap) / float64(n.cfg.ReferenceSlotMinutes)

				key := model.DemandKey{Date: date, HalfDay: half, LocationID: rec.LocationID, RoleID: rec.RoleID}
				if u, ok := units[key]; ok {
					u.RequiredCount += contribution
					continue
				}
				units[key] = &model.DemandUnit{
					Date:           date,
					HalfDay:        half,
					LocationID:     rec.LocationID,
					RoleID:         rec.RoleID,
					Kind:           rec.Kind,
					RequiredCount:  contribution,
					ClosesLocation: rec.Kind == model.KindSite && n.topo.ClosesLocation(rec.LocationID),
				}
			}
		}
	}

	out := make([]model.DemandUnit, 0, len(units))
	for _, u := range units {
		out = append(out, *u)
	}
	SortDemand(out)
	return out, issues
}

// check 校验单条记录，返回时间窗口与展开的日期
func (n *Normalizer) check(rec model.ScheduleRecord) (model.ClockWindow, []string, error) {
	if err := n.validate.Struct(rec); err != nil {
		return model.ClockWindow{}, nil, describe(err)
	}
	window, err := model.NewClockWindow(rec.StartTime, rec.EndTime)
	if err != nil {
		return model.ClockWindow{}, nil, apperrors.InvalidTimeRange(err)
	}
	dates, err := model.DateRange{StartDate: rec.StartDate, EndDate: rec.EndDate}.Dates()
	if err != nil {
		return model.ClockWindow{}, nil, apperrors.InvalidTimeRange(err)
	}
	if n.topo != nil && !n.topo.Known(rec.LocationID) {
		return model.ClockWindow{}, nil, apperrors.InputData(fmt.Sprintf("未知位置 %s", rec.LocationID))
	}
	return window, dates, nil
}

// describe 将校验错误转为简短描述
func describe(err error) error {
	var fields []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		}
		return apperrors.InputData("字段校验失败: " + strings.Join(fields, ", "))
	}
	return err
}

// SortDemand 按日期、半天、位置、角色排序
func SortDemand(units []model.DemandUnit) {
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.HalfDay != b.HalfDay {
			return a.HalfDay.Order() < b.HalfDay.Order()
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.RoleID < b.RoleID
	})
}
