package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/staffplan/internal/lock"
	"github.com/paiban/staffplan/internal/repository"
	"github.com/paiban/staffplan/internal/topology"
	"github.com/paiban/staffplan/pkg/engine"
	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/scheduler/solver"
	"github.com/paiban/staffplan/pkg/validator"
)

const (
	monday    = "2026-03-16"
	tuesday   = "2026-03-17"
	wednesday = "2026-03-18"
)

const topoYAML = `
administrative_site: admin
operating_rooms: [or-main]
sites:
  - id: admin
  - id: north
    closes: true
  - id: annex
exclusions:
  - operating_room: or-main
    sites: [annex]
`

var (
	p1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	p2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	p3 = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

func person(id uuid.UUID, name string, locations ...string) model.Person {
	return model.Person{
		ID:                id,
		Name:              name,
		Kind:              model.PersonStaff,
		EligibleLocations: locations,
		EligibleRoles:     []string{"nurse"},
		Active:            true,
	}
}

func available(id uuid.UUID, from, to string) model.AvailabilityRecord {
	return model.AvailabilityRecord{
		PersonID:  id,
		StartDate: from,
		EndDate:   to,
		StartTime: "08:00",
		EndTime:   "17:30",
		Source:    model.SourceSchedule,
	}
}

func record(id, location string, kind model.DemandKind, from, to, start, end string, ratio float64) model.ScheduleRecord {
	return model.ScheduleRecord{
		ID:            id,
		StartDate:     from,
		EndDate:       to,
		StartTime:     start,
		EndTime:       end,
		LocationID:    location,
		RoleID:        "nurse",
		Kind:          kind,
		StaffingRatio: ratio,
	}
}

// fixture 手术室上午 1 人，north 全天 2 人，三名人员全天在岗
func fixture(from, to string) *model.Inputs {
	return &model.Inputs{
		Records: []model.ScheduleRecord{
			record("or", "or-main", model.KindOperatingRoom, from, to, "08:00", "12:30", 1),
			record("north", "north", model.KindSite, from, to, "08:00", "17:30", 2),
		},
		Persons: []model.Person{
			person(p1, "王芳", "or-main", "north", "annex"),
			person(p2, "李娜", "north", "annex"),
			person(p3, "张伟", "north"),
		},
		Availability: []model.AvailabilityRecord{
			available(p1, from, to),
			available(p2, from, to),
			available(p3, from, to),
		},
	}
}

func newEngine(t *testing.T, store engine.Store, opts ...engine.Option) *engine.Engine {
	t.Helper()
	return newEngineWith(t, store, nil, opts...)
}

func newEngineWith(t *testing.T, store engine.Store, configure func(*engine.Config), opts ...engine.Option) *engine.Engine {
	t.Helper()
	topo, err := topology.Parse([]byte(topoYAML))
	require.NoError(t, err)

	cfg := engine.DefaultConfig()
	cfg.Exact.Timeout = 5 * time.Second
	if configure != nil {
		configure(&cfg)
	}
	if len(opts) == 0 {
		opts = []engine.Option{engine.WithLocker(lock.NewLocalLocker(lock.DefaultOptions()))}
	}
	return engine.New(cfg, store, topo, opts...)
}

func phaseResult(t *testing.T, resp *engine.Response, phase model.Phase) engine.PhaseResult {
	t.Helper()
	for _, pr := range resp.Phases {
		if pr.Phase == phase {
			return pr
		}
	}
	t.Fatalf("missing phase %s", phase)
	return engine.PhaseResult{}
}

type slotCount struct {
	location string
	half     model.HalfDay
}

func countByLocation(list []model.Assignment) map[slotCount]int {
	out := make(map[slotCount]int)
	for _, a := range list {
		if !a.IsPlaceholder() {
			out[slotCount{a.LocationID, a.HalfDay}]++
		}
	}
	return out
}

func tagsOf(list []model.Assignment) map[model.RoleTag][]model.Assignment {
	out := make(map[model.RoleTag][]model.Assignment)
	for _, a := range list {
		if a.RoleTag != model.TagNone {
			out[a.RoleTag] = append(out[a.RoleTag], a)
		}
	}
	return out
}

func TestRunCommitsAllPhases(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(fixture(monday, monday))
	eng := newEngine(t, store)

	resp, err := eng.Run(ctx, engine.Request{Date: monday})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Phases, 4)
	for _, pr := range resp.Phases {
		assert.Equal(t, 0, pr.UnmetCount, pr.Phase)
	}

	counts := countByLocation(resp.Assignments)
	assert.Equal(t, 1, counts[slotCount{"or-main", model.Morning}])
	assert.Equal(t, 2, counts[slotCount{"north", model.Morning}])
	assert.Equal(t, 2, counts[slotCount{"north", model.Afternoon}])

	sites := phaseResult(t, resp, model.PhaseSites)
	assert.Equal(t, 4, sites.AssignedCount)
	assert.Equal(t, 1, sites.Placeholders, "一个空闲半天分配到行政站点")

	for _, a := range resp.Assignments {
		if a.Phase == model.PhaseOperatingRoom {
			assert.Equal(t, p1, a.PersonID)
		}
		if a.IsPlaceholder() {
			assert.Equal(t, "admin", a.LocationID)
			assert.Empty(t, a.RoleID)
		}
	}

	tags := tagsOf(resp.Assignments)
	require.Len(t, tags[model.TagFirst], 1)
	require.Len(t, tags[model.TagSecond], 1)
	assert.NotEqual(t, tags[model.TagFirst][0].PersonID, tags[model.TagSecond][0].PersonID)
	for _, list := range tags {
		assert.Equal(t, "north", list[0].LocationID)
		assert.Equal(t, model.Afternoon, list[0].HalfDay)
	}

	assert.Empty(t, validator.NewConflictDetector(nil).DetectDoubleBooking(resp.Assignments))
	assert.Len(t, store.Assignments(), len(resp.Assignments))
	assert.Len(t, store.Runs(), 1)
	assert.Equal(t, 100.0, resp.Coverage.OverallCoverage)
}

func TestDryRunDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(fixture(monday, monday))
	eng := newEngine(t, store)

	resp, err := eng.Run(ctx, engine.Request{Date: monday, DryRun: true})
	require.NoError(t, err)
	assert.True(t, resp.DryRun)
	assert.NotEmpty(t, resp.Assignments)
	assert.Empty(t, store.Assignments())
	assert.Empty(t, store.Runs())

	require.Len(t, resp.Diff, len(resp.Assignments))
	for _, c := range resp.Diff {
		assert.Nil(t, c.Before)
		require.NotNil(t, c.After)
	}
}

func TestRerunAfterCommitHasEmptyDiff(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(fixture(monday, monday))
	eng := newEngine(t, store)

	_, err := eng.Run(ctx, engine.Request{Date: monday})
	require.NoError(t, err)

	again, err := eng.Run(ctx, engine.Request{Date: monday, DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, again.Diff, "相同输入重跑结果保持不变")
}

func TestRunIsDeterministic(t *testing.T) {
	ctx := context.Background()
	run := func() []model.Assignment {
		eng := newEngine(t, repository.NewMemoryStore(fixture(monday, monday)))
		resp, err := eng.Run(ctx, engine.Request{Date: monday, DryRun: true})
		require.NoError(t, err)
		return resp.Assignments
	}

	first, second := run(), run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, first[i].SameContent(second[i]), "第 %d 条分配不一致", i)
	}
}

func TestFractionalDemandRoundsUp(t *testing.T) {
	inputs := &model.Inputs{
		Records: []model.ScheduleRecord{
			record("north", "north", model.KindSite, monday, monday, "08:00", "12:30", 2.3),
		},
		Persons: []model.Person{
			person(p2, "李娜", "north"),
			person(p3, "张伟", "north"),
		},
		Availability: []model.AvailabilityRecord{available(p2, monday, monday), available(p3, monday, monday)},
	}
	eng := newEngine(t, repository.NewMemoryStore(inputs))

	resp, err := eng.Run(context.Background(), engine.Request{Date: monday, Phases: []model.Phase{model.PhaseSites}})
	require.NoError(t, err)

	sites := phaseResult(t, resp, model.PhaseSites)
	assert.Equal(t, 2, sites.AssignedCount)
	assert.Equal(t, 1, sites.UnmetCount, "2.3 人需求需要 3 人")
	assert.Equal(t, 2, sites.Placeholders)
	assert.Equal(t, 1, resp.Coverage.Unmet)
}

func TestOperatingRoomExcludesSite(t *testing.T) {
	inputs := fixture(monday, monday)
	inputs.Records = append(inputs.Records,
		record("annex", "annex", model.KindSite, monday, monday, "13:00", "17:30", 1))
	inputs.Persons[1].EligibleLocations = []string{"north"}
	eng := newEngine(t, repository.NewMemoryStore(inputs))

	resp, err := eng.Run(context.Background(), engine.Request{
		Date:   monday,
		Phases: []model.Phase{model.PhaseOperatingRoom, model.PhaseSites},
	})
	require.NoError(t, err)

	for _, a := range resp.Assignments {
		if a.PersonID == p1 {
			assert.NotEqual(t, "annex", a.LocationID, "手术室人员当天不去互斥站点")
		}
	}
	assert.Equal(t, 1, phaseResult(t, resp, model.PhaseSites).UnmetCount)
}

func TestWeeklySecondCloserLimit(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(fixture(tuesday, tuesday))
	mondayKey := model.DemandKey{Date: monday, HalfDay: model.Afternoon, LocationID: "north", RoleID: "nurse"}
	store.Seed([]model.Assignment{{
		ID:         uuid.New(),
		Phase:      model.PhaseSites,
		DemandKey:  &mondayKey,
		PersonID:   p2,
		Date:       monday,
		HalfDay:    model.Afternoon,
		LocationID: "north",
		RoleID:     "nurse",
		RoleTag:    model.TagSecond,
	}})
	eng := newEngine(t, store)

	resp, err := eng.Run(ctx, engine.Request{Date: tuesday})
	require.NoError(t, err)

	tags := tagsOf(resp.Assignments)
	require.Len(t, tags[model.TagSecond], 1)
	require.Len(t, tags[model.TagFirst], 1)
	assert.Equal(t, p3, tags[model.TagSecond][0].PersonID, "本周已承担 2F 的人员不再承担 2F")
	assert.Equal(t, p2, tags[model.TagFirst][0].PersonID)

	report, err := eng.Report(ctx, model.Scope{DateRange: model.DateRange{StartDate: monday, EndDate: tuesday}})
	require.NoError(t, err)
	for _, c := range report.WeeklyRoles {
		assert.LessOrEqual(t, c.Second+c.Third, 1)
	}
	assert.True(t, report.Valid)
}

func TestFallbackWhenModelTooLarge(t *testing.T) {
	store := repository.NewMemoryStore(fixture(monday, monday))
	eng := newEngineWith(t, store, func(cfg *engine.Config) { cfg.Exact.MaxVars = 1 })

	resp, err := eng.Run(context.Background(), engine.Request{Date: monday})
	require.NoError(t, err)

	sites := phaseResult(t, resp, model.PhaseSites)
	assert.True(t, sites.FellBack)
	require.NotEmpty(t, sites.Warnings)
	assert.Contains(t, sites.Warnings[0], "超过上限")
	assert.Equal(t, 0, sites.UnmetCount)

	counts := countByLocation(resp.Assignments)
	assert.LessOrEqual(t, counts[slotCount{"north", model.Morning}], 2)
	assert.LessOrEqual(t, counts[slotCount{"north", model.Afternoon}], 2)
	assert.Empty(t, validator.NewConflictDetector(nil).DetectDoubleBooking(resp.Assignments))
}

func TestClosingKeepsRolesWhenWeekIsInfeasible(t *testing.T) {
	inputs := &model.Inputs{
		Records: []model.ScheduleRecord{
			record("north", "north", model.KindSite, monday, wednesday, "13:00", "17:30", 2),
		},
		Persons: []model.Person{
			person(p2, "李娜", "north"),
			person(p3, "张伟", "north"),
		},
		Availability: []model.AvailabilityRecord{available(p2, monday, wednesday), available(p3, monday, wednesday)},
	}
	eng := newEngine(t, repository.NewMemoryStore(inputs))

	resp, err := eng.Run(context.Background(), engine.Request{
		WeekStart: monday,
		WeekEnd:   wednesday,
		Phases:    []model.Phase{model.PhaseSites, model.PhaseClosing},
	})
	require.NoError(t, err)

	closing := phaseResult(t, resp, model.PhaseClosing)
	assert.True(t, closing.FellBack)
	assert.Equal(t, solver.StatusInfeasible, closing.Status)
	assert.Equal(t, 1, closing.UnmetCount, "第三天的 2F 无人可担")
	require.NotEmpty(t, closing.Warnings)
	assert.Contains(t, closing.Warnings[0], "无可行解")

	tags := tagsOf(resp.Assignments)
	assert.Len(t, tags[model.TagFirst], 3, "每天都有 1R")
	require.Len(t, tags[model.TagSecond], 2, "两人每周各承担一次 2F")
	assert.NotEqual(t, tags[model.TagSecond][0].PersonID, tags[model.TagSecond][1].PersonID)
	assert.NotEqual(t, tags[model.TagSecond][0].Date, tags[model.TagSecond][1].Date)
}

func TestFlexibleQuotaLimitsOperatingRoomDays(t *testing.T) {
	inputs := &model.Inputs{
		Records: []model.ScheduleRecord{
			record("or", "or-main", model.KindOperatingRoom, monday, wednesday, "08:00", "12:30", 1),
		},
		Persons:      []model.Person{person(p1, "王芳", "or-main")},
		Availability: []model.AvailabilityRecord{available(p1, monday, wednesday)},
	}
	inputs.Persons[0].FlexibleQuota = 1
	eng := newEngine(t, repository.NewMemoryStore(inputs))

	resp, err := eng.Run(context.Background(), engine.Request{
		WeekStart: monday,
		WeekEnd:   wednesday,
		Phases:    []model.Phase{model.PhaseOperatingRoom},
	})
	require.NoError(t, err)

	or := phaseResult(t, resp, model.PhaseOperatingRoom)
	assert.Equal(t, 1, or.AssignedCount, "灵活配额 1 天")
	assert.Equal(t, 2, or.UnmetCount)
}

type failingStore struct {
	*repository.MemoryStore
	fail model.Phase
}

func (s *failingStore) ReplacePhase(ctx context.Context, phase model.Phase, scope model.Scope, batch []model.Assignment) error {
	if phase == s.fail {
		return errors.New("connection reset by peer")
	}
	return s.MemoryStore.ReplacePhase(ctx, phase, scope, batch)
}

func TestPersistenceFailureAbortsRun(t *testing.T) {
	mem := repository.NewMemoryStore(fixture(monday, monday))
	eng := newEngine(t, &failingStore{MemoryStore: mem, fail: model.PhaseSites})

	_, err := eng.Run(context.Background(), engine.Request{Date: monday})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodePersistenceFailed))

	committed := mem.Assignments()
	require.Len(t, committed, 1, "之前阶段的结果保持已提交")
	assert.Equal(t, model.PhaseOperatingRoom, committed[0].Phase)
	assert.Empty(t, mem.Runs())
}

func TestRunRejectsLockedScope(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocalLocker(lock.DefaultOptions())
	unlock, err := locker.Lock(ctx, []string{monday})
	require.NoError(t, err)
	defer unlock()

	eng := newEngine(t, repository.NewMemoryStore(fixture(monday, monday)), engine.WithLocker(locker))
	_, err = eng.Run(ctx, engine.Request{WeekStart: monday})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeScopeLocked))
}

func TestRunMany(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore(fixture(monday, tuesday))
	eng := newEngine(t, store)
	phases := []model.Phase{model.PhaseOperatingRoom, model.PhaseSites}

	_, err := eng.RunMany(ctx, []engine.Request{
		{WeekStart: monday, WeekEnd: tuesday, Phases: phases},
		{Date: tuesday, Phases: phases},
	})
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput), "重叠范围被拒绝")

	out, err := eng.RunMany(ctx, []engine.Request{
		{Date: monday, Phases: phases},
		{Date: tuesday, Phases: phases},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, monday, out[0].Scope.StartDate)
	assert.Equal(t, tuesday, out[1].Scope.StartDate)
	assert.Len(t, store.Runs(), 2)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	key := model.DemandKey{Date: monday, HalfDay: model.Morning, LocationID: "north", RoleID: "nurse"}
	existing := model.Assignment{
		ID: uuid.New(), Phase: model.PhaseSites, DemandKey: &key,
		PersonID: p2, Date: monday, HalfDay: model.Morning, LocationID: "north", RoleID: "nurse",
	}
	store := repository.NewMemoryStore(fixture(monday, monday))
	store.Seed([]model.Assignment{existing})
	eng := newEngine(t, store)
	scope := model.DayScope(monday)

	moved := model.Assignment{
		Phase: model.PhaseSites, PersonID: p2, Date: monday, HalfDay: model.Morning,
		LocationID: "annex", RoleID: "nurse",
	}
	res, err := eng.Apply(ctx, scope, []model.Change{
		{PersonID: p2, Date: monday, HalfDay: model.Morning, Before: &existing, After: &moved},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	got := store.Assignments()
	require.Len(t, got, 1)
	assert.Equal(t, "annex", got[0].LocationID)
	require.NotNil(t, got[0].DemandKey)
	assert.Equal(t, "annex", got[0].DemandKey.LocationID)
	assert.NotEqual(t, uuid.Nil, got[0].ID)
}

func TestApplyRejectsInvalidChanges(t *testing.T) {
	ctx := context.Background()
	key := model.DemandKey{Date: monday, HalfDay: model.Morning, LocationID: "north", RoleID: "nurse"}
	existing := model.Assignment{
		ID: uuid.New(), Phase: model.PhaseSites, DemandKey: &key,
		PersonID: p2, Date: monday, HalfDay: model.Morning, LocationID: "north", RoleID: "nurse",
	}
	store := repository.NewMemoryStore(fixture(monday, monday))
	store.Seed([]model.Assignment{existing})
	eng := newEngine(t, store)
	scope := model.DayScope(monday)

	_, err := eng.Apply(ctx, scope, []model.Change{{PersonID: p1, Date: tuesday, HalfDay: model.Morning}})
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput), "范围外日期")

	wrongSlot := model.Assignment{Phase: model.PhaseSites, PersonID: p3, Date: monday, HalfDay: model.Morning, LocationID: "north", RoleID: "nurse"}
	_, err = eng.Apply(ctx, scope, []model.Change{{PersonID: p1, Date: monday, HalfDay: model.Morning, After: &wrongSlot}})
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput), "人员半天不一致")

	extra := func(id uuid.UUID) model.Change {
		a := model.Assignment{Phase: model.PhaseSites, PersonID: id, Date: monday, HalfDay: model.Morning, LocationID: "north", RoleID: "nurse"}
		return model.Change{PersonID: id, Date: monday, HalfDay: model.Morning, After: &a}
	}
	_, err = eng.Apply(ctx, scope, []model.Change{extra(p1), extra(p3)})
	assert.True(t, apperrors.Is(err, apperrors.CodeConstraintViolation), "超过需求人数")

	require.Len(t, store.Assignments(), 1, "被拒绝的变更不写入")
}

func TestForecast(t *testing.T) {
	eng := newEngine(t, repository.NewMemoryStore(fixture(monday, monday)))

	res, err := eng.Forecast(context.Background(), model.DayScope(monday))
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)

	assert.Equal(t, model.Morning, res.Rows[0].HalfDay)
	assert.InDelta(t, 3.0, res.Rows[0].Demand, 1e-9)
	assert.InDelta(t, 3.0, res.Rows[0].Supply, 1e-9)
	assert.InDelta(t, 1.0, res.Rows[1].Gap, 1e-9)
	assert.InDelta(t, 1.0, res.TotalGap, 1e-9)
	assert.Equal(t, 0, res.Shortages)
}

func TestReportMatchesCommittedRun(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, repository.NewMemoryStore(fixture(monday, monday)))

	resp, err := eng.Run(ctx, engine.Request{Date: monday})
	require.NoError(t, err)

	report, err := eng.Report(ctx, model.DayScope(monday))
	require.NoError(t, err)
	assert.Equal(t, len(resp.Assignments), report.Assignments)
	assert.InDelta(t, resp.Score.Total, report.Score.Total, 1e-9)
	assert.Equal(t, resp.Coverage.Assigned, report.Coverage.Assigned)
	assert.True(t, report.Valid)
}

func TestRequestScope(t *testing.T) {
	s, err := engine.Request{Date: monday}.Scope()
	require.NoError(t, err)
	assert.Equal(t, model.DayScope(monday), s)

	s, err = engine.Request{WeekStart: monday}.Scope()
	require.NoError(t, err)
	assert.Equal(t, "2026-03-22", s.EndDate)

	_, err = engine.Request{}.Scope()
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))

	_, err = engine.Request{WeekStart: tuesday, WeekEnd: monday}.Scope()
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidInput))
}

func TestRequestPhaseList(t *testing.T) {
	all, err := engine.Request{}.PhaseList()
	require.NoError(t, err)
	assert.Equal(t, model.PhaseOrder(), all)

	got, err := engine.Request{Phases: []model.Phase{model.PhaseFlexible, model.PhaseOperatingRoom, model.PhaseFlexible}}.PhaseList()
	require.NoError(t, err)
	assert.Equal(t, []model.Phase{model.PhaseOperatingRoom, model.PhaseFlexible}, got)

	_, err = engine.Request{Phases: []model.Phase{"lunch"}}.PhaseList()
	assert.Error(t, err)
}
