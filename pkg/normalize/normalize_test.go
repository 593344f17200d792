package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/model"
)

type fakeTopology struct {
	known   map[string]bool
	closing map[string]bool
}

func (f fakeTopology) Known(id string) bool          { return f.known[id] }
func (f fakeTopology) ClosesLocation(id string) bool { return f.closing[id] }

func newTestNormalizer() *Normalizer {
	topo := fakeTopology{
		known:   map[string]bool{"north": true, "south": true, "or-main": true},
		closing: map[string]bool{"north": true},
	}
	return New(DefaultConfig(), topo)
}

func record(id, start, end, from, to, loc string, ratio float64) model.ScheduleRecord {
	return model.ScheduleRecord{
		ID:            id,
		StartDate:     start,
		EndDate:       end,
		StartTime:     from,
		EndTime:       to,
		LocationID:    loc,
		RoleID:        "nurse",
		Kind:          model.KindSite,
		StaffingRatio: ratio,
	}
}

func TestNormalizeFullDay(t *testing.T) {
	n := newTestNormalizer()
	scope := model.DayScope("2026-03-16")

	units, issues := n.Normalize([]model.ScheduleRecord{
		record("r1", "2026-03-16", "2026-03-16", "08:00", "17:30", "north", 1),
	}, scope)

	require.Empty(t, issues)
	require.Len(t, units, 2)
	assert.Equal(t, model.Morning, units[0].HalfDay)
	assert.InDelta(t, 1.0, units[0].RequiredCount, 1e-9)
	assert.Equal(t, model.Afternoon, units[1].HalfDay)
	assert.InDelta(t, 1.0, units[1].RequiredCount, 1e-9)
	assert.True(t, units[0].ClosesLocation)
}

func TestNormalizePartialOverlapScales(t *testing.T) {
	n := newTestNormalizer()
	units, _ := n.Normalize([]model.ScheduleRecord{
		record("r1", "2026-03-16", "2026-03-16", "10:00", "12:30", "south", 2),
	}, model.DayScope("2026-03-16"))

	require.Len(t, units, 1)
	assert.InDelta(t, 2*150.0/270.0, units[0].RequiredCount, 1e-9)
	assert.False(t, units[0].ClosesLocation)
}

func TestNormalizeSumsSameKey(t *testing.T) {
	n := newTestNormalizer()
	units, _ := n.Normalize([]model.ScheduleRecord{
		record("r1", "2026-03-16", "2026-03-16", "08:00", "12:30", "south", 1.3),
		record("r2", "2026-03-16", "2026-03-16", "08:00", "12:30", "south", 1),
	}, model.DayScope("2026-03-16"))

	require.Len(t, units, 1)
	assert.InDelta(t, 2.3, units[0].RequiredCount, 1e-9)
	assert.Equal(t, 3, units[0].Slots())
}

func TestNormalizeZeroOverlapEmitsNothing(t *testing.T) {
	n := newTestNormalizer()
	units, issues := n.Normalize([]model.ScheduleRecord{
		record("r1", "2026-03-16", "2026-03-16", "12:30", "13:00", "south", 1),
		record("r2", "2026-03-16", "2026-03-16", "18:00", "20:00", "south", 1),
	}, model.DayScope("2026-03-16"))

	assert.Empty(t, units)
	assert.Empty(t, issues)
}

func TestNormalizeMultiDayRangeSkipsWeekendAndOutOfScope(t *testing.T) {
	n := newTestNormalizer()
	scope := model.WeekScope("2026-03-16")

	// 周五到下周一，周末跳过，下周一不在范围内
	units, _ := n.Normalize([]model.ScheduleRecord{
		record("r1", "2026-03-20", "2026-03-23", "08:00", "12:30", "north", 1),
	}, scope)

	require.Len(t, units, 1)
	assert.Equal(t, "2026-03-20", units[0].Date)

	cfg := DefaultConfig()
	cfg.IncludeWeekends = true
	withWeekends := New(cfg, fakeTopology{known: map[string]bool{"north": true}})
	units, _ = withWeekends.Normalize([]model.ScheduleRecord{
		record("r1", "2026-03-20", "2026-03-23", "08:00", "12:30", "north", 1),
	}, scope)
	assert.Len(t, units, 3)
}

func TestNormalizeSkipsInvalidRecords(t *testing.T) {
	n := newTestNormalizer()
	badRatio := record("r4", "2026-03-16", "2026-03-16", "08:00", "12:30", "north", 0)
	badKind := record("r5", "2026-03-16", "2026-03-16", "08:00", "12:30", "north", 1)
	badKind.Kind = "garage"

	units, issues := n.Normalize([]model.ScheduleRecord{
		record("r1", "2026-03-16", "2026-03-16", "8h", "12:30", "north", 1),
		record("r2", "2026-03-16", "2026-03-16", "12:00", "08:00", "north", 1),
		record("r3", "2026-03-16", "2026-03-16", "08:00", "12:30", "moon", 1),
		badRatio,
		badKind,
		record("r6", "2026-03-17", "2026-03-16", "08:00", "12:30", "north", 1),
		record("ok", "2026-03-16", "2026-03-16", "08:00", "12:30", "north", 1),
	}, model.DayScope("2026-03-16"))

	require.Len(t, units, 1)
	require.Len(t, issues, 6)
	ids := make([]string, 0, len(issues))
	for _, is := range issues {
		ids = append(ids, is.RecordID)
		assert.Equal(t, "schedule", is.Source)
		assert.NotEmpty(t, is.Reason)
	}
	assert.Equal(t, []string{"r1", "r2", "r3", "r4", "r5", "r6"}, ids)

	codes := make([]apperrors.Code, 0, len(issues))
	for _, is := range issues {
		codes = append(codes, is.Code)
	}
	assert.Equal(t, []apperrors.Code{
		apperrors.CodeInputData,
		apperrors.CodeInvalidTimeRange,
		apperrors.CodeInputData,
		apperrors.CodeInputData,
		apperrors.CodeInputData,
		apperrors.CodeInvalidTimeRange,
	}, codes)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	n := newTestNormalizer()
	records := []model.ScheduleRecord{
		record("a", "2026-03-16", "2026-03-17", "08:00", "17:30", "south", 1),
		record("b", "2026-03-16", "2026-03-17", "08:00", "17:30", "north", 1),
	}
	first, _ := n.Normalize(records, model.WeekScope("2026-03-16"))
	second, _ := n.Normalize(records, model.WeekScope("2026-03-16"))
	assert.Equal(t, first, second)
	assert.Equal(t, "north", first[0].LocationID)
}
