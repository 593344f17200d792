package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/staffplan/pkg/model"
)

func siteAssignment(person uuid.UUID, date string, half model.HalfDay, loc string, phase model.Phase) model.Assignment {
	key := model.DemandKey{Date: date, HalfDay: half, LocationID: loc, RoleID: "nurse"}
	return model.Assignment{
		ID:         uuid.New(),
		Phase:      phase,
		DemandKey:  &key,
		PersonID:   person,
		Date:       date,
		HalfDay:    half,
		LocationID: loc,
		RoleID:     "nurse",
	}
}

func TestMemoryStoreReplacePhase(t *testing.T) {
	ctx := context.Background()
	p := uuid.New()
	store := NewMemoryStore(nil)

	keep := siteAssignment(p, "2026-03-16", model.Morning, "or-main", model.PhaseOperatingRoom)
	old := siteAssignment(p, "2026-03-16", model.Afternoon, "north", model.PhaseSites)
	outside := siteAssignment(p, "2026-03-17", model.Afternoon, "north", model.PhaseSites)
	store.Seed([]model.Assignment{keep, old, outside})

	fresh := siteAssignment(p, "2026-03-16", model.Afternoon, "south", model.PhaseSites)
	err := store.ReplacePhase(ctx, model.PhaseSites, model.DayScope("2026-03-16"), []model.Assignment{fresh})
	require.NoError(t, err)

	got := store.Assignments()
	require.Len(t, got, 3)
	ids := map[uuid.UUID]bool{}
	for _, a := range got {
		ids[a.ID] = true
	}
	assert.True(t, ids[keep.ID])
	assert.True(t, ids[outside.ID])
	assert.True(t, ids[fresh.ID])
	assert.False(t, ids[old.ID])
}

func TestMemoryStoreReplaceRoleTags(t *testing.T) {
	ctx := context.Background()
	a := siteAssignment(uuid.New(), "2026-03-16", model.Afternoon, "north", model.PhaseSites)
	a.RoleTag = model.TagSecond
	b := siteAssignment(uuid.New(), "2026-03-16", model.Afternoon, "north", model.PhaseSites)
	other := siteAssignment(uuid.New(), "2026-03-17", model.Afternoon, "north", model.PhaseSites)
	other.RoleTag = model.TagFirst

	store := NewMemoryStore(nil)
	store.Seed([]model.Assignment{a, b, other})

	tagged := b
	tagged.RoleTag = model.TagFirst
	require.NoError(t, store.ReplaceRoleTags(ctx, model.DayScope("2026-03-16"), []model.Assignment{tagged}))

	tags := map[uuid.UUID]model.RoleTag{}
	for _, x := range store.Assignments() {
		tags[x.ID] = x.RoleTag
	}
	assert.Equal(t, model.TagNone, tags[a.ID])
	assert.Equal(t, model.TagFirst, tags[b.ID])
	assert.Equal(t, model.TagFirst, tags[other.ID], "范围外标签保持不变")
}

func TestMemoryStoreApplyChanges(t *testing.T) {
	ctx := context.Background()
	p := uuid.New()
	before := siteAssignment(p, "2026-03-16", model.Morning, "north", model.PhaseSites)
	removed := siteAssignment(p, "2026-03-16", model.Afternoon, "north", model.PhaseSites)

	store := NewMemoryStore(nil)
	store.Seed([]model.Assignment{before, removed})

	after := siteAssignment(p, "2026-03-16", model.Morning, "east", model.PhaseSites)
	changes := []model.Change{
		{PersonID: p, Date: "2026-03-16", HalfDay: model.Morning, Before: &before, After: &after},
		{PersonID: p, Date: "2026-03-16", HalfDay: model.Afternoon, Before: &removed},
	}
	require.NoError(t, store.ApplyChanges(ctx, changes))

	got := store.Assignments()
	require.Len(t, got, 1)
	assert.Equal(t, "east", got[0].LocationID)
}

func TestMemoryStoreLoadHistoryHalfOpen(t *testing.T) {
	ctx := context.Background()
	p := uuid.New()
	store := NewMemoryStore(nil)
	store.Seed([]model.Assignment{
		siteAssignment(p, "2026-03-01", model.Morning, "north", model.PhaseSites),
		siteAssignment(p, "2026-03-15", model.Morning, "north", model.PhaseSites),
		siteAssignment(p, "2026-03-16", model.Morning, "north", model.PhaseSites),
	})

	got, err := store.LoadHistory(ctx, "2026-03-01", "2026-03-16")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryStoreLoadInputsFiltersByScope(t *testing.T) {
	p := uuid.New()
	store := NewMemoryStore(&model.Inputs{
		Records: []model.ScheduleRecord{
			{ID: "r1", StartDate: "2026-03-10", EndDate: "2026-03-16"},
			{ID: "r2", StartDate: "2026-03-20", EndDate: "2026-03-21"},
		},
		Persons: []model.Person{{ID: p, Kind: model.PersonStaff, Active: true}},
		Availability: []model.AvailabilityRecord{
			{PersonID: p, StartDate: "2026-03-16", EndDate: "2026-03-16"},
			{PersonID: p, StartDate: "2026-03-01", EndDate: "2026-03-02"},
		},
	})

	in, err := store.LoadInputs(context.Background(), model.DayScope("2026-03-16"))
	require.NoError(t, err)
	require.Len(t, in.Records, 1)
	assert.Equal(t, "r1", in.Records[0].ID)
	assert.Len(t, in.Persons, 1)
	assert.Len(t, in.Availability, 1)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	a := siteAssignment(uuid.New(), "2026-03-16", model.Morning, "north", model.PhaseSites)
	store := NewMemoryStore(nil)
	store.Seed([]model.Assignment{a})

	got, err := store.LoadCommitted(context.Background(), model.DayScope("2026-03-16").DateRange)
	require.NoError(t, err)
	require.Len(t, got, 1)
	got[0].DemandKey.LocationID = "changed"
	got[0].LocationID = "changed"

	again := store.Assignments()
	assert.Equal(t, "north", again[0].LocationID)
	assert.Equal(t, "north", again[0].DemandKey.LocationID)
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore(nil)
	assert.Error(t, store.ReplacePhase(ctx, model.PhaseSites, model.DayScope("2026-03-16"), nil))
	assert.Error(t, store.SaveRun(ctx, model.NewOptimizationRun(model.DayScope("2026-03-16"), false)))
	assert.Empty(t, store.Runs())
}

func TestLoadSeedFile(t *testing.T) {
	p := uuid.New()
	path := filepath.Join(t.TempDir(), "seed.json")
	data := `{
		"records": [{"id": "r1", "start_date": "2026-03-16", "end_date": "2026-03-16", "start_time": "08:00",
			"end_time": "12:30", "location_id": "north", "role_id": "nurse", "kind": "site", "staffing_ratio": 1}],
		"persons": [{"id": "` + p.String() + `", "name": "李娜", "kind": "staff", "eligible_locations": ["north"],
			"eligible_roles": ["nurse"], "flexible_quota": 0, "active": true}],
		"availability": [],
		"assignments": [{"id": "` + uuid.NewString() + `", "phase": "sites", "person_id": "` + p.String() + `",
			"date": "2026-03-09", "half_day": "morning", "location_id": "north", "role_id": "nurse"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	store, err := LoadSeedFile(path)
	require.NoError(t, err)

	in, err := store.LoadInputs(context.Background(), model.DayScope("2026-03-16"))
	require.NoError(t, err)
	assert.Len(t, in.Records, 1)
	require.Len(t, in.Persons, 1)
	assert.Equal(t, "李娜", in.Persons[0].Name)

	got := store.Assignments()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].DemandKey)
	assert.Equal(t, "north", got[0].DemandKey.LocationID)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
