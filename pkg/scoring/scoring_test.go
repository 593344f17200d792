package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/staffplan/pkg/model"
	"github.com/paiban/staffplan/pkg/scheduler/constraint"
)

var (
	nurseA = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	nurseB = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
)

type highDemand map[string]bool

func (h highDemand) IsHighDemand(id string) bool { return h[id] }

func unitAt(date string, half model.HalfDay, location string, required float64) model.DemandUnit {
	return model.DemandUnit{
		Date:          date,
		HalfDay:       half,
		LocationID:    location,
		RoleID:        "nurse",
		Kind:          model.KindSite,
		RequiredCount: required,
	}
}

func assign(person uuid.UUID, d model.DemandUnit, tag model.RoleTag) model.Assignment {
	key := d.Key()
	return model.Assignment{
		ID:         uuid.New(),
		Phase:      model.PhaseSites,
		DemandKey:  &key,
		PersonID:   person,
		Date:       d.Date,
		HalfDay:    d.HalfDay,
		LocationID: d.LocationID,
		RoleID:     d.RoleID,
		RoleTag:    tag,
	}
}

func TestEvaluate_FractionalBase(t *testing.T) {
	d := unitAt("2026-03-16", model.Morning, "north", 2.3)
	e := NewEvaluator(DefaultWeights(), Context{Demand: []model.DemandUnit{d}})

	score := e.Evaluate([]model.Assignment{assign(nurseA, d, model.TagNone), assign(nurseB, d, model.TagNone)})

	assert.InDelta(t, 2.0/3.0, score.Base, 1e-9)
	assert.Empty(t, score.Penalties)
	assert.InDelta(t, score.Base, score.Total, 1e-9)
}

func TestEvaluate_BaseCappedAtSlots(t *testing.T) {
	d := unitAt("2026-03-16", model.Morning, "north", 1)
	e := NewEvaluator(DefaultWeights(), Context{Demand: []model.DemandUnit{d}})

	score := e.Evaluate([]model.Assignment{assign(nurseA, d, model.TagNone), assign(nurseB, d, model.TagNone)})
	assert.InDelta(t, 1.0, score.Base, 1e-9)
}

func TestEvaluate_SiteChange(t *testing.T) {
	am := unitAt("2026-03-16", model.Morning, "north", 1)
	pm := unitAt("2026-03-16", model.Afternoon, "south", 1)
	w := DefaultWeights()
	e := NewEvaluator(w, Context{Demand: []model.DemandUnit{am, pm}})

	score := e.Evaluate([]model.Assignment{assign(nurseA, am, model.TagNone), assign(nurseA, pm, model.TagNone)})

	assert.InDelta(t, w.SiteChange, score.Penalties[PenaltySiteChange], 1e-9)
	assert.InDelta(t, 2-w.SiteChange, score.Total, 1e-9)
}

func TestEvaluate_ClosureOverload(t *testing.T) {
	w := DefaultWeights()
	lastWeek := unitAt("2026-03-10", model.Afternoon, "north", 1)
	twoWeeks := unitAt("2026-03-03", model.Afternoon, "north", 1)
	longAgo := unitAt("2026-01-05", model.Afternoon, "north", 1)
	today := unitAt("2026-03-17", model.Afternoon, "north", 1)

	t.Run("阈值内无惩罚", func(t *testing.T) {
		e := NewEvaluator(w, Context{
			Reference: "2026-03-16",
			History:   []model.Assignment{assign(nurseA, lastWeek, model.TagSecond), assign(nurseA, longAgo, model.TagFirst)},
		})
		score := e.Evaluate([]model.Assignment{assign(nurseA, today, model.TagSecond)})
		assert.NotContains(t, score.Penalties, PenaltyClosureOverload)
	})

	t.Run("窗口内第三次关门", func(t *testing.T) {
		e := NewEvaluator(w, Context{
			Reference: "2026-03-16",
			History:   []model.Assignment{assign(nurseA, lastWeek, model.TagSecond), assign(nurseA, twoWeeks, model.TagFirst)},
		})
		score := e.Evaluate([]model.Assignment{assign(nurseA, today, model.TagFirst)})
		assert.InDelta(t, w.ClosureOverload, score.Penalties[PenaltyClosureOverload], 1e-9)
	})

	t.Run("超出部分按平方计", func(t *testing.T) {
		e := NewEvaluator(w, Context{
			Reference: "2026-03-16",
			History:   []model.Assignment{assign(nurseA, lastWeek, model.TagSecond), assign(nurseA, twoWeeks, model.TagFirst)},
		})
		tomorrow := unitAt("2026-03-18", model.Afternoon, "north", 1)
		score := e.Evaluate([]model.Assignment{assign(nurseA, today, model.TagFirst), assign(nurseA, tomorrow, model.TagFirst)})
		assert.InDelta(t, 4*w.ClosureOverload, score.Penalties[PenaltyClosureOverload], 1e-9)
	})
}

func TestEvaluate_LocationOveruse(t *testing.T) {
	w := DefaultWeights()
	past := unitAt("2026-03-09", model.Morning, "north", 1)
	mon := unitAt("2026-03-16", model.Morning, "north", 1)
	tue := unitAt("2026-03-17", model.Morning, "north", 1)

	ctx := Context{
		Reference: "2026-03-16",
		Topology:  highDemand{"north": true},
		History:   []model.Assignment{assign(nurseA, past, model.TagNone), assign(nurseB, past, model.TagNone)},
		Preferred: map[uuid.UUID]model.StringSet{nurseB: model.NewStringSet("north")},
	}
	e := NewEvaluator(w, ctx)

	// A：历史 1 次，批次内第一次 k=1，第二次 k=2；B 偏好 north 不计
	score := e.Evaluate([]model.Assignment{
		assign(nurseA, tue, model.TagNone),
		assign(nurseA, mon, model.TagNone),
		assign(nurseB, mon, model.TagNone),
	})
	assert.InDelta(t, 3*w.LocationOveruse, score.Penalties[PenaltyLocationOveruse], 1e-9)
}

func TestEvaluate_ContinuityBonus(t *testing.T) {
	w := DefaultWeights()
	d := unitAt("2026-03-16", model.Morning, "north", 2)
	prevA := assign(nurseA, d, model.TagNone)
	prevB := assign(nurseB, d, model.TagNone)
	prevB.LocationID = "south"

	e := NewEvaluator(w, Context{Demand: []model.DemandUnit{d}, Previous: []model.Assignment{prevA, prevB}})
	score := e.Evaluate([]model.Assignment{assign(nurseA, d, model.TagNone), assign(nurseB, d, model.TagNone)})

	assert.InDelta(t, w.Continuity, score.Bonuses[BonusContinuity], 1e-9)
	assert.InDelta(t, 1+w.Continuity, score.Total, 1e-9)
}

func TestPenalty_MatchesEvaluate(t *testing.T) {
	am := unitAt("2026-03-16", model.Morning, "north", 1)
	pm := unitAt("2026-03-16", model.Afternoon, "south", 1)
	e := NewEvaluator(DefaultWeights(), Context{Demand: []model.DemandUnit{am, pm}})
	batch := []model.Assignment{assign(nurseA, am, model.TagNone), assign(nurseA, pm, model.TagFirst)}

	score := e.Evaluate(batch)
	assert.InDelta(t, score.Base-score.Total, e.Penalty(batch), 1e-9)
}

func TestClosingValue(t *testing.T) {
	w := DefaultWeights()
	e := NewEvaluator(w, Context{})

	staff1R := e.ClosingValue(constraint.Meta{PersonID: nurseA, RoleTag: model.TagFirst})
	staff2F := e.ClosingValue(constraint.Meta{PersonID: nurseA, RoleTag: model.TagSecond})
	backup1R := e.ClosingValue(constraint.Meta{PersonID: nurseB, RoleTag: model.TagFirst, Backup: true})
	backup3F := e.ClosingValue(constraint.Meta{PersonID: nurseB, RoleTag: model.TagThird, Backup: true})

	assert.Equal(t, 1.0, staff1R)
	assert.Equal(t, 0.5, staff2F)
	assert.Equal(t, 0.5, backup1R)
	assert.Equal(t, 1.0, backup3F)
}

func TestClosingValue_OverloadMarginal(t *testing.T) {
	w := DefaultWeights()
	d1 := unitAt("2026-03-02", model.Afternoon, "north", 1)
	d2 := unitAt("2026-03-09", model.Afternoon, "north", 1)
	e := NewEvaluator(w, Context{
		Reference: "2026-03-16",
		History:   []model.Assignment{assign(nurseA, d1, model.TagFirst), assign(nurseA, d2, model.TagFirst)},
	})

	// 已有 2 次，再承担一次超出阈值 1 次
	v := e.ClosingValue(constraint.Meta{PersonID: nurseA, RoleTag: model.TagFirst})
	assert.InDelta(t, 1-w.ClosureOverload, v, 1e-9)

	fresh := e.ClosingValue(constraint.Meta{PersonID: nurseB, RoleTag: model.TagFirst})
	assert.Equal(t, 1.0, fresh)
}

func TestAssignValue(t *testing.T) {
	w := DefaultWeights()
	past := unitAt("2026-03-09", model.Morning, "north", 1)
	e := NewEvaluator(w, Context{
		Reference: "2026-03-16",
		Topology:  highDemand{"north": true},
		History:   []model.Assignment{assign(nurseA, past, model.TagNone)},
	})

	base := e.AssignValue(constraint.Meta{PersonID: nurseB, LocationID: "south", Slots: 2})
	assert.InDelta(t, w.CoverageReward/2, base, 1e-9)

	preferred := e.AssignValue(constraint.Meta{PersonID: nurseB, LocationID: "south", Slots: 2, Prefers: true})
	assert.InDelta(t, w.CoverageReward/2+w.PreferredLocation, preferred, 1e-9)

	overused := e.AssignValue(constraint.Meta{PersonID: nurseA, LocationID: "north", Slots: 1})
	assert.InDelta(t, w.CoverageReward-w.LocationOveruse, overused, 1e-9)

	assert.Equal(t, 0.0, e.AssignValue(constraint.Meta{PersonID: nurseA, LocationID: "north"}))
}

func TestObjective_Dispatch(t *testing.T) {
	w := DefaultWeights()
	obj := NewEvaluator(w, Context{}).Objective()
	require.NotNil(t, obj)

	assert.InDelta(t, w.CoverageReward, obj(constraint.VarAssign, constraint.Meta{Slots: 1}), 1e-9)
	assert.Equal(t, 1.0, obj(constraint.VarClosing, constraint.Meta{RoleTag: model.TagFirst}))
	assert.Equal(t, w.SiteChange, obj(constraint.VarPair, constraint.Meta{}))
	assert.Equal(t, 0.0, obj(constraint.VarDay, constraint.Meta{}))
}

func TestCompare(t *testing.T) {
	better := Score{Total: 3}
	worse := Score{Total: 2}

	assert.Equal(t, 1, Compare(better, worse))
	assert.Equal(t, -1, Compare(worse, better))
	assert.Equal(t, 0, Compare(better, Score{Total: 3}))
}
