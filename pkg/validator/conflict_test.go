package validator

import (
	"testing"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

const monday = "2026-03-16"

func assign(person uuid.UUID, date string, half model.HalfDay, location string, tag model.RoleTag) model.Assignment {
	key := model.DemandKey{Date: date, HalfDay: half, LocationID: location, RoleID: "nurse"}
	return model.Assignment{
		ID:           uuid.New(),
		Phase:        model.PhaseSites,
		DemandKey:    &key,
		SupplyUnitID: model.SupplyUnitID(person, date, half),
		PersonID:     person,
		Date:         date,
		HalfDay:      half,
		LocationID:   location,
		RoleID:       "nurse",
		RoleTag:      tag,
	}
}

func demandAt(half model.HalfDay, location string, required float64, closes bool) model.DemandUnit {
	return model.DemandUnit{
		Date:           monday,
		HalfDay:        half,
		LocationID:     location,
		RoleID:         "nurse",
		Kind:           model.KindSite,
		RequiredCount:  required,
		ClosesLocation: closes,
	}
}

func TestDetectDoubleBooking(t *testing.T) {
	d := NewConflictDetector(nil)
	p := uuid.New()

	list := []model.Assignment{
		assign(p, monday, model.Morning, "north", model.TagNone),
		assign(p, monday, model.Morning, "south", model.TagNone),
		assign(p, monday, model.Afternoon, "north", model.TagNone),
	}

	conflicts := d.DetectDoubleBooking(list)
	if len(conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %d", len(conflicts))
	}
	c := conflicts[0]
	if c.Type != ConflictDoubleBooking || c.Severity != SeverityError {
		t.Errorf("Unexpected conflict %+v", c)
	}
	if c.HalfDay != model.Morning || c.PersonID != p {
		t.Errorf("Conflict should point at the morning slot of %s", p)
	}
	if len(c.Assignments) != 2 {
		t.Errorf("Expected both assignment IDs, got %d", len(c.Assignments))
	}
}

func TestDetectForBatch(t *testing.T) {
	d := NewConflictDetector(nil)
	p := uuid.New()

	existing := []model.Assignment{assign(p, monday, model.Morning, "or-1", model.TagNone)}
	batch := []model.Assignment{
		assign(p, monday, model.Morning, "north", model.TagNone),
		assign(p, monday, model.Afternoon, "north", model.TagNone),
	}

	conflicts := d.DetectForBatch(batch, existing)
	if len(conflicts) != 1 {
		t.Fatalf("Expected 1 conflict, got %d", len(conflicts))
	}

	// 同一条分配重复出现不算冲突
	if got := d.DetectForBatch(existing, existing); len(got) != 0 {
		t.Errorf("Expected no conflict for identical assignment, got %d", len(got))
	}
}

func TestDetectOverCoverage(t *testing.T) {
	d := NewConflictDetector(nil)
	demand := []model.DemandUnit{demandAt(model.Morning, "north", 1.5, false)}

	two := []model.Assignment{
		assign(uuid.New(), monday, model.Morning, "north", model.TagNone),
		assign(uuid.New(), monday, model.Morning, "north", model.TagNone),
	}
	if got := ofType(d.DetectAll(two, demand), ConflictOverCoverage); len(got) != 0 {
		t.Errorf("1.5 rounds up to 2, expected no conflict, got %d", len(got))
	}

	three := append(two, assign(uuid.New(), monday, model.Morning, "north", model.TagNone))
	got := ofType(d.DetectAll(three, demand), ConflictOverCoverage)
	if len(got) != 1 {
		t.Fatalf("Expected over coverage conflict, got %d", len(got))
	}
	if len(got[0].Assignments) != 3 {
		t.Errorf("Expected 3 assignments listed, got %d", len(got[0].Assignments))
	}
}

func TestDetectWeeklyRoles(t *testing.T) {
	d := NewConflictDetector(nil)
	p := uuid.New()
	tuesday := model.AddDays(monday, 1)

	list := []model.Assignment{
		assign(p, monday, model.Afternoon, "north", model.TagSecond),
		assign(p, tuesday, model.Afternoon, "north", model.TagThird),
	}
	got := ofType(d.DetectAll(list, nil), ConflictWeeklyRole)
	if len(got) != 1 {
		t.Fatalf("Expected weekly role conflict, got %d", len(got))
	}
	if got[0].Date != monday {
		t.Errorf("Expected week start %s, got %s", monday, got[0].Date)
	}

	// 1R 不受每周上限约束
	list[1].RoleTag = model.TagFirst
	if got := ofType(d.DetectAll(list, nil), ConflictWeeklyRole); len(got) != 0 {
		t.Errorf("1R should not count towards weekly limit")
	}

	// 不同周互不影响
	list[1] = assign(p, model.AddDays(monday, 7), model.Afternoon, "north", model.TagSecond)
	if got := ofType(d.DetectAll(list, nil), ConflictWeeklyRole); len(got) != 0 {
		t.Errorf("Different weeks should not conflict")
	}
}

func TestDetectClosingRoles(t *testing.T) {
	d := NewConflictDetector(nil)
	demand := []model.DemandUnit{
		demandAt(model.Afternoon, "north", 3, true),
		demandAt(model.Afternoon, "south", 1, true),
	}

	list := []model.Assignment{
		assign(uuid.New(), monday, model.Afternoon, "north", model.TagFirst),
		assign(uuid.New(), monday, model.Afternoon, "north", model.TagFirst),
		assign(uuid.New(), monday, model.Afternoon, "south", model.TagNone),
	}

	conflicts := d.DetectAll(list, demand)
	dup := ofType(conflicts, ConflictDuplicateRole)
	if len(dup) != 1 || dup[0].LocationID != "north" {
		t.Fatalf("Expected duplicate 1R at north, got %+v", dup)
	}
	missing := ofType(conflicts, ConflictMissingRole)
	if len(missing) != 1 || missing[0].LocationID != "south" {
		t.Fatalf("Expected missing 1R at south, got %+v", missing)
	}
	if missing[0].Severity != SeverityWarning {
		t.Errorf("Missing role should be a warning")
	}
}

func TestDetectorConfig_Disable(t *testing.T) {
	d := NewConflictDetector(&DetectorConfig{WeeklyRoleLimit: 1})
	demand := []model.DemandUnit{demandAt(model.Afternoon, "south", 1, true)}
	list := []model.Assignment{
		assign(uuid.New(), monday, model.Afternoon, "south", model.TagNone),
		assign(uuid.New(), monday, model.Afternoon, "south", model.TagNone),
	}
	if got := d.DetectAll(list, demand); len(got) != 0 {
		t.Errorf("Only double booking should be checked, got %d conflicts", len(got))
	}
}

func TestHasErrors(t *testing.T) {
	if HasErrors(nil) {
		t.Error("Empty list has no errors")
	}
	if HasErrors([]Conflict{{Severity: SeverityWarning}}) {
		t.Error("Warnings are not errors")
	}
	if !HasErrors([]Conflict{{Severity: SeverityWarning}, {Severity: SeverityError}}) {
		t.Error("Expected error")
	}
}

func ofType(conflicts []Conflict, t ConflictType) []Conflict {
	var out []Conflict
	for _, c := range conflicts {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}
