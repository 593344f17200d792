package stats

import (
	"testing"

	"github.com/google/uuid"

	"github.com/paiban/staffplan/pkg/model"
)

func TestFairnessAnalyzer_Analyze(t *testing.T) {
	analyzer := NewFairnessAnalyzer()

	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	persons := []model.Person{
		{ID: p1, Name: "人员1", Active: true},
		{ID: p2, Name: "人员2", Active: true},
		{ID: p3, Name: "人员3", Active: true},
	}

	am := demandUnit(monday, model.Morning, "north", 2)
	pm := demandUnit(monday, model.Afternoon, "south", 2)

	a1 := assignTo(p1, am)
	a2 := assignTo(p1, pm)
	a2.RoleTag = model.TagFirst
	a3 := assignTo(p2, pm)
	a3.RoleTag = model.TagSecond

	metrics := analyzer.Analyze([]model.Assignment{a1, a2, a3}, persons)

	if metrics.WorkloadGini <= 0 || metrics.WorkloadGini > 1 {
		t.Errorf("Gini coefficient should be in (0, 1], got %f", metrics.WorkloadGini)
	}
	if len(metrics.PersonStats) != 3 {
		t.Fatalf("Expected 3 person stats (idle persons included), got %d", len(metrics.PersonStats))
	}
	if metrics.PersonStats[0].PersonID != p1 || metrics.PersonStats[0].HalfDays != 2 {
		t.Errorf("Busiest person should come first, got %+v", metrics.PersonStats[0])
	}
	if metrics.SiteChangeCount != 1 {
		t.Errorf("Expected 1 site change, got %d", metrics.SiteChangeCount)
	}
	if metrics.ClosingMax != 1 || metrics.WeeklyRoleHolders != 1 {
		t.Errorf("Unexpected closing stats %d/%d", metrics.ClosingMax, metrics.WeeklyRoleHolders)
	}
	if metrics.OverallFairnessScore < 0 || metrics.OverallFairnessScore > 100 {
		t.Errorf("Score should be between 0 and 100, got %f", metrics.OverallFairnessScore)
	}
}

func TestFairnessAnalyzer_EmptyInput(t *testing.T) {
	metrics := NewFairnessAnalyzer().Analyze(nil, nil)
	if metrics.OverallFairnessScore != 100 {
		t.Errorf("Expected perfect score for empty input, got %f", metrics.OverallFairnessScore)
	}
}

func TestFairnessAnalyzer_CalculateGini(t *testing.T) {
	analyzer := NewFairnessAnalyzer()

	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"完全公平", []float64{2, 2, 2, 2}, 0},
		{"全部为零", []float64{0, 0, 0}, 0},
		{"一人承担", []float64{0, 0, 0, 4}, 0.75},
		{"空输入", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := analyzer.calculateGini(tt.values)
			if diff := got - tt.expected; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Expected gini %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestFairnessAnalyzer_CompareSchedules(t *testing.T) {
	analyzer := NewFairnessAnalyzer()
	p1, p2 := uuid.New(), uuid.New()
	persons := []model.Person{{ID: p1, Active: true}, {ID: p2, Active: true}}

	am := demandUnit(monday, model.Morning, "north", 1)
	pm := demandUnit(monday, model.Afternoon, "north", 1)

	uneven := []model.Assignment{assignTo(p1, am), assignTo(p1, pm)}
	even := []model.Assignment{assignTo(p1, am), assignTo(p2, pm)}

	diff := analyzer.CompareSchedules(uneven, even, persons)
	if diff["workload_gini_diff"] >= 0 {
		t.Errorf("Even schedule should lower gini, diff %f", diff["workload_gini_diff"])
	}
	if diff["after_overall_score"] <= diff["before_overall_score"] {
		t.Errorf("Even schedule should score higher")
	}
}
