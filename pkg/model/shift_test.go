package model

import (
	"testing"

	"github.com/google/uuid"
)

func TestCeilSlots(t *testing.T) {
	tests := []struct {
		name     string
		required float64
		expected int
	}{
		{"零需求", 0, 0},
		{"小数向上取整", 2.3, 3},
		{"整数不变", 2, 2},
		{"浮点误差", 2.0000000001, 2},
		{"极小需求", 0.1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CeilSlots(tt.required); got != tt.expected {
				t.Errorf("CeilSlots(%v) = %d, expected %d", tt.required, got, tt.expected)
			}
		})
	}
}

func TestRoleTag_IsWeeklyLimited(t *testing.T) {
	if TagFirst.IsWeeklyLimited() {
		t.Error("1R 不受每周限制")
	}
	if !TagSecond.IsWeeklyLimited() || !TagThird.IsWeeklyLimited() {
		t.Error("2F/3F 受每周限制")
	}
	if RoleTag("4F").Valid() {
		t.Error("4F 不是合法标签")
	}
}

func TestAssignment_SameContent(t *testing.T) {
	p := uuid.New()
	a := Assignment{ID: uuid.New(), PersonID: p, Date: "2026-03-16", HalfDay: Morning, LocationID: "north", RoleID: "nurse"}
	b := a
	b.ID = uuid.New()
	b.RunID = uuid.New()
	if !a.SameContent(b) {
		t.Error("仅 ID 不同应视为相同内容")
	}
	b.RoleTag = TagFirst
	if a.SameContent(b) {
		t.Error("标签不同应视为不同内容")
	}
}
