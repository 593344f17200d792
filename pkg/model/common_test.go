package model

import (
	"testing"
)

func TestClockWindow_Overlap(t *testing.T) {
	morning := ClockWindow{Start: 8 * 60, End: 12*60 + 30}

	tests := []struct {
		name     string
		other    ClockWindow
		expected int
	}{
		{"完全覆盖", ClockWindow{Start: 7 * 60, End: 13 * 60}, 270},
		{"部分重叠", ClockWindow{Start: 11 * 60, End: 15 * 60}, 90},
		{"相邻不重叠", ClockWindow{Start: 12*60 + 30, End: 17 * 60}, 0},
		{"完全不重叠", ClockWindow{Start: 18 * 60, End: 20 * 60}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := morning.Overlap(tt.other); got != tt.expected {
				t.Errorf("Overlap() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestNewClockWindow(t *testing.T) {
	w, err := NewClockWindow("08:00", "12:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Minutes() != 270 {
		t.Errorf("Minutes() = %d, expected 270", w.Minutes())
	}

	if _, err := NewClockWindow("13:00", "12:00"); err == nil {
		t.Error("结束早于开始应返回错误")
	}
	if _, err := NewClockWindow("8h", "12:00"); err == nil {
		t.Error("格式错误应返回错误")
	}
}

func TestDateRange_Dates(t *testing.T) {
	r := DateRange{StartDate: "2026-03-30", EndDate: "2026-04-02"}
	dates, err := r.Dates()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"2026-03-30", "2026-03-31", "2026-04-01", "2026-04-02"}
	if len(dates) != len(expected) {
		t.Fatalf("len = %d, expected %d", len(dates), len(expected))
	}
	for i := range expected {
		if dates[i] != expected[i] {
			t.Errorf("dates[%d] = %s, expected %s", i, dates[i], expected[i])
		}
	}

	if _, err := (DateRange{StartDate: "2026-04-02", EndDate: "2026-04-01"}).Dates(); err == nil {
		t.Error("倒序范围应返回错误")
	}
}

func TestWeekStart(t *testing.T) {
	tests := []struct {
		date     string
		expected string
	}{
		{"2026-03-16", "2026-03-16"}, // 周一
		{"2026-03-18", "2026-03-16"},
		{"2026-03-22", "2026-03-16"}, // 周日
		{"2026-03-23", "2026-03-23"},
	}
	for _, tt := range tests {
		if got := WeekStart(tt.date); got != tt.expected {
			t.Errorf("WeekStart(%s) = %s, expected %s", tt.date, got, tt.expected)
		}
	}
}

func TestIsWeekend(t *testing.T) {
	if !IsWeekend("2026-03-21") {
		t.Error("2026-03-21 是周六")
	}
	if IsWeekend("2026-03-20") {
		t.Error("2026-03-20 是周五")
	}
}
