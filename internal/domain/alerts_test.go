package domain

import (
	"testing"
	"time"
)

func TestDaysRemainingBoundaries(t *testing.T) {
	now := time.Date(2025, time.June, 10, 14, 30, 0, 0, time.UTC)

	cases := []struct {
		startDate string
		want      int
	}{
		{"2025-06-10", 0},
		{"2025-06-11", 1},
		{"2025-06-09", -1},
		{"2025-06-13", 3},
		{"2025-07-10", 30},
	}

	for _, tc := range cases {
		got, err := DaysRemaining(tc.startDate, now)
		if err != nil {
			t.Fatalf("DaysRemaining(%q): %v", tc.startDate, err)
		}
		if got != tc.want {
			t.Fatalf("DaysRemaining(%q) = %d, want %d", tc.startDate, got, tc.want)
		}
	}
}

func TestDaysRemainingIgnoresTimeOfDay(t *testing.T) {
	early := time.Date(2025, time.June, 10, 0, 0, 1, 0, time.UTC)
	late := time.Date(2025, time.June, 10, 23, 59, 59, 0, time.UTC)

	for _, now := range []time.Time{early, late} {
		got, err := DaysRemaining("2025-06-11", now)
		if err != nil {
			t.Fatal(err)
		}
		if got != 1 {
			t.Fatalf("at %v got %d, want 1", now, got)
		}
	}
}

func TestDaysRemainingRejectsBadDate(t *testing.T) {
	if _, err := DaysRemaining("11/06/2025", time.Now()); err == nil {
		t.Fatal("expected parse error for non-calendar date")
	}
}

func TestAlertLevelBoundaries(t *testing.T) {
	now := time.Date(2025, time.June, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		startDate string
		level     int
		present   bool
	}{
		{"2025-06-10", 1, true},  // today
		{"2025-06-11", 1, true},  // tomorrow
		{"2025-06-12", 3, true},  // two days out
		{"2025-06-13", 3, true},  // three days out
		{"2025-06-14", 0, false}, // four days out
		{"2025-06-09", 0, false}, // already started
	}

	for _, tc := range cases {
		a := Activity{StartDate: tc.startDate}
		level, present := AlertLevel(a, now)
		if present != tc.present || level != tc.level {
			t.Fatalf("AlertLevel(start=%s) = (%d, %v), want (%d, %v)",
				tc.startDate, level, present, tc.level, tc.present)
		}
	}
}

func TestAlertLevelUnparseableDateIsAbsent(t *testing.T) {
	if _, present := AlertLevel(Activity{StartDate: "soon"}, time.Now()); present {
		t.Fatal("expected no alert for unparseable start date")
	}
}
