package quota_test

import (
	"testing"
	"time"

	"github.com/artpar/tollgate/domain/quota"
)

func TestFits_WithinCeiling(t *testing.T) {
	if !quota.Fits(4, 1, 5) {
		t.Error("expected 4+1 to fit within 5")
	}
}

func TestFits_AtCeiling(t *testing.T) {
	if quota.Fits(5, 1, 5) {
		t.Error("expected 5+1 to exceed 5")
	}
}

func TestFits_UnlimitedCeiling(t *testing.T) {
	if !quota.Fits(1000000, 1, -1) {
		t.Error("expected negative ceiling to mean unlimited")
	}
}

func TestPeriodStart_UTCMonth(t *testing.T) {
	// A timestamp late in the month, in a non-UTC zone
	loc := time.FixedZone("UTC+10", 10*3600)
	at := time.Date(2026, 8, 1, 5, 0, 0, 0, loc) // still July in UTC

	start := quota.PeriodStart(at)

	want := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Errorf("periodStart = %v, want %v", start, want)
	}
}

func TestPeriodBounds_SpansOneMonth(t *testing.T) {
	at := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	start, end := quota.PeriodBounds(at)

	if !start.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v", end)
	}
}

func TestPeriodKey(t *testing.T) {
	at := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	if key := quota.PeriodKey(quota.PeriodStart(at)); key != "2026-08" {
		t.Errorf("key = %q, want %q", key, "2026-08")
	}
}

func TestRemaining_NeverNegative(t *testing.T) {
	s := quota.State{Consumed: 10, Ceiling: 5}

	if r := s.Remaining(); r != 0 {
		t.Errorf("remaining = %d, want 0", r)
	}
}

func TestRemaining_Unlimited(t *testing.T) {
	s := quota.State{Consumed: 10, Ceiling: -1}

	if r := s.Remaining(); r != -1 {
		t.Errorf("remaining = %d, want -1 (unlimited)", r)
	}
}
