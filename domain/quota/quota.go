// Package quota provides pure functions for monthly quota enforcement.
// The atomic check-and-reserve itself lives in the stores; this package
// holds the period math and decision types shared by every implementation.
package quota

import "time"

// State is the durable counter for one caller's billing period (value type).
// A new period gets a fresh zero-initialized counter; prior periods are never
// mutated.
type State struct {
	CallerID    string
	PeriodStart time.Time
	Consumed    int64
	Ceiling     int64
	LastUpdated time.Time
}

// Remaining returns the units left before the ceiling, never negative.
func (s State) Remaining() int64 {
	if s.Ceiling < 0 {
		return -1 // unlimited
	}
	r := s.Ceiling - s.Consumed
	if r < 0 {
		return 0
	}
	return r
}

// Decision is the outcome of a reservation attempt (value type).
type Decision struct {
	Reserved bool
	State    State
	Reason   string
}

// ReasonExceeded is the single rejection reason for quota.
const ReasonExceeded = "quota_exceeded"

// Fits reports whether reserving units would keep consumed <= ceiling.
// A negative ceiling means unlimited. This is a PURE function; stores apply
// the same predicate inside their atomic increment so that concurrent
// reservations can never both pass and overshoot.
func Fits(consumed, units, ceiling int64) bool {
	if ceiling < 0 {
		return true
	}
	return consumed+units <= ceiling
}

// PeriodStart returns the start of the calendar-month billing period
// containing t, in UTC. This is a PURE function.
func PeriodStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PeriodBounds returns the start and end of the billing period containing t.
// This is a PURE function.
func PeriodBounds(t time.Time) (start, end time.Time) {
	start = PeriodStart(t)
	end = start.AddDate(0, 1, 0)
	return
}

// PeriodKey returns the canonical storage key suffix for a period ("2026-08").
// This is a PURE function.
func PeriodKey(periodStart time.Time) string {
	return periodStart.UTC().Format("2006-01")
}
