// Package ledger provides usage ledger entry types and cost computation.
// All functions are pure - no side effects.
package ledger

import "time"

// Outcome records how the metered call finished.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure" // chargeable partial failure
)

// Volume is the measured size of one metered call (value type).
type Volume struct {
	InputUnits  int64 // e.g. prompt tokens
	OutputUnits int64 // e.g. completion tokens
}

// Rates is the linear cost table, in minor currency units per 1000 units
// (value type). Distinct rates for input and output.
type Rates struct {
	InputPerK  int64
	OutputPerK int64
}

// MinimumCharge is the floor applied to every completed metered call.
// Guards against underbilling on very small calls.
const MinimumCharge int64 = 1

// Entry is one immutable usage record. Entries are append-only: once written
// they are never updated, only read for reconciliation and reporting.
type Entry struct {
	ID        string
	CallerID  string
	RequestID string
	Volume    Volume
	Cost      int64 // minor currency units
	Outcome   Outcome
	LatencyMs int64
	Timestamp time.Time
}

// Cost computes the charge for a measured volume, rounded up to the nearest
// minor-currency unit with an enforced minimum of MinimumCharge.
// Monotonic: increasing either volume never decreases the result.
// This is a PURE function.
func Cost(vol Volume, rates Rates) int64 {
	in := vol.InputUnits
	out := vol.OutputUnits
	if in < 0 {
		in = 0
	}
	if out < 0 {
		out = 0
	}

	// ceil(units * ratePerK / 1000) computed in integers
	total := ceilDiv(in*rates.InputPerK, 1000) + ceilDiv(out*rates.OutputPerK, 1000)
	if total < MinimumCharge {
		return MinimumCharge
	}
	return total
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

// Summary is aggregated ledger data for one caller and period (value type).
type Summary struct {
	CallerID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Calls       int64
	InputUnits  int64
	OutputUnits int64
	CostTotal   int64
	Failures    int64
}

// Aggregate combines entries into a summary. This is a PURE function.
func Aggregate(entries []Entry, periodStart, periodEnd time.Time) Summary {
	s := Summary{PeriodStart: periodStart, PeriodEnd: periodEnd}
	for _, e := range entries {
		if s.CallerID == "" {
			s.CallerID = e.CallerID
		}
		s.Calls++
		s.InputUnits += e.Volume.InputUnits
		s.OutputUnits += e.Volume.OutputUnits
		s.CostTotal += e.Cost
		if e.Outcome == OutcomeFailure {
			s.Failures++
		}
	}
	return s
}
