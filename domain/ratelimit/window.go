// Package ratelimit provides pure fixed-window rate limiting.
// All functions are deterministic - same input always produces same output.
package ratelimit

import (
	"time"
)

// IdentityKind distinguishes what a rate limit identity refers to.
type IdentityKind string

const (
	KindCaller  IdentityKind = "caller" // authenticated caller id
	KindAddress IdentityKind = "addr"   // source address, before auth is trusted
)

// Identity is the admission subject for rate limiting (value type).
type Identity struct {
	Kind  IdentityKind
	Value string
}

// CallerIdentity builds an identity for an authenticated caller.
func CallerIdentity(callerID string) Identity {
	return Identity{Kind: KindCaller, Value: callerID}
}

// AddressIdentity builds an identity for an unauthenticated source address.
func AddressIdentity(addr string) Identity {
	return Identity{Kind: KindAddress, Value: addr}
}

// Key returns the storage key for this identity.
func (id Identity) Key() string {
	return string(id.Kind) + ":" + id.Value
}

// WindowState is the counter state for one identity's current window (value type).
// Count is monotonically non-decreasing within a window; a new window starts
// from zero.
type WindowState struct {
	Count     int
	WindowEnd time.Time
}

// Config holds rate limit configuration (value type).
type Config struct {
	Limit  int           // requests per window
	Window time.Duration // window length (60s in production)
}

// CheckResult is the outcome of an admission check (value type).
type CheckResult struct {
	Allowed   bool
	Limit     int
	Remaining int       // requests remaining in the window
	ResetAt   time.Time // when the window closes
	Reason    string    // set when not allowed
}

// ReasonLimitExceeded is the single denial reason.
const ReasonLimitExceeded = "rate_limited"

// Check performs a fixed-window admission check.
// A request arriving exactly at the window boundary belongs to the new
// window. This is a PURE function; callers must persist newState atomically
// with respect to other admissions for the same identity.
func Check(state WindowState, cfg Config, now time.Time) (CheckResult, WindowState) {
	if state.WindowEnd.IsZero() || !now.Before(state.WindowEnd) {
		state = WindowState{
			Count:     0,
			WindowEnd: now.Add(cfg.Window),
		}
	}

	if state.Count < cfg.Limit {
		state.Count++
		return CheckResult{
			Allowed:   true,
			Limit:     cfg.Limit,
			Remaining: cfg.Limit - state.Count,
			ResetAt:   state.WindowEnd,
		}, state
	}

	return CheckResult{
		Allowed:   false,
		Limit:     cfg.Limit,
		Remaining: 0,
		ResetAt:   state.WindowEnd,
		Reason:    ReasonLimitExceeded,
	}, state
}

// RetryAfter returns how long a denied caller must wait, in whole seconds
// rounded up. Always >= 0 and <= the window length. This is a PURE function.
func RetryAfter(result CheckResult, now time.Time) int {
	if result.Allowed {
		return 0
	}
	d := result.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return secs
}
