package ratelimit_test

import (
	"testing"
	"time"

	"github.com/artpar/tollgate/domain/ratelimit"
)

var (
	baseTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	cfg      = ratelimit.Config{
		Limit:  10,
		Window: time.Minute,
	}
)

func TestCheck_AllowsWithinLimit(t *testing.T) {
	state := ratelimit.WindowState{
		Count:     5,
		WindowEnd: baseTime.Add(30 * time.Second),
	}

	result, newState := ratelimit.Check(state, cfg, baseTime)

	if !result.Allowed {
		t.Error("expected request to be allowed")
	}
	if result.Remaining != 4 { // 10 - 6 = 4
		t.Errorf("remaining = %d, want 4", result.Remaining)
	}
	if newState.Count != 6 {
		t.Errorf("count = %d, want 6", newState.Count)
	}
}

func TestCheck_DeniesOverLimit(t *testing.T) {
	state := ratelimit.WindowState{
		Count:     10,
		WindowEnd: baseTime.Add(30 * time.Second),
	}

	result, newState := ratelimit.Check(state, cfg, baseTime)

	if result.Allowed {
		t.Error("expected request to be denied")
	}
	if result.Reason != ratelimit.ReasonLimitExceeded {
		t.Errorf("reason = %q, want %q", result.Reason, ratelimit.ReasonLimitExceeded)
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", result.Remaining)
	}
	if newState.Count != 10 { // Count unchanged
		t.Errorf("count = %d, want 10", newState.Count)
	}
}

func TestCheck_ResetsExpiredWindow(t *testing.T) {
	state := ratelimit.WindowState{
		Count:     100, // Way over limit
		WindowEnd: baseTime.Add(-time.Hour),
	}

	result, newState := ratelimit.Check(state, cfg, baseTime)

	if !result.Allowed {
		t.Error("expected request to be allowed after window reset")
	}
	if newState.Count != 1 {
		t.Errorf("count = %d, want 1 (reset)", newState.Count)
	}
	if !newState.WindowEnd.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("windowEnd = %v, want %v", newState.WindowEnd, baseTime.Add(time.Minute))
	}
}

func TestCheck_BoundaryBelongsToNewWindow(t *testing.T) {
	// A request arriving exactly when the window closes starts a new window.
	state := ratelimit.WindowState{
		Count:     10,
		WindowEnd: baseTime,
	}

	result, newState := ratelimit.Check(state, cfg, baseTime)

	if !result.Allowed {
		t.Error("expected boundary request to open a new window")
	}
	if newState.Count != 1 {
		t.Errorf("count = %d, want 1", newState.Count)
	}
}

func TestCheck_HandlesZeroState(t *testing.T) {
	state := ratelimit.WindowState{} // Zero value

	result, newState := ratelimit.Check(state, cfg, baseTime)

	if !result.Allowed {
		t.Error("expected first request to be allowed")
	}
	if result.Remaining != 9 {
		t.Errorf("remaining = %d, want 9", result.Remaining)
	}
	if newState.Count != 1 {
		t.Errorf("count = %d, want 1", newState.Count)
	}
}

func TestCheck_Deterministic(t *testing.T) {
	// Same input should always produce same output
	state := ratelimit.WindowState{
		Count:     3,
		WindowEnd: baseTime.Add(20 * time.Second),
	}

	r1, s1 := ratelimit.Check(state, cfg, baseTime)
	r2, s2 := ratelimit.Check(state, cfg, baseTime)

	if r1 != r2 {
		t.Errorf("results differ: %+v vs %+v", r1, r2)
	}
	if s1 != s2 {
		t.Errorf("states differ: %+v vs %+v", s1, s2)
	}
}

func TestCheck_ExactlyLimitAdmitted(t *testing.T) {
	state := ratelimit.WindowState{}
	allowed := 0

	for i := 0; i < 15; i++ {
		var result ratelimit.CheckResult
		result, state = ratelimit.Check(state, cfg, baseTime.Add(time.Duration(i)*time.Second))
		if result.Allowed {
			allowed++
		}
	}

	if allowed != 10 {
		t.Errorf("allowed = %d, want exactly %d", allowed, cfg.Limit)
	}
}

func TestRetryAfter_RoundsUp(t *testing.T) {
	result := ratelimit.CheckResult{
		Allowed: false,
		ResetAt: baseTime.Add(30500 * time.Millisecond),
	}

	retry := ratelimit.RetryAfter(result, baseTime)

	if retry != 31 {
		t.Errorf("retryAfter = %d, want 31", retry)
	}
}

func TestRetryAfter_ZeroWhenAllowed(t *testing.T) {
	result := ratelimit.CheckResult{Allowed: true, ResetAt: baseTime.Add(time.Minute)}

	if retry := ratelimit.RetryAfter(result, baseTime); retry != 0 {
		t.Errorf("retryAfter = %d, want 0", retry)
	}
}

func TestRetryAfter_NeverExceedsWindow(t *testing.T) {
	result := ratelimit.CheckResult{
		Allowed: false,
		ResetAt: baseTime.Add(time.Minute),
	}

	retry := ratelimit.RetryAfter(result, baseTime)

	if retry < 1 || retry > 60 {
		t.Errorf("retryAfter = %d, want within (0, 60]", retry)
	}
}

func TestIdentity_KeysAreDistinct(t *testing.T) {
	caller := ratelimit.CallerIdentity("abc")
	addr := ratelimit.AddressIdentity("abc")

	if caller.Key() == addr.Key() {
		t.Errorf("caller and address identities collide: %q", caller.Key())
	}
}
