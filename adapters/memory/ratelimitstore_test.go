package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/tollgate/adapters/memory"
	"github.com/artpar/tollgate/domain/ratelimit"
)

var rateBase = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func TestRateLimitStore_EnforcesLimit(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()

	cfg := ratelimit.Config{Limit: 3, Window: time.Minute}
	id := ratelimit.CallerIdentity("c1")

	allowed := 0
	for i := 0; i < 5; i++ {
		result, err := store.Check(context.Background(), id, cfg, rateBase)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if result.Allowed {
			allowed++
		}
	}

	if allowed != 3 {
		t.Errorf("allowed = %d, want 3", allowed)
	}
}

func TestRateLimitStore_IdentitiesIndependent(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()

	cfg := ratelimit.Config{Limit: 1, Window: time.Minute}

	r1, _ := store.Check(context.Background(), ratelimit.CallerIdentity("c1"), cfg, rateBase)
	r2, _ := store.Check(context.Background(), ratelimit.CallerIdentity("c2"), cfg, rateBase)
	r3, _ := store.Check(context.Background(), ratelimit.AddressIdentity("c1"), cfg, rateBase)

	if !r1.Allowed || !r2.Allowed || !r3.Allowed {
		t.Error("expected independent identities to each get their own window")
	}
}

func TestRateLimitStore_NewWindowAfterReset(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()

	cfg := ratelimit.Config{Limit: 1, Window: time.Minute}
	id := ratelimit.CallerIdentity("c1")

	store.Check(context.Background(), id, cfg, rateBase)
	denied, _ := store.Check(context.Background(), id, cfg, rateBase.Add(time.Second))
	if denied.Allowed {
		t.Fatal("expected second request in window to be denied")
	}

	fresh, _ := store.Check(context.Background(), id, cfg, rateBase.Add(time.Minute))
	if !fresh.Allowed {
		t.Error("expected request in next window to be allowed")
	}
}

func TestRateLimitStore_ConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	store := memory.NewRateLimitStore(memory.RateLimitConfig{})
	defer store.Close()

	const limit = 10
	const attempts = 100
	cfg := ratelimit.Config{Limit: limit, Window: time.Minute}
	id := ratelimit.CallerIdentity("c1")

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := store.Check(context.Background(), id, cfg, rateBase)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != limit {
		t.Errorf("allowed = %d, want exactly %d", allowed.Load(), limit)
	}
}
