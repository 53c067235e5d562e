package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/tollgate/adapters/memory"
	"github.com/artpar/tollgate/domain/quota"
)

var period = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func TestQuotaStore_ReserveWithinCeiling(t *testing.T) {
	store := memory.NewQuotaStore(memory.QuotaStoreConfig{})
	defer store.Close()

	for i := 0; i < 5; i++ {
		d, err := store.Reserve(context.Background(), "c1", period, 1, 5)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !d.Reserved {
			t.Fatalf("reserve %d denied, consumed=%d", i, d.State.Consumed)
		}
	}

	d, err := store.Reserve(context.Background(), "c1", period, 1, 5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if d.Reserved {
		t.Error("expected sixth reservation against ceiling 5 to be denied")
	}
	if d.Reason != quota.ReasonExceeded {
		t.Errorf("reason = %q, want %q", d.Reason, quota.ReasonExceeded)
	}
	if d.State.Consumed != 5 {
		t.Errorf("consumed = %d, want 5 (denied reserve must not change state)", d.State.Consumed)
	}
}

func TestQuotaStore_PeriodsIndependent(t *testing.T) {
	store := memory.NewQuotaStore(memory.QuotaStoreConfig{})
	defer store.Close()

	d, err := store.Reserve(context.Background(), "c1", period, 5, 5)
	if err != nil || !d.Reserved {
		t.Fatalf("reserve: %v %+v", err, d)
	}

	next := period.AddDate(0, 1, 0)
	d, err = store.Reserve(context.Background(), "c1", next, 1, 5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !d.Reserved {
		t.Error("expected a fresh counter for the next billing period")
	}
	if d.State.Consumed != 1 {
		t.Errorf("consumed = %d, want 1", d.State.Consumed)
	}
}

func TestQuotaStore_UnlimitedCeiling(t *testing.T) {
	store := memory.NewQuotaStore(memory.QuotaStoreConfig{})
	defer store.Close()

	for i := 0; i < 100; i++ {
		d, err := store.Reserve(context.Background(), "c1", period, 1, -1)
		if err != nil || !d.Reserved {
			t.Fatalf("reserve %d: %v %+v", i, err, d)
		}
	}
}

func TestQuotaStore_ReleaseCompensates(t *testing.T) {
	store := memory.NewQuotaStore(memory.QuotaStoreConfig{})
	defer store.Close()

	store.Reserve(context.Background(), "c1", period, 1, 5)
	if err := store.Release(context.Background(), "c1", period, 1); err != nil {
		t.Fatalf("release: %v", err)
	}

	state, err := store.Get(context.Background(), "c1", period)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Consumed != 0 {
		t.Errorf("consumed = %d, want 0", state.Consumed)
	}
}

func TestQuotaStore_ReleaseNeverGoesNegative(t *testing.T) {
	store := memory.NewQuotaStore(memory.QuotaStoreConfig{})
	defer store.Close()

	if err := store.Release(context.Background(), "c1", period, 3); err != nil {
		t.Fatalf("release: %v", err)
	}

	state, _ := store.Get(context.Background(), "c1", period)
	if state.Consumed != 0 {
		t.Errorf("consumed = %d, want 0", state.Consumed)
	}
}

func TestQuotaStore_ConcurrentReservesNeverOvershoot(t *testing.T) {
	store := memory.NewQuotaStore(memory.QuotaStoreConfig{})
	defer store.Close()

	const ceiling = 25
	const attempts = 200

	var reserved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Reserve(context.Background(), "c1", period, 1, ceiling)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if d.Reserved {
				reserved.Add(1)
			}
		}()
	}
	wg.Wait()

	if reserved.Load() != ceiling {
		t.Errorf("reserved = %d, want exactly %d", reserved.Load(), ceiling)
	}

	state, _ := store.Get(context.Background(), "c1", period)
	if state.Consumed != ceiling {
		t.Errorf("consumed = %d, want %d", state.Consumed, ceiling)
	}
}
