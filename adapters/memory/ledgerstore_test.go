package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/tollgate/adapters/memory"
	"github.com/artpar/tollgate/domain/ledger"
)

func entryAt(id, callerID string, at time.Time, cost int64, outcome ledger.Outcome) ledger.Entry {
	return ledger.Entry{
		ID:        id,
		CallerID:  callerID,
		RequestID: "req_" + id,
		Volume:    ledger.Volume{InputUnits: 100, OutputUnits: 50},
		Cost:      cost,
		Outcome:   outcome,
		Timestamp: at,
	}
}

func TestLedgerStore_SummarizeWithinPeriod(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	err := store.AppendBatch(ctx, []ledger.Entry{
		entryAt("e1", "caller_1", start.Add(time.Hour), 5, ledger.OutcomeSuccess),
		entryAt("e2", "caller_1", start.Add(2*time.Hour), 3, ledger.OutcomeFailure),
		entryAt("e3", "caller_2", start.Add(time.Hour), 7, ledger.OutcomeSuccess),
		entryAt("e4", "caller_1", start.Add(-time.Hour), 9, ledger.OutcomeSuccess),
		entryAt("e5", "caller_1", end, 9, ledger.OutcomeSuccess),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	sum, err := store.Summarize(ctx, "caller_1", start, end)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}

	if sum.Calls != 2 {
		t.Errorf("calls = %d, want 2 (other callers and out-of-period excluded)", sum.Calls)
	}
	if sum.CostTotal != 8 {
		t.Errorf("costTotal = %d, want 8", sum.CostTotal)
	}
	if sum.Failures != 1 {
		t.Errorf("failures = %d, want 1", sum.Failures)
	}
	if sum.CallerID != "caller_1" {
		t.Errorf("callerID = %q", sum.CallerID)
	}
}

func TestLedgerStore_RecentNewestFirst(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	store.AppendBatch(ctx, []ledger.Entry{
		entryAt("e1", "caller_1", base, 1, ledger.OutcomeSuccess),
		entryAt("e2", "caller_1", base.Add(time.Hour), 1, ledger.OutcomeSuccess),
		entryAt("e3", "caller_2", base.Add(2*time.Hour), 1, ledger.OutcomeSuccess),
		entryAt("e4", "caller_1", base.Add(3*time.Hour), 1, ledger.OutcomeSuccess),
	})

	recent, err := store.Recent(ctx, "caller_1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[0].ID != "e4" || recent[1].ID != "e2" {
		t.Errorf("order = %s, %s, want e4, e2", recent[0].ID, recent[1].ID)
	}
}

func TestLedgerStore_FailNextAppendFailsOnce(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()
	boom := errors.New("disk full")

	store.FailNextAppend(boom)

	batch := []ledger.Entry{entryAt("e1", "caller_1", time.Now(), 1, ledger.OutcomeSuccess)}
	if err := store.AppendBatch(ctx, batch); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want injected failure", err)
	}
	if store.Len() != 0 {
		t.Errorf("len = %d, want 0 after failed append", store.Len())
	}

	if err := store.AppendBatch(ctx, batch); err != nil {
		t.Fatalf("second append: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("len = %d, want 1", store.Len())
	}
}
