package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/tollgate/domain/ledger"
	"github.com/artpar/tollgate/ports"
)

// LedgerStore is an in-memory, append-only ledger. Entries are immutable
// once appended; the store exposes no update path.
type LedgerStore struct {
	mu      sync.RWMutex
	entries []ledger.Entry

	// FailNext makes the next AppendBatch return the given error (for tests
	// exercising the escalation path).
	failMu   sync.Mutex
	failNext error
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// AppendBatch appends entries.
func (s *LedgerStore) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	s.failMu.Lock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.failMu.Unlock()
		return err
	}
	s.failMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

// Summarize aggregates a caller's entries within [start, end).
func (s *LedgerStore) Summarize(ctx context.Context, callerID string, start, end time.Time) (ledger.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []ledger.Entry
	for _, e := range s.entries {
		if e.CallerID != callerID {
			continue
		}
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		matched = append(matched, e)
	}
	sum := ledger.Aggregate(matched, start, end)
	sum.CallerID = callerID
	return sum, nil
}

// Recent returns the newest entries for a caller.
func (s *LedgerStore) Recent(ctx context.Context, callerID string, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for i := len(s.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.entries[i].CallerID == callerID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// FailNextAppend makes the next AppendBatch fail with err (for testing).
func (s *LedgerStore) FailNextAppend(err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failNext = err
}

// Len returns the number of stored entries (for testing).
func (s *LedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// All returns a copy of all entries (for testing).
func (s *LedgerStore) All() []ledger.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Ensure interface compliance.
var _ ports.LedgerStore = (*LedgerStore)(nil)
