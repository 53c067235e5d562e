// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/tollgate/domain/ledger"
	"github.com/artpar/tollgate/domain/license"
	"github.com/artpar/tollgate/domain/quota"
	"github.com/artpar/tollgate/domain/ratelimit"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// CallerStore persists caller records. Authentication is read-only against
// this store; mutations happen through the admin surface only.
type CallerStore interface {
	// GetByPrefix retrieves callers whose token lookup prefix matches.
	GetByPrefix(ctx context.Context, prefix string) ([]license.Caller, error)

	// Get retrieves a caller by ID.
	Get(ctx context.Context, id string) (license.Caller, error)

	// Create stores a new caller.
	Create(ctx context.Context, c license.Caller) error

	// Update modifies an existing caller (plan change, token rotation).
	Update(ctx context.Context, c license.Caller) error

	// Revoke soft-revokes a caller. Callers are never hard-deleted.
	Revoke(ctx context.Context, id string, at time.Time) error

	// List returns callers with pagination.
	List(ctx context.Context, limit, offset int) ([]license.Caller, error)
}

// RateLimitStore performs atomic per-identity admission checks.
// Check must be atomic with respect to concurrent admissions for the same
// identity: a lost update must never let more than the ceiling through.
type RateLimitStore interface {
	// Check atomically applies the fixed-window check and persists the new
	// window state for the identity.
	Check(ctx context.Context, id ratelimit.Identity, cfg ratelimit.Config, now time.Time) (ratelimit.CheckResult, error)
}

// QuotaStore persists per-caller billing period counters.
type QuotaStore interface {
	// Get retrieves the quota state for a caller's billing period.
	// Returns a zero-consumed state for an unseen period.
	Get(ctx context.Context, callerID string, periodStart time.Time) (quota.State, error)

	// Reserve atomically performs compare-and-increment: consumed is raised
	// by units only if the result stays within ceiling. Never partially
	// applied. Returns the resulting decision and state.
	Reserve(ctx context.Context, callerID string, periodStart time.Time, units, ceiling int64) (quota.Decision, error)

	// Release compensates a reservation whose dispatch incurred no cost.
	Release(ctx context.Context, callerID string, periodStart time.Time, units int64) error
}

// LedgerStore persists immutable usage entries. There is deliberately no
// update or delete operation.
type LedgerStore interface {
	// AppendBatch stores entries. Already-written entries are never modified.
	AppendBatch(ctx context.Context, entries []ledger.Entry) error

	// Summarize aggregates a caller's entries for a period.
	Summarize(ctx context.Context, callerID string, start, end time.Time) (ledger.Summary, error)

	// Recent returns the newest entries for a caller.
	Recent(ctx context.Context, callerID string, limit int) ([]ledger.Entry, error)
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// LedgerRecorder accepts ledger entries for asynchronous durable writes.
type LedgerRecorder interface {
	// Record queues an entry. Must not block the response path.
	Record(e ledger.Entry)

	// Flush forces queued entries to storage.
	Flush(ctx context.Context) error

	// Close stops the recorder and flushes remaining entries.
	Close() error
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// CompletionRequest is the unit of work passed to the downstream service.
type CompletionRequest struct {
	CallerID  string
	RequestID string
	Text      string
}

// CompletionResult is the downstream response plus its measured volume.
type CompletionResult struct {
	SuggestedText string
	Priority      string
	DueHint       string
	Volume        ledger.Volume
}

// Completer is the costly downstream metered call, treated as an opaque
// remote service with its own latency and failure behavior.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}
