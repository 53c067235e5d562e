package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/tollgate/domain/license"
	"github.com/artpar/tollgate/ports"
)

// CallerStore is an in-memory implementation of ports.CallerStore,
// used in tests and single-process development mode.
type CallerStore struct {
	mu      sync.RWMutex
	callers map[string]license.Caller
}

// NewCallerStore creates a new in-memory caller store.
func NewCallerStore() *CallerStore {
	return &CallerStore{
		callers: make(map[string]license.Caller),
	}
}

// GetByPrefix retrieves callers whose token lookup prefix matches.
func (s *CallerStore) GetByPrefix(ctx context.Context, prefix string) ([]license.Caller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []license.Caller
	for _, c := range s.callers {
		if c.Prefix == prefix {
			out = append(out, c)
		}
	}
	return out, nil
}

// Get retrieves a caller by ID.
func (s *CallerStore) Get(ctx context.Context, id string) (license.Caller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.callers[id]
	if !ok {
		return license.Caller{}, ports.ErrNotFound
	}
	return c, nil
}

// Create stores a new caller.
func (s *CallerStore) Create(ctx context.Context, c license.Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callers[c.ID] = c
	return nil
}

// Update modifies an existing caller.
func (s *CallerStore) Update(ctx context.Context, c license.Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.callers[c.ID]; !ok {
		return ports.ErrNotFound
	}
	s.callers[c.ID] = c
	return nil
}

// Revoke soft-revokes a caller. The record is kept for audit.
func (s *CallerStore) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.callers[id]
	if !ok {
		return ports.ErrNotFound
	}
	c.RevokedAt = &at
	c.UpdatedAt = at
	s.callers[id] = c
	return nil
}

// List returns callers ordered by creation time with pagination.
func (s *CallerStore) List(ctx context.Context, limit, offset int) ([]license.Caller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]license.Caller, 0, len(s.callers))
	for _, c := range s.callers {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Ensure interface compliance.
var _ ports.CallerStore = (*CallerStore)(nil)
