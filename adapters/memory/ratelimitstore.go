package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/tollgate/domain/ratelimit"
	"github.com/artpar/tollgate/ports"
)

// rateLimitShard is a single shard of the rate limit store.
type rateLimitShard struct {
	mu    sync.Mutex
	state map[string]ratelimit.WindowState
}

// RateLimitStore is a sharded in-memory rate limit store. The check and the
// state update happen under one shard lock, so concurrent admissions for the
// same identity can never lose an update and let more than the ceiling
// through. Window counters are ephemeral: losing them only causes temporary
// under-enforcement, never corruption.
type RateLimitStore struct {
	shards    []*rateLimitShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// RateLimitConfig configures the store.
type RateLimitConfig struct {
	NumShards       int           // default: 32
	CleanupInterval time.Duration // how often expired windows are dropped (default: 5m)
}

// NewRateLimitStore creates a new sharded in-memory rate limit store.
func NewRateLimitStore(cfg RateLimitConfig) *RateLimitStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	s := &RateLimitStore{
		shards:    make([]*rateLimitShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}

	for i := range s.shards {
		s.shards[i] = &rateLimitShard{
			state: make(map[string]ratelimit.WindowState),
		}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// getShard returns the shard for a given key using consistent hashing.
func (s *RateLimitStore) getShard(key string) *rateLimitShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Check atomically applies the fixed-window check and persists the new state.
func (s *RateLimitStore) Check(ctx context.Context, id ratelimit.Identity, cfg ratelimit.Config, now time.Time) (ratelimit.CheckResult, error) {
	key := id.Key()
	shard := s.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	state := shard.state[key]
	result, newState := ratelimit.Check(state, cfg, now)
	shard.state[key] = newState

	return result, nil
}

// cleanupLoop periodically removes entries whose window closed long ago.
func (s *RateLimitStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup()
		case <-s.done:
			return
		}
	}
}

// doCleanup drops windows that ended more than the grace period ago.
func (s *RateLimitStore) doCleanup() {
	cutoff := time.Now().Add(-time.Hour)

	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, state := range shard.state {
			if !state.WindowEnd.IsZero() && state.WindowEnd.Before(cutoff) {
				delete(shard.state, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *RateLimitStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of tracked identities (for testing).
func (s *RateLimitStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.state)
		shard.mu.Unlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.RateLimitStore = (*RateLimitStore)(nil)
