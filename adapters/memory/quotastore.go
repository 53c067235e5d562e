package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/tollgate/domain/quota"
	"github.com/artpar/tollgate/ports"
)

// quotaShard is a single shard of the quota store.
type quotaShard struct {
	mu    sync.Mutex
	state map[string]quota.State
}

// QuotaStore is a sharded in-memory implementation of ports.QuotaStore.
// Reserve performs the compare-and-increment under one shard lock, so two
// concurrent reservations for the same caller can never both observe "under
// ceiling" and both commit.
type QuotaStore struct {
	shards    []*quotaShard
	numShards int
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// QuotaStoreConfig configures the store.
type QuotaStoreConfig struct {
	NumShards       int           // default: 32
	CleanupInterval time.Duration // how often old periods are dropped (default: 1h)
}

// NewQuotaStore creates a new sharded in-memory quota store.
func NewQuotaStore(cfg QuotaStoreConfig) *QuotaStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	s := &QuotaStore{
		shards:    make([]*quotaShard, cfg.NumShards),
		numShards: cfg.NumShards,
		done:      make(chan struct{}),
	}

	for i := range s.shards {
		s.shards[i] = &quotaShard{
			state: make(map[string]quota.State),
		}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// key generates the map key for a caller and period.
func (s *QuotaStore) key(callerID string, periodStart time.Time) string {
	return fmt.Sprintf("%s:%s", callerID, quota.PeriodKey(periodStart))
}

// getShard returns the shard for a given key using consistent hashing.
func (s *QuotaStore) getShard(key string) *quotaShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Get retrieves quota state, zero-initialized for an unseen period.
func (s *QuotaStore) Get(ctx context.Context, callerID string, periodStart time.Time) (quota.State, error) {
	k := s.key(callerID, periodStart)
	shard := s.getShard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if state, ok := shard.state[k]; ok {
		return state, nil
	}
	return quota.State{CallerID: callerID, PeriodStart: periodStart}, nil
}

// Reserve atomically performs compare-and-increment against the period
// counter. The increment is applied only when the result stays within the
// ceiling; it is never partially applied.
func (s *QuotaStore) Reserve(ctx context.Context, callerID string, periodStart time.Time, units, ceiling int64) (quota.Decision, error) {
	k := s.key(callerID, periodStart)
	shard := s.getShard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	state, ok := shard.state[k]
	if !ok {
		state = quota.State{CallerID: callerID, PeriodStart: periodStart}
	}
	state.Ceiling = ceiling

	if !quota.Fits(state.Consumed, units, ceiling) {
		return quota.Decision{State: state, Reason: quota.ReasonExceeded}, nil
	}

	state.Consumed += units
	state.LastUpdated = time.Now()
	shard.state[k] = state

	return quota.Decision{Reserved: true, State: state}, nil
}

// Release compensates a reservation whose dispatch incurred no cost.
func (s *QuotaStore) Release(ctx context.Context, callerID string, periodStart time.Time, units int64) error {
	k := s.key(callerID, periodStart)
	shard := s.getShard(k)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	state, ok := shard.state[k]
	if !ok {
		return nil
	}
	state.Consumed -= units
	if state.Consumed < 0 {
		state.Consumed = 0
	}
	state.LastUpdated = time.Now()
	shard.state[k] = state
	return nil
}

// cleanupLoop periodically removes entries for long-finished periods.
func (s *QuotaStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.doCleanup()
		case <-s.done:
			return
		}
	}
}

// doCleanup removes quota states for periods older than two months.
func (s *QuotaStore) doCleanup() {
	cutoff := time.Now().AddDate(0, -2, 0)

	for _, shard := range s.shards {
		shard.mu.Lock()
		for k, state := range shard.state {
			if state.PeriodStart.Before(cutoff) {
				delete(shard.state, k)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *QuotaStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Ensure interface compliance.
var _ ports.QuotaStore = (*QuotaStore)(nil)
