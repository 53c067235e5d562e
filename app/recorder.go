package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/tollgate/adapters/metrics"
	"github.com/artpar/tollgate/domain/ledger"
	"github.com/artpar/tollgate/ports"
)

// RecorderConfig controls batching behavior of the buffered recorder.
type RecorderConfig struct {
	BatchSize     int           // flush when this many entries are queued
	FlushInterval time.Duration // flush at least this often
	WriteTimeout  time.Duration // bound on each storage write
	MaxBuffered   int           // retention cap after repeated write failures
}

func (c RecorderConfig) normalized() RecorderConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = 10000
	}
	return c
}

// BufferedRecorder queues ledger entries in memory and writes them to the
// store in batches off the response path. A failed write keeps the batch
// queued for the next attempt so entries survive transient storage trouble;
// the buffer is capped, and entries dropped at the cap are escalated loudly
// since each one is billable usage.
type BufferedRecorder struct {
	store   ports.LedgerStore
	cfg     RecorderConfig
	metrics *metrics.Collector
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []ledger.Entry

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewBufferedRecorder creates and starts a recorder.
func NewBufferedRecorder(store ports.LedgerStore, cfg RecorderConfig, collector *metrics.Collector, logger zerolog.Logger) *BufferedRecorder {
	r := &BufferedRecorder{
		store:   store,
		cfg:     cfg.normalized(),
		metrics: collector,
		logger:  logger.With().Str("component", "ledger_recorder").Logger(),
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record queues an entry. Never blocks on storage.
func (r *BufferedRecorder) Record(e ledger.Entry) {
	r.mu.Lock()
	r.pending = append(r.pending, e)
	n := len(r.pending)
	r.mu.Unlock()

	if n >= r.cfg.BatchSize {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush writes all queued entries to the store synchronously.
func (r *BufferedRecorder) Flush(ctx context.Context) error {
	return r.flush(ctx)
}

// Close stops the background loop and flushes what remains.
func (r *BufferedRecorder) Close() error {
	var err error
	r.once.Do(func() {
		close(r.stopCh)
		<-r.doneCh
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
		defer cancel()
		err = r.flush(ctx)
	})
	return err
}

// Pending returns the number of queued entries.
func (r *BufferedRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *BufferedRecorder) loop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-r.flushCh:
		case <-r.stopCh:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
		if err := r.flush(ctx); err != nil {
			r.logger.Error().Err(err).Msg("ledger flush failed; batch retained")
		}
		cancel()
	}
}

func (r *BufferedRecorder) flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	err := r.store.AppendBatch(ctx, batch)
	if err == nil {
		return nil
	}

	if r.metrics != nil {
		r.metrics.LedgerFailures.Inc()
	}
	r.logger.Error().Err(err).Int("entries", len(batch)).Msg("ledger write failed")

	// Put the batch back in front of anything recorded meanwhile.
	r.mu.Lock()
	r.pending = append(batch, r.pending...)
	if over := len(r.pending) - r.cfg.MaxBuffered; over > 0 {
		dropped := r.pending[:over]
		r.pending = r.pending[over:]
		for _, e := range dropped {
			r.logger.Error().
				Str("entry_id", e.ID).
				Str("caller_id", e.CallerID).
				Int64("cost", e.Cost).
				Msg("billable entry dropped at buffer cap; reconcile manually")
		}
	}
	r.mu.Unlock()
	return err
}
