// Package pool provides a bounded pool of reusable, liveness-probed
// connections to durable storage. It is the process-wide guard against
// unbounded connection creation: Acquire blocks up to a timeout and then
// fails with ErrExhausted instead of blocking indefinitely.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrExhausted is returned when no connection becomes available within the
// acquire timeout.
var ErrExhausted = errors.New("pool: exhausted")

// ErrClosed is returned once the pool has been shut down.
var ErrClosed = errors.New("pool: closed")

// Conn is a poolable connection.
type Conn interface {
	// Ping probes liveness. A connection failing its probe is discarded and
	// replaced, never handed to a caller.
	Ping(ctx context.Context) error

	// Close releases the underlying resource.
	Close() error
}

// Factory creates a new connection.
type Factory func(ctx context.Context) (Conn, error)

// Config holds pool parameters, fixed at startup.
type Config struct {
	Base            int           // connections kept idle and reused
	Overflow        int           // extra connections allowed above Base under load
	MaxLifetime     time.Duration // forced recycle age; 0 = never
	AcquireTimeout  time.Duration // max wait in Acquire before ErrExhausted
	ProbeTimeout    time.Duration // per-probe deadline
	RecycleInterval time.Duration // background sweep interval; 0 = default
}

// Pooled is a checked-out connection. It is owned by exactly one in-flight
// request between Acquire and Release.
type Pooled struct {
	Conn      Conn
	createdAt time.Time
}

// Pool manages the lifecycle of a bounded set of connections.
// Open connections (idle plus checked out) never exceed Base+Overflow.
type Pool struct {
	cfg     Config
	factory Factory

	mu         sync.Mutex
	total      int // open connections, idle + checked out
	checkedOut int // in-flight handouts; Close waits for this to hit zero
	closed     bool

	idleCh  chan *Pooled  // idle connections ready for reuse, cap Base
	wakeCh  chan struct{} // nudges waiters when capacity frees up
	drainCh chan struct{} // signalled when the last checkout comes back after close

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates and starts a pool. Connections are opened on demand up to the
// configured bound, never eagerly.
func New(cfg Config, factory Factory) *Pool {
	if cfg.Base <= 0 {
		cfg.Base = 10
	}
	if cfg.Overflow < 0 {
		cfg.Overflow = 0
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = time.Second
	}
	if cfg.RecycleInterval <= 0 {
		cfg.RecycleInterval = time.Minute
	}

	p := &Pool{
		cfg:     cfg,
		factory: factory,
		idleCh:  make(chan *Pooled, cfg.Base),
		wakeCh:  make(chan struct{}, 1),
		drainCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}

	go p.recycleLoop()

	return p
}

// Acquire checks out a connection, blocking up to the acquire timeout (or the
// context deadline, whichever comes first). Returns ErrExhausted when
// Base+Overflow connections stay outstanding for the whole wait.
func (p *Pool) Acquire(ctx context.Context) (*Pooled, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		p.mu.Unlock()

		// Reuse an idle connection if one probes healthy.
		select {
		case pc := <-p.idleCh:
			if healthy := p.vet(ctx, pc); healthy {
				if !p.checkout() {
					p.discard(pc)
					return nil, ErrClosed
				}
				return pc, nil
			}
			continue
		default:
		}

		// Nothing idle: open a fresh connection if under the bound.
		p.mu.Lock()
		if p.total < p.cfg.Base+p.cfg.Overflow {
			p.total++
			p.mu.Unlock()

			conn, err := p.factory(ctx)
			if err != nil {
				p.discard(nil)
				return nil, err
			}
			pc := &Pooled{Conn: conn, createdAt: time.Now()}
			if !p.checkout() {
				p.discard(pc)
				return nil, ErrClosed
			}
			return pc, nil
		}
		p.mu.Unlock()

		// At capacity: wait for a release, freed capacity, or timeout.
		select {
		case pc := <-p.idleCh:
			if healthy := p.vet(ctx, pc); healthy {
				if !p.checkout() {
					p.discard(pc)
					return nil, ErrClosed
				}
				return pc, nil
			}
		case <-p.wakeCh:
		case <-timer.C:
			return nil, ErrExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.stopCh:
			return nil, ErrClosed
		}
	}
}

// Release returns a checked-out connection. Unhealthy or over-lifetime
// connections are destroyed instead of pooled.
func (p *Pool) Release(pc *Pooled, healthy bool) {
	if pc == nil {
		return
	}
	defer p.checkin()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || !healthy || p.expired(pc) {
		p.discard(pc)
		return
	}

	select {
	case p.idleCh <- pc:
	default:
		// Idle list full (overflow connection coming back): destroy it.
		p.discard(pc)
	}
}

// discard closes a connection (nil = creation failure) and frees its
// capacity, waking one waiter.
func (p *Pool) discard(pc *Pooled) {
	if pc != nil {
		pc.Conn.Close()
	}
	p.mu.Lock()
	p.total--
	p.mu.Unlock()

	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// checkout registers an in-flight handout atomically with the closed check,
// so a handout racing Close is either counted or refused, never missed.
func (p *Pool) checkout() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.checkedOut++
	return true
}

// checkin retires a handout and, once the pool is closed and the last one is
// back, releases a waiting Close.
func (p *Pool) checkin() {
	p.mu.Lock()
	p.checkedOut--
	notify := p.closed && p.checkedOut == 0
	p.mu.Unlock()

	if notify {
		select {
		case p.drainCh <- struct{}{}:
		default:
		}
	}
}

// vet probes an idle connection before handing it out; failed or stale
// connections are discarded transparently.
func (p *Pool) vet(ctx context.Context, pc *Pooled) bool {
	if p.expired(pc) || !p.probe(ctx, pc) {
		p.discard(pc)
		return false
	}
	return true
}

// Close drains the pool: new Acquires fail, in-flight checkouts are waited
// for up to the context deadline, then idle connections are closed.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	outstanding := p.checkedOut
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopCh) })

	var err error
	if outstanding > 0 {
		select {
		case <-p.drainCh:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	for {
		select {
		case pc := <-p.idleCh:
			pc.Conn.Close()
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
		default:
			return err
		}
	}
}

// Stats reports current pool occupancy.
type Stats struct {
	InUse int
	Idle  int
	Cap   int
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	idle := len(p.idleCh)
	p.mu.Lock()
	total := p.total
	p.mu.Unlock()
	return Stats{
		InUse: total - idle,
		Idle:  idle,
		Cap:   p.cfg.Base + p.cfg.Overflow,
	}
}

func (p *Pool) expired(pc *Pooled) bool {
	return p.cfg.MaxLifetime > 0 && time.Since(pc.createdAt) > p.cfg.MaxLifetime
}

func (p *Pool) probe(ctx context.Context, pc *Pooled) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()
	return pc.Conn.Ping(probeCtx) == nil
}

// recycleLoop proactively closes idle connections past their lifetime so
// long-lived daemons never hold stale sockets.
func (p *Pool) recycleLoop() {
	ticker := time.NewTicker(p.cfg.RecycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.recycleIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) recycleIdle() {
	if p.cfg.MaxLifetime <= 0 {
		return
	}

	// Drain the idle channel once; put fresh connections back.
	n := len(p.idleCh)
	for i := 0; i < n; i++ {
		select {
		case pc := <-p.idleCh:
			if p.expired(pc) {
				p.discard(pc)
				continue
			}
			select {
			case p.idleCh <- pc:
			default:
				p.discard(pc)
			}
		default:
			return
		}
	}
}
