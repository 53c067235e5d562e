package pool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/tollgate/adapters/pool"
)

type fakeConn struct {
	mu      sync.Mutex
	pingErr error
	closed  bool
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) failPings() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = errors.New("connection gone")
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// countingFactory tracks how many connections were opened.
func countingFactory(count *atomic.Int32, conns *[]*fakeConn, mu *sync.Mutex) pool.Factory {
	return func(ctx context.Context) (pool.Conn, error) {
		count.Add(1)
		c := &fakeConn{}
		mu.Lock()
		*conns = append(*conns, c)
		mu.Unlock()
		return c, nil
	}
}

func newTestPool(t *testing.T, cfg pool.Config) (*pool.Pool, *atomic.Int32) {
	t.Helper()
	var count atomic.Int32
	var mu sync.Mutex
	var conns []*fakeConn
	p := pool.New(cfg, countingFactory(&count, &conns, &mu))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Close(ctx)
	})
	return p, &count
}

func TestAcquire_ReusesReleasedConnection(t *testing.T) {
	p, count := newTestPool(t, pool.Config{Base: 2, AcquireTimeout: time.Second})
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(pc, true)

	pc2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(pc2, true)

	if count.Load() != 1 {
		t.Errorf("factory calls = %d, want 1 (connection reused)", count.Load())
	}
	if pc2.Conn != pc.Conn {
		t.Error("expected the released connection to be handed out again")
	}
}

func TestAcquire_OverflowBeyondBase(t *testing.T) {
	p, count := newTestPool(t, pool.Config{Base: 1, Overflow: 2, AcquireTimeout: time.Second})
	ctx := context.Background()

	var held []*pool.Pooled
	for i := 0; i < 3; i++ {
		pc, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		held = append(held, pc)
	}

	if count.Load() != 3 {
		t.Errorf("factory calls = %d, want 3", count.Load())
	}

	stats := p.Stats()
	if stats.InUse != 3 {
		t.Errorf("inUse = %d, want 3", stats.InUse)
	}

	for _, pc := range held {
		p.Release(pc, true)
	}
}

func TestAcquire_ExhaustedDoesNotBlockForever(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Base: 1, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(pc, true)

	start := time.Now()
	_, err = p.Acquire(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, pool.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if elapsed > time.Second {
		t.Errorf("acquire blocked %v, want bounded wait", elapsed)
	}
}

func TestAcquire_WaiterWokenByRelease(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Base: 1, AcquireTimeout: time.Second})
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release(pc, true)
	}()

	pc2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("waiter not woken: %v", err)
	}
	p.Release(pc2, true)
}

func TestAcquire_FailedProbeReplaced(t *testing.T) {
	p, count := newTestPool(t, pool.Config{Base: 1, AcquireTimeout: time.Second})
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	bad := pc.Conn.(*fakeConn)
	p.Release(pc, true)

	// The pooled connection dies while idle.
	bad.failPings()

	pc2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(pc2, true)

	if pc2.Conn == pc.Conn {
		t.Error("expected dead connection to be replaced, not reused")
	}
	if !bad.isClosed() {
		t.Error("expected dead connection to be closed")
	}
	if count.Load() != 2 {
		t.Errorf("factory calls = %d, want 2", count.Load())
	}
}

func TestRelease_UnhealthyDestroyed(t *testing.T) {
	p, count := newTestPool(t, pool.Config{Base: 1, AcquireTimeout: time.Second})
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	c := pc.Conn.(*fakeConn)
	p.Release(pc, false)

	if !c.isClosed() {
		t.Error("expected unhealthy connection to be closed on release")
	}

	pc2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(pc2, true)

	if count.Load() != 2 {
		t.Errorf("factory calls = %d, want 2", count.Load())
	}
}

func TestRelease_ExpiredDestroyed(t *testing.T) {
	p, count := newTestPool(t, pool.Config{
		Base:           1,
		MaxLifetime:    time.Nanosecond,
		AcquireTimeout: time.Second,
	})
	ctx := context.Background()

	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(time.Millisecond)
	p.Release(pc, true)

	pc2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(pc2, true)

	if count.Load() != 2 {
		t.Errorf("factory calls = %d, want 2 (expired connection recycled)", count.Load())
	}
}

func TestClose_RejectsNewAcquires(t *testing.T) {
	var count atomic.Int32
	var mu sync.Mutex
	var conns []*fakeConn
	p := pool.New(pool.Config{Base: 1, AcquireTimeout: time.Second}, countingFactory(&count, &conns, &mu))

	ctx := context.Background()
	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(pc, true)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Close(closeCtx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := p.Acquire(ctx); !errors.Is(err, pool.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, c := range conns {
		if !c.isClosed() {
			t.Errorf("connection %d left open after close", i)
		}
	}
}

func TestClose_WaitsForOutstandingCheckout(t *testing.T) {
	var count atomic.Int32
	var mu sync.Mutex
	var conns []*fakeConn
	p := pool.New(pool.Config{Base: 1, AcquireTimeout: time.Second}, countingFactory(&count, &conns, &mu))

	ctx := context.Background()
	pc, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	closed := make(chan error, 1)
	go func() {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		closed <- p.Close(closeCtx)
	}()

	select {
	case err := <-closed:
		t.Fatalf("close returned %v while a connection was still checked out", err)
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(pc, false)

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not return after the last checkout came back")
	}
}

func TestStats(t *testing.T) {
	p, _ := newTestPool(t, pool.Config{Base: 2, Overflow: 1, AcquireTimeout: time.Second})
	ctx := context.Background()

	pc, _ := p.Acquire(ctx)
	pc2, _ := p.Acquire(ctx)
	p.Release(pc2, true)

	stats := p.Stats()
	if stats.InUse != 1 {
		t.Errorf("inUse = %d, want 1", stats.InUse)
	}
	if stats.Idle != 1 {
		t.Errorf("idle = %d, want 1", stats.Idle)
	}
	if stats.Cap != 3 {
		t.Errorf("cap = %d, want 3", stats.Cap)
	}

	p.Release(pc, true)
}
