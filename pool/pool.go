// Package pool implements the bounded per-server connection queue of
// pop/try_pop/push with min/max pool size and generation-based
// stream invalidation, so a network failure observed anywhere invalidates
// every connection opened before it without tracking them individually.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/cloudresty/mongocore/metrics"
	"github.com/cloudresty/mongocore/mongocoreerr"
	"github.com/cloudresty/mongocore/transport"
)

// Handle is one pooled connection to a specific server.
type Handle struct {
	Stream     transport.Stream
	Address    string
	Generation int64
	OpenedAt   time.Time
}

// Dialer opens a new Stream to addr; supplied by the caller so pool stays
// independent of transport/TLS/monitor wiring.
type Dialer func(ctx context.Context, addr string) (transport.Stream, error)

// Config bounds one server's pool.
type Config struct {
	MinPoolSize int
	MaxPoolSize int
}

const defaultMaxPoolSize = 100

type serverPool struct {
	mu   sync.Mutex
	cond *sync.Cond

	address    string
	idle       []*Handle
	size       int
	generation int64

	cfg   Config
	dial  Dialer
	closed bool
}

// Pool is the client-wide connection pool: one bounded queue per server
// address, created lazily on first use.
type Pool struct {
	mu      sync.Mutex
	servers map[string]*serverPool
	cfg     Config
	dial    Dialer
	metrics *metrics.Registry
}

// New returns an empty Pool. dial is used to open new streams on demand.
func New(cfg Config, dial Dialer, metricsReg *metrics.Registry) *Pool {
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = defaultMaxPoolSize
	}
	return &Pool{servers: make(map[string]*serverPool), cfg: cfg, dial: dial, metrics: metricsReg}
}

func (p *Pool) serverPoolFor(addr string) *serverPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.servers[addr]
	if !ok {
		sp = &serverPool{address: addr, cfg: p.cfg, dial: p.dial}
		sp.cond = sync.NewCond(&sp.mu)
		p.servers[addr] = sp
	}
	return sp
}

// Pop implements pop(): return an idle handle, open a new
// one if under max_pool_size, or block on the pool's condition variable.
func (p *Pool) Pop(ctx context.Context, addr string) (*Handle, error) {
	sp := p.serverPoolFor(addr)
	return sp.pop(ctx, p.metrics)
}

// TryPop implements try_pop(): never blocks.
func (p *Pool) TryPop(addr string) (*Handle, bool) {
	sp := p.serverPoolFor(addr)
	return sp.tryPop(p.metrics)
}

// Push implements push(handle).
func (p *Pool) Push(h *Handle) {
	if h == nil {
		return
	}
	sp := p.serverPoolFor(h.Address)
	sp.push(h, p.metrics)
}

// BumpGeneration increments addr's generation: idle pooled handles are
// closed at once, and in-flight handles with a lower generation are
// discarded when they are pushed back.
func (p *Pool) BumpGeneration(addr string) {
	sp := p.serverPoolFor(addr)
	sp.bumpGeneration()
	p.metrics.Incr(metrics.GenerationBumps, 1)
}

// Close discards every idle handle across every server pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sp := range p.servers {
		sp.closeAll()
	}
}

func (sp *serverPool) pop(ctx context.Context, m *metrics.Registry) (*Handle, error) {
	sp.mu.Lock()
	for {
		if sp.closed {
			sp.mu.Unlock()
			return nil, mongocoreerr.New(mongocoreerr.KindShutdown, "pool for %s is closed", sp.address)
		}
		if h := sp.takeIdleLocked(); h != nil {
			sp.mu.Unlock()
			return sp.refreshGeneration(ctx, h, m)
		}
		if sp.size < sp.cfg.MaxPoolSize {
			sp.size++
			gen := sp.generation
			sp.mu.Unlock()
			return sp.openNew(ctx, gen, m)
		}
		if !waitWithContext(ctx, sp.cond, &sp.mu) {
			sp.mu.Unlock()
			m.Incr(metrics.PoolCheckoutTimeouts, 1)
			return nil, mongocoreerr.Wrap(mongocoreerr.KindNetworkTimeout, ctx.Err(), "pool checkout for %s timed out", sp.address)
		}
	}
}

func (sp *serverPool) tryPop(m *metrics.Registry) (*Handle, bool) {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return nil, false
	}
	if h := sp.takeIdleLocked(); h != nil {
		sp.mu.Unlock()
		h, err := sp.refreshGeneration(context.Background(), h, m)
		return h, err == nil
	}
	if sp.size < sp.cfg.MaxPoolSize {
		sp.size++
		gen := sp.generation
		sp.mu.Unlock()
		h, err := sp.openNew(context.Background(), gen, m)
		return h, err == nil
	}
	sp.mu.Unlock()
	return nil, false
}

func (sp *serverPool) takeIdleLocked() *Handle {
	if len(sp.idle) == 0 {
		return nil
	}
	h := sp.idle[len(sp.idle)-1]
	sp.idle = sp.idle[:len(sp.idle)-1]
	return h
}

// refreshGeneration implements the pop-time half of Stream
// generations": a handle opened under a stale generation is closed and
// replaced before being handed back.
func (sp *serverPool) refreshGeneration(ctx context.Context, h *Handle, m *metrics.Registry) (*Handle, error) {
	sp.mu.Lock()
	current := sp.generation
	sp.mu.Unlock()
	if h.Generation >= current {
		return h, nil
	}
	_ = h.Stream.Close()
	m.Incr(metrics.ConnectionsClosed, 1)
	return sp.openNew(ctx, current, m)
}

func (sp *serverPool) openNew(ctx context.Context, generation int64, m *metrics.Registry) (*Handle, error) {
	stream, err := sp.dial(ctx, sp.address)
	if err != nil {
		sp.mu.Lock()
		sp.size--
		sp.mu.Unlock()
		sp.cond.Broadcast()
		return nil, mongocoreerr.Wrap(mongocoreerr.KindNetworkIo, err, "open connection to %s", sp.address)
	}
	m.Incr(metrics.ConnectionsOpened, 1)
	m.Incr(metrics.PoolCheckouts, 1)
	return &Handle{Stream: stream, Address: sp.address, Generation: generation, OpenedAt: time.Now()}, nil
}

// push implements push(handle): trims excess idle handles
// above min_pool_size, then returns h to the tail if it is still on a
// current generation, or discards it and decrements size otherwise.
func (sp *serverPool) push(h *Handle, m *metrics.Registry) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.closed || h.Generation < sp.generation {
		_ = h.Stream.Close()
		sp.size--
		m.Incr(metrics.ConnectionsClosed, 1)
		sp.cond.Broadcast()
		return
	}

	if sp.size > sp.cfg.MinPoolSize && len(sp.idle) > 0 {
		stale := sp.idle[0]
		sp.idle = sp.idle[1:]
		_ = stale.Stream.Close()
		sp.size--
		m.Incr(metrics.ConnectionsClosed, 1)
	}

	sp.idle = append(sp.idle, h)
	sp.cond.Broadcast()
}

func (sp *serverPool) bumpGeneration() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.generation++
	var kept []*Handle
	for _, h := range sp.idle {
		if h.Generation >= sp.generation {
			kept = append(kept, h)
			continue
		}
		_ = h.Stream.Close()
		sp.size--
	}
	sp.idle = kept
	sp.cond.Broadcast()
}

func (sp *serverPool) closeAll() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.closed = true
	for _, h := range sp.idle {
		_ = h.Stream.Close()
	}
	sp.idle = nil
	sp.cond.Broadcast()
}

// waitWithContext blocks on cond.Wait but returns false if ctx is done
// first, working around sync.Cond's lack of native context support by
// racing a watcher goroutine against the condition broadcast.
func waitWithContext(ctx context.Context, cond *sync.Cond, mu *sync.Mutex) bool {
	if ctx.Err() != nil {
		return false
	}
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			cond.Broadcast()
			mu.Unlock()
		case <-stop:
		}
		close(done)
	}()
	cond.Wait()
	close(stop)
	<-done
	return ctx.Err() == nil
}
