package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sqlift/sqlift/pkg/logger"
	"github.com/sqlift/sqlift/query"
)

// Querier is the minimal execution surface shared by pool handles, raw
// connections and transaction scopes. pgxmock's conn interface satisfies it,
// which is what the unit tests inject through the dial seam.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DriverConn is one physical database connection as the pool sees it.
// *pgx.Conn satisfies it; the driver is an opaque collaborator and is never
// reimplemented here.
type DriverConn interface {
	Querier
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DialFunc opens one physical connection.
type DialFunc func(ctx context.Context) (DriverConn, error)

func pgxDialer(dsn string) DialFunc {
	return func(ctx context.Context) (DriverConn, error) {
		return pgx.Connect(ctx, dsn)
	}
}

type waiter struct {
	// Receives a connection, or nil as a signal to retry (a capacity slot
	// freed up without a connection changing hands).
	ch chan DriverConn
}

// Pool is a bounded connection pool. Acquire hands out exclusive handles;
// when the pool is exhausted, callers queue and are served in FIFO order as
// handles are released.
type Pool struct {
	dial           DialFunc
	capacity       int
	acquireTimeout time.Duration

	mu      sync.Mutex
	idle    []DriverConn
	waiters []*waiter
	open    int
	closed  bool
}

var errAcquireTimeout = errors.New("pool acquire timed out")

// NewPool builds a pool over the configured DSN. The dial function defaults
// to pgx.Connect; tests replace it via NewPoolWithDialer.
func NewPool(cfg *Config) *Pool {
	return NewPoolWithDialer(cfg, pgxDialer(cfg.DSN()))
}

// NewPoolWithDialer builds a pool that opens connections through dial.
func NewPoolWithDialer(cfg *Config, dial DialFunc) *Pool {
	capacity := cfg.PoolSize
	if capacity <= 0 {
		capacity = defaultPoolSize
	}
	return &Pool{
		dial:           dial,
		capacity:       capacity,
		acquireTimeout: cfg.AcquireTimeout,
	}
}

// Capacity reports the fixed pool size.
func (p *Pool) Capacity() int { return p.capacity }

// Acquire returns an exclusive Handle, dialing a new connection only when no
// idle one exists and capacity allows. When the pool is exhausted the caller
// queues FIFO until a handle is released, the context is canceled, or the
// acquire timeout elapses (ConnectionError kind pool_timeout).
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, p.acquireTimeout, errAcquireTimeout)
		defer cancel()
	}
	retrying := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, &ConnectionError{Kind: ConnPoolClosed}
		}
		if n := len(p.idle); n > 0 {
			conn := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			return &Handle{pool: p, conn: conn}, nil
		}
		if p.open < p.capacity {
			p.open++
			p.mu.Unlock()
			conn, err := p.dial(ctx)
			if err != nil {
				p.forfeitSlot()
				return nil, &ConnectionError{Kind: ConnConnectFailed, cause: err}
			}
			return &Handle{pool: p, conn: conn}, nil
		}
		w := &waiter{ch: make(chan DriverConn, 1)}
		p.enqueue(w, retrying)
		p.mu.Unlock()

		select {
		case conn := <-w.ch:
			if conn != nil {
				return &Handle{pool: p, conn: conn}, nil
			}
			// A slot opened without a connection; retry. If a racing
			// acquirer takes the slot first, the re-queue below keeps this
			// caller's place at the head of the line.
			retrying = true
		case <-ctx.Done():
			p.abandon(w)
			cause := context.Cause(ctx)
			if errors.Is(cause, errAcquireTimeout) {
				return nil, &ConnectionError{Kind: ConnPoolTimeout, cause: cause}
			}
			return nil, &ConnectionError{Kind: ConnAcquireCanceled, cause: cause}
		}
	}
}

// enqueue registers a waiter. A caller re-queuing after the nil retry signal
// goes to the front, so losing the freed-slot race to a fresh acquirer does
// not cost it its position. Caller holds p.mu.
func (p *Pool) enqueue(w *waiter, front bool) {
	if !front {
		p.waiters = append(p.waiters, w)
		return
	}
	p.waiters = append(p.waiters, nil)
	copy(p.waiters[1:], p.waiters)
	p.waiters[0] = w
}

// put returns a connection to the pool, preferring the oldest waiter.
func (p *Pool) put(conn DriverConn) {
	p.mu.Lock()
	if p.closed {
		p.open--
		p.mu.Unlock()
		_ = conn.Close(context.Background())
		return
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- conn // buffered; handed off while the waiter is still registered
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

// forfeitSlot gives up a reserved capacity slot after a failed dial and lets
// the oldest waiter retry.
func (p *Pool) forfeitSlot() {
	p.mu.Lock()
	p.open--
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- nil
	}
	p.mu.Unlock()
}

// abandon removes a waiter that stopped listening. A connection that raced
// into its channel is returned to the pool, never leaked.
func (p *Pool) abandon(w *waiter) {
	p.mu.Lock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	select {
	case conn := <-w.ch:
		if conn != nil {
			p.put(conn)
		}
	default:
	}
}

// Close closes idle connections, fails queued waiters and rejects further
// acquires. Handles still out keep working; their connections are closed on
// release.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	log := logger.FromContext(ctx)
	for _, w := range waiters {
		close(w.ch)
	}
	for _, conn := range idle {
		if err := conn.Close(ctx); err != nil {
			log.Warn("Failed closing pooled connection", "error", err)
		}
	}
	return nil
}

// Handle is exclusive use of one physical connection until Release.
type Handle struct {
	pool *Pool
	conn DriverConn
	done bool
}

// Exec runs a statement on the held connection.
func (h *Handle) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return h.conn.Exec(ctx, sql, arguments...)
}

// Query runs a row-returning statement on the held connection.
func (h *Handle) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return h.conn.Query(ctx, sql, args...)
}

// Ping verifies the held connection is alive.
func (h *Handle) Ping(ctx context.Context) error {
	return h.conn.Ping(ctx)
}

// Run compiles and executes a builder on the held connection.
func (h *Handle) Run(ctx context.Context, b query.Builder) (*RowSet, error) {
	stmt, err := b.Compile()
	if err != nil {
		return nil, err
	}
	return runStatement(ctx, h.conn, stmt)
}

// Transaction runs fn inside a transaction on the held connection. The handle
// stays checked out afterwards, so a caller can chain several transactions on
// the same session.
func (h *Handle) Transaction(ctx context.Context, fn func(*Tx) error) error {
	return transaction(ctx, h, fn)
}

// Release returns the connection to the pool. It is idempotent and must run
// on every exit path, including error paths.
func (h *Handle) Release() {
	if h.done {
		return
	}
	h.done = true
	h.pool.put(h.conn)
}

// Discard closes the connection instead of pooling it, freeing its capacity
// slot. Use it when the connection is known to be broken.
func (h *Handle) Discard(ctx context.Context) {
	if h.done {
		return
	}
	h.done = true
	if err := h.conn.Close(context.WithoutCancel(ctx)); err != nil {
		logger.FromContext(ctx).Warn("Failed closing discarded connection", "error", err)
	}
	h.pool.forfeitSlot()
}
