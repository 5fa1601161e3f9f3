// Package postgres owns every pgx-facing concern of sqlift: the bounded
// connection pool, statement execution and row mapping, the transaction
// coordinator, and the error taxonomy. pgx types stay local to this package.
package postgres

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/sqlift/sqlift/pkg/logger"
	"github.com/sqlift/sqlift/query"
)

// Client is the public entry point: compile-and-run for single statements,
// scoped transactions, and dedicated session acquisition.
type Client struct {
	pool *Pool
	cfg  *Config
}

// NewClient builds a pool over cfg and verifies connectivity with a bounded
// ping.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres: config is required")
	}
	return newClient(ctx, cfg, NewPool(cfg))
}

// NewClientWithDialer is NewClient with an injectable dial function. Tests
// use it to back the pool with mock connections.
func NewClientWithDialer(ctx context.Context, cfg *Config, dial DialFunc) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("postgres: config is required")
	}
	return newClient(ctx, cfg, NewPoolWithDialer(cfg, dial))
}

func newClient(ctx context.Context, cfg *Config, pool *Pool) (*Client, error) {
	c := &Client{pool: pool, cfg: cfg}
	if err := c.HealthCheck(ctx); err != nil {
		_ = pool.Close(ctx)
		return nil, err
	}
	logger.FromContext(ctx).With(
		"host", cfg.Host,
		"port", cfg.Port,
		"db_name", cfg.DBName,
		"ssl_mode", cfg.SSLMode,
		"pool_size", pool.Capacity(),
	).Info("Postgres client initialized")
	return c, nil
}

// Pool exposes the connection pool for components that manage their own
// handles.
func (c *Client) Pool() *Pool { return c.pool }

// Acquire checks a dedicated session out of the pool. The caller must
// release it.
func (c *Client) Acquire(ctx context.Context) (*Handle, error) {
	return c.pool.Acquire(ctx)
}

// Exec compiles and runs a single builder on a pooled connection.
func (c *Client) Exec(ctx context.Context, b query.Builder) (*RowSet, error) {
	stmt, err := b.Compile()
	if err != nil {
		return nil, err
	}
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return runStatement(ctx, h, stmt)
}

// ExecRaw runs raw SQL on a pooled connection. With no arguments the driver
// uses the simple protocol, so multi-statement scripts work.
func (c *Client) ExecRaw(ctx context.Context, sql string, args ...any) error {
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	if _, err := h.Exec(ctx, sql, args...); err != nil {
		return mapExecError(err)
	}
	return nil
}

// Select compiles a builder and scans the result set into dst (a pointer to
// a slice of structs or scalars).
func (c *Client) Select(ctx context.Context, dst any, b query.Builder) error {
	stmt, err := b.Compile()
	if err != nil {
		return err
	}
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	rows, err := h.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return mapExecError(err)
	}
	if err := pgxscan.ScanAll(dst, rows); err != nil {
		return mapExecError(err)
	}
	return nil
}

// Transaction runs fn inside a transaction scope on one pooled connection.
// It commits when fn returns nil with the scope still active, rolls back and
// re-raises when fn returns an error or panics, and releases the connection
// on every path.
func (c *Client) Transaction(ctx context.Context, fn func(*Tx) error) error {
	h, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return transaction(ctx, h, fn)
}

// HealthCheck verifies a connection can be acquired and is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	pingTimeout := c.cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	h, err := c.pool.Acquire(pctx)
	if err != nil {
		return err
	}
	defer h.Release()
	if err := h.Ping(pctx); err != nil {
		return fmt.Errorf("postgres: health check: %w", err)
	}
	return nil
}

// Close shuts the pool down.
func (c *Client) Close(ctx context.Context) error {
	if err := c.pool.Close(ctx); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Postgres client closed")
	return nil
}
