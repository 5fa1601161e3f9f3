package postgres

import (
	"context"
	"sync"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/sqlift/sqlift/pkg/logger"
	"github.com/sqlift/sqlift/query"
)

// TxState is the lifecycle state of a transaction scope.
type TxState int

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// Tx is one transaction scope over a single pooled connection. Every
// statement issued through it reuses that connection, which is what gives
// the sequence transactional isolation. Statements are serialized by an
// internal mutex; once the scope is committed or rolled back it is terminal
// and rejects further statements.
type Tx struct {
	conn Querier

	mu    sync.Mutex
	state TxState
}

// State reports the scope's current lifecycle state.
func (tx *Tx) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Exec compiles and runs a builder inside the scope.
func (tx *Tx) Exec(ctx context.Context, b query.Builder) (*RowSet, error) {
	stmt, err := b.Compile()
	if err != nil {
		return nil, err
	}
	return tx.run(ctx, stmt)
}

// ExecRaw runs raw SQL inside the scope. With no arguments the driver uses
// the simple protocol, so multi-statement scripts (migrations, DDL) work.
func (tx *Tx) ExecRaw(ctx context.Context, sql string, args ...any) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return &TransactionError{State: tx.state}
	}
	if _, err := tx.conn.Exec(ctx, sql, args...); err != nil {
		return mapExecError(err)
	}
	return nil
}

// Select compiles a builder and scans the result set into dst (a pointer to
// a slice of structs or scalars) inside the scope.
func (tx *Tx) Select(ctx context.Context, dst any, b query.Builder) error {
	stmt, err := b.Compile()
	if err != nil {
		return err
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return &TransactionError{State: tx.state}
	}
	rows, err := tx.conn.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return mapExecError(err)
	}
	if err := pgxscan.ScanAll(dst, rows); err != nil {
		return mapExecError(err)
	}
	return nil
}

// Rollback aborts the scope explicitly. The enclosing Transaction call then
// completes without error. Rolling back a terminal scope fails.
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return &TransactionError{State: tx.state}
	}
	return tx.finishLocked(ctx, TxRolledBack)
}

// Transaction runs fn in a nested scope. Nesting does not open a new
// database transaction: the inner scope shares this scope's connection, and
// only the outermost scope commits or rolls back.
func (tx *Tx) Transaction(_ context.Context, fn func(*Tx) error) error {
	tx.mu.Lock()
	if tx.state != TxActive {
		tx.mu.Unlock()
		return &TransactionError{State: tx.state}
	}
	tx.mu.Unlock()
	return fn(tx)
}

func (tx *Tx) run(ctx context.Context, stmt query.Statement) (*RowSet, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return nil, &TransactionError{State: tx.state}
	}
	return runStatement(ctx, tx.conn, stmt)
}

// finishLocked issues COMMIT or ROLLBACK and moves the scope to its terminal
// state. The caller's context may already be canceled on the rollback path,
// so the control statement runs with cancellation stripped.
func (tx *Tx) finishLocked(ctx context.Context, terminal TxState) error {
	verb := "COMMIT"
	if terminal == TxRolledBack {
		verb = "ROLLBACK"
	}
	_, err := tx.conn.Exec(context.WithoutCancel(ctx), verb)
	tx.state = terminal
	if err != nil {
		return mapExecError(err)
	}
	return nil
}

// transaction is the outermost-scope driver shared by Client.Transaction and
// Handle.Transaction. The caller owns the connection's lifecycle.
func transaction(ctx context.Context, conn Querier, fn func(*Tx) error) error {
	log := logger.FromContext(ctx)
	if _, err := conn.Exec(ctx, "BEGIN"); err != nil {
		return mapExecError(err)
	}
	tx := &Tx{conn: conn}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.rollbackIfActive(ctx); rbErr != nil {
				log.Error("Failed to roll back after panic", "error", rbErr)
			}
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.rollbackIfActive(ctx); rbErr != nil {
			log.Error("Failed to roll back transaction", "error", rbErr)
		}
		// The original error is re-raised, never swallowed by the rollback.
		return err
	}
	return tx.commitIfActive(ctx)
}

func (tx *Tx) rollbackIfActive(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		return nil
	}
	return tx.finishLocked(ctx, TxRolledBack)
}

func (tx *Tx) commitIfActive(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != TxActive {
		// An explicit rollback inside the scope is a deliberate outcome.
		return nil
	}
	return tx.finishLocked(ctx, TxCommitted)
}
