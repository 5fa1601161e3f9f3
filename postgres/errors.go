package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ConnectionErrorKind classifies pool and connect failures.
type ConnectionErrorKind string

const (
	// ConnPoolTimeout means acquire waited past the configured timeout.
	ConnPoolTimeout ConnectionErrorKind = "pool_timeout"
	// ConnPoolClosed means the pool no longer hands out connections.
	ConnPoolClosed ConnectionErrorKind = "pool_closed"
	// ConnConnectFailed means dialing the database failed.
	ConnConnectFailed ConnectionErrorKind = "connect_failed"
	// ConnAcquireCanceled means the caller abandoned the acquire before a
	// connection became available.
	ConnAcquireCanceled ConnectionErrorKind = "acquire_canceled"
)

// ConnectionError reports a failure to obtain a usable connection. It is
// never retried automatically.
type ConnectionError struct {
	Kind  ConnectionErrorKind
	cause error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("postgres: connection %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("postgres: connection %s", e.Kind)
}

func (e *ConnectionError) Unwrap() error { return e.cause }

func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && t.Kind == e.Kind
}

// ExecutionErrorKind classifies statements the database rejected.
type ExecutionErrorKind string

const (
	// ExecUndefinedColumn means the statement referenced a column the table
	// does not have.
	ExecUndefinedColumn ExecutionErrorKind = "undefined_column"
	// ExecUndefinedTable means the statement referenced a missing table.
	ExecUndefinedTable ExecutionErrorKind = "undefined_table"
	// ExecConstraintViolation covers foreign key, unique, not-null and check
	// violations.
	ExecConstraintViolation ExecutionErrorKind = "constraint_violation"
	// ExecQueryFailed covers every other database rejection.
	ExecQueryFailed ExecutionErrorKind = "query_failed"
)

// ExecutionError reports a statement the database rejected. The driver's
// original diagnostic text is preserved verbatim in Error() so callers can
// match on substrings such as the offending column name.
type ExecutionError struct {
	Kind       ExecutionErrorKind
	Column     string
	Table      string
	Constraint string
	cause      error
}

func (e *ExecutionError) Error() string {
	switch e.Kind {
	case ExecUndefinedColumn:
		return fmt.Sprintf("postgres: undefined column %q: %v", e.Column, e.cause)
	case ExecUndefinedTable:
		return fmt.Sprintf("postgres: undefined table %q: %v", e.Table, e.cause)
	case ExecConstraintViolation:
		return fmt.Sprintf("postgres: constraint violation: %v", e.cause)
	default:
		return fmt.Sprintf("postgres: query failed: %v", e.cause)
	}
}

func (e *ExecutionError) Unwrap() error { return e.cause }

func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	return ok && t.Kind == e.Kind
}

// TransactionError reports a statement issued against a terminal scope.
type TransactionError struct {
	State TxState
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("postgres: transaction is closed: already %s", e.State)
}

// mapExecError lifts driver errors into the execution taxonomy. Errors that
// already belong to the taxonomy pass through unchanged.
func mapExecError(err error) error {
	if err == nil {
		return nil
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &ExecutionError{Kind: ExecQueryFailed, cause: err}
	}
	switch pgErr.Code {
	case pgerrcode.UndefinedColumn:
		return &ExecutionError{
			Kind:   ExecUndefinedColumn,
			Column: columnFromMessage(pgErr),
			Table:  pgErr.TableName,
			cause:  err,
		}
	case pgerrcode.UndefinedTable:
		return &ExecutionError{
			Kind:  ExecUndefinedTable,
			Table: tableFromMessage(pgErr),
			cause: err,
		}
	case pgerrcode.ForeignKeyViolation,
		pgerrcode.UniqueViolation,
		pgerrcode.NotNullViolation,
		pgerrcode.CheckViolation:
		return &ExecutionError{
			Kind:       ExecConstraintViolation,
			Table:      pgErr.TableName,
			Column:     pgErr.ColumnName,
			Constraint: pgErr.ConstraintName,
			cause:      err,
		}
	default:
		return &ExecutionError{Kind: ExecQueryFailed, cause: err}
	}
}

// columnFromMessage recovers the column name for undefined_column errors.
// The server rarely fills ColumnName for 42703; the name is only present in
// the message, quoted.
func columnFromMessage(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	return firstQuoted(pgErr.Message)
}

func tableFromMessage(pgErr *pgconn.PgError) string {
	if pgErr.TableName != "" {
		return pgErr.TableName
	}
	return firstQuoted(pgErr.Message)
}

func firstQuoted(msg string) string {
	start := strings.IndexByte(msg, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(msg[start+1:], '"')
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}
