package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/sqlift/sqlift/query"
)

// Row is one result row keyed by column name. Rows carry no identity beyond
// their data.
type Row map[string]any

// RowSet is the mapped result of one statement: ordered rows for
// row-returning statements, the affected-row count otherwise.
type RowSet struct {
	Columns  []string
	Rows     []Row
	Affected int64
}

// Len reports the number of rows.
func (rs *RowSet) Len() int { return len(rs.Rows) }

// First returns the first row, if any.
func (rs *RowSet) First() (Row, bool) {
	if len(rs.Rows) == 0 {
		return nil, false
	}
	return rs.Rows[0], true
}

// Column projects a single column as a flat ordered value slice. This is a
// convenience view over the row maps; it does not change the executed SQL.
func (rs *RowSet) Column(name string) []any {
	out := make([]any, len(rs.Rows))
	for i, row := range rs.Rows {
		out[i] = row[name]
	}
	return out
}

// runStatement sends a compiled statement over q and maps the outcome. A
// failed statement is surfaced as-is; there is no automatic retry, since
// INSERT and UPDATE are not safely retryable without caller-supplied
// idempotency.
func runStatement(ctx context.Context, q Querier, stmt query.Statement) (*RowSet, error) {
	if stmt.Returns {
		rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return nil, mapExecError(err)
		}
		return collectRows(rows)
	}
	tag, err := q.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, mapExecError(err)
	}
	return &RowSet{Affected: tag.RowsAffected()}, nil
}

func collectRows(rows pgx.Rows) (*RowSet, error) {
	defer rows.Close()
	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
	}
	rs := &RowSet{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, mapExecError(err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapExecError(err)
	}
	rs.Affected = rows.CommandTag().RowsAffected()
	return rs, nil
}
