package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlift/sqlift/query"
)

func TestRunStatement(t *testing.T) {
	t.Run("Should map a select result to ordered row maps", func(t *testing.T) {
		mock, err := pgxmock.NewConn()
		require.NoError(t, err)
		defer mock.Close(t.Context())

		mock.ExpectQuery(`SELECT \* FROM "table1"`).
			WillReturnRows(pgxmock.NewRows([]string{"id", "value1"}).
				AddRow(int64(1), "test1").
				AddRow(int64(2), "test2"))

		stmt, err := query.Select().From("table1").Compile()
		require.NoError(t, err)
		rs, err := runStatement(t.Context(), mock, stmt)
		require.NoError(t, err)

		assert.Equal(t, []string{"id", "value1"}, rs.Columns)
		require.Equal(t, 2, rs.Len())
		assert.Equal(t, Row{"id": int64(1), "value1": "test1"}, rs.Rows[0])
		assert.Equal(t, Row{"id": int64(2), "value1": "test2"}, rs.Rows[1])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should report affected rows for a plain mutation", func(t *testing.T) {
		mock, err := pgxmock.NewConn()
		require.NoError(t, err)
		defer mock.Close(t.Context())

		mock.ExpectExec(`INSERT INTO "table1"`).
			WithArgs("test1").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		stmt, err := query.Insert("table1").Values(map[string]any{"value1": "test1"}).Compile()
		require.NoError(t, err)
		rs, err := runStatement(t.Context(), mock, stmt)
		require.NoError(t, err)

		assert.Equal(t, int64(1), rs.Affected)
		assert.Equal(t, 0, rs.Len())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should route returning mutations through the query path", func(t *testing.T) {
		mock, err := pgxmock.NewConn()
		require.NoError(t, err)
		defer mock.Close(t.Context())

		mock.ExpectQuery(`INSERT INTO "table1" \("value1"\) VALUES \(\$1\) RETURNING \*`).
			WithArgs("test1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "value1"}).AddRow(int64(1), "test1"))

		stmt, err := query.Insert("table1").
			Values(map[string]any{"value1": "test1"}).
			Returning().
			Compile()
		require.NoError(t, err)
		rs, err := runStatement(t.Context(), mock, stmt)
		require.NoError(t, err)

		row, ok := rs.First()
		require.True(t, ok)
		assert.Equal(t, int64(1), row["id"])
		assert.Equal(t, "test1", row["value1"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("Should map an undefined column rejection", func(t *testing.T) {
		mock, err := pgxmock.NewConn()
		require.NoError(t, err)
		defer mock.Close(t.Context())

		mock.ExpectQuery(`SELECT "valuexxx" FROM "table1"`).
			WillReturnError(&pgconn.PgError{
				Code:    "42703",
				Message: `column "valuexxx" does not exist`,
			})

		stmt, err := query.Select("valuexxx").From("table1").Compile()
		require.NoError(t, err)
		_, err = runStatement(t.Context(), mock, stmt)

		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, ExecUndefinedColumn, execErr.Kind)
		assert.Equal(t, "valuexxx", execErr.Column)
		assert.Contains(t, err.Error(), `column "valuexxx" does not exist`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRowSet_Column(t *testing.T) {
	t.Run("Should project one column as a flat ordered slice", func(t *testing.T) {
		rs := &RowSet{
			Columns: []string{"id"},
			Rows:    []Row{{"id": int64(3)}, {"id": int64(1)}, {"id": int64(2)}},
		}
		assert.Equal(t, []any{int64(3), int64(1), int64(2)}, rs.Column("id"))
	})
	t.Run("Should return an empty slice for an empty set", func(t *testing.T) {
		rs := &RowSet{}
		assert.Empty(t, rs.Column("id"))
		_, ok := rs.First()
		assert.False(t, ok)
	})
}

func TestHandleRun(t *testing.T) {
	t.Run("Should surface builder errors before touching the connection", func(t *testing.T) {
		mock, err := pgxmock.NewConn()
		require.NoError(t, err)
		defer mock.Close(t.Context())

		p := NewPoolWithDialer(&Config{PoolSize: 1}, func(ctx context.Context) (DriverConn, error) {
			return mock, nil
		})
		h, err := p.Acquire(t.Context())
		require.NoError(t, err)
		defer h.Release()

		_, err = h.Run(t.Context(), query.Insert("table1"))
		var builderErr *query.BuilderError
		require.ErrorAs(t, err, &builderErr)
		assert.Equal(t, query.ErrEmptyPayload, builderErr.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
