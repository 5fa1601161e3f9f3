package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Select(t *testing.T) {
	t.Run("Should compile a bare select star", func(t *testing.T) {
		stmt, err := Select().From("table1").Compile()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "table1"`, stmt.SQL)
		assert.Empty(t, stmt.Args)
		assert.True(t, stmt.Returns)
	})
	t.Run("Should compile projection with predicate and ordering", func(t *testing.T) {
		stmt, err := Select("id", "value1").
			From("table1").
			WhereEq("value1", "test1").
			OrderByDesc("id").
			Compile()
		require.NoError(t, err)
		assert.Equal(t, `SELECT "id", "value1" FROM "table1" WHERE "value1" = $1 ORDER BY "id" DESC`, stmt.SQL)
		assert.Equal(t, []any{"test1"}, stmt.Args)
	})
	t.Run("Should compile an inner join on an explicit column pair", func(t *testing.T) {
		stmt, err := Select("table2.value2").
			From("table1").
			Join("table2", "table1.id", "table2.table1_id").
			WhereEq("table1.id", 1).
			Compile()
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "table2"."value2" FROM "table1" JOIN "table2" ON "table1"."id" = "table2"."table1_id" WHERE "table1"."id" = $1`,
			stmt.SQL)
		assert.Equal(t, []any{1}, stmt.Args)
	})
	t.Run("Should bind the limit as a parameter", func(t *testing.T) {
		stmt, err := Select().From("table1").Limit(5).Compile()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "table1" LIMIT $1`, stmt.SQL)
		assert.Equal(t, []any{int64(5)}, stmt.Args)
	})
	t.Run("Should fail without a table", func(t *testing.T) {
		_, err := Select("id").Compile()
		require.Error(t, err)
		assert.True(t, errors.Is(err, &BuilderError{Kind: ErrMissingTable}))
	})
}

func TestCompile_Predicates(t *testing.T) {
	t.Run("Should compile whereIn with values as positional parameters", func(t *testing.T) {
		stmt, err := Select().From("table1").WhereIn("id", 1, 2, 3).Compile()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "table1" WHERE "id" IN ($1, $2, $3)`, stmt.SQL)
		assert.Equal(t, []any{1, 2, 3}, stmt.Args)
	})
	t.Run("Should compile empty whereIn to a match-nothing predicate", func(t *testing.T) {
		stmt, err := Select().From("table1").WhereIn("id").Compile()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "table1" WHERE (1 = 0)`, stmt.SQL)
		assert.Empty(t, stmt.Args)
	})
	t.Run("Should conjoin repeated where calls", func(t *testing.T) {
		stmt, err := Select().From("t").WhereEq("a", 1).Where(Gt("b", 2)).Compile()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "t" WHERE ("a" = $1 AND "b" > $2)`, stmt.SQL)
		assert.Equal(t, []any{1, 2}, stmt.Args)
	})
	t.Run("Should nest disjunctions inside conjunctions", func(t *testing.T) {
		stmt, err := Select().From("t").
			Where(And(Eq("a", 1), Or(Lt("b", 2), Gte("c", 3)))).
			Compile()
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "t" WHERE ("a" = $1 AND ("b" < $2 OR "c" >= $3))`, stmt.SQL)
		assert.Equal(t, []any{1, 2, 3}, stmt.Args)
	})
	t.Run("Should keep placeholder order aligned with args", func(t *testing.T) {
		stmt, err := Select().From("t").
			Where(Or(Eq("a", "x"), In("b", 10, 20), NotEq("c", false))).
			Limit(1).
			Compile()
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT * FROM "t" WHERE ("a" = $1 OR "b" IN ($2, $3) OR "c" <> $4) LIMIT $5`,
			stmt.SQL)
		assert.Equal(t, []any{"x", 10, 20, false, int64(1)}, stmt.Args)
	})
}

func TestCompile_Insert(t *testing.T) {
	t.Run("Should compile insert with sorted columns", func(t *testing.T) {
		stmt, err := Insert("table1").
			Values(map[string]any{"value1": "test1", "id": 7}).
			Compile()
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "table1" ("id", "value1") VALUES ($1, $2)`, stmt.SQL)
		assert.Equal(t, []any{7, "test1"}, stmt.Args)
		assert.False(t, stmt.Returns)
	})
	t.Run("Should compile returning star", func(t *testing.T) {
		stmt, err := Insert("table1").
			Values(map[string]any{"value1": "test1"}).
			Returning().
			Compile()
		require.NoError(t, err)
		assert.Equal(t, `INSERT INTO "table1" ("value1") VALUES ($1) RETURNING *`, stmt.SQL)
		assert.True(t, stmt.Returns)
	})
	t.Run("Should reject an empty payload", func(t *testing.T) {
		_, err := Insert("table1").Compile()
		require.Error(t, err)
		assert.True(t, errors.Is(err, &BuilderError{Kind: ErrEmptyPayload}))
	})
	t.Run("Should reject returning on a dialect without support", func(t *testing.T) {
		_, err := Insert("table1").
			Dialect(Generic).
			Values(map[string]any{"value1": "test1"}).
			Returning("id").
			Compile()
		require.Error(t, err)
		assert.True(t, errors.Is(err, &BuilderError{Kind: ErrUnsupportedClause}))
	})
}

func TestCompile_Update(t *testing.T) {
	t.Run("Should compile update with predicate and returning", func(t *testing.T) {
		stmt, err := Update("table1").
			Set("value1", "changed").
			WhereEq("id", 1).
			Returning("id", "value1").
			Compile()
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "table1" SET "value1" = $1 WHERE "id" = $2 RETURNING "id", "value1"`, stmt.SQL)
		assert.Equal(t, []any{"changed", 1}, stmt.Args)
		assert.True(t, stmt.Returns)
	})
	t.Run("Should reject an empty payload", func(t *testing.T) {
		_, err := Update("table1").WhereEq("id", 1).Compile()
		require.Error(t, err)
		assert.True(t, errors.Is(err, &BuilderError{Kind: ErrEmptyPayload}))
	})
}

func TestCompile_Delete(t *testing.T) {
	t.Run("Should compile delete with membership predicate", func(t *testing.T) {
		stmt, err := Delete("table1").WhereIn("id", 1, 2).Compile()
		require.NoError(t, err)
		assert.Equal(t, `DELETE FROM "table1" WHERE "id" IN ($1, $2)`, stmt.SQL)
		assert.Equal(t, []any{1, 2}, stmt.Args)
	})
}

func TestCompile_DDL(t *testing.T) {
	t.Run("Should compile create table if not exists", func(t *testing.T) {
		stmt, err := CreateTable("table1").
			IfNotExists().
			Column("id", "bigserial", "PRIMARY KEY").
			Column("value1", "text", "NOT NULL").
			Compile()
		require.NoError(t, err)
		assert.Equal(t,
			`CREATE TABLE IF NOT EXISTS "table1" ("id" bigserial PRIMARY KEY, "value1" text NOT NULL)`,
			stmt.SQL)
		assert.Empty(t, stmt.Args)
	})
	t.Run("Should compile alter table add and drop", func(t *testing.T) {
		stmt, err := AlterTable("table1").
			AddColumn("value2", "text").
			DropColumn("value1").
			Compile()
		require.NoError(t, err)
		assert.Equal(t, `ALTER TABLE "table1" ADD COLUMN "value2" text, DROP COLUMN "value1"`, stmt.SQL)
	})
	t.Run("Should reject create table without columns", func(t *testing.T) {
		_, err := CreateTable("table1").Compile()
		require.Error(t, err)
		assert.True(t, errors.Is(err, &BuilderError{Kind: ErrMissingColumns}))
	})
}

func TestQuoteIdent(t *testing.T) {
	t.Run("Should quote dotted identifiers per segment", func(t *testing.T) {
		assert.Equal(t, `"a"."b"`, quoteIdent("a.b"))
	})
	t.Run("Should double embedded quotes", func(t *testing.T) {
		assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
	})
	t.Run("Should pass star through", func(t *testing.T) {
		assert.Equal(t, `*`, quoteIdent("*"))
		assert.Equal(t, `"t".*`, quoteIdent("t.*"))
	})
}
