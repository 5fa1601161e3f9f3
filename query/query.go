// Package query builds SQL statements as immutable expression trees and
// compiles them to parameterized text. Values never appear in the generated
// SQL; they are always bound as positional parameters.
package query

import "fmt"

// Kind identifies the statement variant a Builder produces.
type Kind int

const (
	KindSelect Kind = iota
	KindInsert
	KindUpdate
	KindDelete
	KindCreateTable
	KindAlterTable
)

// JoinKind selects the join flavor.
type JoinKind string

const (
	InnerJoin JoinKind = "JOIN"
	LeftJoin  JoinKind = "LEFT JOIN"
)

// Join declares a join on an explicit column pair.
type Join struct {
	Kind        JoinKind
	Table       string
	LeftColumn  string
	RightColumn string
}

// Order declares one ordering clause.
type Order struct {
	Column string
	Desc   bool
}

// ColumnDef declares one column of a CREATE TABLE or ADD COLUMN clause.
// Type and Constraint are emitted verbatim; they describe schema, not values.
type ColumnDef struct {
	Name       string
	Type       string
	Constraint string
}

// Dialect abstracts over backend SQL flavors. Postgres is the primary target;
// Generic exists for backends without RETURNING support.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	SupportsReturning() bool
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) SupportsReturning() bool { return true }

type genericDialect struct{}

func (genericDialect) Name() string { return "generic" }
func (genericDialect) Placeholder(int) string { return "?" }
func (genericDialect) SupportsReturning() bool { return false }

// Postgres emits $N placeholders and supports RETURNING.
var Postgres Dialect = postgresDialect{}

// Generic emits ? placeholders and rejects RETURNING at compile time.
var Generic Dialect = genericDialect{}

// Builder is an immutable description of one SQL statement. Chain methods
// return a new Builder; the receiver is never modified, so a partially built
// query can be shared and extended in several directions safely.
type Builder struct {
	kind      Kind
	dialect   Dialect
	table     string
	columns   []string
	values    map[string]any
	where     Cond
	joins     []Join
	orders    []Order
	limit     int64
	returning []string

	defs        []ColumnDef // CreateTable / AlterTable additions
	drops       []string    // AlterTable drops
	ifNotExists bool
}

// Select starts a SELECT over the given projection. Use "*" (or no columns)
// to project everything.
func Select(columns ...string) Builder {
	return Builder{kind: KindSelect, columns: cloneSlice(columns), limit: -1}
}

// Insert starts an INSERT into table.
func Insert(table string) Builder {
	return Builder{kind: KindInsert, table: table, limit: -1}
}

// Update starts an UPDATE of table.
func Update(table string) Builder {
	return Builder{kind: KindUpdate, table: table, limit: -1}
}

// Delete starts a DELETE from table.
func Delete(table string) Builder {
	return Builder{kind: KindDelete, table: table, limit: -1}
}

// CreateTable starts a CREATE TABLE statement.
func CreateTable(table string) Builder {
	return Builder{kind: KindCreateTable, table: table, limit: -1}
}

// AlterTable starts an ALTER TABLE statement.
func AlterTable(table string) Builder {
	return Builder{kind: KindAlterTable, table: table, limit: -1}
}

// From sets the source table of a SELECT.
func (b Builder) From(table string) Builder {
	b.table = table
	return b
}

// Dialect targets a different SQL dialect. The default is Postgres.
func (b Builder) Dialect(d Dialect) Builder {
	b.dialect = d
	return b
}

// Where narrows the statement. Repeated calls AND the conditions together.
func (b Builder) Where(c Cond) Builder {
	if c == nil {
		return b
	}
	if b.where == nil {
		b.where = c
	} else {
		b.where = And(b.where, c)
	}
	return b
}

// WhereEq is shorthand for Where(Eq(column, value)).
func (b Builder) WhereEq(column string, value any) Builder {
	return b.Where(Eq(column, value))
}

// WhereIn is shorthand for Where(In(column, values...)).
func (b Builder) WhereIn(column string, values ...any) Builder {
	return b.Where(In(column, values...))
}

// Join adds an inner join on table with left = right.
func (b Builder) Join(table, left, right string) Builder {
	b.joins = appendCopy(b.joins, Join{Kind: InnerJoin, Table: table, LeftColumn: left, RightColumn: right})
	return b
}

// LeftJoin adds a left outer join on table with left = right.
func (b Builder) LeftJoin(table, left, right string) Builder {
	b.joins = appendCopy(b.joins, Join{Kind: LeftJoin, Table: table, LeftColumn: left, RightColumn: right})
	return b
}

// OrderBy appends an ascending ordering clause.
func (b Builder) OrderBy(column string) Builder {
	b.orders = appendCopy(b.orders, Order{Column: column})
	return b
}

// OrderByDesc appends a descending ordering clause.
func (b Builder) OrderByDesc(column string) Builder {
	b.orders = appendCopy(b.orders, Order{Column: column, Desc: true})
	return b
}

// Limit caps the number of returned rows.
func (b Builder) Limit(n int64) Builder {
	b.limit = n
	return b
}

// Values sets the column/value payload of an INSERT.
func (b Builder) Values(values map[string]any) Builder {
	b.values = cloneMap(values)
	return b
}

// Set assigns one column of an UPDATE (or INSERT) payload.
func (b Builder) Set(column string, value any) Builder {
	m := cloneMap(b.values)
	if m == nil {
		m = make(map[string]any, 1)
	}
	m[column] = value
	b.values = m
	return b
}

// SetMap merges columns into the UPDATE (or INSERT) payload.
func (b Builder) SetMap(values map[string]any) Builder {
	m := cloneMap(b.values)
	if m == nil {
		m = make(map[string]any, len(values))
	}
	for k, v := range values {
		m[k] = v
	}
	b.values = m
	return b
}

// Returning requests the given columns (or "*") of affected rows back from a
// mutating statement. Compilation fails on dialects without RETURNING.
func (b Builder) Returning(columns ...string) Builder {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	b.returning = cloneSlice(columns)
	return b
}

// Column adds a column definition to a CREATE TABLE.
func (b Builder) Column(name, sqlType string, constraint ...string) Builder {
	def := ColumnDef{Name: name, Type: sqlType}
	if len(constraint) > 0 {
		def.Constraint = constraint[0]
	}
	b.defs = appendCopy(b.defs, def)
	return b
}

// IfNotExists makes a CREATE TABLE tolerate an existing table.
func (b Builder) IfNotExists() Builder {
	b.ifNotExists = true
	return b
}

// AddColumn adds an ADD COLUMN clause to an ALTER TABLE.
func (b Builder) AddColumn(name, sqlType string, constraint ...string) Builder {
	def := ColumnDef{Name: name, Type: sqlType}
	if len(constraint) > 0 {
		def.Constraint = constraint[0]
	}
	b.defs = appendCopy(b.defs, def)
	return b
}

// DropColumn adds a DROP COLUMN clause to an ALTER TABLE.
func (b Builder) DropColumn(name string) Builder {
	b.drops = appendCopy(b.drops, name)
	return b
}

// Kind reports the statement variant.
func (b Builder) Kind() Kind { return b.kind }

// Table reports the target table.
func (b Builder) Table() string { return b.table }

func (b Builder) effectiveDialect() Dialect {
	if b.dialect == nil {
		return Postgres
	}
	return b.dialect
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func appendCopy[T any](in []T, v T) []T {
	out := make([]T, len(in), len(in)+1)
	copy(out, in)
	return append(out, v)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
