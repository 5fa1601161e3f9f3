package query

import (
	"fmt"
	"sort"
	"strings"
)

// Statement is parameterized SQL ready for execution. It is immutable once
// produced; placeholder positions and Args always have matching arity and
// order.
type Statement struct {
	SQL  string
	Args []any
	// Returns reports whether executing the statement produces a row set
	// (SELECT, or a mutation carrying RETURNING).
	Returns bool
}

type compiler struct {
	dialect Dialect
	sql     strings.Builder
	args    []any
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return c.dialect.Placeholder(len(c.args))
}

// Compile renders the builder to a Statement. It validates structure first so
// malformed queries fail locally and never reach the database.
func (b Builder) Compile() (Statement, error) {
	if b.table == "" {
		return Statement{}, builderErrf(ErrMissingTable, "%s statement has no target table", kindName(b.kind))
	}
	c := &compiler{dialect: b.effectiveDialect()}
	var err error
	switch b.kind {
	case KindSelect:
		err = c.compileSelect(b)
	case KindInsert:
		err = c.compileInsert(b)
	case KindUpdate:
		err = c.compileUpdate(b)
	case KindDelete:
		err = c.compileDelete(b)
	case KindCreateTable:
		err = c.compileCreateTable(b)
	case KindAlterTable:
		err = c.compileAlterTable(b)
	default:
		err = builderErrf(ErrMissingColumns, "unknown statement kind %d", b.kind)
	}
	if err != nil {
		return Statement{}, err
	}
	returns := b.kind == KindSelect || len(b.returning) > 0
	return Statement{SQL: c.sql.String(), Args: c.args, Returns: returns}, nil
}

func (c *compiler) compileSelect(b Builder) error {
	c.sql.WriteString("SELECT ")
	if len(b.columns) == 0 {
		c.sql.WriteString("*")
	} else {
		c.sql.WriteString(identList(b.columns))
	}
	c.sql.WriteString(" FROM ")
	c.sql.WriteString(quoteIdent(b.table))
	for _, j := range b.joins {
		fmt.Fprintf(&c.sql, " %s %s ON %s = %s",
			j.Kind, quoteIdent(j.Table), quoteIdent(j.LeftColumn), quoteIdent(j.RightColumn))
	}
	c.writeWhere(b.where)
	if len(b.orders) > 0 {
		c.sql.WriteString(" ORDER BY ")
		for i, o := range b.orders {
			if i > 0 {
				c.sql.WriteString(", ")
			}
			c.sql.WriteString(quoteIdent(o.Column))
			if o.Desc {
				c.sql.WriteString(" DESC")
			}
		}
	}
	if b.limit >= 0 {
		c.sql.WriteString(" LIMIT ")
		c.sql.WriteString(c.bind(b.limit))
	}
	return nil
}

func (c *compiler) compileInsert(b Builder) error {
	if len(b.values) == 0 {
		return builderErrf(ErrEmptyPayload, "insert into %q has no values", b.table)
	}
	cols := sortedKeys(b.values)
	c.sql.WriteString("INSERT INTO ")
	c.sql.WriteString(quoteIdent(b.table))
	c.sql.WriteString(" (")
	c.sql.WriteString(identList(cols))
	c.sql.WriteString(") VALUES (")
	for i, col := range cols {
		if i > 0 {
			c.sql.WriteString(", ")
		}
		c.sql.WriteString(c.bind(b.values[col]))
	}
	c.sql.WriteString(")")
	return c.writeReturning(b)
}

func (c *compiler) compileUpdate(b Builder) error {
	if len(b.values) == 0 {
		return builderErrf(ErrEmptyPayload, "update of %q has no values", b.table)
	}
	cols := sortedKeys(b.values)
	c.sql.WriteString("UPDATE ")
	c.sql.WriteString(quoteIdent(b.table))
	c.sql.WriteString(" SET ")
	for i, col := range cols {
		if i > 0 {
			c.sql.WriteString(", ")
		}
		c.sql.WriteString(quoteIdent(col))
		c.sql.WriteString(" = ")
		c.sql.WriteString(c.bind(b.values[col]))
	}
	c.writeWhere(b.where)
	return c.writeReturning(b)
}

func (c *compiler) compileDelete(b Builder) error {
	c.sql.WriteString("DELETE FROM ")
	c.sql.WriteString(quoteIdent(b.table))
	c.writeWhere(b.where)
	return c.writeReturning(b)
}

func (c *compiler) compileCreateTable(b Builder) error {
	if len(b.defs) == 0 {
		return builderErrf(ErrMissingColumns, "create table %q has no column definitions", b.table)
	}
	c.sql.WriteString("CREATE TABLE ")
	if b.ifNotExists {
		c.sql.WriteString("IF NOT EXISTS ")
	}
	c.sql.WriteString(quoteIdent(b.table))
	c.sql.WriteString(" (")
	for i, def := range b.defs {
		if i > 0 {
			c.sql.WriteString(", ")
		}
		c.writeColumnDef(def)
	}
	c.sql.WriteString(")")
	return nil
}

func (c *compiler) compileAlterTable(b Builder) error {
	if len(b.defs) == 0 && len(b.drops) == 0 {
		return builderErrf(ErrMissingColumns, "alter table %q has no clauses", b.table)
	}
	c.sql.WriteString("ALTER TABLE ")
	c.sql.WriteString(quoteIdent(b.table))
	first := true
	for _, def := range b.defs {
		if !first {
			c.sql.WriteString(",")
		}
		first = false
		c.sql.WriteString(" ADD COLUMN ")
		c.writeColumnDef(def)
	}
	for _, name := range b.drops {
		if !first {
			c.sql.WriteString(",")
		}
		first = false
		c.sql.WriteString(" DROP COLUMN ")
		c.sql.WriteString(quoteIdent(name))
	}
	return nil
}

func (c *compiler) writeColumnDef(def ColumnDef) {
	c.sql.WriteString(quoteIdent(def.Name))
	c.sql.WriteString(" ")
	c.sql.WriteString(def.Type)
	if def.Constraint != "" {
		c.sql.WriteString(" ")
		c.sql.WriteString(def.Constraint)
	}
}

func (c *compiler) writeWhere(cond Cond) {
	if cond == nil {
		return
	}
	rendered := c.renderCond(cond)
	if rendered == "" {
		return
	}
	c.sql.WriteString(" WHERE ")
	c.sql.WriteString(rendered)
}

func (c *compiler) renderCond(cond Cond) string {
	switch n := cond.(type) {
	case compareCond:
		return fmt.Sprintf("%s %s %s", quoteIdent(n.column), n.op, c.bind(n.value))
	case inCond:
		if len(n.values) == 0 {
			// Matches nothing; an empty membership set must yield zero rows,
			// not invalid SQL.
			return "(1 = 0)"
		}
		parts := make([]string, len(n.values))
		for i, v := range n.values {
			parts[i] = c.bind(v)
		}
		return fmt.Sprintf("%s IN (%s)", quoteIdent(n.column), strings.Join(parts, ", "))
	case logicCond:
		if len(n.conds) == 0 {
			return ""
		}
		parts := make([]string, 0, len(n.conds))
		for _, sub := range n.conds {
			if r := c.renderCond(sub); r != "" {
				parts = append(parts, r)
			}
		}
		if len(parts) == 0 {
			return ""
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return "(" + strings.Join(parts, " "+n.op+" ") + ")"
	default:
		return ""
	}
}

func (c *compiler) writeReturning(b Builder) error {
	if len(b.returning) == 0 {
		return nil
	}
	if !c.dialect.SupportsReturning() {
		return builderErrf(ErrUnsupportedClause, "dialect %q does not support RETURNING", c.dialect.Name())
	}
	c.sql.WriteString(" RETURNING ")
	c.sql.WriteString(identList(b.returning))
	return nil
}

// quoteIdent escapes an identifier, quoting each dot-separated segment so
// "a.b" becomes "a"."b". A bare or trailing "*" passes through unquoted.
func quoteIdent(ident string) string {
	if ident == "*" {
		return ident
	}
	segs := strings.Split(ident, ".")
	for i, s := range segs {
		if s == "*" {
			continue
		}
		segs[i] = `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return strings.Join(segs, ".")
}

func identList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func kindName(k Kind) string {
	switch k {
	case KindSelect:
		return "select"
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindCreateTable:
		return "create table"
	case KindAlterTable:
		return "alter table"
	default:
		return "unknown"
	}
}
