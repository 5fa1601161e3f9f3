package query

// Cond is a node in a predicate tree. Conditions are values: composing them
// never mutates their inputs.
type Cond interface {
	isCond()
}

type compareCond struct {
	column string
	op     string
	value  any
}

func (compareCond) isCond() {}

type inCond struct {
	column string
	values []any
}

func (inCond) isCond() {}

type logicCond struct {
	op    string // "AND" or "OR"
	conds []Cond
}

func (logicCond) isCond() {}

// Eq matches rows where column = value.
func Eq(column string, value any) Cond { return compareCond{column, "=", value} }

// NotEq matches rows where column <> value.
func NotEq(column string, value any) Cond { return compareCond{column, "<>", value} }

// Gt matches rows where column > value.
func Gt(column string, value any) Cond { return compareCond{column, ">", value} }

// Gte matches rows where column >= value.
func Gte(column string, value any) Cond { return compareCond{column, ">=", value} }

// Lt matches rows where column < value.
func Lt(column string, value any) Cond { return compareCond{column, "<", value} }

// Lte matches rows where column <= value.
func Lte(column string, value any) Cond { return compareCond{column, "<=", value} }

// In matches rows where column is one of values. An empty value set compiles
// to a predicate that matches nothing, which is valid SQL and yields zero
// rows rather than a syntax error.
func In(column string, values ...any) Cond {
	vs := make([]any, len(values))
	copy(vs, values)
	return inCond{column: column, values: vs}
}

// And combines conditions conjunctively. Nil conditions are skipped.
func And(conds ...Cond) Cond { return combine("AND", conds) }

// Or combines conditions disjunctively. Nil conditions are skipped.
func Or(conds ...Cond) Cond { return combine("OR", conds) }

func combine(op string, conds []Cond) Cond {
	kept := make([]Cond, 0, len(conds))
	for _, c := range conds {
		if c != nil {
			kept = append(kept, c)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return logicCond{op: op, conds: kept}
}
