package query

import "fmt"

// BuilderErrorKind classifies query construction failures. These are local
// errors: a statement that fails to compile is never sent to the database.
type BuilderErrorKind string

const (
	// ErrEmptyPayload marks an Insert or Update built with no values.
	ErrEmptyPayload BuilderErrorKind = "empty_payload"
	// ErrUnsupportedClause marks a clause the target dialect cannot emit.
	ErrUnsupportedClause BuilderErrorKind = "unsupported_clause"
	// ErrMissingTable marks a statement built without a target table.
	ErrMissingTable BuilderErrorKind = "missing_table"
	// ErrMissingColumns marks a statement that requires columns but has none.
	ErrMissingColumns BuilderErrorKind = "missing_columns"
)

// BuilderError reports a malformed query construction.
type BuilderError struct {
	Kind   BuilderErrorKind
	Detail string
}

func (e *BuilderError) Error() string {
	return fmt.Sprintf("query: %s: %s", e.Kind, e.Detail)
}

// Is lets callers match on kind with errors.Is against a bare-kind template.
func (e *BuilderError) Is(target error) bool {
	t, ok := target.(*BuilderError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Detail == "" || t.Detail == e.Detail)
}

func builderErrf(kind BuilderErrorKind, format string, args ...any) *BuilderError {
	return &BuilderError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
