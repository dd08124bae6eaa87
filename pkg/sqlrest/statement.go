package sqlrest

import "strings"

// Operation is the statement kind reported by Classify.
type Operation string

const (
	OpSelect  Operation = "SELECT"
	OpInsert  Operation = "INSERT"
	OpUpdate  Operation = "UPDATE"
	OpDelete  Operation = "DELETE"
	OpUnknown Operation = "UNKNOWN"
)

// Row is a single result record keyed by column name.
type Row = map[string]any

// RawStatement is SQL text with positional ($1, $2, ...) parameters.
type RawStatement struct {
	Text   string
	Params []any
}

// ParsedStatement is the classification of a RawStatement.
type ParsedStatement struct {
	Operation    Operation
	Table        string
	HasWhere     bool
	HasLimit     bool
	HasCount     bool
	HasReturning bool
	Original     RawStatement
}

// Operator is a filter comparison supported on the table-query path.
type Operator string

const (
	Equals Operator = "EQUALS"
	ILike  Operator = "ILIKE"
)

// WhereCondition is one conjunct of a WHERE clause. Field is set for
// semi-structured lookups such as data->>'email'.
type WhereCondition struct {
	Column   string
	Field    string
	Operator Operator
	Value    any
}

// Path renders the column in PostgREST notation (data->>email).
func (c WhereCondition) Path() string {
	return columnPath(c.Column, c.Field)
}

// OrderSpec is a single ORDER BY column.
type OrderSpec struct {
	Column    string
	Field     string
	Ascending bool
}

// Path renders the column in PostgREST notation.
func (o OrderSpec) Path() string {
	return columnPath(o.Column, o.Field)
}

// LimitSpec holds resolved LIMIT and OFFSET values. Nil means absent.
type LimitSpec struct {
	Limit  *int
	Offset *int
}

// IsZero reports whether neither LIMIT nor OFFSET was given.
func (l LimitSpec) IsZero() bool {
	return l.Limit == nil && l.Offset == nil
}

func columnPath(column, field string) string {
	if field == "" {
		return column
	}
	return column + "->>" + field
}

// SplitTable splits a possibly schema-qualified table name.
func SplitTable(name string) (schema, table string) {
	if s, t, ok := strings.Cut(name, "."); ok {
		return s, t
	}
	return "", name
}
