package postgresttest

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// lookup resolves "col" or "col->>field" against a row. The arrow form yields
// text like PostgreSQL's ->> operator.
func lookup(row Row, path string) (any, bool) {
	column, field, isField := strings.Cut(path, "->>")
	v, ok := row[column]
	if !ok {
		return nil, false
	}
	if !isField {
		return v, true
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, true
	}
	fv, ok := doc[field]
	if !ok || fv == nil {
		return nil, true
	}
	return text(fv), true
}

// text renders a value the way PostgreSQL casts it to text.
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	}
	b, _ := json.Marshal(v)
	return strings.Trim(string(b), `"`)
}

func matches(row Row, filters []filterParam) (bool, error) {
	for _, f := range filters {
		v, ok := lookup(row, f.Column)
		if !ok {
			return false, &Error{Status: 400, Code: "42703", Message: "column " + f.Column + " does not exist"}
		}
		if !compare(v, f) {
			return false, nil
		}
	}
	return true, nil
}

func compare(v any, f filterParam) bool {
	if f.Operator == "is" {
		switch f.Value {
		case "null":
			return v == nil
		case "true", "false":
			return v != nil && text(v) == f.Value
		}
		return false
	}
	if v == nil {
		return false
	}

	switch f.Operator {
	case "eq":
		return equal(v, f.Value)
	case "neq":
		return !equal(v, f.Value)
	case "like":
		return likePattern(f.Value, false).MatchString(text(v))
	case "ilike":
		return likePattern(f.Value, true).MatchString(text(v))
	}
	c := order(v, f.Value)
	switch f.Operator {
	case "gt":
		return c > 0
	case "gte":
		return c >= 0
	case "lt":
		return c < 0
	case "lte":
		return c <= 0
	}
	return false
}

func equal(v any, operand string) bool {
	if n, ok := v.(float64); ok {
		if m, err := strconv.ParseFloat(operand, 64); err == nil {
			return n == m
		}
	}
	if t, ok := timeValue(text(v)); ok {
		if u, ok := timeValue(operand); ok {
			return t.Equal(u)
		}
	}
	return text(v) == operand
}

// order compares v to operand numerically, chronologically or as text.
func order(v any, operand string) int {
	a, b := text(v), operand
	if x, err := strconv.ParseFloat(a, 64); err == nil {
		if y, err := strconv.ParseFloat(b, 64); err == nil {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if t, ok := timeValue(a); ok {
		if u, ok := timeValue(b); ok {
			return t.Compare(u)
		}
	}
	return strings.Compare(a, b)
}

func timeValue(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	return t, err == nil
}

// likePattern turns a LIKE pattern into an anchored regexp. PostgREST also
// accepts * for %. A backslash makes the next character literal.
func likePattern(pattern string, fold bool) *regexp.Regexp {
	var b strings.Builder
	if fold {
		b.WriteString("(?is)")
	} else {
		b.WriteString("(?s)")
	}
	b.WriteByte('^')
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%', '*':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}

func sortRows(rows []Row, terms []orderParam) {
	if len(terms) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, term := range terms {
			a, _ := lookup(rows[i], term.Column)
			b, _ := lookup(rows[j], term.Column)
			switch {
			case a == nil && b == nil:
				continue
			case a == nil:
				return term.NullsFirst
			case b == nil:
				return !term.NullsFirst
			}
			c := order(a, text(b))
			if c == 0 {
				continue
			}
			if term.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func project(row Row, columns []string) Row {
	if len(columns) == 0 {
		return row
	}
	out := make(Row, len(columns))
	for _, col := range columns {
		if v, ok := lookup(row, col); ok {
			out[col] = v
		}
	}
	return out
}
