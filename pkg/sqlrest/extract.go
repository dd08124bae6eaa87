package sqlrest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUntranslatable marks statements that must take the raw-SQL path.
// Extractors return errors matching it via errors.Is; Reason reports why.
var ErrUntranslatable = errors.New("statement not translatable to a table query")

type escalation string

func (e escalation) Error() string        { return "not translatable: " + string(e) }
func (e escalation) Is(target error) bool { return target == ErrUntranslatable }

const (
	reasonUnknown     escalation = "unknown_statement"
	reasonNoTable     escalation = "no_table"
	reasonFrom        escalation = "from_clause"
	reasonColumns     escalation = "select_list"
	reasonWhere       escalation = "where_unsupported"
	reasonOrder       escalation = "order_unsupported"
	reasonOrderMulti  escalation = "order_multi_column"
	reasonLimit       escalation = "limit_unsupported"
	reasonInsert      escalation = "insert_shape"
	reasonUpdate      escalation = "update_shape"
	reasonDelete      escalation = "delete_filter"
	reasonNoReturning escalation = "no_returning"
)

// Reason returns the escalation reason carried by err, or "".
func Reason(err error) string {
	var e escalation
	if errors.As(err, &e) {
		return string(e)
	}
	return ""
}

const (
	columnPattern = `[a-z_][a-z0-9_]*`
	valuePattern  = `(\$\d+|'[^']*'|-?\d+(?:\.\d+)?|true|false)(?:\s*::\s*[a-z_]+)?`
)

var (
	whereKeyword = regexp.MustCompile(`(?i)\bwhere\b`)
	clauseEnd    = regexp.MustCompile(`(?i)\b(?:order\s+by|group\s+by|having|limit|offset|fetch|returning|for\s+(?:update|share|no\s+key\s+update|key\s+share)|window)\b|;`)
	andSeparator = regexp.MustCompile(`(?i)\s+and\s+`)
	condition    = regexp.MustCompile(`(?i)^\s*(` + columnPattern + `)(?:\s*->>\s*'([^']*)')?\s*(=|ilike)\s*` + valuePattern + `\s*$`)
	jsonField    = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

	orderKeyword = regexp.MustCompile(`(?i)\border\s+by\b`)
	orderTerm    = regexp.MustCompile(`(?i)^\s*(` + columnPattern + `)(?:\s*->>\s*'([^']*)')?(?:\s+(asc|desc))?\s*$`)

	limitKeyword  = regexp.MustCompile(`(?i)\blimit\b`)
	limitClause   = regexp.MustCompile(`(?i)\blimit\s+(\$\d+|\d+|all)\s*(?:$|;|\boffset\b|\bfor\b)`)
	offsetKeyword = regexp.MustCompile(`(?i)\boffset\b`)
	offsetClause  = regexp.MustCompile(`(?i)\boffset\s+(\$\d+|\d+)(?:\s+rows?)?\s*(?:$|;|\blimit\b|\bfor\b)`)
	fetchClause   = regexp.MustCompile(`(?i)\bfetch\s+(?:first|next)\b`)

	selectList = regexp.MustCompile(`(?is)^\s*select\s+(.+?)\s+from\b`)
	countExpr  = regexp.MustCompile(`(?i)^count\s*\(\s*(?:\*|1)\s*\)(?:\s+(?:as\s+)?(` + columnPattern + `))?$`)
	bareColumn = regexp.MustCompile(`(?i)^` + columnPattern + `$`)
	fromTable  = regexp.MustCompile(`(?i)\bfrom\s+(?:only\s+)?` + identPattern)
	fromTail   = regexp.MustCompile(`(?is)^\s*(?:$|;|where\b|order\s+by\b|limit\b|offset\b)`)
	returning  = regexp.MustCompile(`(?is)\breturning\s+(.+?)\s*;?\s*$`)

	insertShape = regexp.MustCompile(`(?is)^\s*insert\s+into\s+` + identPattern + `\s*(?:\(([^)]*)\))?\s*values\s*\(([^)]*)\)\s*returning\b`)
	updateShape = regexp.MustCompile(`(?is)^\s*update\s+(?:only\s+)?` + identPattern + `\s+set\s+(.+?)\s+where\b`)
	placeholder = regexp.MustCompile(`(?i)^\s*\$(\d+)(?:\s*::\s*[a-z_]+)?\s*$`)
	assignment  = regexp.MustCompile(`(?i)^\s*(` + columnPattern + `)\s*=\s*\$(\d+)(?:\s*::\s*[a-z_]+)?\s*$`)
)

// source pairs the original text with its masked form. Regular expressions
// run on the masked text; values are sliced from the original at the same
// offsets.
type source struct {
	text   string
	masked string
	params []any
}

func newSource(stmt RawStatement) source {
	return source{text: stmt.Text, masked: mask(stmt.Text), params: stmt.Params}
}

// ExtractWhere returns the AND-combined conditions of the WHERE clause. A
// statement without WHERE yields no conditions and no error.
func ExtractWhere(stmt RawStatement) ([]WhereCondition, error) {
	return newSource(stmt).where()
}

// ExtractOrder returns the single ORDER BY column, or nil when absent.
func ExtractOrder(stmt RawStatement) (*OrderSpec, error) {
	return newSource(stmt).order()
}

// ExtractLimit resolves LIMIT and OFFSET. Each is read from its own literal
// or its own placeholder; there is no positional fallback.
func ExtractLimit(stmt RawStatement) (LimitSpec, error) {
	return newSource(stmt).limit()
}

func (s source) clauseEnd(start int) int {
	if loc := clauseEnd.FindStringIndex(s.masked[start:]); loc != nil {
		return start + loc[0]
	}
	return len(s.masked)
}

func (s source) where() ([]WhereCondition, error) {
	loc := whereKeyword.FindStringIndex(s.masked)
	if loc == nil {
		return nil, nil
	}
	start, end := loc[1], s.clauseEnd(loc[1])
	body, orig := s.masked[start:end], s.text[start:end]
	if strings.TrimSpace(body) == "" {
		return nil, reasonWhere
	}

	var conds []WhereCondition
	from := 0
	for _, sep := range andSeparator.FindAllStringIndex(body, -1) {
		c, err := s.condition(body[from:sep[0]], orig[from:sep[0]])
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
		from = sep[1]
	}
	c, err := s.condition(body[from:], orig[from:])
	if err != nil {
		return nil, err
	}
	return append(conds, c), nil
}

func (s source) condition(masked, orig string) (WhereCondition, error) {
	idx := condition.FindStringSubmatchIndex(masked)
	if idx == nil {
		return WhereCondition{}, reasonWhere
	}

	cond := WhereCondition{
		Column:   strings.ToLower(orig[idx[2]:idx[3]]),
		Operator: Equals,
	}
	if idx[4] >= 0 {
		cond.Field = orig[idx[4]:idx[5]]
		if !jsonField.MatchString(cond.Field) {
			return WhereCondition{}, reasonWhere
		}
	}
	if strings.EqualFold(masked[idx[6]:idx[7]], "ilike") {
		cond.Operator = ILike
	}

	v, err := s.value(orig[idx[8]:idx[9]])
	if err != nil {
		return WhereCondition{}, err
	}
	v, ok := filterValue(v)
	if !ok {
		return WhereCondition{}, reasonWhere
	}
	if cond.Operator == ILike {
		// The table API reads * in a pattern as %.
		if p, isText := v.(string); !isText || strings.ContainsRune(p, '*') {
			return WhereCondition{}, reasonWhere
		}
	}
	cond.Value = v
	return cond, nil
}

// filterValue reports whether v can be compared as a single scalar in a table
// filter. Non-nil pointers are dereferenced.
func filterValue(v any) (any, bool) {
	switch v.(type) {
	case nil, string, bool, json.Number, time.Time:
		return v, true
	case []byte, json.RawMessage:
		return nil, false
	case fmt.Stringer:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return nil, false
			}
			return filterValue(rv.Elem().Interface())
		}
		return v, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false
		}
		return filterValue(rv.Elem().Interface())
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v, true
	}
	return nil, false
}

// value resolves a placeholder, string, numeric or boolean token.
func (s source) value(tok string) (any, error) {
	switch {
	case strings.HasPrefix(tok, "$"):
		n, err := strconv.Atoi(tok[1:])
		if err != nil {
			n = 0
		}
		return param(s.params, n)
	case strings.HasPrefix(tok, "'"):
		return strings.ReplaceAll(tok[1:len(tok)-1], "''", "'"), nil
	case strings.EqualFold(tok, "true"):
		return true, nil
	case strings.EqualFold(tok, "false"):
		return false, nil
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, reasonWhere
	}
	return f, nil
}

func (s source) order() (*OrderSpec, error) {
	loc := orderKeyword.FindStringIndex(s.masked)
	if loc == nil {
		return nil, nil
	}
	start, end := loc[1], s.clauseEnd(loc[1])
	body := s.masked[start:end]
	if strings.Contains(body, ",") {
		return nil, reasonOrderMulti
	}

	idx := orderTerm.FindStringSubmatchIndex(body)
	if idx == nil {
		return nil, reasonOrder
	}
	orig := s.text[start:end]
	spec := &OrderSpec{
		Column:    strings.ToLower(orig[idx[2]:idx[3]]),
		Ascending: true,
	}
	if idx[4] >= 0 {
		spec.Field = orig[idx[4]:idx[5]]
		if !jsonField.MatchString(spec.Field) {
			return nil, reasonOrder
		}
	}
	if idx[6] >= 0 && strings.EqualFold(body[idx[6]:idx[7]], "desc") {
		spec.Ascending = false
	}
	return spec, nil
}

func (s source) limit() (LimitSpec, error) {
	var spec LimitSpec
	if fetchClause.MatchString(s.masked) {
		return spec, reasonLimit
	}

	if limitKeyword.MatchString(s.masked) {
		m := limitClause.FindStringSubmatch(s.masked)
		if m == nil {
			return spec, reasonLimit
		}
		if !strings.EqualFold(m[1], "all") {
			n, err := s.count(m[1])
			if err != nil {
				return spec, err
			}
			spec.Limit = &n
		}
	}

	if offsetKeyword.MatchString(s.masked) {
		m := offsetClause.FindStringSubmatch(s.masked)
		if m == nil {
			return spec, reasonLimit
		}
		n, err := s.count(m[1])
		if err != nil {
			return spec, err
		}
		spec.Offset = &n
	}
	return spec, nil
}

// count resolves a non-negative integer from a literal or placeholder.
func (s source) count(tok string) (int, error) {
	if !strings.HasPrefix(tok, "$") {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return 0, reasonLimit
		}
		return n, nil
	}

	v, err := s.value(tok)
	if err != nil {
		return 0, err
	}
	n, ok := toInt(v)
	if !ok || n < 0 {
		return 0, reasonLimit
	}
	return n, nil
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	case json.Number:
		n, err := x.Int64()
		return int(n), err == nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt32 {
			return 0, false
		}
		return int(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f > math.MaxInt32 {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}

// selectColumns parses the target list: nil for *, column names, or a
// COUNT(*) alias.
func (s source) selectColumns() (columns []string, countAlias string, err error) {
	idx := selectList.FindStringSubmatchIndex(s.masked)
	if idx == nil {
		return nil, "", reasonColumns
	}
	list := strings.TrimSpace(s.masked[idx[2]:idx[3]])
	if list == "*" {
		return nil, "", nil
	}
	if m := countExpr.FindStringSubmatch(list); m != nil {
		if m[1] == "" {
			return nil, "count", nil
		}
		return nil, strings.ToLower(m[1]), nil
	}

	columns, ok := columnList(list)
	if !ok {
		return nil, "", reasonColumns
	}
	return columns, "", nil
}

// fromClause verifies that only WHERE, ORDER BY, LIMIT or OFFSET follow the
// table, ruling out aliases and comma joins.
func (s source) fromClause() error {
	loc := fromTable.FindStringIndex(s.masked)
	if loc == nil {
		return reasonNoTable
	}
	if !fromTail.MatchString(s.masked[loc[1]:]) {
		return reasonFrom
	}
	return nil
}

// returningColumns reports the RETURNING list; nil means all columns.
func (s source) returningColumns() ([]string, bool, error) {
	m := returning.FindStringSubmatch(s.masked)
	if m == nil {
		return nil, false, nil
	}
	list := strings.TrimSpace(m[1])
	if list == "*" {
		return nil, true, nil
	}
	columns, ok := columnList(list)
	if !ok {
		return nil, true, reasonColumns
	}
	return columns, true, nil
}

// insertPayload builds the row for INSERT ... VALUES (...) RETURNING. With a
// column list each placeholder is bound to its column; without one the sole
// parameter is the row itself.
func (s source) insertPayload() (any, error) {
	idx := insertShape.FindStringSubmatchIndex(s.masked)
	if idx == nil {
		return nil, reasonInsert
	}
	values := strings.Split(s.masked[idx[4]:idx[5]], ",")

	if idx[2] < 0 {
		if len(values) != 1 {
			return nil, reasonInsert
		}
		v, err := s.placeholderValue(values[0])
		if err != nil {
			return nil, err
		}
		return structured(v), nil
	}

	columns, ok := columnList(s.masked[idx[2]:idx[3]])
	if !ok || len(columns) != len(values) {
		return nil, reasonInsert
	}
	row := make(map[string]any, len(columns))
	for i, col := range columns {
		v, err := s.placeholderValue(values[i])
		if err != nil {
			return nil, err
		}
		row[col] = structured(v)
	}
	return row, nil
}

func (s source) placeholderValue(tok string) (any, error) {
	m := placeholder.FindStringSubmatch(tok)
	if m == nil {
		return nil, reasonInsert
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		n = 0
	}
	return param(s.params, n)
}

// updatePayload builds the column map from SET col = $n assignments.
func (s source) updatePayload() (map[string]any, error) {
	idx := updateShape.FindStringSubmatchIndex(s.masked)
	if idx == nil {
		return nil, reasonUpdate
	}
	payload := map[string]any{}
	for _, part := range strings.Split(s.masked[idx[2]:idx[3]], ",") {
		m := assignment.FindStringSubmatch(part)
		if m == nil {
			return nil, reasonUpdate
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			n = 0
		}
		v, err := param(s.params, n)
		if err != nil {
			return nil, err
		}
		payload[strings.ToLower(m[1])] = structured(v)
	}
	return payload, nil
}

func columnList(list string) ([]string, bool) {
	parts := strings.Split(list, ",")
	columns := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !bareColumn.MatchString(p) {
			return nil, false
		}
		columns = append(columns, strings.ToLower(p))
	}
	return columns, true
}

// structured decodes JSON text parameters holding an object or array. Any
// other value, including malformed JSON, passes through unchanged.
func structured(v any) any {
	var raw []byte
	switch x := v.(type) {
	case string:
		raw = []byte(x)
	case []byte:
		raw = x
	case json.RawMessage:
		raw = x
	default:
		return v
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return v
	}
	var doc any
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return v
	}
	return doc
}
