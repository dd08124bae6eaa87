package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Row is one record of a table response.
type Row = map[string]any

// Result is a decoded table response. Count is -1 unless an exact count was
// requested and returned.
type Result struct {
	Rows   []Row
	Count  int64
	Status int
}

// QueryBuilder accumulates filters, ordering and paging for one table.
// Builders are not safe for concurrent use; start a new one per call.
type QueryBuilder struct {
	client  *Client
	schema  string
	table   string
	columns []string
	query   url.Values
}

// From starts a query on table. A schema-qualified name (schema.table) is sent
// with Accept-Profile/Content-Profile headers.
func (c *Client) From(table string) *QueryBuilder {
	schema, name, ok := strings.Cut(table, ".")
	if !ok {
		schema, name = "", table
	}
	return &QueryBuilder{client: c, schema: schema, table: name, query: url.Values{}}
}

// Select limits the returned columns.
func (q *QueryBuilder) Select(columns ...string) *QueryBuilder {
	q.columns = append(q.columns, columns...)
	return q
}

// Eq filters column = value. A nil value filters IS NULL.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	if value == nil {
		q.query.Add(column, "is.null")
		return q
	}
	q.query.Add(column, "eq."+FormatValue(value))
	return q
}

// ILike filters column ILIKE pattern. % and _ keep their SQL meaning.
func (q *QueryBuilder) ILike(column, pattern string) *QueryBuilder {
	q.query.Add(column, "ilike."+pattern)
	return q
}

// Order sorts by column. Repeated calls add tie-breakers.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	term := column + "." + dir
	if prev := q.query.Get("order"); prev != "" {
		term = prev + "," + term
	}
	q.query.Set("order", term)
	return q
}

func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.query.Set("limit", strconv.Itoa(n))
	return q
}

func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.query.Set("offset", strconv.Itoa(n))
	return q
}

// Range selects rows from..to inclusive.
func (q *QueryBuilder) Range(from, to int) *QueryBuilder {
	return q.Offset(from).Limit(to - from + 1)
}

// Get runs the select.
func (q *QueryBuilder) Get(ctx context.Context) (Result, error) {
	return q.send(ctx, http.MethodGet, nil, nil)
}

// Count returns the exact number of matching rows without fetching them.
func (q *QueryBuilder) Count(ctx context.Context) (int64, error) {
	res, err := q.send(ctx, http.MethodHead, nil, []string{"count=exact"})
	if err != nil {
		return 0, err
	}
	if res.Count < 0 {
		return 0, fmt.Errorf("postgrest: count missing from response for %s", q.table)
	}
	return res.Count, nil
}

// Insert creates values (a row or a slice of rows) and returns the stored rows.
func (q *QueryBuilder) Insert(ctx context.Context, values any) (Result, error) {
	return q.send(ctx, http.MethodPost, values, []string{"return=representation"})
}

// Update applies values to the filtered rows and returns them.
func (q *QueryBuilder) Update(ctx context.Context, values any) (Result, error) {
	return q.send(ctx, http.MethodPatch, values, []string{"return=representation"})
}

// Delete removes the filtered rows. Count holds the number removed; Rows is
// set when returning is true.
func (q *QueryBuilder) Delete(ctx context.Context, returning bool) (Result, error) {
	prefer := []string{"count=exact"}
	if returning {
		prefer = append(prefer, "return=representation")
	}
	return q.send(ctx, http.MethodDelete, nil, prefer)
}

func (q *QueryBuilder) send(ctx context.Context, method string, body any, prefer []string) (Result, error) {
	query := url.Values{}
	for k, v := range q.query {
		query[k] = v
	}
	if len(q.columns) > 0 {
		query.Set("select", strings.Join(q.columns, ","))
	}

	headers := http.Header{}
	if len(prefer) > 0 {
		headers.Set("Prefer", strings.Join(prefer, ","))
	}
	if q.schema != "" {
		if method == http.MethodGet || method == http.MethodHead {
			headers.Set("Accept-Profile", q.schema)
		} else {
			headers.Set("Content-Profile", q.schema)
		}
	}

	resp, err := q.client.do(ctx, request{
		method:  method,
		path:    q.table,
		query:   query,
		headers: headers,
		body:    body,
	})
	if err != nil {
		return Result{Count: -1}, err
	}

	res := Result{Count: -1, Status: resp.StatusCode}
	if n, ok := parseContentRange(resp.Headers.Get("Content-Range")); ok {
		res.Count = n
	}
	if method != http.MethodHead && len(strings.TrimSpace(string(resp.Body))) > 0 {
		if err := json.Unmarshal(resp.Body, &res.Rows); err != nil {
			return res, fmt.Errorf("postgrest: decode %s response: %w", q.table, err)
		}
	}
	return res, nil
}

// parseContentRange reads the total from "0-9/42" or "*/42". When the total is
// unknown ("0-9/*") the length of the range is used.
func parseContentRange(h string) (int64, bool) {
	if h == "" {
		return 0, false
	}
	rng, total, ok := strings.Cut(strings.TrimSpace(h), "/")
	if !ok {
		return 0, false
	}
	if total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		return n, err == nil
	}
	if rng == "*" {
		return 0, true
	}
	from, to, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, false
	}
	a, errA := strconv.ParseInt(from, 10, 64)
	b, errB := strconv.ParseInt(to, 10, 64)
	if errA != nil || errB != nil || b < a {
		return 0, false
	}
	return b - a + 1, true
}

// FormatValue renders a filter operand the way PostgREST parses it. Maps,
// slices and structs are sent as JSON text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	case json.Number:
		return x.String()
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.RawMessage:
		return string(x)
	}
	switch reflect.Indirect(reflect.ValueOf(v)).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if doc, err := json.Marshal(v); err == nil {
			return string(doc)
		}
	}
	return fmt.Sprint(v)
}
