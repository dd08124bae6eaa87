// Package postgresttest runs an in-memory PostgREST-compatible server for
// tests. It supports eq/neq/ilike/like/is and range filters, order, limit,
// offset, select, Prefer return/count, HEAD counts, Content-Range, schema
// profiles and /rpc/<fn> handlers.
package postgresttest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Row is one stored record.
type Row = map[string]any

// Error is written as a PostgREST error body.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *Error) Error() string { return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message) }

// RPCHandler serves a stored function. Returning an *Error sets the status.
type RPCHandler func(args map[string]any) (any, error)

// RPCCall records one /rpc invocation.
type RPCCall struct {
	Function string
	Args     map[string]any
}

// Request records one call against a table.
type Request struct {
	Method string
	Table  string
	Query  string
	Header http.Header
}

type table struct {
	rows      []Row
	unique    []string
	generated map[string]func(Row) any
}

// TableOption configures a table created by CreateTable.
type TableOption func(*table)

// WithUnique rejects inserts and updates that duplicate path (col or
// col->>field), compared case-insensitively, with SQLSTATE 23505.
func WithUnique(path string) TableOption {
	return func(t *table) { t.unique = append(t.unique, path) }
}

// WithGenerated computes column from the row on every write.
func WithGenerated(column string, fn func(Row) any) TableOption {
	return func(t *table) { t.generated[column] = fn }
}

// Server is a PostgREST stand-in backed by maps.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	tables   map[string]*table
	rpc      map[string]RPCHandler
	calls    []RPCCall
	requests []Request
	failNext *Error
	now      func() time.Time
}

// New starts a server closed at test cleanup.
func New(t testing.TB) *Server {
	s := &Server{
		tables: make(map[string]*table),
		rpc:    make(map[string]RPCHandler),
		now:    time.Now,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// CreateTable declares an empty table. Names may be schema-qualified.
func (s *Server) CreateTable(name string, opts ...TableOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &table{generated: make(map[string]func(Row) any)}
	for _, opt := range opts {
		opt(t)
	}
	s.tables[name] = t
}

// Seed appends rows, creating the table when needed. Missing id, created_at
// and updated_at columns are filled like the database defaults would.
func (s *Server) Seed(name string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &table{generated: make(map[string]func(Row) any)}
		s.tables[name] = t
	}
	for _, row := range rows {
		t.rows = append(t.rows, s.withDefaults(t, clone(row)))
	}
}

// Rows returns a copy of the stored rows.
func (s *Server) Rows(name string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	out := make([]Row, len(t.rows))
	for i, row := range t.rows {
		out[i] = clone(row)
	}
	return out
}

// HandleRPC registers a stored function.
func (s *Server) HandleRPC(fn string, h RPCHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpc[fn] = h
}

// RPCCalls returns the recorded /rpc invocations in order.
func (s *Server) RPCCalls() []RPCCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RPCCall(nil), s.calls...)
}

// Requests returns the recorded table requests in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// FailNext makes the next request of any kind fail with err.
func (s *Server) FailNext(err *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		writeError(w, err)
		return
	}

	path := strings.Trim(r.URL.Path, "/")
	switch {
	case path == "":
		writeJSON(w, http.StatusOK, map[string]any{"swagger": "2.0"})
	case strings.HasPrefix(path, "rpc/"):
		s.serveRPC(w, r, strings.TrimPrefix(path, "rpc/"))
	default:
		s.serveTable(w, r, path)
	}
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request, fn string) {
	if r.Method != http.MethodPost {
		writeError(w, &Error{Status: http.StatusMethodNotAllowed, Code: "PGRST101", Message: "only POST is supported for rpc"})
		return
	}
	args := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && err != io.EOF {
		writeError(w, &Error{Status: http.StatusBadRequest, Code: "PGRST102", Message: "invalid json body"})
		return
	}
	s.calls = append(s.calls, RPCCall{Function: fn, Args: args})

	h, ok := s.rpc[fn]
	if !ok {
		writeError(w, &Error{Status: http.StatusNotFound, Code: "PGRST202", Message: "Could not find the function public." + fn})
		return
	}
	out, err := h(args)
	if err != nil {
		writeError(w, asError(err))
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) serveTable(w http.ResponseWriter, r *http.Request, name string) {
	if profile := r.Header.Get("Accept-Profile"); profile != "" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		name = profile + "." + name
	} else if profile := r.Header.Get("Content-Profile"); profile != "" {
		name = profile + "." + name
	}
	s.requests = append(s.requests, Request{Method: r.Method, Table: name, Query: r.URL.RawQuery, Header: r.Header.Clone()})

	t, ok := s.tables[name]
	if !ok {
		writeError(w, &Error{Status: http.StatusNotFound, Code: "42P01", Message: fmt.Sprintf("relation %q does not exist", name)})
		return
	}
	params, err := parseQueryParams(r.URL.Query())
	if err != nil {
		writeError(w, asError(err))
		return
	}
	pref := parsePrefer(r)

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.get(w, r, t, params, pref)
	case http.MethodPost:
		s.insert(w, r, t, params, pref)
	case http.MethodPatch:
		s.update(w, r, t, params, pref)
	case http.MethodDelete:
		s.delete(w, t, params, pref)
	default:
		writeError(w, &Error{Status: http.StatusMethodNotAllowed, Code: "PGRST101", Message: "unsupported method " + r.Method})
	}
}

func (s *Server) filter(t *table, params queryParams) ([]int, error) {
	var idx []int
	for i, row := range t.rows {
		ok, err := matches(row, params.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

func (s *Server) get(w http.ResponseWriter, r *http.Request, t *table, params queryParams, pref prefer) {
	idx, err := s.filter(t, params)
	if err != nil {
		writeError(w, asError(err))
		return
	}
	rows := make([]Row, 0, len(idx))
	for _, i := range idx {
		rows = append(rows, t.rows[i])
	}
	sortRows(rows, params.Order)

	total := len(rows)
	start := min(params.Offset, total)
	end := total
	if params.Limit >= 0 {
		end = min(start+params.Limit, total)
	}
	page := make([]Row, 0, end-start)
	for _, row := range rows[start:end] {
		page = append(page, project(clone(row), params.Select))
	}

	w.Header().Set("Content-Range", contentRange(start, len(page), total, pref.wantsCountExact()))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) insert(w http.ResponseWriter, r *http.Request, t *table, params queryParams, pref prefer) {
	rows, derr := decodeRows(r.Body)
	if derr != nil {
		writeError(w, derr)
		return
	}
	created := make([]Row, 0, len(rows))
	for _, row := range rows {
		row = s.withDefaults(t, row)
		if err := s.checkUnique(t, row, -1); err != nil {
			writeError(w, asError(err))
			return
		}
		created = append(created, row)
	}
	t.rows = append(t.rows, created...)
	s.respond(w, http.StatusCreated, created, params, pref)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, t *table, params queryParams, pref prefer) {
	rows, derr := decodeRows(r.Body)
	if derr != nil {
		writeError(w, derr)
		return
	}
	if len(rows) != 1 {
		writeError(w, &Error{Status: http.StatusBadRequest, Code: "PGRST102", Message: "PATCH expects a single object"})
		return
	}
	idx, err := s.filter(t, params)
	if err != nil {
		writeError(w, asError(err))
		return
	}

	updated := make([]Row, 0, len(idx))
	for _, i := range idx {
		row := clone(t.rows[i])
		for k, v := range rows[0] {
			row[k] = v
		}
		if _, ok := row["updated_at"]; ok {
			row["updated_at"] = s.now().UTC().Format(time.RFC3339Nano)
		}
		for col, fn := range t.generated {
			row[col] = fn(row)
		}
		if err := s.checkUnique(t, row, i); err != nil {
			writeError(w, asError(err))
			return
		}
		updated = append(updated, row)
	}
	for n, i := range idx {
		t.rows[i] = updated[n]
	}
	s.respond(w, http.StatusOK, updated, params, pref)
}

func (s *Server) delete(w http.ResponseWriter, t *table, params queryParams, pref prefer) {
	idx, err := s.filter(t, params)
	if err != nil {
		writeError(w, asError(err))
		return
	}
	removed := make([]Row, 0, len(idx))
	kept := t.rows[:0:0]
	next := 0
	for i, row := range t.rows {
		if next < len(idx) && idx[next] == i {
			removed = append(removed, row)
			next++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	s.respond(w, http.StatusOK, removed, params, pref)
}

// respond writes a mutation result following the Prefer header.
func (s *Server) respond(w http.ResponseWriter, status int, rows []Row, params queryParams, pref prefer) {
	if pref.wantsCountExact() {
		w.Header().Set("Content-Range", fmt.Sprintf("*/%d", len(rows)))
	}
	if !pref.wantsRepresentation() {
		if status == http.StatusOK {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
		return
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, project(clone(row), params.Select))
	}
	writeJSON(w, status, out)
}

func (s *Server) withDefaults(t *table, row Row) Row {
	now := s.now().UTC().Format(time.RFC3339Nano)
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = now
	}
	if _, ok := row["updated_at"]; !ok {
		row["updated_at"] = now
	}
	for col, fn := range t.generated {
		row[col] = fn(row)
	}
	return row
}

func (s *Server) checkUnique(t *table, row Row, self int) error {
	for _, path := range t.unique {
		v, _ := lookup(row, path)
		if v == nil {
			continue
		}
		for i, other := range t.rows {
			if i == self {
				continue
			}
			if ov, _ := lookup(other, path); ov != nil && strings.EqualFold(text(ov), text(v)) {
				return &Error{
					Status:  http.StatusConflict,
					Code:    "23505",
					Message: "duplicate key value violates unique constraint",
					Details: fmt.Sprintf("Key (%s)=(%s) already exists.", path, text(v)),
				}
			}
		}
	}
	return nil
}

func contentRange(start, n, total int, exact bool) string {
	rng := "*"
	if n > 0 {
		rng = fmt.Sprintf("%d-%d", start, start+n-1)
	}
	if exact {
		return fmt.Sprintf("%s/%d", rng, total)
	}
	return rng + "/*"
}

func decodeRows(body io.Reader) ([]Row, *Error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, &Error{Status: http.StatusBadRequest, Code: "PGRST102", Message: "invalid json body"}
	}
	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		var rows []Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, &Error{Status: http.StatusBadRequest, Code: "PGRST102", Message: "invalid json array"}
		}
		return rows, nil
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, &Error{Status: http.StatusBadRequest, Code: "PGRST102", Message: "body must be an object or array"}
	}
	return []Row{row}, nil
}

func clone(row Row) Row {
	b, err := json.Marshal(row)
	if err != nil {
		panic(err)
	}
	var out Row
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return out
}

func asError(err error) *Error {
	if e, ok := err.(*Error); ok {
		if e.Status == 0 {
			e.Status = http.StatusBadRequest
		}
		return e
	}
	return &Error{Status: http.StatusInternalServerError, Code: "XX000", Message: err.Error()}
}

func writeError(w http.ResponseWriter, err *Error) {
	writeJSON(w, err.Status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
