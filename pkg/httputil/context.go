package httputil

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.uber.org/zap"
)

type ContextKey string

const (
	RequestIDCtxKey ContextKey = "RequestID"
	LogEntryCtxKey  ContextKey = "LogEntry"
	OIDCUserCtxKey  ContextKey = "OIDCUser"
)

// OIDCUser extracts the authenticated principal from the request context.
func OIDCUser(r *http.Request) (*oidc.IntrospectionResponse, bool) {
	user, ok := r.Context().Value(OIDCUserCtxKey).(*oidc.IntrospectionResponse)
	if !ok || user == nil || !user.Active {
		return nil, false
	}
	return user, true
}

// RequestID returns the request id set by the RequestID middleware, or "".
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(RequestIDCtxKey).(string)
	return id
}

// Logger returns the request-scoped logger, falling back to the global one.
func Logger(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value(LogEntryCtxKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.L()
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// SuccessResponse is the envelope for successful responses.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pagination describes one page of a list.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// NewPagination computes TotalPages for the given page size.
func NewPagination(page, limit int, total int64) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return p
}

// PaginatedResponse is the envelope for list responses.
type PaginatedResponse struct {
	Success    bool       `json:"success"`
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// ErrorResponse represents a structured error response.
type ErrorResponse struct {
	Success       bool     `json:"success"`
	StatusCode    int      `json:"statusCode"`
	Message       string   `json:"message"`
	Error         string   `json:"error"`
	ErrorMessages []string `json:"errorMessages,omitempty"`
	Path          string   `json:"path"`
	RequestID     string   `json:"requestId,omitempty"`
	Timestamp     string   `json:"timestamp"`
}

// OK writes a 200 success envelope.
func OK(w http.ResponseWriter, data any, message ...string) {
	Success(w, http.StatusOK, data, message...)
}

// Created writes a 201 success envelope.
func Created(w http.ResponseWriter, data any, message ...string) {
	Success(w, http.StatusCreated, data, message...)
}

// Success writes a success envelope with the given status code.
func Success(w http.ResponseWriter, statusCode int, data any, message ...string) {
	resp := SuccessResponse{Success: true, Data: data}
	if len(message) > 0 {
		resp.Message = message[0]
	}
	JSON(w, statusCode, resp)
}

// Paginated writes a list envelope.
func Paginated(w http.ResponseWriter, data any, p Pagination) {
	JSON(w, http.StatusOK, PaginatedResponse{Success: true, Data: data, Pagination: p})
}

// Error sends a JSON error envelope.
func Error(w http.ResponseWriter, r *http.Request, statusCode int, message string, details ...string) {
	JSON(w, statusCode, ErrorResponse{
		StatusCode:    statusCode,
		Message:       message,
		Error:         http.StatusText(statusCode),
		ErrorMessages: details,
		Path:          r.URL.Path,
		RequestID:     RequestID(r),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}
