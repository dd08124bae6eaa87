package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"go.uber.org/zap"
)

// HTTPError is an error carrying the status code and message to send.
type HTTPError struct {
	Status  int
	Message string
	Details []string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.Err }

func NewError(status int, message string, details ...string) *HTTPError {
	return &HTTPError{Status: status, Message: message, Details: details}
}

func BadRequest(message string, details ...string) *HTTPError {
	return NewError(http.StatusBadRequest, message, details...)
}

func Unauthorized(message string) *HTTPError {
	return NewError(http.StatusUnauthorized, message)
}

func NotFound(message string) *HTTPError {
	return NewError(http.StatusNotFound, message)
}

func Conflict(message string) *HTTPError {
	return NewError(http.StatusConflict, message)
}

// HandlerFunc is an http.Handler whose errors are written by WriteError.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

func (h HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		WriteError(w, r, err)
	}
}

// WriteError maps err to a status code and writes the error envelope.
// Messages of unexpected errors are logged, not sent.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		Error(w, r, httpErr.Status, httpErr.Message, httpErr.Details...)
		return
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		Error(w, r, http.StatusBadRequest, "Validation failed", ValidationMessages(verrs)...)
		return
	}

	var coded interface{ SQLState() string }
	if errors.As(err, &coded) {
		switch coded.SQLState() {
		case "23505":
			Error(w, r, http.StatusConflict, "Resource already exists")
			return
		case "23503":
			Error(w, r, http.StatusConflict, "Referenced resource does not exist")
			return
		case "23502", "23514", "22P02":
			Error(w, r, http.StatusBadRequest, "Invalid input")
			return
		}
	}

	Logger(r).Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("req_id", RequestID(r)),
		zap.Error(err),
	)
	Error(w, r, http.StatusInternalServerError, "Internal server error")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags on v.
func Validate(v any) error {
	return validate.Struct(v)
}

// Bind decodes the JSON request body into dst and validates it. Failures
// are returned as 400 HTTPErrors.
func Bind(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return &HTTPError{Status: http.StatusBadRequest, Message: "Invalid request body", Err: err}
	}
	if err := Validate(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &HTTPError{
				Status:  http.StatusBadRequest,
				Message: "Validation failed",
				Details: ValidationMessages(verrs),
				Err:     err,
			}
		}
		return err
	}
	return nil
}

// ValidationMessages renders field errors as "field: reason" strings.
func ValidationMessages(verrs validator.ValidationErrors) []string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strcase.ToLowerCamel(fe.Field())
		var reason string
		switch fe.Tag() {
		case "required":
			reason = "is required"
		case "email":
			reason = "must be a valid email address"
		case "url":
			reason = "must be a valid URL"
		case "uuid", "uuid4":
			reason = "must be a valid UUID"
		case "min":
			reason = "must be at least " + fe.Param()
		case "max":
			reason = "must be at most " + fe.Param()
		case "oneof":
			reason = "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
		default:
			reason = "failed " + fe.Tag() + " validation"
		}
		msgs = append(msgs, field+": "+reason)
	}
	return msgs
}
