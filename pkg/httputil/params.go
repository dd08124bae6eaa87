package httputil

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Page reads the page and limit query parameters. Page defaults to 1 and
// limit to DefaultPageLimit; both must be positive and limit at most
// MaxPageLimit.
func Page(r *http.Request) (page, limit int, err error) {
	page, limit = 1, DefaultPageLimit
	q := r.URL.Query()
	if s := q.Get("page"); s != "" {
		if page, err = strconv.Atoi(s); err != nil || page < 1 {
			return 0, 0, BadRequest("Validation failed", "page: must be a positive integer")
		}
	}
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 || limit > MaxPageLimit {
			return 0, 0, BadRequest("Validation failed", "limit: must be between 1 and "+strconv.Itoa(MaxPageLimit))
		}
	}
	return page, limit, nil
}

// Offset returns the row offset of a page.
func Offset(page, limit int) int { return (page - 1) * limit }

// UUIDParam returns the named path value in canonical form, or a 400 error
// when it is not a UUID.
func UUIDParam(r *http.Request, name string) (string, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return "", BadRequest("Validation failed", name+": must be a valid UUID")
	}
	return id.String(), nil
}
