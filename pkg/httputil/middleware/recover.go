package middleware

import (
	"fmt"
	"net/http"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"go.uber.org/zap"
)

// Recover turns a panic in a handler into a 500 error envelope.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewResponseRecorder(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			httputil.Logger(r).Error("panic recovered",
				zap.String("path", r.URL.Path),
				zap.String("panic", fmt.Sprint(v)),
				zap.Stack("stack"),
			)
			if !rec.Written() {
				httputil.Error(rec, r, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(rec, r)
	})
}
