package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sqlStateErr string

func (e sqlStateErr) Error() string    { return "sql error " + string(e) }
func (e sqlStateErr) SQLState() string { return string(e) }

func TestObserveDB(t *testing.T) {
	t.Run("counts coded errors", func(t *testing.T) {
		before := testutil.ToFloat64(DBErrors.WithLabelValues("test", "23505"))
		err := error(sqlStateErr("23505"))
		ObserveDB("test", "execute", time.Now(), &err)
		assert.Equal(t, before+1, testutil.ToFloat64(DBErrors.WithLabelValues("test", "23505")))
	})

	t.Run("uncoded errors are unknown", func(t *testing.T) {
		before := testutil.ToFloat64(DBErrors.WithLabelValues("test", "unknown"))
		err := errors.New("connection refused")
		ObserveDB("test", "query", time.Now(), &err)
		assert.Equal(t, before+1, testutil.ToFloat64(DBErrors.WithLabelValues("test", "unknown")))
	})

	t.Run("success records no error", func(t *testing.T) {
		before := testutil.ToFloat64(DBErrors.WithLabelValues("ok", "unknown"))
		var err error
		ObserveDB("ok", "query", time.Now(), &err)
		ObserveDB("ok", "query", time.Now(), nil)
		assert.Equal(t, before, testutil.ToFloat64(DBErrors.WithLabelValues("ok", "unknown")))
	})
}

func TestObserveHTTPAndCache(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/users", "200"))
	ObserveHTTP("GET", "/users", http.StatusOK, 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/users", "200")))

	hits := testutil.ToFloat64(CacheLookups.WithLabelValues("users", "hit"))
	ObserveCache("users", true)
	ObserveCache("users", false)
	assert.Equal(t, hits+1, testutil.ToFloat64(CacheLookups.WithLabelValues("users", "hit")))
}

func TestHandler(t *testing.T) {
	SQLDispatch.WithLabelValues("SELECT", "select").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pgcrud_sql_dispatch_total")
}

func TestServePrometheus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServePrometheus(ctx, &PromServerOpts{Addr: "127.0.0.1:0"}, zaptest.NewLogger(t))
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
