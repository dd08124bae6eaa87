package httputil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest(t *testing.T) {
	t.Run("posts json and returns body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "key", r.Header.Get("apikey"))
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			w.Write(body)
		}))
		defer srv.Close()

		cfg := DefaultRequestConfig(http.MethodPost, srv.URL)
		cfg.Headers.Set("apikey", "key")
		resp, err := Request(context.Background(), cfg, map[string]string{"a": "b"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.JSONEq(t, `{"a":"b"}`, string(resp.Body))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"bad"}`))
		}))
		defer srv.Close()

		cfg := DefaultRequestConfig(http.MethodGet, srv.URL)
		cfg.RetryEnabled = true
		resp, err := Request(context.Background(), cfg, nil)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
		require.NotNil(t, resp)
		assert.JSONEq(t, `{"message":"bad"}`, string(resp.Body))
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("unavailable is retried with a fresh body", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, `payload`, string(body))
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		cfg := DefaultRequestConfig(http.MethodPost, srv.URL)
		cfg.RetryEnabled = true
		cfg.InitialBackoff = time.Millisecond
		cfg.MaxBackoff = 5 * time.Millisecond
		resp, err := Request(context.Background(), cfg, "payload")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, 3, calls.Load())
	})

	t.Run("retries disabled by default", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := Request(context.Background(), DefaultRequestConfig(http.MethodGet, srv.URL), nil)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.EqualValues(t, 1, calls.Load())
	})
}
