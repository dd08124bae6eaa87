package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	SQLDispatch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_sql_dispatch_total",
			Help: "Total number of dispatched statements by operation and plan kind",
		},
		[]string{"operation", "plan"},
	)

	SQLEscalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_sql_escalations_total",
			Help: "Total number of statements sent to raw SQL execution by reason",
		},
		[]string{"reason"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcrud_db_query_duration_seconds",
			Help:    "Duration of database calls by adapter and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter", "method"},
	)

	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_db_errors_total",
			Help: "Total number of database errors by adapter and SQLSTATE code",
		},
		[]string{"adapter", "code"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcrud_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_cache_lookups_total",
			Help: "Total number of cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	MigrationsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pgcrud_migrations_applied_total",
			Help: "Total number of migrations applied by this process",
		},
	)
)

// ObserveDB records the duration of a database call and, on failure, the
// error code. Use with defer:
//
//	defer metrics.ObserveDB("postgres", "query", time.Now(), &err)
func ObserveDB(adapter, method string, start time.Time, errp *error) {
	DBQueryDuration.WithLabelValues(adapter, method).Observe(time.Since(start).Seconds())
	if errp == nil || *errp == nil {
		return
	}
	code := "unknown"
	var coded interface{ SQLState() string }
	if errors.As(*errp, &coded) && coded.SQLState() != "" {
		code = coded.SQLState()
	}
	DBErrors.WithLabelValues(adapter, code).Inc()
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveCache records a cache hit or miss.
func ObserveCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

type PromServerOpts struct {
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Handler returns the metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ServePrometheus runs a metrics server until ctx is canceled, then shuts it
// down gracefully. It returns nil after a clean shutdown.
func ServePrometheus(ctx context.Context, opts *PromServerOpts, logger *zap.Logger) error {
	// merge with defaults
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, Handler())
	server := &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting prometheus metrics server", zap.String("addr", effectiveOpts.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down metrics server", zap.Error(err))
		return err
	}
	logger.Info("metrics server shutdown complete")
	return nil
}
