// Package app wires configuration, the database adapter, the cache and the
// users, posts and auth modules into one HTTP handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/pgcrud/internal/auth"
	"github.com/edgeflare/pgcrud/internal/posts"
	"github.com/edgeflare/pgcrud/internal/users"
	authn "github.com/edgeflare/pgcrud/pkg/auth"
	"github.com/edgeflare/pgcrud/pkg/cache"
	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/db"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	mw "github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/edgeflare/pgcrud/pkg/migrate"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg      *config.Config
	conn     db.Conn
	cache    cache.Driver
	migrator *migrate.Migrator
	router   *httputil.Router
	logger   *zap.Logger
	now      func() time.Time
}

// DBConfig maps the database section of cfg to the adapter factory's config.
func DBConfig(cfg *config.Config) db.Config {
	d := cfg.Database
	return db.Config{
		Type:           d.Type,
		ConnectTimeout: d.ConnectTimeout,
		Postgres: db.PostgresConfig{
			ConnString: d.Postgres.ConnString,
			MaxConns:   d.Postgres.MaxConns,
		},
		Gateway: db.GatewayConfig{
			URL:                   d.Gateway.URL,
			APIKey:                d.Gateway.APIKey,
			RPCFunction:           d.Gateway.RPCFunction,
			Timeout:               d.Gateway.Timeout,
			Retries:               d.Gateway.Retries,
			AllowUnfilteredDelete: d.Gateway.AllowUnfilteredDelete,
		},
	}
}

// Open connects the database and cache named by cfg and builds the app.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	conn, err := db.Open(ctx, DBConfig(cfg), logger)
	if err != nil {
		return nil, err
	}
	driver, err := cache.New(ctx, cache.Config{
		Driver: cfg.Cache.Driver,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		},
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	a, err := New(cfg, conn, driver, logger)
	if err != nil {
		_ = driver.Close()
		conn.Close()
		return nil, err
	}
	return a, nil
}

// New builds the app on an open connection and cache driver. The app owns
// both from here on; Close releases them.
func New(cfg *config.Config, conn db.Conn, driver cache.Driver, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if driver == nil {
		driver = cache.None{}
	}

	issuer, err := authn.NewIssuer(authn.TokenConfig{
		Secret:     []byte(cfg.Auth.JWTSecret),
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return nil, err
	}
	migrator, err := migrate.New(conn, logger.Named("migrate"))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		conn:     conn,
		cache:    driver,
		migrator: migrator,
		logger:   logger,
		now:      time.Now,
	}

	userSvc := users.NewService(
		users.NewRepository(conn),
		cache.NewRepository[string, users.User](driver, "user", cfg.Cache.TTL),
		logger.Named("users"),
	)
	postSvc := posts.NewService(posts.NewRepository(conn), logger.Named("posts"))
	authSvc := auth.NewService(userSvc, issuer, cfg.Auth.BcryptCost, logger.Named("auth"))

	cors := mw.DefaultCORSOptions()
	if len(cfg.Server.CORSOrigins) > 0 {
		cors.AllowedOrigins = cfg.Server.CORSOrigins
	}

	r := httputil.NewRouter(httputil.WithLogger(logger))
	r.Use(
		mw.RequestID,
		mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger.Named("http")}),
		mw.Metrics,
		mw.Recover,
		mw.CORSWithOptions(cors),
	)

	requireAuth := mw.VerifyBearerToken(issuer)
	base := cfg.Server.BasePath
	auth.NewHandler(authSvc).Register(r, base+"/auth", requireAuth)
	users.NewHandler(userSvc).Register(r, base+"/users", requireAuth)
	posts.NewHandler(postSvc).Register(r, base+"/posts", requireAuth)

	r.HandleFunc("GET /health", a.health)
	r.HandleFunc("POST /migrate", a.migrate)
	r.NotFound(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.Error(w, req, http.StatusNotFound, "Route not found")
	}))

	a.router = r
	return a, nil
}

func (a *App) Handler() http.Handler { return a.router }

func (a *App) Migrator() *migrate.Migrator { return a.migrator }

func (a *App) Conn() db.Conn { return a.conn }

// Run serves the API, and the metrics endpoint when enabled, until ctx is
// canceled, then shuts the API down within server.shutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.router.ListenAndServe(a.cfg.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.router.Shutdown(shutdownCtx)
	})
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.ServePrometheus(ctx, &metrics.PromServerOpts{Addr: a.cfg.Metrics.Addr}, a.logger.Named("metrics"))
		})
	}
	return g.Wait()
}

// Close releases the cache and the database connection.
func (a *App) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("closing cache", zap.Error(err))
	}
	a.conn.Close()
}

type healthDB struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	Version   string `json:"version,omitempty"`
}

type healthResponse struct {
	Success   bool     `json:"success"`
	Status    string   `json:"status"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	Database  healthDB `json:"database"`
}

func (a *App) health(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Success:   true,
		Status:    "ok",
		Message:   "API is healthy",
		Timestamp: a.now().UTC().Format(time.RFC3339),
		Database:  healthDB{Type: a.cfg.Database.Type},
	}
	status := http.StatusOK

	if err := a.conn.Ping(ctx); err != nil {
		httputil.Logger(r).Warn("health check: database unreachable", zap.Error(err))
		resp.Success, resp.Status, resp.Message = false, "degraded", "Database unreachable"
		status = http.StatusServiceUnavailable
	} else {
		resp.Database.Connected = true
		if info, err := a.conn.Info(ctx); err == nil {
			resp.Database.Version = info.Version
		}
	}
	httputil.JSON(w, status, resp)
	return nil
}

func (a *App) migrate(w http.ResponseWriter, r *http.Request) error {
	httputil.Logger(r).Info("manual migration triggered")
	applied, err := a.migrator.Up(r.Context())
	if err != nil {
		return err
	}
	if applied == nil {
		applied = []string{}
	}
	httputil.OK(w, map[string]any{"applied": applied}, "Migrations completed")
	return nil
}
