package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/internal/testutil/postgresttest"
	"github.com/edgeflare/pgcrud/pkg/cache"
	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Addr:            ":0",
			BasePath:        "/api/v1",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: time.Second,
		},
		Database: config.DatabaseConfig{Type: "gateway"},
		Auth: config.AuthConfig{
			JWTSecret:       strings.Repeat("s", 64),
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
			BcryptCost:      4,
		},
		Cache: config.CacheConfig{Driver: "memory", TTL: time.Minute},
	}
}

// execSQL answers the procedure calls health checks and migrations make.
func execSQL(args map[string]any) (any, error) {
	sql, _ := args["sql"].(string)
	if strings.HasPrefix(sql, "SELECT version()") {
		return []any{map[string]any{"version": "PostgreSQL 16.4", "database": "app", "user": "authenticator"}}, nil
	}
	return []any{}, nil
}

func newTestApp(t *testing.T) (*App, *postgresttest.Server) {
	t.Helper()
	srv := postgresttest.New(t)
	srv.CreateTable("users", postgresttest.WithUnique("data->>email"))
	srv.CreateTable("posts", postgresttest.WithGenerated("user_id", func(row postgresttest.Row) any {
		data, _ := row["data"].(map[string]any)
		return data["user_id"]
	}))
	srv.HandleRPC("exec_sql", execSQL)

	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	cfg.Database.Gateway.URL = srv.URL
	conn, err := db.NewGateway(db.GatewayConfig{URL: srv.URL}, logger)
	require.NoError(t, err)

	a, err := New(cfg, conn, cache.NewMemory(0), logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, srv
}

func call(t *testing.T, h http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

func TestHealth(t *testing.T) {
	a, srv := newTestApp(t)
	a.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

	rr, body := call(t, a.Handler(), http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2024-06-01T12:00:00Z", body["timestamp"])
	assert.Equal(t, map[string]any{"type": "gateway", "connected": true, "version": "PostgreSQL 16.4"}, body["database"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	srv.FailNext(&postgresttest.Error{Status: http.StatusServiceUnavailable, Code: "PGRST000", Message: "could not connect"})
	rr, body = call(t, a.Handler(), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"type": "gateway", "connected": false}, body["database"])
}

func TestNotFoundAndCORS(t *testing.T) {
	a, _ := newTestApp(t)

	rr, body := call(t, a.Handler(), http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Route not found", body["message"])
	assert.Equal(t, "/nope", body["path"])
	assert.Equal(t, rr.Header().Get("X-Request-Id"), body["requestId"])

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/users", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	pre := httptest.NewRecorder()
	a.Handler().ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Equal(t, "*", pre.Header().Get("Access-Control-Allow-Origin"))
}

func TestMigrateEndpoint(t *testing.T) {
	a, srv := newTestApp(t)

	rr, body := call(t, a.Handler(), http.MethodPost, "/migrate", "", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Migrations completed", body["message"])
	assert.Equal(t, map[string]any{"applied": []any{"001_create_users_table", "002_create_posts_table"}}, body["data"])

	var scripts int
	for _, c := range srv.RPCCalls() {
		if strings.Contains(c.Args["sql"].(string), "INSERT INTO schema_migrations") {
			scripts++
		}
	}
	assert.Equal(t, 2, scripts)
}

func TestRegisterThenPost(t *testing.T) {
	a, srv := newTestApp(t)
	h := a.Handler()

	rr, body := call(t, h, http.MethodPost, "/api/v1/auth/register", `{"name":"Ann","email":"ann@example.com","password":"hunter22"}`, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	session := body["data"].(map[string]any)
	userID := session["user"].(map[string]any)["id"].(string)
	token := session["accessToken"].(string)

	rr, _ = call(t, h, http.MethodPost, "/api/v1/posts", `{"description":"first"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, body = call(t, h, http.MethodPost, "/api/v1/posts", `{"description":"first"}`, token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, userID, body["data"].(map[string]any)["data"].(map[string]any)["userId"])

	posts := srv.Rows("posts")
	require.Len(t, posts, 1)
	assert.Equal(t, userID, posts[0]["user_id"])

	rr, body = call(t, h, http.MethodGet, "/api/v1/auth/me", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, userID, body["data"].(map[string]any)["id"])

	rr, body = call(t, h, http.MethodGet, "/api/v1/users/"+userID, "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"name": "Ann", "email": "ann@example.com"}, body["data"].(map[string]any)["data"])
}

func TestDBConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Gateway = config.GatewayConfig{URL: "http://rest:3000", RPCFunction: "run_sql", Retries: 2, AllowUnfilteredDelete: true}
	got := DBConfig(cfg)
	assert.Equal(t, "gateway", got.Type)
	assert.Equal(t, db.GatewayConfig{URL: "http://rest:3000", RPCFunction: "run_sql", Retries: 2, AllowUnfilteredDelete: true}, got.Gateway)
}
