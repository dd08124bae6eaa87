package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/internal/testutil/postgresttest"
	"github.com/edgeflare/pgcrud/pkg/cache"
	"github.com/edgeflare/pgcrud/pkg/db"
	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/edgeflare/pgcrud/pkg/httputil/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.uber.org/zap/zaptest"
)

const (
	annID     = "11111111-1111-4111-8111-111111111111"
	bobID     = "22222222-2222-4222-8222-222222222222"
	annetteID = "33333333-3333-4333-8333-333333333333"
	missingID = "99999999-9999-4999-8999-999999999999"
)

type fixture struct {
	srv     *postgresttest.Server
	handler http.Handler
	svc     *Service
	cached  *cache.Repository[string, User]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := postgresttest.New(t)
	srv.CreateTable("users", postgresttest.WithUnique("data->>email"))
	srv.Seed("users",
		postgresttest.Row{"id": annID, "data": map[string]any{"name": "Ann", "email": "ann@example.com", "password": "hash"}, "created_at": "2024-01-01T00:00:00Z"},
		postgresttest.Row{"id": bobID, "data": map[string]any{"name": "Bob", "email": "bob@example.com"}, "created_at": "2024-01-02T00:00:00Z"},
		postgresttest.Row{"id": annetteID, "data": map[string]any{"name": "Annette", "email": "annette@example.com", "age": 30}, "created_at": "2024-01-03T00:00:00Z"},
	)

	logger := zaptest.NewLogger(t)
	conn, err := db.NewGateway(db.GatewayConfig{URL: srv.URL}, logger)
	require.NoError(t, err)

	mem := cache.NewMemory(0)
	t.Cleanup(func() { _ = mem.Close() })
	cached := cache.NewRepository[string, User](mem, "user", time.Minute)
	svc := NewService(NewRepository(conn), cached, logger)

	requireAuth := middleware.VerifyBearerToken(middleware.TokenVerifierFunc(
		func(_ context.Context, token string) (*oidc.IntrospectionResponse, error) {
			if token != "good" {
				return nil, errors.New("bad token")
			}
			return &oidc.IntrospectionResponse{Active: true, Subject: annID}, nil
		}))

	r := httputil.NewRouter()
	NewHandler(svc).Register(r, "/api/v1/users", requireAuth)
	return &fixture{srv: srv, handler: r, svc: svc, cached: cached}
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer good")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

func ids(t *testing.T, data any) []string {
	t.Helper()
	items, ok := data.([]any)
	require.True(t, ok, "data is %T", data)
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.(map[string]any)["id"].(string))
	}
	return out
}

func TestList(t *testing.T) {
	f := newFixture(t)

	rr, body := f.do(t, http.MethodGet, "/api/v1/users?page=1&limit=2", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []string{annetteID, bobID}, ids(t, body["data"]))
	assert.Equal(t, map[string]any{"page": float64(1), "limit": float64(2), "total": float64(3), "totalPages": float64(2)}, body["pagination"])

	rr, body = f.do(t, http.MethodGet, "/api/v1/users?page=2&limit=2", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{annID}, ids(t, body["data"]))

	rr, _ = f.do(t, http.MethodGet, "/api/v1/users?limit=0", "", false)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGet(t *testing.T) {
	f := newFixture(t)

	t.Run("found without password", func(t *testing.T) {
		rr, body := f.do(t, http.MethodGet, "/api/v1/users/"+annID, "", false)
		require.Equal(t, http.StatusOK, rr.Code)
		data := body["data"].(map[string]any)
		assert.Equal(t, annID, data["id"])
		assert.Equal(t, map[string]any{"name": "Ann", "email": "ann@example.com"}, data["data"])
		assert.Contains(t, data, "createdAt")
		assert.NotContains(t, rr.Body.String(), "password")
	})

	t.Run("second read is cached", func(t *testing.T) {
		before := len(f.srv.Requests())
		rr, _ := f.do(t, http.MethodGet, "/api/v1/users/"+annID, "", false)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, f.srv.Requests(), before)
	})

	t.Run("missing", func(t *testing.T) {
		rr, body := f.do(t, http.MethodGet, "/api/v1/users/"+missingID, "", false)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "User not found", body["message"])
		assert.Equal(t, false, body["success"])
	})

	t.Run("invalid id", func(t *testing.T) {
		rr, _ := f.do(t, http.MethodGet, "/api/v1/users/not-a-uuid", "", false)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	rr, body := f.do(t, http.MethodGet, "/api/v1/users/search?q=ann", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{annID, annetteID}, ids(t, body["data"]))

	t.Run("by data field goes through exec_sql", func(t *testing.T) {
		f.srv.HandleRPC("exec_sql", func(map[string]any) (any, error) {
			return []any{map[string]any{"id": bobID, "data": map[string]any{"name": "Bob"}, "created_at": "2024-01-02T00:00:00+00:00"}}, nil
		})
		rr, body := f.do(t, http.MethodGet, "/api/v1/users/search?field=name&value=Bob", "", false)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []string{bobID}, ids(t, body["data"]))

		calls := f.srv.RPCCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "SELECT * FROM users WHERE data->>'name' = 'Bob'", calls[0].Args["sql"])
	})

	rr, _ = f.do(t, http.MethodGet, "/api/v1/users/search", "", false)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearchTermIsLiteral(t *testing.T) {
	f := newFixture(t)
	f.srv.Seed("users",
		postgresttest.Row{"data": map[string]any{"name": "100% Real", "email": "real@example.com"}},
		postgresttest.Row{"data": map[string]any{"name": "1000 Real", "email": "k@example.com"}},
	)

	rr, body := f.do(t, http.MethodGet, "/api/v1/users/search?q=0%25", "", false)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	items := body["data"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "100% Real", items[0].(map[string]any)["data"].(map[string]any)["name"])

	rr, body = f.do(t, http.MethodGet, "/api/v1/users/search?q=n_e", "", false)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, body["data"])

	t.Run("star goes through exec_sql", func(t *testing.T) {
		f.srv.HandleRPC("exec_sql", func(map[string]any) (any, error) { return []any{}, nil })
		rr, _ := f.do(t, http.MethodGet, "/api/v1/users/search?q=a*", "", false)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		calls := f.srv.RPCCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, "SELECT * FROM users WHERE data->>'name' ILIKE '%a*%' ORDER BY data->>'name'", calls[0].Args["sql"])
	})
}

func TestServiceGet(t *testing.T) {
	f := newFixture(t)

	t.Run("cached copy has no password", func(t *testing.T) {
		u, err := f.svc.Get(context.Background(), annID)
		require.NoError(t, err)
		assert.Empty(t, u.Data.Password)

		hit, err := f.cached.Get(context.Background(), annID)
		require.NoError(t, err)
		assert.Equal(t, "ann@example.com", hit.Data.Email)
		assert.Empty(t, hit.Data.Password)
	})

	t.Run("canceled caller still loads", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		u, err := f.svc.Get(ctx, bobID)
		require.NoError(t, err)
		assert.Equal(t, bobID, u.ID)
	})
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	rr, _ := f.do(t, http.MethodPost, "/api/v1/users", `{"name":"Dee","email":"dee@example.com"}`, false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, body := f.do(t, http.MethodPost, "/api/v1/users", `{"name":"Dee","email":" Dee@Example.com ","age":41}`, true)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "User created successfully", body["message"])
	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, map[string]any{"name": "Dee", "email": "dee@example.com", "age": float64(41)}, data["data"])
	assert.Len(t, f.srv.Rows("users"), 4)

	rr, body = f.do(t, http.MethodPost, "/api/v1/users", `{"name":"Ann Again","email":"ANN@example.com"}`, true)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Email already exists", body["message"])

	rr, body = f.do(t, http.MethodPost, "/api/v1/users", `{"name":"x","email":"nope","age":200}`, true)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.ElementsMatch(t, []any{"name: must be at least 2", "email: must be a valid email address", "age: must be at most 150"}, body["errorMessages"])
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)

	// warm the cache so the update has something to evict
	_, err := f.svc.Get(context.Background(), annID)
	require.NoError(t, err)

	rr, body := f.do(t, http.MethodPut, "/api/v1/users/"+annID, `{"name":"Ann B"}`, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, map[string]any{"name": "Ann B", "email": "ann@example.com"}, body["data"].(map[string]any)["data"])

	u, err := f.svc.Get(context.Background(), annID)
	require.NoError(t, err)
	assert.Equal(t, "Ann B", u.Data.Name)
	assert.Equal(t, "hash", u.Data.Password, "unrelated keys survive the merge")

	rr, _ = f.do(t, http.MethodPut, "/api/v1/users/"+annID, `{"email":"bob@example.com"}`, true)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, _ = f.do(t, http.MethodPut, "/api/v1/users/"+annID, `{"email":"ann@example.com"}`, true)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = f.do(t, http.MethodPut, "/api/v1/users/"+missingID, `{"name":"Nobody"}`, true)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)

	rr, body := f.do(t, http.MethodDelete, "/api/v1/users/"+bobID, "", true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "User deleted successfully", body["message"])
	assert.Len(t, f.srv.Rows("users"), 2)

	rr, _ = f.do(t, http.MethodDelete, "/api/v1/users/"+bobID, "", true)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = f.do(t, http.MethodDelete, "/api/v1/users/"+annID, "", false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServiceRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, "Eve", "Eve@Example.com", "bcrypt-hash")
	require.NoError(t, err)
	assert.Equal(t, "eve@example.com", u.Data.Email)
	assert.Equal(t, "bcrypt-hash", u.Data.Password)

	_, err = f.svc.Register(ctx, "Eve", "eve@example.com", "other")
	assert.ErrorIs(t, err, ErrEmailTaken)

	found, err := f.svc.FindByEmail(ctx, "EVE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	_, err = f.svc.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
