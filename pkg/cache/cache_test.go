package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDriver(t *testing.T, driver Driver) {
	t.Helper()
	ctx := context.Background()
	key := uuid.NewString()
	value := []byte(uuid.NewString())

	_, err := driver.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, driver.Set(ctx, key, value, 30*time.Second))
	got, err := driver.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	require.NoError(t, driver.Delete(ctx, key))
	_, err = driver.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	key = uuid.NewString()
	require.NoError(t, driver.Set(ctx, key, value, time.Second))
	_, err = driver.Get(ctx, key)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = driver.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory(t *testing.T) {
	t.Parallel()
	m := NewMemory(0)
	t.Cleanup(func() { _ = m.Close() })
	testDriver(t, m)
}

func TestMemoryCleanupExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	require.NoError(t, m.Set(ctx, "expired1", []byte("a"), 10*time.Millisecond))
	require.NoError(t, m.Set(ctx, "expired2", []byte("b"), 10*time.Millisecond))
	require.NoError(t, m.Set(ctx, "valid", []byte("c"), time.Minute))
	time.Sleep(20 * time.Millisecond)

	m.CleanupExpired()
	assert.Equal(t, 1, m.Len())
	got, err := m.Get(ctx, "valid")
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got)
}

func TestMemoryCopiesValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'x'
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestMemoryJanitor(t *testing.T) {
	m := NewMemory(5 * time.Millisecond)
	defer m.Close()
	require.NoError(t, m.Set(context.Background(), "k", []byte("v"), time.Millisecond))
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, m.Close())
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	t.Parallel()
	r, err := NewRedis(context.Background(), RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	testDriver(t, r)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	d, err := New(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, None{}, d)

	d, err = New(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, d)
	assert.NoError(t, d.Close())

	_, err = New(ctx, Config{Driver: "memcached"})
	assert.EqualError(t, err, `cache: unsupported driver "memcached"`)
}

func TestNone(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, None{}.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := None{}.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

type profile struct {
	ID        string
	Name      string
	Tags      []string
	CreatedAt time.Time
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()
	repo := NewRepository[string, profile](m, "user", time.Minute)

	_, err := repo.Get(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	want := profile{ID: "u1", Name: "Ann", Tags: []string{"a", "b"}, CreatedAt: created}
	require.NoError(t, repo.Set(ctx, "u1", want))

	raw, err := m.Get(ctx, "user:u1")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Tags, got.Tags)
	assert.True(t, created.Equal(got.CreatedAt))

	require.NoError(t, repo.Delete(ctx, "u1"))
	_, err = repo.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	t.Run("undecodable value is a miss", func(t *testing.T) {
		require.NoError(t, m.Set(ctx, "user:u2", []byte{0xc1}, time.Minute))
		_, err := repo.Get(ctx, "u2")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = m.Get(ctx, "user:u2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("nil driver", func(t *testing.T) {
		r := NewRepository[int, profile](nil, "p", time.Minute)
		require.NoError(t, r.Set(ctx, 1, want))
		_, err := r.Get(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
