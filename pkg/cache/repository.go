package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/pgcrud/pkg/metrics"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository stores msgpack-encoded values of one type under a key prefix.
type Repository[K comparable, V any] struct {
	driver Driver
	prefix string
	ttl    time.Duration
}

// NewRepository returns a repository writing keys as "<prefix>:<key>".
func NewRepository[K comparable, V any](driver Driver, prefix string, ttl time.Duration) *Repository[K, V] {
	if driver == nil {
		driver = None{}
	}
	return &Repository[K, V]{driver: driver, prefix: prefix, ttl: ttl}
}

func (r *Repository[K, V]) key(k K) string {
	return fmt.Sprintf("%s:%v", r.prefix, k)
}

// Get returns ErrNotFound on a miss. A value that no longer decodes is
// treated as a miss and removed.
func (r *Repository[K, V]) Get(ctx context.Context, k K) (V, error) {
	var zero V
	b, err := r.driver.Get(ctx, r.key(k))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.ObserveCache(r.prefix, false)
		}
		return zero, err
	}

	var v V
	if err := msgpack.Unmarshal(b, &v); err != nil {
		_ = r.driver.Delete(ctx, r.key(k))
		metrics.ObserveCache(r.prefix, false)
		return zero, ErrNotFound
	}
	metrics.ObserveCache(r.prefix, true)
	return v, nil
}

func (r *Repository[K, V]) Set(ctx context.Context, k K, v V) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", r.key(k), err)
	}
	return r.driver.Set(ctx, r.key(k), b, r.ttl)
}

func (r *Repository[K, V]) Delete(ctx context.Context, k K) error {
	return r.driver.Delete(ctx, r.key(k))
}
