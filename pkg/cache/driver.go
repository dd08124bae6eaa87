// Package cache provides string key/value drivers with expiry and a typed
// repository on top of them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("cache: not found")

// Driver names accepted by New.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

type Driver interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Driver string
	Redis  RedisConfig
}

// New builds the driver named by cfg.Driver. An empty name means none.
func New(ctx context.Context, cfg Config) (Driver, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return None{}, nil
	case DriverMemory:
		return NewMemory(time.Minute), nil
	case DriverRedis:
		return NewRedis(ctx, cfg.Redis)
	}
	return nil, fmt.Errorf("cache: unsupported driver %q", cfg.Driver)
}

// None stores nothing; every Get misses.
type None struct{}

func (None) Get(context.Context, string) ([]byte, error)              { return nil, ErrNotFound }
func (None) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (None) Delete(context.Context, string) error                     { return nil }
func (None) Close() error                                             { return nil }
