package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Adapter types accepted by Open.
const (
	TypePostgres = adapterPostgres
	TypeGateway  = adapterGateway
)

// Config selects and configures an adapter.
type Config struct {
	Type     string
	Postgres PostgresConfig
	Gateway  GatewayConfig
	// ConnectTimeout bounds the wait for the first successful ping.
	// Zero means 30s.
	ConnectTimeout time.Duration
}

// Open builds the adapter named by cfg.Type and waits until it answers a
// ping, retrying with exponential backoff.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var conn Conn
	switch cfg.Type {
	case TypePostgres:
		pg, err := NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		conn = pg
	case TypeGateway:
		gw, err := NewGateway(cfg.Gateway, logger)
		if err != nil {
			return nil, err
		}
		conn = gw
	default:
		return nil, fmt.Errorf("db: unsupported database type %q", cfg.Type)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := waitReady(ctx, conn, timeout, logger); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("database connected", zap.String("type", cfg.Type))
	return conn, nil
}

func waitReady(ctx context.Context, conn Conn, timeout time.Duration, logger *zap.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = timeout

	attempt := 0
	op := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.Ping(pingCtx); err != nil {
			logger.Warn("database not ready", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("db: ping after %d attempts: %w", attempt, err)
	}
	return nil
}
