// Package database provides PostgreSQL connection management using pgx.
package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/config"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
)

//go:embed schema.sql
var schema string

// Options tune pool construction beyond the DSN.
type Options struct {
	EnableTracing bool
}

// NewPool creates and validates a pgxpool connection pool.
// It retries with exponential backoff to accommodate containers starting up.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, opts Options) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	if opts.EnableTracing {
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithIncludeQueryParameters())
	}

	tries := cfg.ConnectRetries
	if tries < 1 {
		tries = 1
	}

	log := logger.Get()
	attempt := 0
	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			log.Warn("db connect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			log.Warn("db ping failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		return p, nil
	},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     500 * time.Millisecond,
			RandomizationFactor: 0.1,
			Multiplier:          2,
			MaxInterval:         5 * time.Second,
		}),
		backoff.WithMaxTries(uint(tries)),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return pool, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
