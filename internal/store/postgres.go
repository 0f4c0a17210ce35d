// Package store implements the durable Token store and Result store (§3,
// §4.4) on top of Postgres, following the teacher's singleton connection-
// manager pattern.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/config"
)

var (
	pool     *pgxpool.Pool
	initOnce sync.Once
)

// Connect establishes the process-wide Postgres pool. Safe to call once at
// boot; subsequent calls are no-ops.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) error {
	var err error
	initOnce.Do(func() {
		var poolCfg *pgxpool.Config
		poolCfg, err = pgxpool.ParseConfig(cfg.URL)
		if err != nil {
			err = fmt.Errorf("parse postgres dsn: %w", err)
			return
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifetime) * time.Second

		var p *pgxpool.Pool
		p, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			err = fmt.Errorf("create postgres pool: %w", err)
			return
		}
		if pingErr := p.Ping(ctx); pingErr != nil {
			err = fmt.Errorf("ping postgres: %w", pingErr)
			return
		}
		pool = p
		if logger != nil {
			logger.Info("postgres connection established", zap.Int32("max_conns", poolCfg.MaxConns))
		}
	})
	return err
}

// Pool returns the shared pool. Panics if Connect hasn't succeeded — every
// caller runs after boot-time Connect.
func Pool() *pgxpool.Pool {
	if pool == nil {
		panic("store: Pool() called before Connect()")
	}
	return pool
}

// Close releases the pool. Called during graceful shutdown.
func Close() {
	if pool != nil {
		pool.Close()
	}
}

// HealthCheck pings the pool. No route calls it: /state and /ping answer
// without touching the database.
func HealthCheck(ctx context.Context) error {
	return pool.Ping(ctx)
}
