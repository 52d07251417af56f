package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// NewPool builds the pgx connection pool the incident, risk, capa and audit
// repositories share, and verifies connectivity with a ping before returning
// it. A dead database at startup is a configuration fault, not something to
// limp past: the audit chain cannot buffer entries.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Str("database", cfg.ConnConfig.Database).
		Int32("max_conns", maxConns).
		Int32("min_conns", minConns).
		Msg("database pool ready")
	return pool, nil
}
