package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/pricefeed/internal/config"
)

// Schema creates the price_samples hypertable. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS price_samples (
	exchange_ts          TIMESTAMPTZ      NOT NULL,
	received_at          TIMESTAMPTZ      NOT NULL,
	symbol               TEXT             NOT NULL,
	price                DOUBLE PRECISION NOT NULL,
	price_change         DOUBLE PRECISION NOT NULL,
	price_change_percent DOUBLE PRECISION NOT NULL,
	high_24h             DOUBLE PRECISION,
	low_24h              DOUBLE PRECISION,
	volume_24h           TEXT,
	source               TEXT             NOT NULL,
	PRIMARY KEY (symbol, exchange_ts)
);
SELECT create_hypertable('price_samples', 'exchange_ts', if_not_exists => TRUE);
`

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
