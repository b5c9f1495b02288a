package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/katsctl/internal/store"
)

// DB implements store.Store for PostgreSQL through the pgx stdlib driver.
type DB struct {
	*store.SQL
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS system_configs(
		config_key VARCHAR(100) PRIMARY KEY,
		config_value TEXT NULL,
		config_type VARCHAR(20) NULL,
		description TEXT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS strategies(
		strategy_id BIGSERIAL PRIMARY KEY,
		strategy_code VARCHAR(50) NOT NULL UNIQUE,
		strategy_name VARCHAR(100) NOT NULL,
		category VARCHAR(20) NOT NULL,
		description TEXT NULL,
		default_params JSONB NULL,
		total_trades INTEGER NOT NULL DEFAULT 0,
		win_count INTEGER NOT NULL DEFAULT 0,
		loss_count INTEGER NOT NULL DEFAULT 0,
		avg_r_multiple DOUBLE PRECISION NULL,
		sqn_score DOUBLE PRECISION NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS tick_archive(
		id BIGSERIAL PRIMARY KEY,
		stock_code VARCHAR(20) NOT NULL,
		tick_date VARCHAR(8) NOT NULL,
		tick_data TEXT NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tick_archive_code_date ON tick_archive(stock_code, tick_date);`,
}

// New opens a PostgreSQL database. No connection is made until first use.
func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{SQL: store.NewSQL(d, store.DialectPostgres, schema)}, nil
}
