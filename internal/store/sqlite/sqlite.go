package sqlite

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/katsctl/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// The path is a database file; ":memory:" opens an in-memory database.
type DB struct {
	*store.SQL
	path string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS system_configs(
		config_key VARCHAR(100) PRIMARY KEY,
		config_value TEXT NULL,
		config_type VARCHAR(20) NULL,
		description TEXT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS strategies(
		strategy_id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_code VARCHAR(50) NOT NULL UNIQUE,
		strategy_name VARCHAR(100) NOT NULL,
		category VARCHAR(20) NOT NULL,
		description TEXT NULL,
		default_params TEXT NULL,
		total_trades INTEGER NOT NULL DEFAULT 0,
		win_count INTEGER NOT NULL DEFAULT 0,
		loss_count INTEGER NOT NULL DEFAULT 0,
		avg_r_multiple REAL NULL,
		sqn_score REAL NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS tick_archive(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stock_code VARCHAR(20) NOT NULL,
		tick_date VARCHAR(8) NOT NULL,
		tick_data TEXT NOT NULL,
		archived_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tick_archive_code_date ON tick_archive(stock_code, tick_date);`,
}

// New opens a SQLite database at path. The parent directory is created
// when missing.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	memory := p == ":memory:" || strings.Contains(p, "mode=memory")
	if !memory {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, err
			}
		}
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if memory {
		// each connection would otherwise see its own empty database
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{SQL: store.NewSQL(d, store.DialectSQLite, schema), path: p}, nil
}

// Path is the database file path.
func (s *DB) Path() string { return s.path }
