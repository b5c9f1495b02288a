package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a config key does not exist.
var ErrNotFound = errors.New("not found")

// ConfigEntry is one row of system_configs.
type ConfigEntry struct {
	Key         string
	Value       string
	Type        string // str, int, float, bool, json; empty when unknown
	Description string
	UpdatedAt   time.Time
}

// TableCount is a row count; Missing is set when the table does not exist.
type TableCount struct {
	Table   string
	Count   int64
	Missing bool
}

// TickRow is one archived tick from the cache buffer.
type TickRow struct {
	StockCode string
	TickDate  string
	Data      string
}

// KnownTables are the application tables reported by db-stats, in display order.
var KnownTables = []string{
	"stocks",
	"trades",
	"trade_journal_entries",
	"strategies",
	"daily_stats",
	"monthly_stats",
	"drawdown_logs",
	"system_configs",
	"event_calendars",
	"paper_accounts",
	"tick_archive",
}

// Store is the storage surface the supervisor needs: schema bootstrap,
// connectivity, statistics, runtime config rows and the tick archive.
type Store interface {
	// EnsureSchema creates the supervisor-owned tables and seeds defaults
	// without overwriting existing rows. Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	// Size is the database size in bytes.
	Size(ctx context.Context) (int64, error)
	TableCounts(ctx context.Context, tables []string) ([]TableCount, error)

	GetConfig(ctx context.Context, key string) (ConfigEntry, error)
	SetConfig(ctx context.Context, e ConfigEntry) error
	ListConfig(ctx context.Context) ([]ConfigEntry, error)

	InsertTicks(ctx context.Context, rows []TickRow) error

	Dialect() string
	Close() error
}
