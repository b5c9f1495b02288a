package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQL implements Store over database/sql. Queries are written with "?"
// placeholders and rebound for PostgreSQL.
type SQL struct {
	db      *sql.DB
	dialect string
	schema  []string
}

// NewSQL wraps an opened database. schema holds the dialect's CREATE statements.
func NewSQL(db *sql.DB, dialect string, schema []string) *SQL {
	return &SQL{db: db, dialect: dialect, schema: schema}
}

func (s *SQL) DB() *sql.DB                    { return s.db }
func (s *SQL) Dialect() string                { return s.dialect }
func (s *SQL) Close() error                   { return s.db.Close() }
func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) exec(ctx context.Context, q string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	return err
}

func (s *SQL) EnsureSchema(ctx context.Context) error {
	for _, q := range s.schema {
		if err := s.exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	now := time.Now().UTC()
	for _, c := range DefaultConfigs {
		if err := s.exec(ctx, `
			INSERT INTO system_configs(config_key, config_value, config_type, description, updated_at)
			VALUES(?, ?, ?, ?, ?)
			ON CONFLICT(config_key) DO NOTHING;`,
			c.Key, c.Value, c.Type, c.Description, now); err != nil {
			return fmt.Errorf("seed config %s: %w", c.Key, err)
		}
	}
	for _, st := range DefaultStrategies {
		if err := s.exec(ctx, `
			INSERT INTO strategies(strategy_code, strategy_name, category, description, total_trades, win_count, loss_count, is_active, updated_at)
			VALUES(?, ?, ?, ?, 0, 0, 0, ?, ?)
			ON CONFLICT(strategy_code) DO NOTHING;`,
			st.Code, st.Name, st.Category, st.Description, true, now); err != nil {
			return fmt.Errorf("seed strategy %s: %w", st.Code, err)
		}
	}
	return nil
}

func (s *SQL) Size(ctx context.Context) (int64, error) {
	var q string
	switch s.dialect {
	case DialectPostgres:
		q = `SELECT pg_database_size(current_database());`
	default:
		q = `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size();`
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQL) TableCounts(ctx context.Context, tables []string) ([]TableCount, error) {
	out := make([]TableCount, 0, len(tables))
	for _, t := range tables {
		if !validIdent(t) {
			return nil, fmt.Errorf("invalid table name %q", t)
		}
		tc := TableCount{Table: t}
		// #nosec G202 -- identifier validated above
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&tc.Count); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			tc.Missing = true
		}
		out = append(out, tc)
	}
	return out, nil
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func (s *SQL) GetConfig(ctx context.Context, key string) (ConfigEntry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT config_key, config_value, config_type, description, updated_at
		FROM system_configs WHERE config_key = ?;`), key)
	e, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ConfigEntry{}, fmt.Errorf("config %s: %w", key, ErrNotFound)
	}
	return e, err
}

// SetConfig upserts a row; empty Type and Description keep the stored ones.
func (s *SQL) SetConfig(ctx context.Context, e ConfigEntry) error {
	if strings.TrimSpace(e.Key) == "" {
		return errors.New("config key is required")
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	return s.exec(ctx, `
		INSERT INTO system_configs(config_key, config_value, config_type, description, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(config_key) DO UPDATE SET
			config_value=excluded.config_value,
			config_type=COALESCE(excluded.config_type, system_configs.config_type),
			description=COALESCE(excluded.description, system_configs.description),
			updated_at=excluded.updated_at;`,
		e.Key, e.Value, nullIfEmpty(e.Type), nullIfEmpty(e.Description), e.UpdatedAt.UTC())
}

func (s *SQL) ListConfig(ctx context.Context) ([]ConfigEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT config_key, config_value, config_type, description, updated_at
		FROM system_configs ORDER BY config_key;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []ConfigEntry
	for rows.Next() {
		e, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanConfig(sc scanner) (ConfigEntry, error) {
	var (
		e              ConfigEntry
		val, typ, desc sql.NullString
	)
	if err := sc.Scan(&e.Key, &val, &typ, &desc, &e.UpdatedAt); err != nil {
		return ConfigEntry{}, err
	}
	e.Value, e.Type, e.Description = val.String, typ.String, desc.String
	return e, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertTicks writes rows in one transaction.
func (s *SQL) InsertTicks(ctx context.Context, rows []TickRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO tick_archive(stock_code, tick_date, tick_data, archived_at) VALUES(?, ?, ?, ?);`))
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	now := time.Now().UTC()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.StockCode, r.TickDate, r.Data, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}
