package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLSink appends events to a lifecycle_history table. The sqlite and
// postgres subpackages open the database and pick the dialect.
type SQLSink struct {
	db      *sql.DB
	dialect string
}

// NewSQLSink wraps db and creates the table if missing.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect string) (*SQLSink, error) {
	if db == nil {
		return nil, errors.New("nil database for SQL history sink")
	}
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	var stmts []string
	if s.dialect == DialectPostgres {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS lifecycle_history(
				id BIGSERIAL PRIMARY KEY,
				occurred_at TIMESTAMPTZ NOT NULL,
				event TEXT NOT NULL,
				process TEXT NOT NULL,
				pid INTEGER NOT NULL,
				outcome TEXT NOT NULL,
				detail TEXT NULL,
				trade_mode TEXT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_lifecycle_history_process ON lifecycle_history(process);`,
		}
	} else {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS lifecycle_history(
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				occurred_at TIMESTAMP NOT NULL,
				event TEXT NOT NULL,
				process TEXT NOT NULL,
				pid INTEGER NOT NULL,
				outcome TEXT NOT NULL,
				detail TEXT NULL,
				trade_mode TEXT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_lifecycle_history_process ON lifecycle_history(process);`,
		}
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	args := []any{e.OccurredAt.UTC(), string(e.Type), e.Process, e.PID, e.Outcome, nullable(e.Detail), nullable(e.TradeMode)}
	if s.dialect == DialectPostgres {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO lifecycle_history(occurred_at, event, process, pid, outcome, detail, trade_mode)
			VALUES($1,$2,$3,$4,$5,$6,$7);`, args...)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_history(occurred_at, event, process, pid, outcome, detail, trade_mode)
		VALUES(?, ?, ?, ?, ?, ?, ?);`, args...)
	return err
}

// Recent returns up to limit events, newest first.
func (s *SQLSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT occurred_at, event, process, pid, outcome, detail, trade_mode
		FROM lifecycle_history ORDER BY occurred_at DESC, id DESC LIMIT ?;`
	if s.dialect == DialectPostgres {
		q = strings.Replace(q, "?", "$1", 1)
	}
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var (
			e          Event
			typ        string
			detail, tm sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Process, &e.PID, &e.Outcome, &detail, &tm); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Detail, e.TradeMode = detail.String, tm.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error { return s.db.Close() }
