package factory

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loykin/katsctl/internal/store"
	pg "github.com/loykin/katsctl/internal/store/postgres"
	sq "github.com/loykin/katsctl/internal/store/sqlite"
)

// Kind names the backend a database URL selects.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// Target is a parsed database URL.
type Target struct {
	Kind Kind
	// Path is the absolute SQLite file path, or ":memory:".
	Path string
	// DSN is the pgx connection string.
	DSN string
}

// Parse resolves the application's DB_URL into a Target.
// Supported:
//   - sqlite:   "sqlite:///<path>", "sqlite+aiosqlite:///<path>" or a bare file path;
//     relative paths resolve against projectDir
//   - postgres: "postgres://", "postgresql://" or "postgresql+asyncpg://"
func Parse(dbURL, projectDir string) (Target, error) {
	d := strings.TrimSpace(dbURL)
	if d == "" {
		return Target{}, errors.New("empty database url")
	}
	scheme, rest, hasScheme := strings.Cut(d, "://")
	if !hasScheme {
		return Target{Kind: KindSQLite, Path: resolve(d, projectDir)}, nil
	}
	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")
	switch base {
	case "postgres", "postgresql":
		return Target{Kind: KindPostgres, DSN: "postgres://" + rest}, nil
	case "sqlite":
		// sqlite:///rel.db → "/rel.db"; sqlite:////abs.db → "//abs.db"
		p := strings.TrimPrefix(rest, "/")
		if p == "" {
			return Target{}, fmt.Errorf("database url %q has no path", d)
		}
		if strings.HasPrefix(p, "/") {
			return Target{Kind: KindSQLite, Path: filepath.Clean(p)}, nil
		}
		return Target{Kind: KindSQLite, Path: resolve(p, projectDir)}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database url scheme %q", scheme)
	}
}

func resolve(p, projectDir string) string {
	if p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectDir, p)
}

// Open parses dbURL and opens the matching store. No connection is made
// for PostgreSQL until first use.
func Open(dbURL, projectDir string) (store.Store, error) {
	t, err := Parse(dbURL, projectDir)
	if err != nil {
		return nil, err
	}
	return t.Open()
}

func (t Target) Open() (store.Store, error) {
	switch t.Kind {
	case KindPostgres:
		return pg.New(t.DSN)
	case KindSQLite:
		return sq.New(t.Path)
	}
	return nil, fmt.Errorf("unknown store kind %q", t.Kind)
}

// SQLitePath returns the database file for SQLite URLs and "" otherwise.
func SQLitePath(dbURL, projectDir string) string {
	t, err := Parse(dbURL, projectDir)
	if err != nil || t.Kind != KindSQLite || t.Path == ":memory:" {
		return ""
	}
	return t.Path
}
