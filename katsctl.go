package katsctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/loykin/katsctl/internal/cache"
	"github.com/loykin/katsctl/internal/config"
	"github.com/loykin/katsctl/internal/cron"
	"github.com/loykin/katsctl/internal/history"
	hfactory "github.com/loykin/katsctl/internal/history/factory"
	"github.com/loykin/katsctl/internal/logger"
	"github.com/loykin/katsctl/internal/metrics"
	"github.com/loykin/katsctl/internal/preflight"
	iapi "github.com/loykin/katsctl/internal/server"
	"github.com/loykin/katsctl/internal/status"
	"github.com/loykin/katsctl/internal/store"
	"github.com/loykin/katsctl/internal/supervisor"
	itls "github.com/loykin/katsctl/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type StartOptions = supervisor.StartOptions

type StartResult = supervisor.StartResult

type StopOptions = supervisor.StopOptions

type StopResult = supervisor.StopResult

type RestartOptions = supervisor.RestartOptions

type DBStats = supervisor.DBStats

type Snapshot = status.Snapshot

type Report = preflight.Report

type FlushResult = cache.FlushResult

type HistorySink = history.Sink

type HistoryEvent = history.Event

type ConfigEntry = store.ConfigEntry

// Re-exported sentinels, checked with errors.Is.
var (
	ErrConfigLoad            = config.ErrLoad
	ErrInvalidCredentials    = config.ErrInvalidCredentials
	ErrDependencyUnavailable = supervisor.ErrDependencyUnavailable
	ErrDuplicateProcess      = supervisor.ErrDuplicateProcess
	ErrSpawnFailure          = supervisor.ErrSpawnFailure
	ErrPreflightFailed       = supervisor.ErrPreflightFailed
	ErrAborted               = supervisor.ErrAborted
	ErrConfigNotFound        = store.ErrNotFound
	ErrNoHistory             = history.ErrNoReader
)

// Options selects the project and where output goes. Zero values mean the
// current directory and the process's standard streams.
type Options struct {
	ProjectDir string
	ConfigFile string
	// LogLevel and Color override the log section of katsctl.toml when set.
	LogLevel string
	Color    string
	// Lenient opens the session even when katsctl.toml or .env is malformed;
	// see ConfigError.
	Lenient bool
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
}

// Session is a Supervisor wired to the project's cache, history sinks,
// logger and metrics. Close it when the command is done.
type Session struct {
	inner   *supervisor.Supervisor
	history *history.Recorder
	cfg     *config.Config
	log     *slog.Logger
	styles  status.Styles
	closers []io.Closer
}

// Open loads the project configuration and wires a Session. A malformed
// REDIS_URL or history DSN is logged and leaves that dependency unset.
func Open(opts Options) (*Session, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	cfg, err := config.Load(config.Options{ProjectDir: opts.ProjectDir, File: opts.ConfigFile, Lenient: opts.Lenient})
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Color != "" {
		cfg.Log.Color = opts.Color
	}
	mode := status.ParseColorMode(cfg.Log.Color)

	log, logCloser, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Color:      UseColor(opts.Stderr, mode),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("%w: logger: %v", config.ErrLoad, err)
	}
	s := &Session{cfg: cfg, log: log, styles: status.NewStyles(opts.Stderr, mode), closers: []io.Closer{logCloser}}
	if cfg.LoadErr != nil {
		log.Warn("configuration partially loaded, using defaults for the broken parts", "err", cfg.LoadErr)
	}

	if err := RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "err", err)
	}

	// a nil *cache.Client must not become a non-nil Cache interface
	var c supervisor.Cache
	if cl, err := cache.Open(cfg.RedisURL()); err != nil {
		log.Warn("redis url unusable", "url", cfg.RedisURL(), "err", err)
	} else {
		c = cl
		s.closers = append(s.closers, cl)
	}

	rec := history.NewRecorder(log)
	if dsn := cfg.History.DSN; dsn != "" {
		sink, err := hfactory.NewSinkFromDSN(dsn)
		if err != nil {
			log.Warn("history sink disabled", "err", err)
		} else {
			rec.Add(sink)
		}
	}
	s.closers = append(s.closers, rec)
	s.history = rec

	sv := supervisor.New(cfg, c)
	sv.Log = log
	sv.Out = opts.Stdout
	sv.Styles = status.NewStyles(opts.Stdout, mode)
	sv.History = rec
	sv.Confirm = supervisor.PromptConfirmer{In: opts.Stdin, Out: opts.Stdout}
	s.inner = sv
	return s, nil
}

// Close releases the cache client, history sinks and the log file.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) Config() *Config                    { return s.cfg }
func (s *Session) ConfigError() error                 { return s.cfg.LoadErr }
func (s *Session) Logger() *slog.Logger               { return s.log }
func (s *Session) Supervisor() *supervisor.Supervisor { return s.inner }

// Styles renders diagnostics for the error stream.
func (s *Session) Styles() status.Styles { return s.styles }

// Output styles bound to the report stream.
func (s *Session) OutputStyles() status.Styles { return s.inner.Styles }

func (s *Session) Start(ctx context.Context, o StartOptions) (*StartResult, error) {
	return s.inner.Start(ctx, o)
}
func (s *Session) Stop(ctx context.Context, o StopOptions) (*StopResult, error) {
	return s.inner.Stop(ctx, o)
}
func (s *Session) Restart(ctx context.Context, o RestartOptions) (*StartResult, error) {
	return s.inner.Restart(ctx, o)
}
func (s *Session) Status(ctx context.Context) Snapshot { return s.inner.Status(ctx) }
func (s *Session) Health(ctx context.Context) Report   { return s.inner.Health(ctx) }
func (s *Session) LatestLog() *status.LogStatus        { return s.inner.LatestLog() }
func (s *Session) DBInit(ctx context.Context) (string, error) {
	return s.inner.DBInit(ctx)
}
func (s *Session) DBStats(ctx context.Context) (DBStats, error) { return s.inner.DBStats(ctx) }
func (s *Session) RedisFlush(ctx context.Context, date string) (FlushResult, error) {
	return s.inner.RedisFlush(ctx, date)
}
func (s *Session) ConfigList(ctx context.Context) ([][2]string, []ConfigEntry, error) {
	return s.inner.ConfigList(ctx)
}
func (s *Session) ConfigGet(ctx context.Context, key string) (ConfigEntry, error) {
	return s.inner.ConfigGet(ctx, key)
}
func (s *Session) ConfigSet(ctx context.Context, key, value string) error {
	return s.inner.ConfigSet(ctx, key, value)
}

// History lists the newest lifecycle events from the history.dsn sink.
// ErrNoHistory means no configured sink can be queried.
func (s *Session) History(ctx context.Context, limit int) ([]HistoryEvent, error) {
	return s.history.Recent(ctx, limit)
}

// NewHTTPServer builds the read-only API server for this session, with
// TLS when server.tls is enabled. Run it with ServeHTTP.
func (s *Session) NewHTTPServer(addr, basePath string) (*http.Server, error) {
	tc, err := itls.Setup(s.cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}
	srv := iapi.NewServer(addr, basePath, s.inner, prometheus.DefaultGatherer)
	srv.TLSConfig = tc
	return srv, nil
}

// Scheduler builds the periodic tasks of `serve` from the schedule section:
// a status refresh that keeps the exported gauges current and the daily
// tick flush. The caller starts and stops it.
func (s *Session) Scheduler() (*cron.Scheduler, error) {
	sc := s.cfg.Schedule
	var loc *time.Location
	if sc.TimeZone != "" {
		l, err := time.LoadLocation(sc.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("schedule time_zone: %w", err)
		}
		loc = l
	}
	sch := cron.NewScheduler(s.log, loc)
	if sc.StatusRefresh != "" {
		err := sch.Add(&cron.Task{Name: "status-refresh", Schedule: sc.StatusRefresh, Timeout: time.Minute, Run: func(ctx context.Context) error {
			s.inner.Status(ctx)
			return nil
		}})
		if err != nil {
			return nil, err
		}
	}
	if sc.RedisFlush != "" {
		err := sch.Add(&cron.Task{Name: "redis-flush", Schedule: sc.RedisFlush, Timeout: 30 * time.Minute, Run: func(ctx context.Context) error {
			_, err := s.inner.RedisFlush(ctx, "")
			return err
		}})
		if err != nil {
			return nil, err
		}
	}
	return sch, nil
}

// ServeHTTP runs srv until ctx is done.
func ServeHTTP(ctx context.Context, srv *http.Server) error { return iapi.Serve(ctx, srv) }

// IsLoopback reports whether addr only listens on a loopback interface.
func IsLoopback(addr string) bool { return iapi.IsLoopback(addr) }

// RegisterMetrics registers katsctl metrics with the provided registerer.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// UseColor reports whether ANSI color should be written to w.
func UseColor(w io.Writer, mode status.ColorMode) bool {
	switch mode {
	case status.ColorAlways:
		return true
	case status.ColorNever:
		return false
	}
	return IsTerminal(w)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
