package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/katsctl/internal/cache"
	"github.com/loykin/katsctl/internal/history"
	"github.com/loykin/katsctl/internal/metrics"
	"github.com/loykin/katsctl/internal/preflight"
	"github.com/loykin/katsctl/internal/retry"
	"github.com/loykin/katsctl/internal/status"
	"github.com/loykin/katsctl/internal/store"
	"github.com/loykin/katsctl/internal/store/factory"
)

// RestartOptions tunes Restart.
type RestartOptions struct {
	Live  bool
	Force bool
}

// Restart stops the main process and starts it again. The cache is left
// running and must be reachable for the start phase.
func (s *Supervisor) Restart(ctx context.Context, opts RestartOptions) (res *StartResult, err error) {
	begin := s.now()
	defer func() {
		ev := history.Event{Type: history.EventRestart, Process: NameMain}
		if res != nil {
			ev.PID = res.PID
			ev.TradeMode = res.TradeMode
		}
		s.finish(ctx, "restart", begin, ev, err)
	}()

	// a declined live restart must leave the running process alone
	if opts.Live {
		if err := s.confirmLive(); err != nil {
			return nil, err
		}
	}
	if _, err := s.Stop(ctx, StopOptions{Force: opts.Force}); err != nil {
		return nil, fmt.Errorf("stop phase: %w", err)
	}
	if err := retry.Sleep(ctx, s.RestartPause); err != nil {
		return nil, err
	}
	res, err = s.Start(ctx, StartOptions{Live: opts.Live, SkipCache: true, confirmed: opts.Live})
	if err != nil && !errors.Is(err, ErrAborted) {
		err = fmt.Errorf("start phase: %w", err)
	}
	return res, err
}

// Collector observes the project without touching it.
func (s *Supervisor) Collector() status.Collector {
	var ci status.CacheInspector
	if s.Cache != nil {
		ci = s.Cache
	}
	return status.Collector{
		Main:        s.MainHandle(),
		Cache:       ci,
		OpenStore:   s.OpenStore,
		DBPath:      factory.SQLitePath(s.Config.DatabaseURL(), s.Config.ProjectDir),
		LogGlob:     s.Config.MainLogGlob(),
		TradeMode:   s.Config.TradeMode(),
		PingTimeout: s.Config.Preflight.CacheTimeout,
		Now:         s.Now,
	}
}

// Status takes a snapshot and publishes the process gauges.
func (s *Supervisor) Status(ctx context.Context) status.Snapshot {
	snap := s.Collector().Collect(ctx)
	publishState(NameMain, snap.Main.State)
	metrics.SetProcessUp(NameCache, snap.Cache.Up)
	return snap
}

// HealthProbes is the operator health battery. Unlike the start battery it
// reports Unknown for things that simply do not exist yet.
func (s *Supervisor) HealthProbes() []preflight.Probe {
	cfg := s.Config
	var info preflight.InfoSource
	if s.Cache != nil {
		info = s.Cache
	}
	return []preflight.Probe{
		preflight.ProcessProbe(preflight.LabelProcess, s.MainHandle()),
		preflight.CacheInfoProbe(info, cfg.Preflight.CacheTimeout),
		preflight.EnvFileProbe(cfg.EnvFileSeen, cfg.Paths.EnvFile, cfg.CredentialIssues),
		preflight.FileSizeProbe(preflight.LabelDBFile, factory.SQLitePath(cfg.DatabaseURL(), cfg.ProjectDir)),
		preflight.LogFilesProbe(cfg.MainLogGlob()),
		preflight.ModulesProbe(s.modulesCheck()),
		preflight.DiskProbe(cfg.ProjectDir, preflight.MinFreeDisk),
	}
}

func (s *Supervisor) Health(ctx context.Context) preflight.Report {
	return preflight.Run(ctx, s.HealthProbes()...)
}

// LatestLog is the newest per-start log of the main process, nil when none.
func (s *Supervisor) LatestLog() *status.LogStatus {
	return status.LatestLog(s.Config.MainLogGlob())
}

// withStore opens the store, ensures the schema and runs fn.
func (s *Supervisor) withStore(ctx context.Context, fn func(store.Store) error) error {
	st, err := s.OpenStore()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	return fn(st)
}

// DBInit ensures the schema and returns the database URL.
func (s *Supervisor) DBInit(ctx context.Context) (string, error) {
	url := s.Config.DatabaseURL()
	if err := s.withStore(ctx, func(store.Store) error { return nil }); err != nil {
		return url, err
	}
	s.log().Info("storage initialized", "url", url)
	return url, nil
}

// DBStats describes the database.
type DBStats struct {
	URL     string
	Dialect string
	Size    int64
	Tables  []store.TableCount
}

func (s *Supervisor) DBStats(ctx context.Context) (DBStats, error) {
	out := DBStats{URL: s.Config.DatabaseURL()}
	err := s.withStore(ctx, func(st store.Store) error {
		out.Dialect = st.Dialect()
		counts, err := st.TableCounts(ctx, store.KnownTables)
		if err != nil {
			return err
		}
		out.Tables = counts
		size, err := st.Size(ctx)
		if err != nil {
			s.log().Warn("database size unavailable", "err", err)
		}
		out.Size = size
		return nil
	})
	return out, err
}

// tickArchive writes flushed ticks into the tick_archive table.
type tickArchive struct{ st store.Store }

func (a tickArchive) ArchiveTicks(ctx context.Context, rows []cache.TickRow) error {
	out := make([]store.TickRow, len(rows))
	for i, r := range rows {
		out[i] = store.TickRow(r)
	}
	if err := a.st.InsertTicks(ctx, out); err != nil {
		return err
	}
	metrics.AddTicksArchived(len(out))
	return nil
}

// RedisFlush moves the buffered ticks of date (YYYYMMDD, today when empty)
// from the cache into storage.
func (s *Supervisor) RedisFlush(ctx context.Context, date string) (cache.FlushResult, error) {
	if date == "" {
		date = s.now().Format("20060102")
	}
	if err := validDate(date); err != nil {
		return cache.FlushResult{}, err
	}
	if err := s.pingCache(ctx); err != nil {
		return cache.FlushResult{}, fmt.Errorf("%w: redis at %s is not running", ErrDependencyUnavailable, s.cacheAddr())
	}
	var res cache.FlushResult
	err := s.withStore(ctx, func(st store.Store) error {
		var err error
		res, err = s.Cache.FlushTicks(ctx, date, tickArchive{st: st}, s.log())
		return err
	})
	if err != nil {
		return res, err
	}
	s.log().Info("ticks flushed", "date", date, "keys", res.Keys, "rows", res.Rows, "skipped", res.Skipped)
	return res, nil
}

func validDate(d string) error {
	if len(d) != 8 || strings.Trim(d, "0123456789") != "" {
		return fmt.Errorf("invalid date %q, want YYYYMMDD", d)
	}
	return nil
}

// ConfigList returns the environment-backed settings and every stored row.
func (s *Supervisor) ConfigList(ctx context.Context) ([][2]string, []store.ConfigEntry, error) {
	env := s.Config.EnvSettings()
	var rows []store.ConfigEntry
	err := s.withStore(ctx, func(st store.Store) error {
		var err error
		rows, err = st.ListConfig(ctx)
		return err
	})
	return env, rows, err
}

// ConfigGet returns one stored row; a missing key wraps store.ErrNotFound.
func (s *Supervisor) ConfigGet(ctx context.Context, key string) (store.ConfigEntry, error) {
	var e store.ConfigEntry
	err := s.withStore(ctx, func(st store.Store) error {
		var err error
		e, err = st.GetConfig(ctx, key)
		return err
	})
	return e, err
}

// ConfigSet upserts one row, keeping its type and description.
func (s *Supervisor) ConfigSet(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("empty config key")
	}
	return s.withStore(ctx, func(st store.Store) error {
		if err := st.SetConfig(ctx, store.ConfigEntry{Key: key, Value: value, UpdatedAt: s.now().UTC()}); err != nil {
			return err
		}
		s.log().Info("config updated", "key", key, "value", value)
		return nil
	})
}
