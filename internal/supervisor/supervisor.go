// Package supervisor drives the two-tier lifecycle of the trading app:
// the redis cache first, then the main process.
package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loykin/katsctl/internal/cache"
	"github.com/loykin/katsctl/internal/config"
	"github.com/loykin/katsctl/internal/detector"
	"github.com/loykin/katsctl/internal/history"
	"github.com/loykin/katsctl/internal/logger"
	"github.com/loykin/katsctl/internal/metrics"
	"github.com/loykin/katsctl/internal/pidfile"
	"github.com/loykin/katsctl/internal/process"
	"github.com/loykin/katsctl/internal/retry"
	"github.com/loykin/katsctl/internal/status"
	"github.com/loykin/katsctl/internal/store"
	"github.com/loykin/katsctl/internal/store/factory"
	"github.com/prometheus/client_golang/prometheus"
)

// Managed process names. They name the PID files and the metric labels.
const (
	NameMain  = "kats"
	NameCache = "redis"
)

// DefaultRestartPause separates the stop and start phases of a restart.
const DefaultRestartPause = 2 * time.Second

// Cache is the part of cache.Client the supervisor uses.
type Cache interface {
	Ping(ctx context.Context) error
	Addr() string
	Info(ctx context.Context) (cache.Info, error)
	DBSize(ctx context.Context) (int64, error)
	Save(ctx context.Context) error
	Shutdown(ctx context.Context) error
	FlushTicks(ctx context.Context, date string, archive cache.TickArchive, log *slog.Logger) (cache.FlushResult, error)
}

// Supervisor runs one command against the project. It keeps no state
// between invocations: every decision re-reads PID files and the process table.
type Supervisor struct {
	Config *config.Config
	// Cache is nil when REDIS_URL could not be parsed.
	Cache     Cache
	OpenStore func() (store.Store, error)
	Confirm   Confirmer
	History   *history.Recorder
	Log       *slog.Logger
	// Out receives the operator-facing report (checklists, summaries).
	Out    io.Writer
	Styles status.Styles

	Terminator   process.Terminator
	CacheReady   retry.Policy
	StartWindow  time.Duration
	RestartPause time.Duration
	// Spawn launches a detached process; process.Spawn unless replaced.
	Spawn    func(process.Spec) (*process.Started, error)
	Gatherer prometheus.Gatherer
	Now      func() time.Time
}

// New builds a Supervisor with production defaults taken from cfg.
func New(cfg *config.Config, c Cache) *Supervisor {
	s := &Supervisor{
		Config:  cfg,
		Cache:   c,
		Confirm: PromptConfirmer{In: os.Stdin, Out: os.Stdout},
		Log:     logger.Discard(),
		Out:     io.Discard,
		Styles:  status.NewStyles(io.Discard, status.ColorNever),
		CacheReady: retry.Policy{
			Attempts: cfg.Cache.ReadyAttempts,
			Interval: cfg.Cache.ReadyInterval,
		},
		StartWindow:  cfg.Main.StartWindow,
		RestartPause: DefaultRestartPause,
		Spawn:        process.Spawn,
		Gatherer:     prometheus.DefaultGatherer,
		Now:          time.Now,
	}
	s.OpenStore = func() (store.Store, error) {
		return factory.Open(cfg.DatabaseURL(), cfg.ProjectDir)
	}
	return s
}

func (s *Supervisor) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Supervisor) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return logger.Discard()
}

func (s *Supervisor) out() io.Writer {
	if s.Out != nil {
		return s.Out
	}
	return io.Discard
}

func (s *Supervisor) cacheAddr() string {
	if s.Cache == nil {
		return s.Config.RedisURL()
	}
	return s.Cache.Addr()
}

func (s *Supervisor) pingCache(ctx context.Context) error {
	if s.Cache == nil {
		return ErrDependencyUnavailable
	}
	timeout := s.Config.Preflight.CacheTimeout
	if timeout <= 0 {
		timeout = cache.DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Cache.Ping(ctx)
}

// MainHandle locates the trading app.
func (s *Supervisor) MainHandle() process.Handle {
	return process.Handle{
		Name:    NameMain,
		PIDFile: pidfile.New(s.Config.PIDPath(NameMain)),
		Pattern: detector.PatternDetector{Pattern: s.Config.Main.Pattern},
	}
}

// CacheHandle locates the redis server. A server that answers PING without
// a PID file or a matching process still counts as running.
func (s *Supervisor) CacheHandle() process.Handle {
	h := process.Handle{
		Name:    NameCache,
		PIDFile: pidfile.New(s.Config.PIDPath(NameCache)),
		Pattern: detector.PatternDetector{Pattern: s.Config.Cache.Pattern},
	}
	if s.Cache != nil {
		h.Liveness = cache.Detector{Client: s.Cache, Timeout: s.Config.Preflight.CacheTimeout}
	}
	return h
}

func (s *Supervisor) cacheLogPath() string {
	return filepath.Join(s.Config.Paths.LogDir, NameCache+".log")
}

// terminator returns the configured Terminator counting signals under name.
func (s *Supervisor) terminator(name string) process.Terminator {
	t := s.Terminator
	next := t.Notify
	t.Notify = func(pid int, sig syscall.Signal) {
		metrics.IncTermination(name, signalName(sig))
		if next != nil {
			next(pid, sig)
		}
	}
	return t
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	default:
		return sig.String()
	}
}

// finish records the outcome of op in metrics and history.
// Neither can change the result of the operation.
func (s *Supervisor) finish(ctx context.Context, op string, begin time.Time, ev history.Event, err error) {
	o := outcome(err)
	metrics.ObserveOperation(op, o, s.now().Sub(begin))
	ev.Outcome = o
	if err != nil {
		ev.Detail = err.Error()
	}
	s.History.Record(context.WithoutCancel(ctx), ev)
	if err := metrics.WriteTextfile(s.Config.Metrics.Textfile, s.Gatherer); err != nil {
		s.log().Warn("metrics textfile not written", "path", s.Config.Metrics.Textfile, "err", err)
	}
}

var stateNames = []string{
	process.Stopped.String(), process.Running.String(),
	process.RunningNoRecord.String(), process.Dead.String(),
}

func publishState(name string, st process.RunState) {
	metrics.SetProcessUp(name, st.Alive())
	metrics.SetCurrentState(name, st.String(), stateNames)
}
