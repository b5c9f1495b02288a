package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/katsctl/internal/cache"
	"github.com/loykin/katsctl/internal/config"
	"github.com/loykin/katsctl/internal/detector"
	"github.com/loykin/katsctl/internal/history"
	"github.com/loykin/katsctl/internal/metrics"
	"github.com/loykin/katsctl/internal/preflight"
	"github.com/loykin/katsctl/internal/process"
	"github.com/loykin/katsctl/internal/retry"
	"github.com/loykin/katsctl/internal/status"
)

// StartOptions tunes Start.
type StartOptions struct {
	// Live starts real trading after the operator typed ConfirmWord.
	Live bool
	// SkipCache requires a reachable cache instead of spawning one.
	SkipCache bool

	// confirmed is set by Restart, which asks before its stop phase.
	confirmed bool
}

// StartResult describes a successful start.
type StartResult struct {
	PID          int
	LogFile      string
	TradeMode    string
	CacheStarted bool
	Report       preflight.Report
}

// startPoll is how often the start window re-checks the new process.
const startPoll = 500 * time.Millisecond

// Start brings the cache up when needed, initializes storage, runs the
// preflight battery and spawns the main process. Nothing is spawned unless
// every earlier step passed.
func (s *Supervisor) Start(ctx context.Context, opts StartOptions) (res *StartResult, err error) {
	begin := s.now()
	mode := config.TradeModePaper
	if opts.Live {
		mode = config.TradeModeLive
	}
	ev := history.Event{Type: history.EventStart, Process: NameMain, TradeMode: mode}
	defer func() {
		if res != nil {
			ev.PID = res.PID
		}
		s.finish(ctx, "start", begin, ev, err)
	}()

	if err := s.Config.ValidateCredentials(); err != nil {
		return nil, err
	}
	if opts.Live && !opts.confirmed {
		if err := s.confirmLive(); err != nil {
			return nil, err
		}
	}

	res = &StartResult{TradeMode: mode}
	started, err := s.ensureCache(ctx, opts.SkipCache)
	if err != nil {
		return nil, err
	}
	res.CacheStarted = started

	if err := s.initStorage(ctx); err != nil {
		return nil, err
	}

	res.Report = s.Preflight(ctx)
	_ = status.RenderChecklist(s.out(), s.Styles, "Preflight", res.Report)
	if !res.Report.OK() {
		var labels []string
		for _, r := range res.Report.Failed() {
			labels = append(labels, r.Label)
		}
		return nil, fmt.Errorf("%w: %s", ErrPreflightFailed, strings.Join(labels, ", "))
	}

	if err := s.checkDuplicate(ctx); err != nil {
		return nil, err
	}

	spec := process.Spec{
		Name:    NameMain,
		Command: s.Config.Main.Command,
		WorkDir: s.Config.Main.WorkDir,
		Env:     s.Config.ChildEnv(mode),
		PIDFile: s.Config.PIDPath(NameMain),
		LogFile: s.Config.MainLogPath(s.now()),
	}
	st, err := s.Spawn(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailure, err)
	}
	res.PID = st.PID
	res.LogFile = st.LogFile
	s.log().Info("spawned", "process", NameMain, "pid", st.PID, "log", st.LogFile, "trade_mode", mode)

	h := s.MainHandle()
	herr := retry.Hold(ctx, s.StartWindow, min(startPoll, s.StartWindow), func(ctx context.Context) bool {
		return h.Observe(ctx).State == process.Running
	})
	if herr != nil {
		if errors.Is(herr, retry.ErrBroken) {
			_ = h.PIDFile.Remove()
			publishState(NameMain, process.Stopped)
			return res, fmt.Errorf("%w: pid %d, see %s", ErrSpawnFailure, st.PID, st.LogFile)
		}
		return res, herr
	}
	publishState(NameMain, process.Running)
	_, _ = fmt.Fprintln(s.out(), s.Styles.RenderOK(fmt.Sprintf("%s started (PID %d, %s)", NameMain, st.PID, mode)))
	_, _ = fmt.Fprintf(s.out(), "  log: %s\n", st.LogFile)
	return res, nil
}

func (s *Supervisor) confirmLive() error {
	if s.Confirm == nil {
		return ErrAborted
	}
	_, _ = fmt.Fprintln(s.out(), s.Styles.RenderWarn(s.Styles.Error.Render("LIVE mode trades with real money.")))
	ok, err := s.Confirm.Confirm("Start live trading?")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if !ok {
		s.log().Info("live start declined")
		return ErrAborted
	}
	return nil
}

// ensureCache makes the cache answer PING. It reports whether it had to
// spawn the server.
func (s *Supervisor) ensureCache(ctx context.Context, skip bool) (bool, error) {
	if s.Cache == nil {
		return false, fmt.Errorf("%w: no cache client for %s", ErrDependencyUnavailable, s.Config.RedisURL())
	}
	if err := s.pingCache(ctx); err == nil {
		publishState(NameCache, process.Running)
		return false, nil
	} else if skip {
		return false, fmt.Errorf("%w: redis at %s: %v", ErrDependencyUnavailable, s.cacheAddr(), err)
	}

	begin := s.now()
	ev := history.Event{Type: history.EventCacheStart, Process: NameCache}
	pid, err := s.spawnCache(ctx)
	ev.PID = pid
	s.finish(ctx, "cache_start", begin, ev, err)
	if err != nil {
		return false, err
	}
	publishState(NameCache, process.Running)
	return true, nil
}

func (s *Supervisor) spawnCache(ctx context.Context) (int, error) {
	cc := s.Config.Cache
	pidPath := s.Config.PIDPath(NameCache)
	logPath := s.cacheLogPath()
	written, err := cache.EnsureConfig(cc.ConfigFile, cache.ServerConfig{
		Port:      cc.Port,
		MaxMemory: cc.MaxMemory,
		Dir:       s.Config.ProjectDir,
		PIDFile:   pidPath,
		LogFile:   logPath,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: write %s: %v", ErrDependencyUnavailable, cc.ConfigFile, err)
	}
	if written {
		s.log().Info("generated cache config", "path", cc.ConfigFile)
	}

	st, err := s.Spawn(process.Spec{
		Name:    NameCache,
		Command: cc.Command + " " + cc.ConfigFile,
		WorkDir: s.Config.ProjectDir,
		PIDFile: pidPath,
		LogFile: logPath,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	s.log().Info("spawned", "process", NameCache, "pid", st.PID)

	err = retry.Until(ctx, s.CacheReady, func(ctx context.Context) (bool, error) {
		if err := s.pingCache(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return st.PID, fmt.Errorf("%w: redis did not answer PING: %v", ErrDependencyUnavailable, err)
	}
	_, _ = fmt.Fprintln(s.out(), s.Styles.RenderOK(fmt.Sprintf("%s started (PID %d)", NameCache, st.PID)))
	return st.PID, nil
}

func (s *Supervisor) initStorage(ctx context.Context) error {
	st, err := s.OpenStore()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	return nil
}

// checkDuplicate refuses a second main process and clears a stale record.
func (s *Supervisor) checkDuplicate(ctx context.Context) error {
	h := s.MainHandle()
	obs := h.Observe(ctx)
	switch obs.State {
	case process.Running, process.RunningNoRecord:
		return fmt.Errorf("%w (PID %d)", ErrDuplicateProcess, obs.PID)
	case process.Dead:
		s.log().Warn("removing stale pid file", "path", h.PIDFile.Path, "pid", obs.PID)
		if err := h.PIDFile.Remove(); err != nil {
			return fmt.Errorf("remove stale pid file: %w", err)
		}
	}
	return nil
}

// Probes is the start battery in its fixed order.
func (s *Supervisor) Probes() []preflight.Probe {
	cfg := s.Config
	var pinger preflight.Pinger
	if s.Cache != nil {
		pinger = s.Cache
	}
	return []preflight.Probe{
		preflight.ConfigProbe(func() error {
			_, err := config.Load(config.Options{ProjectDir: cfg.ProjectDir, File: cfg.File})
			return err
		}),
		preflight.CacheProbe(pinger, s.cacheAddr(), cfg.Preflight.CacheTimeout),
		preflight.StorageProbe(s.OpenStore),
		preflight.CredentialsProbe(cfg.CredentialIssues),
		preflight.ModulesProbe(s.modulesCheck()),
	}
}

func (s *Supervisor) modulesCheck() detector.CommandDetector {
	return detector.CommandDetector{
		Command: s.Config.Preflight.ModulesCommand,
		Timeout: s.Config.Preflight.Timeout,
		Dir:     s.Config.Main.WorkDir,
	}
}

// Preflight runs the start battery and publishes each result.
func (s *Supervisor) Preflight(ctx context.Context) preflight.Report {
	rep := preflight.Run(ctx, s.Probes()...)
	for _, r := range rep.Results {
		metrics.SetPreflightCheck(r.Label, r.Passed())
		if !r.Passed() {
			s.log().Warn("preflight check failed", "check", r.Label, "detail", r.Detail)
		}
	}
	return rep
}
