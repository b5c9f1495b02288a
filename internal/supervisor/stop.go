package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/katsctl/internal/detector"
	"github.com/loykin/katsctl/internal/history"
	"github.com/loykin/katsctl/internal/pidfile"
	"github.com/loykin/katsctl/internal/process"
	"github.com/loykin/katsctl/internal/retry"
)

// StopOptions tunes Stop.
type StopOptions struct {
	// All stops the cache as well, after a best-effort SAVE.
	All bool
	// Force skips SIGTERM and the grace period.
	Force bool
}

// StopResult lists what Stop acted on.
type StopResult struct {
	MainPID      int
	Swept        []int
	CacheStopped bool
}

// Stop terminates the main process and its orphans, and the cache when
// opts.All is set. Nothing running is a successful no-op. The main PID file
// is removed at the end whatever happened.
func (s *Supervisor) Stop(ctx context.Context, opts StopOptions) (res *StopResult, err error) {
	begin := s.now()
	res = &StopResult{}
	mainRecord := pidfile.New(s.Config.PIDPath(NameMain))
	defer func() {
		if rerr := mainRecord.Remove(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("remove pid file: %w", rerr))
		}
		s.finish(ctx, "stop", begin, history.Event{Type: history.EventStop, Process: NameMain, PID: res.MainPID}, err)
	}()

	var errs []error
	cachePIDs := s.cachePIDs(ctx)

	h := s.MainHandle()
	if pid := h.Locate(ctx); pid > 0 {
		res.MainPID = pid
		s.log().Info("stopping", "process", NameMain, "pid", pid, "force", opts.Force)
		err := s.terminator(NameMain).Terminate(ctx, pid, process.TerminateOptions{
			Grace:   s.Config.Main.Grace,
			Force:   opts.Force,
			PIDFile: mainRecord.Path,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", NameMain, err))
		} else {
			_, _ = fmt.Fprintln(s.out(), s.Styles.RenderOK(fmt.Sprintf("%s stopped (PID %d)", NameMain, pid)))
		}
	}

	swept, err := s.sweep(ctx, cachePIDs, opts.Force)
	res.Swept = swept
	if err != nil {
		errs = append(errs, err)
	}
	publishState(NameMain, process.Stopped)

	if opts.All {
		stopped, err := s.stopCache(ctx, opts.Force)
		res.CacheStopped = stopped
		if err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

// sweep terminates leftovers of the main process, never the cache.
func (s *Supervisor) sweep(ctx context.Context, exclude []int, force bool) ([]int, error) {
	pd := detector.PatternDetector{Pattern: s.Config.Main.SweepPattern, Exclude: exclude}
	pids, err := pd.Find(ctx)
	if err != nil {
		s.log().Warn("orphan search failed", "pattern", pd.Pattern, "err", err)
		return nil, nil
	}
	if len(pids) == 0 {
		return nil, nil
	}
	s.log().Info("sweeping orphans", "pattern", pd.Pattern, "pids", pids)
	err = s.terminator(NameMain).Sweep(ctx, pids, process.SweepOptions{Wait: s.Config.Main.SweepWait, Force: force})
	if err != nil {
		return pids, fmt.Errorf("sweep %s: %w", pd.Pattern, err)
	}
	return pids, nil
}

func (s *Supervisor) cachePIDs(ctx context.Context) []int {
	var pids []int
	if rec, err := pidfile.New(s.Config.PIDPath(NameCache)).Read(); err == nil {
		pids = append(pids, rec.PID)
	}
	found, _ := detector.PatternDetector{Pattern: s.Config.Cache.Pattern}.Find(ctx)
	return append(pids, found...)
}

// stopCache snapshots and stops the cache: by PID when one is known, over
// the client otherwise.
func (s *Supervisor) stopCache(ctx context.Context, force bool) (stopped bool, err error) {
	h := s.CacheHandle()
	obs := h.Observe(ctx)
	if !obs.State.Alive() {
		if obs.State == process.Dead {
			s.log().Warn("removing stale pid file", "path", h.PIDFile.Path, "pid", obs.PID)
			_ = h.PIDFile.Remove()
		}
		return false, nil
	}

	begin := s.now()
	defer func() {
		s.finish(ctx, "cache_stop", begin, history.Event{Type: history.EventCacheStop, Process: NameCache, PID: obs.PID}, err)
	}()

	if s.Cache != nil {
		if err := s.Cache.Save(ctx); err != nil {
			s.log().Warn("cache snapshot failed", "err", err)
		} else {
			s.log().Info("cache snapshot saved")
		}
	}

	if obs.PID > 0 {
		err = s.terminator(NameCache).Terminate(ctx, obs.PID, process.TerminateOptions{
			Grace:   s.Config.Cache.Grace,
			Force:   force,
			PIDFile: h.PIDFile.Path,
		})
	} else {
		err = s.shutdownCache(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("stop %s: %w", NameCache, err)
	}
	publishState(NameCache, process.Stopped)
	_, _ = fmt.Fprintln(s.out(), s.Styles.RenderOK(NameCache+" stopped"))
	return true, nil
}

// shutdownCache sends SHUTDOWN and waits for the server to stop answering.
func (s *Supervisor) shutdownCache(ctx context.Context) error {
	if s.Cache == nil {
		return nil
	}
	if err := s.Cache.Shutdown(ctx); err != nil {
		return err
	}
	interval := s.Terminator.PollInterval
	if interval <= 0 {
		interval = process.DefaultPollInterval
	}
	p := retry.Policy{Attempts: int(s.Config.Cache.Grace/interval) + 1, Interval: interval}
	err := retry.Until(ctx, p, func(ctx context.Context) (bool, error) {
		return s.pingCache(ctx) != nil, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: redis still answers PING", process.ErrTerminationFailure)
	}
	return err
}
