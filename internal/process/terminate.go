package process

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/loykin/katsctl/internal/detector"
	"github.com/loykin/katsctl/internal/pidfile"
	"github.com/loykin/katsctl/internal/retry"
)

const (
	DefaultPollInterval = time.Second
	DefaultKillWait     = 2 * time.Second
)

// Terminator stops processes with SIGTERM, a grace period and SIGKILL.
// Signal and Alive are replaceable for tests; nil means the OS calls.
type Terminator struct {
	PollInterval time.Duration
	KillWait     time.Duration
	Signal       func(pid int, sig syscall.Signal) error
	Alive        func(pid int) bool
	// Notify is called after every signal that was delivered.
	Notify func(pid int, sig syscall.Signal)
}

// TerminateOptions tunes one Terminate call.
type TerminateOptions struct {
	Grace time.Duration
	Force bool
	// PIDFile, when set, is removed once the process is confirmed gone.
	PIDFile string
}

// SweepOptions tunes Sweep.
type SweepOptions struct {
	Wait  time.Duration
	Force bool
}

func (t Terminator) poll() time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}
	return DefaultPollInterval
}

func (t Terminator) killWait() time.Duration {
	if t.KillWait > 0 {
		return t.KillWait
	}
	return DefaultKillWait
}

func (t Terminator) signal(pid int, sig syscall.Signal) error {
	send := signalTree
	if t.Signal != nil {
		send = t.Signal
	}
	if err := send(pid, sig); err != nil {
		return err
	}
	if t.Notify != nil {
		t.Notify(pid, sig)
	}
	return nil
}

func (t Terminator) alive(pid int) bool {
	if t.Alive != nil {
		return t.Alive(pid)
	}
	return detector.PIDAlive(pid)
}

// waitGone polls until every pid is dead or the window elapses.
func (t Terminator) waitGone(ctx context.Context, window time.Duration, pids ...int) error {
	interval := t.poll()
	if interval > window && window > 0 {
		interval = window
	}
	attempts := 1
	if interval > 0 {
		attempts = int(window/interval) + 1
	}
	return retry.Until(ctx, retry.Policy{Attempts: attempts, Interval: interval}, func(context.Context) (bool, error) {
		for _, pid := range pids {
			if t.alive(pid) {
				return false, nil
			}
		}
		return true, nil
	})
}

// Terminate stops pid. A process that is already gone counts as success.
func (t Terminator) Terminate(ctx context.Context, pid int, opts TerminateOptions) error {
	if pid <= 0 || !t.alive(pid) {
		return t.removeRecord(opts.PIDFile)
	}
	if !opts.Force {
		if err := t.signal(pid, sigTerm); err != nil {
			return fmt.Errorf("%w: signal %d: %w", ErrTerminationFailure, pid, err)
		}
		err := t.waitGone(ctx, opts.Grace, pid)
		if err == nil {
			return t.removeRecord(opts.PIDFile)
		}
		if !errors.Is(err, retry.ErrExhausted) {
			return err
		}
	}
	if err := t.signal(pid, sigKill); err != nil {
		return fmt.Errorf("%w: kill %d: %w", ErrTerminationFailure, pid, err)
	}
	if err := t.waitGone(ctx, t.killWait(), pid); err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return fmt.Errorf("%w: pid %d", ErrTerminationFailure, pid)
		}
		return err
	}
	return t.removeRecord(opts.PIDFile)
}

// Sweep signals every pid at once, waits opts.Wait and kills the survivors.
func (t Terminator) Sweep(ctx context.Context, pids []int, opts SweepOptions) error {
	if len(pids) == 0 {
		return nil
	}
	first := sigTerm
	if opts.Force {
		first = sigKill
	}
	for _, pid := range pids {
		_ = t.signal(pid, first)
	}
	if err := retry.Sleep(ctx, opts.Wait); err != nil {
		return err
	}
	var survivors []int
	for _, pid := range pids {
		if t.alive(pid) {
			survivors = append(survivors, pid)
			_ = t.signal(pid, sigKill)
		}
	}
	if len(survivors) == 0 {
		return nil
	}
	if err := t.waitGone(ctx, t.killWait(), survivors...); err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return fmt.Errorf("%w: pids %v", ErrTerminationFailure, survivors)
		}
		return err
	}
	return nil
}

func (t Terminator) removeRecord(path string) error {
	if path == "" {
		return nil
	}
	return pidfile.New(path).Remove()
}
