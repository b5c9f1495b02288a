// Package retry provides the fixed-interval, bounded polling used for dependency
// readiness, post-spawn liveness and termination grace periods.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrExhausted is returned by Until when the predicate never reported success.
	ErrExhausted = errors.New("retry: attempts exhausted")
	// ErrBroken is returned by Hold when the predicate turned false inside the window.
	ErrBroken = errors.New("retry: condition broken")

	errNotReady = errors.New("not ready")
)

// Policy is a fixed interval retry budget. Attempts counts evaluations, not sleeps.
type Policy struct {
	Attempts int           `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
}

// Timeout is the worst-case wall time of the policy (sleeps only).
func (p Policy) Timeout() time.Duration {
	if p.Attempts <= 1 {
		return 0
	}
	return time.Duration(p.Attempts-1) * p.Interval
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Interval)
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

// Until evaluates pred until it reports true, at most p.Attempts times with
// p.Interval between evaluations. A predicate error counts as a failed attempt;
// the last one is wrapped into the returned ErrExhausted.
// Context cancellation aborts the wait and returns ctx.Err().
func Until(ctx context.Context, p Policy, pred func(context.Context) (bool, error)) error {
	var last error
	err := backoff.Retry(func() error {
		ok, err := pred(ctx)
		if err != nil {
			last = err
			return err
		}
		if !ok {
			return errNotReady
		}
		return nil
	}, p.backOff(ctx))
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if last != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, max(p.Attempts, 1), last)
	}
	return fmt.Errorf("%w after %d attempts", ErrExhausted, max(p.Attempts, 1))
}

// Hold requires pred to stay true for the whole window, checking every interval
// and once more when the window closes.
func Hold(ctx context.Context, window, interval time.Duration, pred func(context.Context) bool) error {
	if interval <= 0 || interval > window {
		interval = window
	}
	if window <= 0 {
		if !pred(ctx) {
			return ErrBroken
		}
		return nil
	}
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if !pred(ctx) {
				return ErrBroken
			}
			return nil
		case <-tick.C:
			if !pred(ctx) {
				return ErrBroken
			}
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
