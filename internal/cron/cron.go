// Package cron runs the periodic tasks of `katsctl serve`.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one scheduled action.
// Schedule is a five-field cron expression or a descriptor such as
// "@every 15s" or "@daily"; intervals below one second round up to one
// second. A tick is skipped while the previous run of the same task is
// still going.
type Task struct {
	Name     string
	Schedule string
	// Timeout bounds one run; zero means no bound beyond the scheduler's context.
	Timeout time.Duration
	Run     func(ctx context.Context) error

	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
}

// Runs is the number of completed runs.
func (t *Task) Runs() int64 { return t.runs.Load() }

// Skipped is the number of ticks dropped because a run was still active.
func (t *Task) Skipped() int64 { return t.skipped.Load() }

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty schedule")
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

func (t *Task) validate() error {
	if t.Name == "" {
		return errors.New("task requires a name")
	}
	if t.Run == nil {
		return fmt.Errorf("task %s has no run function", t.Name)
	}
	_, err := ParseSchedule(t.Schedule)
	return err
}

// Scheduler fires tasks until Stop. Use Start to launch it.
type Scheduler struct {
	mu     sync.Mutex
	c      *cron.Cron
	tasks  []*Task
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler in loc; nil means local time.
func NewScheduler(log *slog.Logger, loc *time.Location) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{c: cron.New(cron.WithParser(parser), cron.WithLocation(loc)), log: log}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(t *Task) error {
	if err := t.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return errors.New("scheduler already started")
	}
	for _, existing := range s.tasks {
		if existing.Name == t.Name {
			return fmt.Errorf("duplicate task %s", t.Name)
		}
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// Start schedules every task. Runs get a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		if _, err := s.c.AddFunc(t.Schedule, func() { s.fire(t) }); err != nil {
			s.cancel()
			return fmt.Errorf("task %s: %w", t.Name, err)
		}
		s.log.Debug("task scheduled", "task", t.Name, "schedule", t.Schedule)
	}
	s.c.Start()
	return nil
}

func (s *Scheduler) fire(t *Task) {
	if !t.running.CompareAndSwap(false, true) {
		t.skipped.Add(1)
		s.log.Warn("task still running, tick skipped", "task", t.Name)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer t.running.Store(false)

	ctx := s.ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	begin := time.Now()
	err := t.Run(ctx)
	t.runs.Add(1)
	if err != nil {
		s.log.Error("task failed", "task", t.Name, "err", err, "elapsed", time.Since(begin))
		return
	}
	s.log.Debug("task done", "task", t.Name, "elapsed", time.Since(begin))
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.c.Stop().Done()
	s.wg.Wait()
}
