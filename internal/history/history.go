package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart      EventType = "start"
	EventStop       EventType = "stop"
	EventRestart    EventType = "restart"
	EventCacheStart EventType = "cache_start"
	EventCacheStop  EventType = "cache_stop"
)

// OutcomeOK marks a successful operation; failures carry the diagnostic label.
const OutcomeOK = "ok"

// Event is one supervisor lifecycle outcome exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Process    string    `json:"process"`
	PID        int       `json:"pid"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	TradeMode  string    `json:"trade_mode,omitempty"`
}

// ErrNoReader is returned by Recorder.Recent when no sink can be queried.
var ErrNoReader = errors.New("no queryable history sink")

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans events out to sinks. Sink failures are logged and never
// returned to the caller: history must not change a lifecycle outcome.
type Recorder struct {
	mu    sync.Mutex
	sinks []Sink
	log   *slog.Logger
	now   func() time.Time
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sinks: sinks, log: log, now: time.Now}
}

// Add registers another sink.
func (r *Recorder) Add(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Record stamps and delivers e to every sink. A nil Recorder is a no-op.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeOK
	}
	r.mu.Lock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			r.log.Warn("history sink failed", "event", e.Type, "process", e.Process, "error", err)
		}
	}
}

// Recent lists the newest events from the first sink that is a Reader.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	if r == nil {
		return nil, ErrNoReader
	}
	r.mu.Lock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()
	for _, s := range sinks {
		if rd, ok := s.(Reader); ok {
			return rd.Recent(ctx, limit)
		}
	}
	return nil, ErrNoReader
}

// Close closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	r.sinks = nil
	return errors.Join(errs...)
}
