package process

import (
	"context"
	"errors"
	"os"

	"github.com/loykin/katsctl/internal/detector"
	"github.com/loykin/katsctl/internal/pidfile"
)

// Handle locates one managed process. It keeps no state between calls:
// every Observe reads the PID file and the process table again.
type Handle struct {
	Name    string
	PIDFile pidfile.File
	// Liveness is consulted when there is no PID file and the pattern finds
	// nothing, e.g. a cache started outside the supervisor that answers PING.
	Liveness detector.Detector
	Pattern  detector.PatternDetector
}

// Observation is a single reading of a Handle.
type Observation struct {
	State RunState
	PID   int
	// StartUnix is the recorded start time, zero when unknown.
	StartUnix int64
}

// Observe derives the RunState of the process.
func (h Handle) Observe(ctx context.Context) Observation {
	rec, err := h.PIDFile.Read()
	switch {
	case err == nil:
		alive, aerr := detector.PIDFileDetector{PIDFile: h.PIDFile.Path}.Alive()
		if aerr == nil && alive {
			return Observation{State: Running, PID: rec.PID, StartUnix: rec.StartUnix}
		}
		return Observation{State: Dead, PID: rec.PID, StartUnix: rec.StartUnix}
	case !errors.Is(err, os.ErrNotExist):
		return Observation{State: Dead}
	}
	if pids, _ := h.Pattern.Find(ctx); len(pids) > 0 {
		return Observation{State: RunningNoRecord, PID: pids[0]}
	}
	if h.Liveness != nil {
		if ok, _ := h.Liveness.Alive(); ok {
			return Observation{State: RunningNoRecord}
		}
	}
	return Observation{State: Stopped}
}

// Locate returns the PID to act on: the recorded one when its process is alive,
// otherwise the first pattern match. Zero means nothing to signal.
func (h Handle) Locate(ctx context.Context) int {
	obs := h.Observe(ctx)
	if obs.State.Alive() {
		return obs.PID
	}
	return 0
}
