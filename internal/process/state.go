package process

// RunState is the observed lifecycle state of a managed process.
type RunState int

const (
	// Stopped: no PID file and no matching process.
	Stopped RunState = iota
	// Running: the PID file names a live process.
	Running
	// RunningNoRecord: no PID file, but a matching process is alive.
	RunningNoRecord
	// Dead: the PID file exists but its process is gone (or the file is unreadable).
	Dead
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case RunningNoRecord:
		return "RUNNING_NO_RECORD"
	case Dead:
		return "DEAD"
	default:
		return "STOPPED"
	}
}

// Alive reports whether the state corresponds to a live process.
func (s RunState) Alive() bool { return s == Running || s == RunningNoRecord }
