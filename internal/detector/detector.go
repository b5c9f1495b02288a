package detector

// Detector is a liveness strategy for one managed process.
// Implementations may check a PID file, a PID number, a command exit status,
// a command-line pattern or a network ping.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
