package supervisor

import (
	"errors"

	"github.com/loykin/katsctl/internal/config"
	"github.com/loykin/katsctl/internal/process"
)

var (
	// ErrDependencyUnavailable means the cache could not be reached or started.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrDuplicateProcess means the main process is already running.
	ErrDuplicateProcess = errors.New("already running, use restart")
	// ErrSpawnFailure means the main process died inside the start window.
	ErrSpawnFailure = errors.New("process exited during startup")
	// ErrPreflightFailed means at least one preflight probe did not pass.
	ErrPreflightFailed = errors.New("preflight checks failed")
	// ErrAborted is returned when the operator declines live trading.
	// It is not a failure.
	ErrAborted = errors.New("aborted by operator")
)

// Diagnostic labels printed by the CLI.
const (
	LabelConfig      = "CONFIG"
	LabelDependency  = "DEPENDENCY"
	LabelDuplicate   = "DUPLICATE"
	LabelTermination = "TERMINATION"
	LabelSpawn       = "SPAWN"
	LabelPreflight   = "PREFLIGHT"
	LabelError       = "ERROR"
)

// Label maps err to its diagnostic label. The first matching sentinel wins.
func Label(err error) string {
	switch {
	case errors.Is(err, config.ErrInvalidCredentials), errors.Is(err, config.ErrLoad):
		return LabelConfig
	case errors.Is(err, ErrDependencyUnavailable):
		return LabelDependency
	case errors.Is(err, ErrDuplicateProcess):
		return LabelDuplicate
	case errors.Is(err, process.ErrTerminationFailure):
		return LabelTermination
	case errors.Is(err, ErrSpawnFailure):
		return LabelSpawn
	case errors.Is(err, ErrPreflightFailed):
		return LabelPreflight
	default:
		return LabelError
	}
}

// outcome is the metrics/history outcome string for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAborted):
		return "aborted"
	default:
		return "error"
	}
}
