package process

import "errors"

// ErrTerminationFailure is returned when a process survives SIGKILL.
var ErrTerminationFailure = errors.New("process survived termination")
