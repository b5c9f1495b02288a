//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// signalTree signals the process group led by pid, falling back to the single
// process when pid leads no group (e.g. a child found by pattern).
func signalTree(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

const (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)
