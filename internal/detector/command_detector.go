package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a command probe such as "redis-cli ping".
const DefaultCommandTimeout = 3 * time.Second

// CommandDetector runs a command that should succeed if the process is running.
// When Expect is set, the trimmed stdout must also equal it (e.g. "PONG").
type CommandDetector struct {
	Command string
	Expect  string
	Timeout time.Duration
	// Dir is the working directory; empty means the caller's.
	Dir string
}

// buildShellAwareCommand constructs an *exec.Cmd for a detector command.
// Avoids invoking a shell unless obvious shell metacharacters are present (G204 mitigation).
func buildShellAwareCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/true")
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.CommandContext(ctx, "/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

// ErrCommandFailed reports a probe command that exited non-zero, timed out
// or printed something other than Expect.
var ErrCommandFailed = errors.New("probe command failed")

// Check runs the command under ctx (bounded by Timeout) and returns nil when
// it succeeds. Failures wrap ErrCommandFailed with the last output line.
func (d CommandDetector) Check(ctx context.Context) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := buildShellAwareCommand(ctx, d.Command)
	cmd.Dir = d.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err == nil {
		if d.Expect != "" && strings.TrimSpace(string(out)) != d.Expect {
			return fmt.Errorf("%w: got %q, want %q", ErrCommandFailed, strings.TrimSpace(string(out)), d.Expect)
		}
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: timed out after %s", ErrCommandFailed, timeout)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return fmt.Errorf("%w: %s", ErrCommandFailed, lastLine(stderr.String(), ee.Error()))
	}
	return err
}

func lastLine(s, fallback string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if l := strings.TrimSpace(lines[len(lines)-1]); l != "" {
		return l
	}
	return fallback
}

func (d CommandDetector) Alive() (bool, error) {
	err := d.Check(context.Background())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrCommandFailed) {
		// non-zero exit or timeout means not alive
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
