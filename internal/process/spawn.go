package process

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/katsctl/internal/detector"
	"github.com/loykin/katsctl/internal/pidfile"
)

// Started describes a freshly spawned process.
type Started struct {
	PID       int
	StartUnix int64
	LogFile   string
}

// Spawn launches spec detached, writes its PID file and returns immediately.
// Output goes to spec.LogFile opened in append mode; the child keeps the
// descriptor after the supervisor exits.
func Spawn(spec Spec) (*Started, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, err
	}
	defer func() { _ = devnull.Close() }()
	cmd.Stdin = devnull

	out := devnull
	if spec.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogFile), 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		// #nosec G304 -- path comes from supervisor configuration
		f, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	} else {
		null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return nil, err
		}
		defer func() { _ = null.Close() }()
		out = null
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	pid := cmd.Process.Pid
	// reap the child if it exits while we are still around, so it never
	// lingers as a zombie that signal probes would count as alive
	go func() { _ = cmd.Wait() }()

	rec := pidfile.Record{PID: pid, StartUnix: detector.ProcStartUnix(pid)}
	if err := pidfile.New(spec.PIDFile).Write(rec); err != nil {
		_ = signalTree(pid, sigKill)
		return nil, fmt.Errorf("record pid of %s: %w", spec.Name, err)
	}
	return &Started{PID: pid, StartUnix: rec.StartUnix, LogFile: spec.LogFile}, nil
}
