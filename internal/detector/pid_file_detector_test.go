package detector

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/loykin/katsctl/internal/pidfile"
)

func TestPIDFileDetector_WithMetaMatches(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t, "2")
	pid := cmd.Process.Pid
	time.Sleep(20 * time.Millisecond)
	start := ProcStartUnix(pid)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	pf := pidfile.New(filepath.Join(t.TempDir(), "kats.pid"))
	if err := pf.Write(pidfile.Record{PID: pid, StartUnix: start}); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	alive, err := (PIDFileDetector{PIDFile: pf.Path}).Alive()
	if err != nil || !alive {
		t.Fatalf("expected alive with matching meta, got %v %v", alive, err)
	}
}

func TestPIDFileDetector_WithMetaMismatch(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t, "2")
	pid := cmd.Process.Pid
	time.Sleep(20 * time.Millisecond)
	start := ProcStartUnix(pid)
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	pf := pidfile.New(filepath.Join(t.TempDir(), "kats.pid"))
	if err := pf.Write(pidfile.Record{PID: pid, StartUnix: start + 12345}); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	alive, err := (PIDFileDetector{PIDFile: pf.Path}).Alive()
	if err != nil {
		t.Fatalf("Alive error: %v", err)
	}
	if alive {
		t.Fatalf("expected reused pid to be reported not alive")
	}
}

func TestPIDFileDetector_PlainPID(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t, "1")
	p := filepath.Join(t.TempDir(), "redis.pid")
	if err := os.WriteFile(p, []byte(strconv.Itoa(cmd.Process.Pid)+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	alive, err := (PIDFileDetector{PIDFile: p}).Alive()
	if err != nil || !alive {
		t.Fatalf("expected alive for plain pidfile, got %v %v", alive, err)
	}
}
