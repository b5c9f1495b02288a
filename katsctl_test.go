package katsctl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/loykin/katsctl/internal/process"
	"github.com/loykin/katsctl/internal/status"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func openProject(t *testing.T) (*Session, string, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []string{"DB_URL", "TRADE_MODE", "KIS_APP_KEY", "KIS_APP_SECRET", "KIS_ACCOUNT_NO"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1")
	toml := "[main]\npattern = \"katsctl-facade-test-no-such-process\"\nsweep_pattern = \"katsctl-facade-test-no-such-process\"\n" +
		"[cache]\npattern = \"katsctl-facade-test-no-such-cache\"\n"
	if err := os.WriteFile(filepath.Join(dir, "katsctl.toml"), []byte(toml), 0o600); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	s, err := Open(Options{ProjectDir: dir, Color: "never", Stdin: strings.NewReader(""), Stdout: &out, Stderr: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dir, &out
}

func TestOpenResolvesProject(t *testing.T) {
	s, dir, _ := openProject(t)
	if s.Config().ProjectDir != dir {
		t.Fatalf("project dir = %q, want %q", s.Config().ProjectDir, dir)
	}
	if got := s.Config().Log.File; got != filepath.Join(dir, "logs", "katsctl.log") {
		t.Fatalf("log file = %q", got)
	}
	if s.Supervisor().Cache == nil {
		t.Fatal("cache client should be wired")
	}
}

func TestOpenRejectsBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "katsctl.toml"), []byte("[main\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Open(Options{ProjectDir: dir, Stderr: &bytes.Buffer{}})
	if !errors.Is(err, ErrConfigLoad) {
		t.Fatalf("expected ErrConfigLoad, got %v", err)
	}
}

func TestFacadeStatusAndStopWhenIdle(t *testing.T) {
	requireUnix(t)
	s, dir, _ := openProject(t)
	ctx := context.Background()

	snap := s.Status(ctx)
	if snap.Main.State != process.Stopped {
		t.Fatalf("main state = %v", snap.Main.State)
	}
	if snap.Cache.Up {
		t.Fatal("cache on port 1 should be down")
	}

	res, err := s.Stop(ctx, StopOptions{})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res.MainPID != 0 {
		t.Fatalf("nothing should have been stopped: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, ".pids", "kats.pid")); !os.IsNotExist(err) {
		t.Fatalf("stop must not create a pid file: %v", err)
	}
}

func TestFacadeStartWithoutCredentials(t *testing.T) {
	s, _, _ := openProject(t)
	_, err := s.Start(context.Background(), StartOptions{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestFacadeStorageAndConfig(t *testing.T) {
	s, dir, _ := openProject(t)
	ctx := context.Background()

	url, err := s.DBInit(ctx)
	if err != nil {
		t.Fatalf("db init: %v", err)
	}
	if url != "sqlite+aiosqlite:///kats.db" {
		t.Fatalf("url = %q", url)
	}
	if _, err := os.Stat(filepath.Join(dir, "kats.db")); err != nil {
		t.Fatalf("database file: %v", err)
	}

	if err := s.ConfigSet(ctx, "max_positions", "5"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	e, err := s.ConfigGet(ctx, "max_positions")
	if err != nil || e.Value != "5" {
		t.Fatalf("config get = %+v, %v", e, err)
	}
	if _, err := s.ConfigGet(ctx, "missing"); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}

	if _, err := s.RedisFlush(ctx, ""); !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
}

func TestUseColor(t *testing.T) {
	var buf bytes.Buffer
	if !UseColor(&buf, status.ColorAlways) {
		t.Fatal("always should force color")
	}
	if UseColor(&buf, status.ColorNever) {
		t.Fatal("never should disable color")
	}
	if UseColor(&buf, status.ColorAuto) {
		t.Fatal("a buffer is not a terminal")
	}
}
