package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/katsctl/internal/cache"
	"github.com/loykin/katsctl/internal/detector"
	"github.com/loykin/katsctl/internal/process"
	"github.com/loykin/katsctl/internal/store"
	"github.com/loykin/katsctl/internal/store/sqlite"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type panicProbe struct{}

func (panicProbe) Label() string                   { return "boom" }
func (panicProbe) Evaluate(context.Context) Result { panic("exploded") }

func TestRunEvaluatesEveryProbeInOrder(t *testing.T) {
	calls := 0
	counted := func(name string, err error) Probe {
		return Check(name, func(context.Context) (string, error) {
			calls++
			return "ok", err
		})
	}
	rep := Run(context.Background(),
		counted("a", nil),
		counted("b", errors.New("down")),
		panicProbe{},
		counted("c", nil),
	)

	require.Len(t, rep.Results, 4)
	assert.Equal(t, 3, calls, "no short-circuit after a failure or panic")
	assert.Equal(t, []string{"a", "b", "boom", "c"}, []string{
		rep.Results[0].Label, rep.Results[1].Label, rep.Results[2].Label, rep.Results[3].Label,
	})
	assert.False(t, rep.OK())
	assert.Equal(t, "down", rep.Results[1].Detail)
	assert.Contains(t, rep.Results[2].Detail, "panic: exploded")
	assert.Len(t, rep.Failed(), 2)
}

func TestUnknownIsNotFailure(t *testing.T) {
	rep := Run(context.Background(),
		Func{Name: "x", Fn: func(context.Context) (Outcome, string) { return Unknown, "n/a" }},
		Func{Name: "y", Fn: func(context.Context) (Outcome, string) { return Pass, "" }},
	)
	assert.True(t, rep.OK())
	assert.Equal(t, "–", rep.Results[0].Outcome.Marker())
	assert.Equal(t, "✓", Pass.Marker())
	assert.Equal(t, "✗", Fail.Marker())
	assert.Equal(t, "unknown", Unknown.String())
}

func TestCacheProbeHonoursTimeout(t *testing.T) {
	slow := pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	start := time.Now()
	res := CacheProbe(slow, "localhost:6379", 50*time.Millisecond).Evaluate(context.Background())
	assert.Equal(t, Fail, res.Outcome)
	assert.Contains(t, res.Detail, "localhost:6379")
	assert.Less(t, time.Since(start), 2*time.Second)

	ok := CacheProbe(pingFunc(func(context.Context) error { return nil }), "a:1", 0).Evaluate(context.Background())
	assert.Equal(t, Pass, ok.Outcome)

	none := CacheProbe(nil, "a:1", 0).Evaluate(context.Background())
	assert.Equal(t, Fail, none.Outcome)
}

func TestStorageProbe(t *testing.T) {
	res := StorageProbe(func() (store.Store, error) { return sqlite.New(":memory:") }).Evaluate(context.Background())
	assert.Equal(t, Pass, res.Outcome)
	assert.Equal(t, "sqlite", res.Detail)

	res = StorageProbe(func() (store.Store, error) { return nil, errors.New("bad url") }).Evaluate(context.Background())
	assert.Equal(t, Fail, res.Outcome)
	assert.Equal(t, "bad url", res.Detail)
}

func TestCredentialsAndConfigProbes(t *testing.T) {
	res := CredentialsProbe(func() []string { return []string{"KIS_APP_KEY is not set", "KIS_ACCOUNT_NO is a placeholder"} }).Evaluate(context.Background())
	assert.Equal(t, Fail, res.Outcome)
	assert.Contains(t, res.Detail, "KIS_ACCOUNT_NO")

	res = CredentialsProbe(func() []string { return nil }).Evaluate(context.Background())
	assert.Equal(t, Pass, res.Outcome)

	res = ConfigProbe(func() error { return errors.New("parse .env") }).Evaluate(context.Background())
	assert.Equal(t, Fail, res.Outcome)
}

func TestModulesProbe(t *testing.T) {
	res := ModulesProbe(detector.CommandDetector{Command: "true"}).Evaluate(context.Background())
	assert.Equal(t, Pass, res.Outcome)

	res = ModulesProbe(detector.CommandDetector{Command: "echo 'ModuleNotFoundError: kats' >&2; exit 1"}).Evaluate(context.Background())
	assert.Equal(t, Fail, res.Outcome)
	assert.Contains(t, res.Detail, "ModuleNotFoundError")
}

type fixedObserver process.Observation

func (f fixedObserver) Observe(context.Context) process.Observation { return process.Observation(f) }

type infoFunc func(ctx context.Context) (cache.Info, error)

func (f infoFunc) Info(ctx context.Context) (cache.Info, error) { return f(ctx) }

func TestHealthProbes(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, Pass, ProcessProbe(LabelProcess, fixedObserver{State: process.Running, PID: 7}).Evaluate(ctx).Outcome)
	dead := ProcessProbe(LabelProcess, fixedObserver{State: process.Dead, PID: 7}).Evaluate(ctx)
	assert.Equal(t, Fail, dead.Outcome)
	assert.Equal(t, "DEAD", dead.Detail)

	info := CacheInfoProbe(infoFunc(func(context.Context) (cache.Info, error) {
		return cache.Info{"redis_version": "7.2.4", "used_memory_human": "1.5M"}, nil
	}), 0).Evaluate(ctx)
	assert.Equal(t, Pass, info.Outcome)
	assert.Equal(t, "v7.2.4 (memory 1.5M)", info.Detail)

	assert.Equal(t, Fail, EnvFileProbe(false, ".env", func() []string { return nil }).Evaluate(ctx).Outcome)
	assert.Equal(t, Pass, EnvFileProbe(true, ".env", func() []string { return nil }).Evaluate(ctx).Outcome)

	dir := t.TempDir()
	db := filepath.Join(dir, "kats.db")
	assert.Equal(t, Unknown, FileSizeProbe(LabelDBFile, db).Evaluate(ctx).Outcome)
	assert.Equal(t, Unknown, FileSizeProbe(LabelDBFile, "").Evaluate(ctx).Outcome)
	require.NoError(t, os.WriteFile(db, make([]byte, 2048), 0o600))
	size := FileSizeProbe(LabelDBFile, db).Evaluate(ctx)
	assert.Equal(t, Pass, size.Outcome)
	assert.Equal(t, "2.0 KiB", size.Detail)

	glob := filepath.Join(dir, "kats_*.log")
	assert.Equal(t, Unknown, LogFilesProbe(glob).Evaluate(ctx).Outcome)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kats_20260105_090000.log"), nil, 0o600))
	logs := LogFilesProbe(glob).Evaluate(ctx)
	assert.Equal(t, Pass, logs.Outcome)
	assert.Equal(t, "1 files", logs.Detail)

	assert.Equal(t, Pass, DiskProbe(dir, 1).Evaluate(ctx).Outcome)
	assert.Equal(t, Fail, DiskProbe(dir, ^uint64(0)).Evaluate(ctx).Outcome)
	assert.Equal(t, Unknown, DiskProbe(filepath.Join(dir, "missing"), 1).Evaluate(ctx).Outcome)
}
