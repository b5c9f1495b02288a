package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/katsctl/internal/cache"
	"github.com/loykin/katsctl/internal/config"
	"github.com/loykin/katsctl/internal/history"
	"github.com/loykin/katsctl/internal/pidfile"
	"github.com/loykin/katsctl/internal/preflight"
	"github.com/loykin/katsctl/internal/process"
	"github.com/loykin/katsctl/internal/retry"
	"github.com/loykin/katsctl/internal/store"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sleep on Unix-like systems")
	}
}

type fakeCache struct {
	mu        sync.Mutex
	up        bool
	pings     int
	saves     int
	shutdowns int
	ticks     []cache.TickRow
}

func (f *fakeCache) setUp(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = v
}

func (f *fakeCache) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if !f.up {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeCache) Addr() string { return "127.0.0.1:6379" }

func (f *fakeCache) Info(context.Context) (cache.Info, error) {
	return cache.Info{"redis_version": "7.2.4", "used_memory_human": "1.50M", "used_memory": "1572864"}, nil
}

func (f *fakeCache) DBSize(context.Context) (int64, error) { return 42, nil }

func (f *fakeCache) Save(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeCache) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	f.up = false
	return nil
}

func (f *fakeCache) FlushTicks(ctx context.Context, date string, archive cache.TickArchive, _ *slog.Logger) (cache.FlushResult, error) {
	rows := f.ticks
	for i := range rows {
		rows[i].TickDate = date
	}
	if err := archive.ArchiveTicks(ctx, rows); err != nil {
		return cache.FlushResult{}, err
	}
	return cache.FlushResult{Keys: 1, Rows: len(rows)}, nil
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.EventType
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	sv         *Supervisor
	cache      *fakeCache
	sink       *memSink
	out        *bytes.Buffer
	mainSpawns atomic.Int32
	cacheSpawn atomic.Int32
}

var seq atomic.Int32

// newHarness builds a supervisor over a temp project whose main process is
// a uniquely tagged sleep, so pattern searches never see foreign processes.
func newHarness(t *testing.T) *harness {
	t.Helper()
	requireUnix(t)
	dir := t.TempDir()
	cfg, err := config.Load(config.Options{ProjectDir: dir})
	require.NoError(t, err)

	tag := fmt.Sprintf("600.%05d%04d", os.Getpid()%100000, seq.Add(1))
	cfg.Main.Command = "sleep " + tag
	cfg.Main.Pattern = "sleep " + tag
	cfg.Main.SweepPattern = "sleep " + tag
	cfg.Main.Grace = 2 * time.Second
	cfg.Main.SweepWait = 20 * time.Millisecond
	cfg.Cache.Pattern = "katsctl-test-no-such-redis-" + tag
	cfg.Cache.Grace = 50 * time.Millisecond
	cfg.Preflight.ModulesCommand = "true"
	cfg.Preflight.CacheTimeout = 100 * time.Millisecond
	cfg.DotEnv = map[string]string{
		"KIS_APP_KEY":    "key",
		"KIS_APP_SECRET": "secret",
		"KIS_ACCOUNT_NO": "12345678-01",
	}
	for _, k := range []string{"KIS_APP_KEY", "KIS_APP_SECRET", "KIS_ACCOUNT_NO", "DB_URL", "REDIS_URL", "TRADE_MODE"} {
		if _, ok := os.LookupEnv(k); ok {
			t.Setenv(k, "")
			_ = os.Unsetenv(k)
		}
	}

	h := &harness{cache: &fakeCache{}, sink: &memSink{}, out: &bytes.Buffer{}}
	sv := New(cfg, h.cache)
	sv.Out = h.out
	sv.History = history.NewRecorder(nil, h.sink)
	sv.Confirm = ConfirmFunc(func(string) (bool, error) { return true, nil })
	sv.Terminator = process.Terminator{PollInterval: 10 * time.Millisecond, KillWait: 500 * time.Millisecond}
	sv.CacheReady = retry.Policy{Attempts: 3, Interval: time.Millisecond}
	sv.StartWindow = 150 * time.Millisecond
	sv.RestartPause = 0
	sv.Spawn = func(spec process.Spec) (*process.Started, error) {
		if spec.Name == NameCache {
			h.cacheSpawn.Add(1)
			h.cache.setUp(true)
			return &process.Started{PID: 0, LogFile: spec.LogFile}, nil
		}
		h.mainSpawns.Add(1)
		return process.Spawn(spec)
	}
	h.sv = sv
	t.Cleanup(func() { _, _ = sv.Stop(context.Background(), StopOptions{Force: true}) })
	return h
}

func (h *harness) mainRecord() pidfile.File {
	return pidfile.New(h.sv.Config.PIDPath(NameMain))
}

func TestStartFreshEnvironment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.sv.Start(ctx, StartOptions{})
	require.NoError(t, err)
	assert.True(t, res.CacheStarted)
	assert.EqualValues(t, 1, h.cacheSpawn.Load())
	assert.Equal(t, config.TradeModePaper, res.TradeMode)
	require.Len(t, res.Report.Results, 5)

	_, err = os.Stat(h.sv.Config.Cache.ConfigFile)
	require.NoError(t, err, "redis.conf should be generated")
	_, err = os.Stat(filepath.Join(h.sv.Config.ProjectDir, "kats.db"))
	require.NoError(t, err, "sqlite database should be created")

	rec, err := h.mainRecord().Read()
	require.NoError(t, err)
	assert.Equal(t, res.PID, rec.PID)
	assert.True(t, strings.HasPrefix(filepath.Base(res.LogFile), "kats_"))

	snap := h.sv.Status(ctx)
	assert.Equal(t, process.Running, snap.Main.State)
	assert.True(t, snap.Cache.Up)
	assert.Contains(t, h.sink.types(), history.EventCacheStart)
	assert.Contains(t, h.sink.types(), history.EventStart)
}

func TestStartTwiceIsDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sv.Start(ctx, StartOptions{})
	require.NoError(t, err)

	_, err = h.sv.Start(ctx, StartOptions{})
	require.ErrorIs(t, err, ErrDuplicateProcess)
	assert.Equal(t, LabelDuplicate, Label(err))
	assert.EqualValues(t, 1, h.mainSpawns.Load())
}

func TestStartInvalidCredentialsTouchesNothing(t *testing.T) {
	h := newHarness(t)
	h.sv.Config.DotEnv["KIS_APP_KEY"] = "your_app_key_here"
	delete(h.sv.Config.DotEnv, "KIS_ACCOUNT_NO")

	_, err := h.sv.Start(context.Background(), StartOptions{})
	require.ErrorIs(t, err, config.ErrInvalidCredentials)
	assert.Equal(t, LabelConfig, Label(err))
	assert.Contains(t, err.Error(), "KIS_APP_KEY is a placeholder")
	assert.Contains(t, err.Error(), "KIS_ACCOUNT_NO is not set")
	assert.Zero(t, h.cache.pings)
	assert.Zero(t, h.cacheSpawn.Load())
	assert.Zero(t, h.mainSpawns.Load())
}

func TestStartLiveDeclined(t *testing.T) {
	h := newHarness(t)
	var prompted bool
	h.sv.Confirm = ConfirmFunc(func(string) (bool, error) {
		prompted = true
		return false, nil
	})
	_, err := h.sv.Start(context.Background(), StartOptions{Live: true})
	require.ErrorIs(t, err, ErrAborted)
	assert.True(t, prompted)
	assert.Zero(t, h.cache.pings)
	assert.Zero(t, h.mainSpawns.Load())
}

func TestStartLiveForcesTradeMode(t *testing.T) {
	h := newHarness(t)
	h.cache.setUp(true)
	res, err := h.sv.Start(context.Background(), StartOptions{Live: true})
	require.NoError(t, err)
	assert.Equal(t, config.TradeModeLive, res.TradeMode)
	assert.False(t, res.CacheStarted)
}

func TestStartSkipCacheRequiresReachableCache(t *testing.T) {
	h := newHarness(t)
	_, err := h.sv.Start(context.Background(), StartOptions{SkipCache: true})
	require.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.Equal(t, LabelDependency, Label(err))
	assert.Zero(t, h.cacheSpawn.Load())
	assert.Zero(t, h.mainSpawns.Load())
}

func TestStartCacheNeverReady(t *testing.T) {
	h := newHarness(t)
	h.sv.Spawn = func(spec process.Spec) (*process.Started, error) {
		h.cacheSpawn.Add(1)
		return &process.Started{}, nil
	}
	_, err := h.sv.Start(context.Background(), StartOptions{})
	require.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.ErrorContains(t, err, "did not answer PING")
	assert.EqualValues(t, 1, h.cacheSpawn.Load())
	// one reachability check plus the bounded readiness poll
	assert.Equal(t, 1+h.sv.CacheReady.Attempts, h.cache.pings)
}

func TestStartPreflightFailureReportsEveryCheck(t *testing.T) {
	h := newHarness(t)
	h.cache.setUp(true)
	h.sv.Config.Preflight.ModulesCommand = "sh -c 'echo No module named kats >&2; exit 1'"

	_, err := h.sv.Start(context.Background(), StartOptions{})
	require.ErrorIs(t, err, ErrPreflightFailed)
	assert.Equal(t, LabelPreflight, Label(err))
	assert.Zero(t, h.mainSpawns.Load())

	out := h.out.String()
	for _, label := range []string{"config", "redis", "database", "credentials", "modules"} {
		assert.Contains(t, out, label)
	}
	assert.Contains(t, out, "No module named kats")
}

func TestPreflightOrder(t *testing.T) {
	h := newHarness(t)
	rep := h.sv.Preflight(context.Background())
	var labels []string
	for _, r := range rep.Results {
		labels = append(labels, r.Label)
	}
	assert.Equal(t, []string{
		preflight.LabelConfig, preflight.LabelCache, preflight.LabelStorage,
		preflight.LabelCredentials, preflight.LabelModules,
	}, labels)
	assert.False(t, rep.OK(), "cache is down")
	assert.Len(t, rep.Failed(), 1)
}

func TestStartSpawnFailureRemovesRecord(t *testing.T) {
	h := newHarness(t)
	h.cache.setUp(true)
	h.sv.Config.Main.Command = "sh -c 'echo boom; exit 3'"

	_, err := h.sv.Start(context.Background(), StartOptions{})
	require.ErrorIs(t, err, ErrSpawnFailure)
	assert.Equal(t, LabelSpawn, Label(err))
	assert.Contains(t, err.Error(), ".log")
	assert.False(t, h.mainRecord().Exists())
}

func TestStartReplacesStaleRecord(t *testing.T) {
	h := newHarness(t)
	h.cache.setUp(true)

	gone := exec.Command("true")
	require.NoError(t, gone.Run())
	require.NoError(t, h.mainRecord().Write(pidfile.Record{PID: gone.Process.Pid}))
	assert.Equal(t, process.Dead, h.sv.Status(context.Background()).Main.State)

	res, err := h.sv.Start(context.Background(), StartOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, gone.Process.Pid, res.PID)
	rec, err := h.mainRecord().Read()
	require.NoError(t, err)
	assert.Equal(t, res.PID, rec.PID)
}

func TestStopNothingRunning(t *testing.T) {
	h := newHarness(t)
	res, err := h.sv.Stop(context.Background(), StopOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.MainPID)
	assert.Empty(t, res.Swept)
	_, err = os.Stat(h.sv.Config.Paths.PIDDir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "stop must not create files")
}

func TestStopGraceful(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	started, err := h.sv.Start(ctx, StartOptions{})
	require.NoError(t, err)

	var sigs []syscall.Signal
	h.sv.Terminator.Notify = func(_ int, sig syscall.Signal) { sigs = append(sigs, sig) }
	res, err := h.sv.Stop(ctx, StopOptions{})
	require.NoError(t, err)
	assert.Equal(t, started.PID, res.MainPID)
	assert.Equal(t, []syscall.Signal{syscall.SIGTERM}, sigs)
	assert.False(t, h.mainRecord().Exists())
	assert.Equal(t, process.Stopped, h.sv.Status(ctx).Main.State)
	assert.Contains(t, h.sink.types(), history.EventStop)
}

func TestStopForceKillsImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sv.Start(ctx, StartOptions{})
	require.NoError(t, err)

	var sigs []syscall.Signal
	h.sv.Terminator.Notify = func(_ int, sig syscall.Signal) { sigs = append(sigs, sig) }
	_, err = h.sv.Stop(ctx, StopOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []syscall.Signal{syscall.SIGKILL}, sigs)
	assert.False(t, h.mainRecord().Exists())
}

func TestStopSweepsUnrecordedProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	st, err := process.Spawn(process.Spec{
		Name:    NameMain,
		Command: h.sv.Config.Main.Command,
		PIDFile: filepath.Join(t.TempDir(), "elsewhere.pid"),
	})
	require.NoError(t, err)

	assert.Equal(t, process.RunningNoRecord, h.sv.Status(ctx).Main.State)
	res, err := h.sv.Stop(ctx, StopOptions{})
	require.NoError(t, err)
	assert.Equal(t, st.PID, res.MainPID)
	assert.Equal(t, process.Stopped, h.sv.Status(ctx).Main.State)
}

func TestStopAllShutsDownUnrecordedCache(t *testing.T) {
	h := newHarness(t)
	h.cache.setUp(true)
	res, err := h.sv.Stop(context.Background(), StopOptions{All: true})
	require.NoError(t, err)
	assert.True(t, res.CacheStopped)
	assert.Equal(t, 1, h.cache.saves)
	assert.Equal(t, 1, h.cache.shutdowns)
	assert.Contains(t, h.sink.types(), history.EventCacheStop)
}

func TestStopAllTerminatesRecordedCache(t *testing.T) {
	h := newHarness(t)
	h.cache.setUp(true)
	st, err := process.Spawn(process.Spec{
		Name:    NameCache,
		Command: "sleep 30",
		PIDFile: h.sv.Config.PIDPath(NameCache),
	})
	require.NoError(t, err)

	res, err := h.sv.Stop(context.Background(), StopOptions{All: true})
	require.NoError(t, err)
	assert.True(t, res.CacheStopped)
	assert.Equal(t, 1, h.cache.saves)
	assert.Zero(t, h.cache.shutdowns)
	assert.False(t, pidfile.New(h.sv.Config.PIDPath(NameCache)).Exists())
	assert.NotContains(t, res.Swept, st.PID)
}

func TestStopSignalDeniedIsTermination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sv.Start(ctx, StartOptions{})
	require.NoError(t, err)

	h.sv.Terminator.Signal = func(int, syscall.Signal) error { return syscall.EPERM }
	_, err = h.sv.Stop(ctx, StopOptions{})
	h.sv.Terminator.Signal = nil
	require.ErrorIs(t, err, process.ErrTerminationFailure)
	assert.Equal(t, LabelTermination, Label(err))
	assert.False(t, h.mainRecord().Exists(), "stop removes the record even after a failure")
}

func TestRestartKeepsCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.sv.Start(ctx, StartOptions{})
	require.NoError(t, err)

	second, err := h.sv.Restart(ctx, RestartOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.PID, second.PID)
	assert.False(t, second.CacheStarted)
	assert.EqualValues(t, 1, h.cacheSpawn.Load())
	assert.EqualValues(t, 2, h.mainSpawns.Load())
	assert.Contains(t, h.sink.types(), history.EventRestart)
}

func TestRestartLiveDeclinedKeepsMain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.sv.Start(ctx, StartOptions{})
	require.NoError(t, err)

	var prompts int
	h.sv.Confirm = ConfirmFunc(func(string) (bool, error) {
		prompts++
		return false, nil
	})
	_, err = h.sv.Restart(ctx, RestartOptions{Live: true})
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 1, prompts)

	snap := h.sv.Status(ctx)
	assert.Equal(t, process.Running, snap.Main.State)
	assert.Equal(t, first.PID, snap.Main.PID)
	assert.EqualValues(t, 1, h.mainSpawns.Load())
}

func TestRestartLiveAsksOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.sv.Start(ctx, StartOptions{})
	require.NoError(t, err)

	var prompts int
	h.sv.Confirm = ConfirmFunc(func(string) (bool, error) {
		prompts++
		return true, nil
	})
	res, err := h.sv.Restart(ctx, RestartOptions{Live: true})
	require.NoError(t, err)
	assert.Equal(t, 1, prompts)
	assert.Equal(t, config.TradeModeLive, res.TradeMode)
}

func TestRestartFailsWhenCacheDown(t *testing.T) {
	h := newHarness(t)
	_, err := h.sv.Restart(context.Background(), RestartOptions{})
	require.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.Contains(t, err.Error(), "start phase")
	assert.Zero(t, h.cacheSpawn.Load())
}

func TestHealthBattery(t *testing.T) {
	h := newHarness(t)
	h.cache.setUp(true)
	rep := h.sv.Health(context.Background())
	require.Len(t, rep.Results, 7)

	byLabel := map[string]preflight.Result{}
	for _, r := range rep.Results {
		byLabel[r.Label] = r
	}
	assert.Equal(t, preflight.Fail, byLabel[preflight.LabelProcess].Outcome)
	assert.Equal(t, preflight.Pass, byLabel[preflight.LabelCache].Outcome)
	assert.Contains(t, byLabel[preflight.LabelCache].Detail, "7.2.4")
	assert.Equal(t, preflight.Fail, byLabel[preflight.LabelEnvFile].Outcome, ".env does not exist")
	assert.Equal(t, preflight.Unknown, byLabel[preflight.LabelDBFile].Outcome)
	assert.Equal(t, preflight.Unknown, byLabel[preflight.LabelLogs].Outcome)
	assert.Equal(t, preflight.Pass, byLabel[preflight.LabelModules].Outcome)
}

func TestDBInitStatsAndConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	url, err := h.sv.DBInit(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultDatabaseURL, url)

	stats, err := h.sv.DBStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Dialect)
	assert.Positive(t, stats.Size)
	counts := map[string]store.TableCount{}
	for _, c := range stats.Tables {
		counts[c.Table] = c
	}
	assert.EqualValues(t, len(store.DefaultConfigs), counts["system_configs"].Count)
	assert.True(t, counts["trades"].Missing)

	require.NoError(t, h.sv.ConfigSet(ctx, "market_regime", "BULL"))
	e, err := h.sv.ConfigGet(ctx, "market_regime")
	require.NoError(t, err)
	assert.Equal(t, "BULL", e.Value)
	assert.Equal(t, "str", e.Type)

	_, err = h.sv.ConfigGet(ctx, "no_such_key")
	require.ErrorIs(t, err, store.ErrNotFound)

	env, rows, err := h.sv.ConfigList(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, len(store.DefaultConfigs))
	assert.Equal(t, "TRADE_MODE", env[0][0])
}

func TestRedisFlush(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.sv.RedisFlush(ctx, "20240102")
	require.ErrorIs(t, err, ErrDependencyUnavailable)

	_, err = h.sv.RedisFlush(ctx, "2024-01-02")
	require.Error(t, err)

	h.cache.setUp(true)
	h.cache.ticks = []cache.TickRow{
		{StockCode: "005930", Data: `{"price":71000}`},
		{StockCode: "005930", Data: `{"price":71100}`},
	}
	res, err := h.sv.RedisFlush(ctx, "20240102")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)

	stats, err := h.sv.DBStats(ctx)
	require.NoError(t, err)
	for _, c := range stats.Tables {
		if c.Table == "tick_archive" {
			assert.EqualValues(t, 2, c.Count)
		}
	}
}

func TestLabel(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", config.ErrInvalidCredentials), LabelConfig},
		{fmt.Errorf("x: %w", config.ErrLoad), LabelConfig},
		{fmt.Errorf("x: %w", ErrDependencyUnavailable), LabelDependency},
		{ErrDuplicateProcess, LabelDuplicate},
		{fmt.Errorf("stop kats: %w", process.ErrTerminationFailure), LabelTermination},
		{ErrSpawnFailure, LabelSpawn},
		{ErrPreflightFailed, LabelPreflight},
		{errors.New("other"), LabelError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Label(c.err), c.err.Error())
	}
}

func TestPromptConfirmer(t *testing.T) {
	cases := map[string]bool{
		"yes\n":   true,
		" yes \n": true,
		"yes":     true,
		"y\n":     false,
		"YES\n":   false,
		"":        false,
	}
	for in, want := range cases {
		var out bytes.Buffer
		ok, err := PromptConfirmer{In: strings.NewReader(in), Out: &out}.Confirm("Start live trading?")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "input %q", in)
		assert.Contains(t, out.String(), `"yes"`)
	}
}
