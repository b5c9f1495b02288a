// Package status gathers a read-only snapshot of the supervised system and
// renders it for humans or machines.
package status

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/loykin/katsctl/internal/cache"
	"github.com/loykin/katsctl/internal/metrics"
	"github.com/loykin/katsctl/internal/process"
	"github.com/loykin/katsctl/internal/store"
)

// Verdicts, highest precedence first.
const (
	VerdictAbnormal  = "abnormal, restart needed"
	VerdictStopped   = "fully stopped"
	VerdictDegraded  = "degraded"
	VerdictNominal   = "nominal"
	VerdictPartially = "partially running"
)

// Verdict aggregates the main process state and cache liveness.
func Verdict(main process.RunState, cacheUp bool) string {
	switch {
	case main == process.Dead:
		return VerdictAbnormal
	case main == process.Stopped && !cacheUp:
		return VerdictStopped
	case main.Alive() && !cacheUp:
		return VerdictDegraded
	case main.Alive() && cacheUp:
		return VerdictNominal
	default:
		return VerdictPartially
	}
}

// MainStatus describes the main process.
type MainStatus struct {
	State   process.RunState
	PID     int
	Sampled bool
	Uptime  time.Duration
	RSS     uint64
	CPU     float64
}

// CacheStatus describes the cache dependency.
type CacheStatus struct {
	Up         bool
	Version    string
	Uptime     time.Duration
	UsedMemory string
	Keys       int64
	Error      string
}

// DatabaseStatus describes the storage.
type DatabaseStatus struct {
	Present bool
	Size    int64
	Kind    string
	Error   string
}

// LogStatus describes the newest main log.
type LogStatus struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Snapshot is one observation of the whole system.
type Snapshot struct {
	Timestamp time.Time
	TradeMode string
	Main      MainStatus
	Cache     CacheStatus
	Database  DatabaseStatus
	Log       *LogStatus
}

func (s Snapshot) Verdict() string { return Verdict(s.Main.State, s.Cache.Up) }

// Observer is satisfied by process.Handle.
type Observer interface {
	Observe(ctx context.Context) process.Observation
}

// CacheInspector is satisfied by cache.Client.
type CacheInspector interface {
	Ping(ctx context.Context) error
	Info(ctx context.Context) (cache.Info, error)
	DBSize(ctx context.Context) (int64, error)
}

// Collector gathers a Snapshot. It never signals processes or removes files.
type Collector struct {
	Main      Observer
	Cache     CacheInspector
	OpenStore func() (store.Store, error)
	// DBPath is the SQLite file; empty for server databases.
	DBPath    string
	LogGlob   string
	TradeMode string
	// CPUWindow > 0 measures CPU over that interval instead of the lifetime average.
	CPUWindow   time.Duration
	PingTimeout time.Duration
	Now         func() time.Time
}

func (c Collector) Collect(ctx context.Context) Snapshot {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	snap := Snapshot{Timestamp: now(), TradeMode: c.TradeMode}
	snap.Main = c.collectMain(ctx)
	snap.Cache = c.collectCache(ctx)
	snap.Database = c.collectDatabase(ctx)
	snap.Log = LatestLog(c.LogGlob)
	return snap
}

func (c Collector) collectMain(ctx context.Context) MainStatus {
	if c.Main == nil {
		return MainStatus{State: process.Stopped}
	}
	obs := c.Main.Observe(ctx)
	ms := MainStatus{State: obs.State, PID: obs.PID}
	if obs.State.Alive() && obs.PID > 0 {
		if s, err := metrics.SampleProcess(ctx, "kats", int32(obs.PID), c.CPUWindow); err == nil {
			ms.Sampled = true
			ms.Uptime = s.Uptime
			ms.RSS = s.MemoryRSS
			ms.CPU = s.CPUPercent
			s.Publish()
		}
	}
	return ms
}

func (c Collector) collectCache(ctx context.Context) CacheStatus {
	if c.Cache == nil {
		return CacheStatus{Error: "no cache client"}
	}
	timeout := c.PingTimeout
	if timeout <= 0 {
		timeout = cache.DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.Cache.Ping(ctx); err != nil {
		return CacheStatus{Error: err.Error()}
	}
	cs := CacheStatus{Up: true}
	if info, err := c.Cache.Info(ctx); err == nil {
		cs.Version = info.Version()
		cs.Uptime = info.Uptime()
		cs.UsedMemory = info.UsedMemoryHuman()
		if n, err := c.Cache.DBSize(ctx); err == nil {
			cs.Keys = n
		}
		metrics.SetCacheStats(info.UsedMemory(), cs.Keys)
	} else {
		cs.Error = err.Error()
	}
	return cs
}

func (c Collector) collectDatabase(ctx context.Context) DatabaseStatus {
	if c.DBPath != "" {
		fi, err := os.Stat(c.DBPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return DatabaseStatus{Kind: store.DialectSQLite}
		case err != nil:
			return DatabaseStatus{Kind: store.DialectSQLite, Error: err.Error()}
		}
		return DatabaseStatus{Present: true, Size: fi.Size(), Kind: store.DialectSQLite}
	}
	if c.OpenStore == nil {
		return DatabaseStatus{}
	}
	st, err := c.OpenStore()
	if err != nil {
		return DatabaseStatus{Error: err.Error()}
	}
	defer func() { _ = st.Close() }()
	ds := DatabaseStatus{Kind: st.Dialect()}
	n, err := st.Size(ctx)
	if err != nil {
		ds.Error = err.Error()
		return ds
	}
	ds.Present, ds.Size = true, n
	return ds
}

// LatestLog returns the most recently modified file matching glob, or nil.
func LatestLog(glob string) *LogStatus {
	if glob == "" {
		return nil
	}
	matches, err := filepath.Glob(glob)
	if err != nil || len(matches) == 0 {
		return nil
	}
	var logs []LogStatus
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		logs = append(logs, LogStatus{Path: m, Size: fi.Size(), ModTime: fi.ModTime()})
	}
	if len(logs) == 0 {
		return nil
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].ModTime.Equal(logs[j].ModTime) {
			return logs[i].Path > logs[j].Path
		}
		return logs[i].ModTime.After(logs[j].ModTime)
	})
	return &logs[0]
}
