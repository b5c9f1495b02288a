package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/loykin/katsctl/internal/cache"
	"github.com/loykin/katsctl/internal/process"
)

// MinFreeDisk is the free space below which the disk check fails.
const MinFreeDisk = 1 << 30

// Health battery labels.
const (
	LabelProcess = "kats process"
	LabelEnvFile = ".env"
	LabelDBFile  = "database file"
	LabelLogs    = "log files"
	LabelDisk    = "disk"
)

// Observer is satisfied by process.Handle.
type Observer interface {
	Observe(ctx context.Context) process.Observation
}

// ProcessProbe passes when the handle observes a live process.
func ProcessProbe(label string, h Observer) Probe {
	return Func{Name: label, Fn: func(ctx context.Context) (Outcome, string) {
		obs := h.Observe(ctx)
		switch obs.State {
		case process.Running:
			return Pass, fmt.Sprintf("PID %d", obs.PID)
		case process.RunningNoRecord:
			return Pass, fmt.Sprintf("PID %d (no pid file)", obs.PID)
		default:
			return Fail, obs.State.String()
		}
	}}
}

// InfoSource is satisfied by the cache client.
type InfoSource interface {
	Info(ctx context.Context) (cache.Info, error)
}

// CacheInfoProbe reports version and memory of a reachable cache.
func CacheInfoProbe(src InfoSource, timeout time.Duration) Probe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return Check(LabelCache, func(ctx context.Context) (string, error) {
		if src == nil {
			return "", errors.New("no cache client")
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		info, err := src.Info(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("v%s (memory %s)", info.Version(), info.UsedMemoryHuman()), nil
	})
}

// EnvFileProbe fails when the .env file is missing or credentials are unusable.
func EnvFileProbe(seen bool, path string, issues func() []string) Probe {
	return Check(LabelEnvFile, func(ctx context.Context) (string, error) {
		if !seen {
			return "", fmt.Errorf("%s not found", path)
		}
		if is := issues(); len(is) > 0 {
			return "", errors.New(is[0])
		}
		return "credentials set", nil
	})
}

// FileSizeProbe passes with the file size; a missing file is Unknown.
// An empty path (non-file database) is Unknown as well.
func FileSizeProbe(label, path string) Probe {
	return Func{Name: label, Fn: func(context.Context) (Outcome, string) {
		if path == "" {
			return Unknown, "not a file database"
		}
		fi, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return Unknown, "not created yet"
		}
		if err != nil {
			return Fail, err.Error()
		}
		return Pass, humanize.IBytes(uint64(fi.Size()))
	}}
}

// LogFilesProbe counts files matching glob; none is Unknown.
func LogFilesProbe(glob string) Probe {
	return Func{Name: LabelLogs, Fn: func(context.Context) (Outcome, string) {
		matches, err := filepath.Glob(glob)
		if err != nil {
			return Fail, err.Error()
		}
		if len(matches) == 0 {
			return Unknown, "no log files"
		}
		return Pass, fmt.Sprintf("%d files", len(matches))
	}}
}

// DiskProbe checks free space on the filesystem holding path.
func DiskProbe(path string, minFree uint64) Probe {
	return Func{Name: LabelDisk, Fn: func(ctx context.Context) (Outcome, string) {
		u, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return Unknown, err.Error()
		}
		detail := humanize.IBytes(u.Free) + " free"
		if u.Free < minFree {
			return Fail, detail
		}
		return Pass, detail
	}}
}
