package detector

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PatternDetector finds processes whose command line contains Pattern.
// It is the fallback used when a process runs without a PID file record,
// and the sweep used to catch orphaned children on stop.
// The calling process is never matched.
type PatternDetector struct {
	Pattern string
	Exclude []int
	Timeout time.Duration
}

// Find returns the matching PIDs in ascending order.
func (d PatternDetector) Find(ctx context.Context) ([]int, error) {
	pattern := strings.TrimSpace(d.Pattern)
	if pattern == "" {
		return nil, nil
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	skip := map[int]bool{os.Getpid(): true}
	for _, pid := range d.Exclude {
		skip[pid] = true
	}
	var out []int
	for _, p := range procs {
		pid := int(p.Pid)
		if skip[pid] {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			// processes may exit between listing and inspection
			continue
		}
		if strings.Contains(cmdline, pattern) && PIDAlive(pid) {
			out = append(out, pid)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (d PatternDetector) Alive() (bool, error) {
	pids, err := d.Find(context.Background())
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

func (d PatternDetector) Describe() string { return "pattern:" + d.Pattern }
