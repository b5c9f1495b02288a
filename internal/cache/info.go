package cache

import (
	"bufio"
	"strconv"
	"strings"
	"time"
)

// Info is the flattened key/value output of the INFO command.
type Info map[string]string

// ParseInfo reads "key:value" lines, skipping section headers and blanks.
func ParseInfo(raw string) Info {
	info := Info{}
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return info
}

func (i Info) Version() string { return i["redis_version"] }

// UsedMemoryHuman is the server's own human readable figure, e.g. "1.05M".
func (i Info) UsedMemoryHuman() string { return i["used_memory_human"] }

func (i Info) UsedMemory() uint64 {
	n, _ := strconv.ParseUint(i["used_memory"], 10, 64)
	return n
}

func (i Info) Uptime() time.Duration {
	n, _ := strconv.ParseInt(i["uptime_in_seconds"], 10, 64)
	return time.Duration(n) * time.Second
}

// PID is the server's process id as reported by INFO, zero when absent.
func (i Info) PID() int {
	n, _ := strconv.Atoi(i["process_id"])
	return n
}
