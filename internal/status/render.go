package status

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/loykin/katsctl/internal/preflight"
	"github.com/loykin/katsctl/internal/process"
)

// Document is the machine-readable status. Every field is a string.
type Document struct {
	Timestamp string      `json:"timestamp"`
	TradeMode string      `json:"trade_mode"`
	Kats      MainDoc     `json:"kats"`
	Redis     CacheDoc    `json:"redis"`
	Database  DatabaseDoc `json:"database"`
}

type MainDoc struct {
	Status string `json:"status"`
	PID    string `json:"pid"`
	Uptime string `json:"uptime"`
	Memory string `json:"memory"`
	CPU    string `json:"cpu"`
}

type CacheDoc struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Memory  string `json:"memory"`
	Keys    string `json:"keys"`
}

type DatabaseDoc struct {
	Status string `json:"status"`
	Size   string `json:"size"`
}

// Database and cache status words.
const (
	StateRunning = "RUNNING"
	StateStopped = "STOPPED"
	DBOK         = "OK"
	DBMissing    = "MISSING"
	DBError      = "ERROR"
)

// FormatUptime renders d as "3d 04:05:06" or "04:05:06".
func FormatUptime(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	s := int64(d / time.Second)
	days, s := s/86400, s%86400
	hms := fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
	if days > 0 {
		return fmt.Sprintf("%dd %s", days, hms)
	}
	return hms
}

// Document converts the snapshot to its string-only form.
func (s Snapshot) Document() Document {
	d := Document{
		Timestamp: s.Timestamp.Format(time.RFC3339),
		TradeMode: s.TradeMode,
		Kats:      MainDoc{Status: s.Main.State.String()},
		Redis:     CacheDoc{Status: StateStopped},
		Database:  DatabaseDoc{Status: DBMissing},
	}
	if s.Main.PID > 0 {
		d.Kats.PID = strconv.Itoa(s.Main.PID)
	}
	if s.Main.Sampled {
		d.Kats.Uptime = FormatUptime(s.Main.Uptime)
		d.Kats.Memory = humanize.IBytes(s.Main.RSS)
		d.Kats.CPU = fmt.Sprintf("%.1f%%", s.Main.CPU)
	}
	if s.Cache.Up {
		d.Redis = CacheDoc{
			Status:  StateRunning,
			Version: s.Cache.Version,
			Uptime:  FormatUptime(s.Cache.Uptime),
			Memory:  s.Cache.UsedMemory,
			Keys:    strconv.FormatInt(s.Cache.Keys, 10),
		}
	}
	switch {
	case s.Database.Error != "":
		d.Database.Status = DBError
	case s.Database.Present:
		d.Database = DatabaseDoc{Status: DBOK, Size: humanize.IBytes(uint64(s.Database.Size))}
	}
	return d
}

// RenderJSON writes the indented status document.
func RenderJSON(w io.Writer, s Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.Document())
}

// RenderConsole writes the human-readable report.
func RenderConsole(w io.Writer, st Styles, s Snapshot) error {
	var b strings.Builder
	line := func(format string, a ...any) { fmt.Fprintf(&b, format+"\n", a...) }
	label := func(k string) string { return st.Muted.Render(fmt.Sprintf("%-10s", k)) }

	line("%s", st.Header.Render("KATS system status"))
	line("%s %s   %s %s", label("time"), s.Timestamp.Format("2006-01-02 15:04:05"), st.Muted.Render("mode"), tradeMode(st, s.TradeMode))
	line("")

	line("%s", st.Bold.Render("[kats]"))
	line("  %s %s", label("state"), runState(st, s.Main.State))
	if s.Main.PID > 0 {
		line("  %s %d", label("pid"), s.Main.PID)
	}
	if s.Main.Sampled {
		line("  %s %s", label("uptime"), FormatUptime(s.Main.Uptime))
		line("  %s %s", label("memory"), humanize.IBytes(s.Main.RSS))
		line("  %s %.1f%%", label("cpu"), s.Main.CPU)
	}

	line("%s", st.Bold.Render("[redis]"))
	if s.Cache.Up {
		line("  %s %s", label("state"), st.OK.Render(StateRunning))
		line("  %s %s", label("version"), s.Cache.Version)
		line("  %s %s", label("uptime"), FormatUptime(s.Cache.Uptime))
		line("  %s %s", label("memory"), s.Cache.UsedMemory)
		line("  %s %d", label("keys"), s.Cache.Keys)
	} else {
		line("  %s %s", label("state"), st.Error.Render(StateStopped))
	}

	line("%s", st.Bold.Render("[database]"))
	switch {
	case s.Database.Error != "":
		line("  %s %s %s", label("state"), st.Error.Render(DBError), st.Muted.Render(s.Database.Error))
	case s.Database.Present:
		line("  %s %s", label("state"), st.OK.Render(DBOK))
		line("  %s %s", label("size"), humanize.IBytes(uint64(s.Database.Size)))
	default:
		line("  %s %s", label("state"), st.Warn.Render(DBMissing))
	}

	line("%s", st.Bold.Render("[log]"))
	if s.Log != nil {
		line("  %s %s", label("latest"), s.Log.Path)
		line("  %s %s (%s)", label("size"), humanize.IBytes(uint64(s.Log.Size)), humanize.Time(s.Log.ModTime))
	} else {
		line("  %s", st.Muted.Render("no log files"))
	}

	line("")
	line("%s %s", st.Bold.Render("verdict:"), verdict(st, s.Verdict()))
	_, err := io.WriteString(w, b.String())
	return err
}

func tradeMode(st Styles, m string) string {
	if m == "LIVE" {
		return st.Error.Render(m)
	}
	return st.Info.Render(m)
}

func runState(st Styles, s process.RunState) string {
	switch s {
	case process.Running:
		return st.OK.Render(s.String())
	case process.RunningNoRecord:
		return st.Warn.Render(s.String())
	case process.Dead:
		return st.Error.Render(s.String())
	default:
		return st.Muted.Render(s.String())
	}
}

func verdict(st Styles, v string) string {
	switch v {
	case VerdictNominal:
		return st.OK.Render(v)
	case VerdictAbnormal:
		return st.Error.Render(v)
	default:
		return st.Warn.Render(v)
	}
}

// RenderChecklist writes one "✓ label  detail" line per result.
func RenderChecklist(w io.Writer, st Styles, title string, rep preflight.Report) error {
	var b strings.Builder
	if title != "" {
		b.WriteString(st.Header.Render(title) + "\n")
	}
	width := 0
	for _, r := range rep.Results {
		width = max(width, len(r.Label))
	}
	for _, r := range rep.Results {
		mark := r.Outcome.Marker()
		switch r.Outcome {
		case preflight.Pass:
			mark = st.OK.Render(mark)
		case preflight.Fail:
			mark = st.Error.Render(mark)
		default:
			mark = st.Muted.Render(mark)
		}
		fmt.Fprintf(&b, "  %s %-*s", mark, width, r.Label)
		if r.Detail != "" {
			b.WriteString("  " + st.Muted.Render(r.Detail))
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
