package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/loykin/katsctl"
	"github.com/loykin/katsctl/internal/logtail"
	"github.com/loykin/katsctl/internal/status"
	"github.com/loykin/katsctl/pkg/client"
	"github.com/loykin/katsctl/pkg/template"
)

type command struct {
	global *GlobalFlags
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (c *command) session(lenient bool) (*katsctl.Session, error) {
	return katsctl.Open(katsctl.Options{
		ProjectDir: c.global.ProjectDir,
		ConfigFile: c.global.ConfigPath,
		LogLevel:   c.global.LogLevel,
		Color:      c.global.Color,
		Lenient:    lenient,
		Stdin:      c.stdin,
		Stdout:     c.stdout,
		Stderr:     c.stderr,
	})
}

// with opens a session for one command and closes it afterwards.
func (c *command) with(fn func(s *katsctl.Session) error) error {
	return c.open(false, fn)
}

// withLenient is with for commands that must work on a broken configuration.
func (c *command) withLenient(fn func(s *katsctl.Session) error) error {
	return c.open(true, fn)
}

func (c *command) open(lenient bool, fn func(s *katsctl.Session) error) error {
	s, err := c.session(lenient)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(s)
}

// configWarning renders a recovered configuration error, or "".
func configWarning(st status.Styles, s *katsctl.Session) string {
	err := s.ConfigError()
	if err == nil {
		return ""
	}
	return st.RenderWarn("configuration problem, defaults used: " + strings.ReplaceAll(err.Error(), "\n", "; "))
}

func (c *command) println(s string) { _, _ = fmt.Fprintln(c.stdout, s) }

func (c *command) Start(ctx context.Context, f StartFlags) error {
	return c.with(func(s *katsctl.Session) error {
		_, err := s.Start(ctx, katsctl.StartOptions{Live: f.Live, SkipCache: f.SkipRedis})
		return err
	})
}

func (c *command) Stop(ctx context.Context, f StopFlags) error {
	return c.withLenient(func(s *katsctl.Session) error {
		if w := configWarning(s.Styles(), s); w != "" {
			_, _ = fmt.Fprintln(c.stderr, w)
		}
		res, err := s.Stop(ctx, katsctl.StopOptions{All: f.All, Force: f.Force})
		st := s.OutputStyles()
		if res != nil {
			if len(res.Swept) > 0 {
				c.println(st.RenderWarn(fmt.Sprintf("swept %d leftover process(es): %v", len(res.Swept), res.Swept)))
			}
			if err == nil && res.MainPID == 0 && len(res.Swept) == 0 && !res.CacheStopped {
				c.println(st.RenderWarn("kats is not running"))
			}
		}
		return err
	})
}

func (c *command) Restart(ctx context.Context, f RestartFlags) error {
	return c.with(func(s *katsctl.Session) error {
		_, err := s.Restart(ctx, katsctl.RestartOptions{Live: f.Live, Force: f.Force})
		return err
	})
}

func (c *command) Status(ctx context.Context, f StatusFlags) error {
	if f.APIUrl != "" {
		return c.remoteStatus(ctx, f)
	}
	return c.withLenient(func(s *katsctl.Session) error {
		snap := s.Status(ctx)
		if f.JSON {
			// stdout stays a clean document
			if w := configWarning(s.Styles(), s); w != "" {
				_, _ = fmt.Fprintln(c.stderr, w)
			}
			return status.RenderJSON(c.stdout, snap)
		}
		if err := status.RenderConsole(c.stdout, s.OutputStyles(), snap); err != nil {
			return err
		}
		if w := configWarning(s.OutputStyles(), s); w != "" {
			c.println(w)
		}
		return nil
	})
}

func (c *command) remoteStatus(ctx context.Context, f StatusFlags) error {
	cl, err := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	if err != nil {
		return err
	}
	doc, err := cl.Status(ctx)
	if err != nil {
		return fmt.Errorf("server not reachable at %s: %w", f.APIUrl, err)
	}
	if f.JSON {
		printJSON(c.stdout, doc)
		return nil
	}
	renderDocument(c.stdout, doc)
	return nil
}

func (c *command) Logs(ctx context.Context, f LogsFlags) error {
	return c.with(func(s *katsctl.Session) error {
		latest := s.LatestLog()
		if latest == nil {
			c.println(s.OutputStyles().RenderWarn("no kats log files in " + s.Config().Paths.LogDir))
			return nil
		}
		lines, size, err := logtail.Tail(latest.Path, f.Tail)
		if err != nil {
			return fmt.Errorf("read %s: %w", latest.Path, err)
		}
		c.println(s.OutputStyles().Muted.Render("==> " + latest.Path + " <=="))
		for _, l := range lines {
			c.println(l)
		}
		if !f.Follow {
			return nil
		}
		return logtail.Follow(ctx, latest.Path, size, c.stdout)
	})
}

func (c *command) Health(ctx context.Context) error {
	return c.with(func(s *katsctl.Session) error {
		rep := s.Health(ctx)
		st := s.OutputStyles()
		if err := status.RenderChecklist(c.stdout, st, "KATS health", rep); err != nil {
			return err
		}
		if failed := rep.Failed(); len(failed) > 0 {
			c.println(st.RenderWarn(fmt.Sprintf("%d check(s) failed", len(failed))))
		} else {
			c.println(st.RenderOK("healthy"))
		}
		return nil
	})
}

func (c *command) DBInit(ctx context.Context) error {
	return c.with(func(s *katsctl.Session) error {
		url, err := s.DBInit(ctx)
		if err != nil {
			return err
		}
		c.println(s.OutputStyles().RenderOK("database initialized: " + url))
		return nil
	})
}

func (c *command) DBStats(ctx context.Context) error {
	return c.with(func(s *katsctl.Session) error {
		stats, err := s.DBStats(ctx)
		if err != nil {
			return err
		}
		st := s.OutputStyles()
		c.println(st.Header.Render("Database"))
		c.println(fmt.Sprintf("  %-14s %s (%s)", "url", stats.URL, stats.Dialect))
		c.println(fmt.Sprintf("  %-14s %s", "size", humanize.IBytes(uint64(max(stats.Size, 0)))))
		for _, t := range stats.Tables {
			if t.Missing {
				c.println(fmt.Sprintf("  %-14s %s", t.Table, st.Muted.Render("table missing")))
				continue
			}
			c.println(fmt.Sprintf("  %-14s %s rows", t.Table, humanize.Comma(t.Count)))
		}
		return nil
	})
}

func (c *command) RedisFlush(ctx context.Context, f RedisFlushFlags) error {
	return c.with(func(s *katsctl.Session) error {
		res, err := s.RedisFlush(ctx, f.Date)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("flushed %d key(s), %d tick(s) archived", res.Keys, res.Rows)
		if res.Skipped > 0 {
			msg += fmt.Sprintf(", %d malformed skipped", res.Skipped)
		}
		c.println(s.OutputStyles().RenderOK(msg))
		return nil
	})
}

func (c *command) Config(ctx context.Context, args []string) error {
	return c.with(func(s *katsctl.Session) error {
		st := s.OutputStyles()
		switch len(args) {
		case 0:
			env, rows, err := s.ConfigList(ctx)
			c.println(st.Header.Render("Environment"))
			for _, kv := range env {
				c.println(fmt.Sprintf("  %-16s %s", kv[0], kv[1]))
			}
			if err != nil {
				return err
			}
			c.println(st.Header.Render("system_configs"))
			if len(rows) == 0 {
				c.println("  " + st.Muted.Render("(empty)"))
			}
			for _, e := range rows {
				c.println(configLine(st, e))
			}
			return nil
		case 1:
			e, err := s.ConfigGet(ctx, args[0])
			if errors.Is(err, katsctl.ErrConfigNotFound) {
				c.println(st.RenderWarn("no config named " + args[0]))
				return nil
			}
			if err != nil {
				return err
			}
			c.println(configLine(st, e))
			return nil
		default:
			if err := s.ConfigSet(ctx, args[0], args[1]); err != nil {
				return err
			}
			c.println(st.RenderOK(fmt.Sprintf("%s = %s", args[0], args[1])))
			return nil
		}
	})
}

func configLine(st status.Styles, e katsctl.ConfigEntry) string {
	line := fmt.Sprintf("  %-24s %s", e.Key, e.Value)
	var meta []string
	if e.Type != "" {
		meta = append(meta, e.Type)
	}
	if e.Description != "" {
		meta = append(meta, e.Description)
	}
	if len(meta) > 0 {
		line += "  " + st.Muted.Render(strings.Join(meta, ", "))
	}
	return line
}

func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	return c.with(func(s *katsctl.Session) error {
		addr := f.Addr
		if addr == "" {
			addr = s.Config().Server.Addr
		}
		if !katsctl.IsLoopback(addr) {
			s.Logger().Warn("serving on a non-loopback address without authentication", "addr", addr)
		}
		srv, err := s.NewHTTPServer(addr, f.BasePath)
		if err != nil {
			return err
		}
		sch, err := s.Scheduler()
		if err != nil {
			return err
		}
		if err := sch.Start(ctx); err != nil {
			return err
		}
		defer sch.Stop()

		scheme := "http"
		if srv.TLSConfig != nil {
			scheme = "https"
		}
		c.println(s.OutputStyles().RenderOK(fmt.Sprintf("serving on %s://%s%s", scheme, addr, f.BasePath)))
		return katsctl.ServeHTTP(ctx, srv)
	})
}

func (c *command) History(ctx context.Context, f HistoryFlags) error {
	return c.with(func(s *katsctl.Session) error {
		st := s.OutputStyles()
		events, err := s.History(ctx, f.Limit)
		if errors.Is(err, katsctl.ErrNoHistory) {
			c.println(st.RenderWarn("no queryable history sink; set history.dsn to a sqlite:// or postgres:// DSN"))
			return nil
		}
		if err != nil {
			return err
		}
		if len(events) == 0 {
			c.println("  " + st.Muted.Render("(no events)"))
		}
		for _, e := range events {
			line := fmt.Sprintf("  %s  %-11s %-6s pid=%-7d %s", e.OccurredAt.Local().Format("2006-01-02 15:04:05"), e.Type, e.Process, e.PID, e.Outcome)
			if e.TradeMode != "" {
				line += " " + e.TradeMode
			}
			if e.Detail != "" {
				line += "  " + st.Muted.Render(e.Detail)
			}
			c.println(line)
		}
		return nil
	})
}

// Init writes katsctl.toml and .env into the project directory.
func (c *command) Init(f InitFlags) error {
	dir := c.global.ProjectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = wd
	}
	st := status.NewStyles(c.stdout, status.ParseColorMode(c.global.Color))
	for _, t := range []template.TemplateType{template.TypeConfig, template.TypeEnv} {
		path, err := template.Write(dir, t, template.Defaults(), f.Force)
		switch {
		case errors.Is(err, template.ErrExists):
			c.println(st.RenderWarn("kept existing " + path))
		case err != nil:
			return err
		default:
			c.println(st.RenderOK("wrote " + path))
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// renderDocument prints a status document fetched from a remote server.
func renderDocument(w io.Writer, d client.StatusDocument) {
	p := func(format string, a ...any) { _, _ = fmt.Fprintf(w, format+"\n", a...) }
	p("KATS system status (%s, %s)", d.Timestamp, d.TradeMode)
	p("[kats]      %s  pid=%s uptime=%s memory=%s cpu=%s", d.Kats.Status, d.Kats.PID, d.Kats.Uptime, d.Kats.Memory, d.Kats.CPU)
	p("[redis]     %s  version=%s uptime=%s memory=%s keys=%s", d.Redis.Status, d.Redis.Version, d.Redis.Uptime, d.Redis.Memory, d.Redis.Keys)
	p("[database]  %s  size=%s", d.Database.Status, d.Database.Size)
}
