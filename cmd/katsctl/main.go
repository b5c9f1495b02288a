package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/katsctl"
	"github.com/loykin/katsctl/internal/status"
	"github.com/loykin/katsctl/internal/supervisor"
	"github.com/loykin/katsctl/pkg/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
// A declined live start is a clean exit.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root, global := buildRoot(stdin, stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil || errors.Is(err, katsctl.ErrAborted) {
		return 0
	}
	st := status.NewStyles(stderr, status.ParseColorMode(global.Color))
	_, _ = fmt.Fprintln(stderr, st.RenderDiagnostic(supervisor.Label(err), err.Error()))
	return 1
}

// buildRoot creates the root command and its subcommands.
func buildRoot(stdin io.Reader, stdout, stderr io.Writer) (*cobra.Command, *GlobalFlags) {
	globalFlags := &GlobalFlags{}
	katsCommand := command{global: globalFlags, stdin: stdin, stdout: stdout, stderr: stderr}

	root := createRootCommand(globalFlags)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		createStartCommand(katsCommand, &StartFlags{}),
		createStopCommand(katsCommand, &StopFlags{}),
		createRestartCommand(katsCommand, &RestartFlags{}),
		createStatusCommand(katsCommand, &StatusFlags{}),
		createLogsCommand(katsCommand, &LogsFlags{}),
		createHealthCommand(katsCommand),
		createDBInitCommand(katsCommand),
		createDBStatsCommand(katsCommand),
		createRedisFlushCommand(katsCommand, &RedisFlushFlags{}),
		createConfigCommand(katsCommand),
		createServeCommand(katsCommand, &ServeFlags{}),
		createHistoryCommand(katsCommand, &HistoryFlags{}),
		createInitCommand(katsCommand, &InitFlags{}),
	)
	return root, globalFlags
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "katsctl",
		Short: "Supervisor for the KATS trading application",
		Long: `katsctl starts, stops and inspects the KATS trading process and the
redis server it depends on. Every invocation works from the PID files and
the process table; nothing stays resident except "serve".

Examples:
  katsctl start                 # paper trading
  katsctl start --live          # real money, asks for confirmation
  katsctl status --json
  katsctl stop --all            # also stops redis after SAVE`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ProjectDir, "project-dir", "", "KATS project directory (default: current directory)")
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to katsctl.toml (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "supervisor log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.Color, "color", "", "color output: auto, always, never")

	return root
}

func createStartCommand(katsCommand command, startFlags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start redis (when needed) and the trading process",
		Long: `Validate credentials, make sure redis answers PING, initialize the
database, run the preflight checks and spawn the trading process in the
background. Nothing is spawned unless every step passed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.Start(cmd.Context(), *startFlags)
		},
	}
	cmd.Flags().BoolVar(&startFlags.Live, "live", false, "trade with real money (requires typing \"yes\")")
	cmd.Flags().BoolVar(&startFlags.SkipRedis, "skip-redis", false, "do not spawn redis; require a running one")
	return cmd
}

func createStopCommand(katsCommand command, stopFlags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the trading process",
		Long: `Send SIGTERM, wait for the grace period and escalate to SIGKILL.
Leftover trading processes without a PID file are swept as well. The PID
file is removed even when termination fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.Stop(cmd.Context(), *stopFlags)
		},
	}
	cmd.Flags().BoolVar(&stopFlags.All, "all", false, "also stop redis (after SAVE)")
	cmd.Flags().BoolVar(&stopFlags.Force, "force", false, "send SIGKILL immediately")
	return cmd
}

func createRestartCommand(katsCommand command, restartFlags *RestartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop and start the trading process; redis keeps running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.Restart(cmd.Context(), *restartFlags)
		},
	}
	cmd.Flags().BoolVar(&restartFlags.Live, "live", false, "restart in live mode (requires typing \"yes\")")
	cmd.Flags().BoolVar(&restartFlags.Force, "force", false, "send SIGKILL immediately during the stop phase")
	return cmd
}

func createStatusCommand(katsCommand command, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the trading process, redis and database status",
		Long: `Show the status of every component. Observation only: nothing is
signaled or removed.

Examples:
  katsctl status
  katsctl status --json
  katsctl status --api-url=http://10.0.0.5:8780/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.Status(cmd.Context(), *statusFlags)
		},
	}
	cmd.Flags().BoolVar(&statusFlags.JSON, "json", false, "print the status document as JSON")
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "read the status from a katsctl server instead (e.g. "+client.DefaultBaseURL+")")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "API request timeout")
	return cmd
}

func createLogsCommand(katsCommand command, logsFlags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the newest trading process log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.Logs(cmd.Context(), *logsFlags)
		},
	}
	cmd.Flags().IntVarP(&logsFlags.Tail, "tail", "n", 50, "number of lines to show")
	cmd.Flags().BoolVarP(&logsFlags.Follow, "follow", "f", false, "keep printing appended lines until interrupted")
	return cmd
}

func createHealthCommand(katsCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run the health checklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.Health(cmd.Context())
		},
	}
}

func createDBInitCommand(katsCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "db-init",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.DBInit(cmd.Context())
		},
	}
}

func createDBStatsCommand(katsCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "db-stats",
		Short: "Show row counts and database size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.DBStats(cmd.Context())
		},
	}
}

func createRedisFlushCommand(katsCommand command, flushFlags *RedisFlushFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redis-flush",
		Short: "Archive buffered ticks from redis into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.RedisFlush(cmd.Context(), *flushFlags)
		},
	}
	cmd.Flags().StringVar(&flushFlags.Date, "date", "", "trading day as YYYYMMDD (default: today)")
	return cmd
}

func createConfigCommand(katsCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "config [KEY] [VALUE]",
		Short: "List, get or set system_configs entries",
		Long: `Without arguments list the environment settings and every stored entry.
With KEY print one entry; with KEY VALUE update it.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.Config(cmd.Context(), args)
		},
	}
}

func createServeCommand(katsCommand command, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve read-only status, health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.Serve(cmd.Context(), *serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Addr, "addr", "", "listen address (default: server.addr, 127.0.0.1:8780)")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "/api", "URL prefix of the API endpoints")
	return cmd
}

func createInitCommand(katsCommand command, initFlags *InitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter katsctl.toml and .env into the project",
		Long: `Write katsctl.toml with the built-in defaults and a .env with placeholder
credentials. Existing files are kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.Init(*initFlags)
		},
	}
	cmd.Flags().BoolVar(&initFlags.Force, "force", false, "overwrite existing files")
	return cmd
}

func createHistoryCommand(katsCommand command, historyFlags *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent start/stop/restart outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return katsCommand.History(cmd.Context(), *historyFlags)
		},
	}
	cmd.Flags().IntVarP(&historyFlags.Limit, "limit", "n", 20, "number of events to show")
	return cmd
}
