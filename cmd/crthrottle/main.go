package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/crthrottle/internal/process"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, nil)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the exit status.
// send replaces kill(2) when non-nil.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, send process.SendFunc) int {
	root := buildRoot(&deps{stdout: stdout, stderr: stderr, send: send})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "crthrottle: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// deps are the process-wide collaborators a command needs.
type deps struct {
	stdout io.Writer
	stderr io.Writer
	send   process.SendFunc
}

// GlobalFlags are shared by every subcommand and bound into the config.
type GlobalFlags struct {
	ConfigPath      string
	ProcRoot        string
	LogLevel        string
	LogFormat       string
	LogFile         string
	MetricsTextfile string
	JournalDSN      string
}

// ThrottleFlags select what the root command does.
type ThrottleFlags struct {
	ShowAll     bool
	Enable      bool
	Disable     bool
	EnableAll   bool
	DisableAll  bool
	FindHogs    bool
	DisableHogs bool
	TimeWindow  float64
	Threshold   float64
}

func (f ThrottleFlags) any() bool {
	return f.ShowAll || f.Enable || f.Disable || f.EnableAll || f.DisableAll || f.FindHogs || f.DisableHogs
}

func buildRoot(d *deps) *cobra.Command {
	globalFlags := &GlobalFlags{}
	throttleFlags := &ThrottleFlags{}

	root := &cobra.Command{
		Use:   "crthrottle [flags] [pid[state]...]",
		Short: "Pause and resume Chromium renderer processes",
		Long: `crthrottle selectively pauses (SIGSTOP) and resumes (SIGCONT) Chromium
renderer processes, and finds renderers that use too much CPU. Linux only.

A pid may carry the one-letter state printed by --show-all (4001T); the
letter is ignored.

Examples:
  crthrottle --show-all
  crthrottle --disable 4001 4002
  crthrottle --enable-all
  crthrottle --find-cpu-hogs --time-window 2 --threshold 0.1
  crthrottle --disable-cpu-hogs
  crthrottle serve --config /etc/crthrottle.toml`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !throttleFlags.any() {
				return cmd.Help()
			}
			pids, err := parsePIDs(args)
			if err != nil {
				return err
			}
			if err := throttleFlags.validate(); err != nil {
				return err
			}
			rt, err := newRuntime(cmd, globalFlags, d, false)
			if err != nil {
				return err
			}
			return closeWith(rt, runThrottle(cmd.Context(), rt, *throttleFlags, pids, d.stdout, d.stderr))
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")
	pf.StringVar(&globalFlags.ProcRoot, "proc-root", "/proc", "process table mount point")
	pf.StringVar(&globalFlags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&globalFlags.LogFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&globalFlags.LogFile, "log-file", "", "write logs to this file with rotation instead of stderr")
	pf.StringVar(&globalFlags.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
	pf.StringVar(&globalFlags.JournalDSN, "journal-dsn", "", "record pauses, resumes and hogs (sqlite path, postgres://, clickhouse://, opensearch://)")
	pf.Float64Var(&throttleFlags.TimeWindow, "time-window", 1.0, "CPU sampling window in seconds")
	pf.Float64Var(&throttleFlags.Threshold, "threshold", 0.05, "minimum CPU fraction reported as a hog")

	f := root.Flags()
	f.BoolVar(&throttleFlags.ShowAll, "show-all", false, "show all renderer processes")
	f.BoolVar(&throttleFlags.Enable, "enable", false, "resume the given processes")
	f.BoolVar(&throttleFlags.Disable, "disable", false, "pause the given processes")
	f.BoolVar(&throttleFlags.EnableAll, "enable-all", false, "resume every renderer")
	f.BoolVar(&throttleFlags.DisableAll, "disable-all", false, "pause every renderer")
	f.BoolVar(&throttleFlags.FindHogs, "find-cpu-hogs", false, "list renderers at or above the threshold, busiest first")
	f.BoolVar(&throttleFlags.DisableHogs, "disable-cpu-hogs", false, "pause the renderers --find-cpu-hogs would list")

	root.AddCommand(
		createServeCommand(globalFlags, d),
		createHashPasswordCommand(d),
	)
	return root
}

func (f ThrottleFlags) validate() error {
	if f.Enable && f.Disable {
		return usageError{fmt.Errorf("cannot mix --disable and --enable options")}
	}
	if f.EnableAll && f.DisableAll {
		return usageError{fmt.Errorf("cannot mix --disable-all and --enable-all options")}
	}
	return nil
}
