package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/crthrottle/internal/logger"
	"github.com/loykin/crthrottle/internal/visits"
)

// Exit statuses.
const (
	exitOK         = 0
	exitError      = 1
	exitUsage      = 2
	exitNoFile     = 3
	exitUnreadable = 5
	exitDatabase   = 6
	exitOrderSpec  = 7
)

var errNoFile = errors.New("path to history file not specified")

// usageError marks bad flags or arguments.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errNoFile):
		return exitNoFile
	case errors.As(err, &ue):
		return exitUsage
	case errors.Is(err, visits.ErrUnreadable):
		return exitUnreadable
	case errors.Is(err, visits.ErrOrderSpec):
		return exitOrderSpec
	case errors.Is(err, visits.ErrDatabase):
		return exitDatabase
	default:
		return exitError
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := buildRoot(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "crhistory: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

// Flags select rows and columns of the report.
type Flags struct {
	After          string
	Before         string
	UseLast        bool
	ReportRawTimes bool
	OrderBy        string
	JSON           bool
	LogLevel       string
	Show           Columns
}

func buildRoot(stdout, stderr io.Writer) *cobra.Command {
	flags := &Flags{}
	root := &cobra.Command{
		Use:   "crhistory [flags] <history-file>",
		Short: "Report URL visits from a Chromium History database",
		Long: `Examine URL visit history for the Chromium browser.

The history file is the "History" SQLite database from a Chromium profile
directory, or a postgres:// DSN of a copy loaded into PostgreSQL.

AFTER and BEFORE are decimal digit strings of format YYYY[MM[DD[HH[MM[SS]]]]]
in UTC. Orderings are field names from: ` + joinFields() + `,
each optionally followed by "desc", separated by commas.

Examples:
  crhistory ~/.config/chromium/Default/History
  crhistory -A 20150101 -B 20160101 --show-visit-time --show-url History
  crhistory --order-by "visit_count desc, urls.url" --show-urlbase History`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errNoFile
			}
			if len(args) > 1 {
				return usageError{fmt.Errorf("unexpected arguments after history file: %v", args[1:])}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := logger.ParseLevel(flags.LogLevel); err != nil {
				return usageError{err}
			}
			log := logger.Config{Slog: logger.SlogConfig{Level: flags.LogLevel, Format: logger.FormatText}}
			slog.SetDefault(log.NewSloggerTo(stderr))

			q, err := flags.query()
			if err != nil {
				return err
			}
			return report(cmd.Context(), args[0], q, flags, stdout)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	f := root.Flags()
	f.StringVarP(&flags.After, "after", "A", "", "restrict visit times to after AFTER")
	f.StringVarP(&flags.Before, "before", "B", "", "restrict visit times to before BEFORE")
	f.BoolVar(&flags.UseLast, "use-last", false, "restrict on the last visit time of the URL instead of the visit time")
	f.BoolVar(&flags.ReportRawTimes, "report-raw-times", false, "report times as microseconds since 1601-01-01")
	f.StringVar(&flags.OrderBy, "order-by", visits.DefaultOrderBy, "sort order of results")
	f.BoolVar(&flags.JSON, "json", false, "write one JSON object per visit")
	f.StringVar(&flags.LogLevel, "log-level", logger.LevelWarn, "log level: debug, info, warn, error")
	flags.Show.register(f)
	return root
}

// query turns the time restrictions into filters. The ordering is
// validated after the file is opened so an unreadable file is reported first.
func (f *Flags) query() (visits.Query, error) {
	field := "visit_time"
	if f.UseLast {
		field = "last_visit_time"
	}
	var q visits.Query
	for _, r := range []struct {
		value string
		op    visits.Op
	}{{f.After, visits.OpGt}, {f.Before, visits.OpLt}} {
		if r.value == "" {
			continue
		}
		ts, err := visits.ParseTimestamp(r.value)
		if err != nil {
			return q, usageError{err}
		}
		q.Filters = append(q.Filters, visits.Filter{Field: field, Op: r.op, Value: ts})
	}
	return q, nil
}
