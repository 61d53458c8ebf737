package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/crthrottle/internal/config"
	"github.com/loykin/crthrottle/internal/history"
	"github.com/loykin/crthrottle/internal/history/factory"
	"github.com/loykin/crthrottle/internal/manager"
	"github.com/loykin/crthrottle/internal/metrics"
)

// runtime is what a command runs against: validated config, logger,
// optional journal and the manager.
type runtime struct {
	cfg     *config.Config
	mgr     *manager.Manager
	sink    history.Sink
	closers []io.Closer
}

func newRuntime(cmd *cobra.Command, gf *GlobalFlags, d *deps, serving bool) (*runtime, error) {
	cfg, err := config.Load(gf.ConfigPath, cmd.Flags())
	if err != nil {
		return nil, usageError{err}
	}
	rt := &runtime{cfg: cfg}

	var log *slog.Logger
	if w := cfg.Log.Writer(); w != nil {
		log = cfg.Log.NewSloggerTo(w)
		rt.closers = append(rt.closers, w)
	} else {
		log = cfg.Log.NewSloggerTo(d.stderr)
	}
	slog.SetDefault(log)

	if serving || cfg.Metrics.Textfile != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if cfg.Journal.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.Journal.DSN)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.sink = sink
		if c, ok := sink.(io.Closer); ok {
			rt.closers = append(rt.closers, c)
		}
	}

	rt.mgr = manager.New(manager.Options{
		ProcRoot:       cfg.ProcRoot,
		Matcher:        cfg.Target,
		TicksPerSecond: cfg.Hogs.TicksPerSecond,
		Send:           d.send,
		Sink:           rt.sink,
	})
	slog.Debug("runtime ready", "proc_root", cfg.ProcRoot, "journal", rt.sink != nil)
	return rt, nil
}

// Close writes the metrics textfile, if configured, and releases the journal and log file.
func (rt *runtime) Close() error {
	var errs []error
	if rt.cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(rt.cfg.Metrics.Textfile); err != nil {
			errs = append(errs, fmt.Errorf("write metrics textfile: %w", err))
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// closeWith closes rt and keeps err as the primary result.
func closeWith(rt *runtime, err error) error {
	if cerr := rt.Close(); cerr != nil {
		if err == nil {
			return cerr
		}
		slog.Warn("cleanup failed", "error", cerr)
	}
	return err
}
