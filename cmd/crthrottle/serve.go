package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/crthrottle/internal/auth"
	"github.com/loykin/crthrottle/internal/history"
	"github.com/loykin/crthrottle/internal/logger"
	"github.com/loykin/crthrottle/internal/manager"
	"github.com/loykin/crthrottle/internal/metrics"
	"github.com/loykin/crthrottle/internal/server"
	tlsconf "github.com/loykin/crthrottle/internal/tls"
)

// ServeFlags are bound into the [server] and [watch] config sections.
type ServeFlags struct {
	Listen        string
	BasePath      string
	WatchInterval time.Duration
	AutoPause     bool
}

func createServeCommand(globalFlags *GlobalFlags, d *deps) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the throttle HTTP API and watch for CPU hogs",
		Long: `Serve the HTTP API and run hog detection every watch interval.
With --auto-pause, detected hogs are paused as they are found.

Examples:
  crthrottle serve
  crthrottle serve --listen 0.0.0.0:8765 --base-path /throttle
  crthrottle serve --config /etc/crthrottle.toml --auto-pause`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd, globalFlags, d, true)
			if err != nil {
				return err
			}
			return closeWith(rt, runServe(cmd.Context(), rt))
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "127.0.0.1:8765", "API listen address")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "/api", "API base path")
	cmd.Flags().DurationVar(&serveFlags.WatchInterval, "watch-interval", 30*time.Second, "hog detection interval")
	cmd.Flags().BoolVar(&serveFlags.AutoPause, "auto-pause", false, "pause hogs found by the watcher")
	return cmd
}

func runServe(ctx context.Context, rt *runtime) error {
	srv, w, err := buildServer(rt)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return usageError{err}
	}
	defer w.Stop()
	slog.Info("watching renderers", "interval", rt.cfg.Watch.Interval, "window", rt.cfg.Hogs.Window(),
		"threshold", rt.cfg.Hogs.Threshold, "auto_pause", rt.cfg.Watch.AutoPause)
	return server.Serve(ctx, srv)
}

// buildServer assembles the HTTP server and the watcher from the runtime config.
func buildServer(rt *runtime) (*http.Server, *manager.Watcher, error) {
	cfg := rt.cfg
	if lvl, _ := logger.ParseLevel(cfg.Log.Slog.Level); lvl > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	tlsCfg, err := tlsconf.Setup(cfg.Server.TLS)
	if err != nil {
		return nil, nil, fmt.Errorf("tls: %w", err)
	}
	authSvc, err := auth.NewService(cfg.Server.Auth)
	if err != nil {
		return nil, nil, usageError{err}
	}

	rc := metrics.NewRendererCollector(cfg.ProcRoot, func(ctx context.Context) ([]int, error) {
		pop, err := rt.mgr.Population(ctx)
		return pop.PIDs(), err
	})
	if err := rc.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, nil, fmt.Errorf("register renderer metrics: %w", err)
	}

	w := manager.NewWatcher(rt.mgr, manager.WatchConfig{
		Interval:  cfg.Watch.Interval,
		Window:    cfg.Hogs.Window(),
		Threshold: cfg.Hogs.Threshold,
		AutoPause: cfg.Watch.AutoPause,
	})
	opts := []server.Option{server.WithWatcher(w), server.WithAuth(authSvc)}
	if r, ok := rt.sink.(history.Reader); ok {
		opts = append(opts, server.WithHistory(r))
	}
	router := server.NewRouter(rt.mgr, cfg.Server.BasePath, opts...)
	return server.NewServer(cfg.Server.Listen, router.Handler(), tlsCfg), w, nil
}
