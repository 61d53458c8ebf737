// Package crthrottle pauses and resumes Chromium renderer processes and finds
// the ones using too much CPU. It is the embedding API behind cmd/crthrottle.
package crthrottle

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/crthrottle/internal/auth"
	"github.com/loykin/crthrottle/internal/config"
	"github.com/loykin/crthrottle/internal/detector"
	"github.com/loykin/crthrottle/internal/history"
	"github.com/loykin/crthrottle/internal/history/factory"
	"github.com/loykin/crthrottle/internal/manager"
	"github.com/loykin/crthrottle/internal/metrics"
	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/server"
	"github.com/loykin/crthrottle/internal/usage"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Options = manager.Options

type Matcher = process.Matcher

type Record = process.Record

type Population = process.Population

type Outcome = process.Outcome

type Measurement = usage.Measurement

type Config = config.Config

type WatchConfig = manager.WatchConfig

type WatchResult = manager.WatchResult

type JournalSink = history.Sink

// Errors returned by Manager operations; match them with errors.Is.
var (
	ErrNoWorkers      = process.ErrNoWorkers
	ErrNoTargets      = process.ErrNoTargets
	ErrUnknownTargets = process.ErrUnknownTargets
	ErrPartialFailure = process.ErrPartialFailure
	ErrInvalidWindow  = usage.ErrInvalidWindow
	ErrInterrupted    = detector.ErrInterrupted
)

// DefaultMatcher recognizes Chromium renderers.
func DefaultMatcher() Matcher { return process.DefaultMatcher() }

// Manager is a thin facade over internal/manager.Manager.
type Manager struct{ inner *manager.Manager }

// New returns a Manager. Zero Options select the live /proc and kill(2).
func New(opts Options) *Manager { return &Manager{inner: manager.New(opts)} }

// NewFromConfig returns a Manager for a loaded configuration.
func NewFromConfig(c *Config) *Manager {
	return New(Options{ProcRoot: c.ProcRoot, Matcher: c.Target, TicksPerSecond: c.Hogs.TicksPerSecond})
}

func (m *Manager) SetJournal(s JournalSink) { m.inner.SetSink(s) }

func (m *Manager) Population(ctx context.Context) (Population, error) {
	return m.inner.Population(ctx)
}
func (m *Manager) Enable(ctx context.Context, pids ...int) (Outcome, error) {
	return m.inner.Enable(ctx, pids)
}
func (m *Manager) Disable(ctx context.Context, pids ...int) (Outcome, error) {
	return m.inner.Disable(ctx, pids)
}
func (m *Manager) EnableAll(ctx context.Context) (Outcome, error)  { return m.inner.EnableAll(ctx) }
func (m *Manager) DisableAll(ctx context.Context) (Outcome, error) { return m.inner.DisableAll(ctx) }
func (m *Manager) FindHogs(ctx context.Context, window time.Duration, threshold float64) ([]Measurement, error) {
	return m.inner.FindHogs(ctx, window, threshold)
}
func (m *Manager) DisableHogs(ctx context.Context, window time.Duration, threshold float64) ([]Measurement, Outcome, error) {
	return m.inner.DisableHogs(ctx, window, threshold)
}

// Watcher runs hog detection periodically.
type Watcher = manager.Watcher

func NewWatcher(m *Manager, wc WatchConfig) *Watcher { return manager.NewWatcher(m.inner, wc) }

// LoadConfig reads a TOML file (optional) and CRTHROTTLE_* environment variables.
func LoadConfig(path string) (*Config, error) { return config.Load(path, nil) }

// OpenJournal opens a sink from a DSN: a sqlite path, postgres://,
// clickhouse:// or opensearch://.
func OpenJournal(dsn string) (JournalSink, error) { return factory.NewSinkFromDSN(dsn) }

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	Watcher *Watcher
	Journal JournalSink // served at {base}/history when it can be read back
	Auth    auth.Config
}

// NewHandler returns the HTTP API for m mounted under basePath.
func NewHandler(m *Manager, basePath string, ho HandlerOptions) (http.Handler, error) {
	var opts []server.Option
	if ho.Watcher != nil {
		opts = append(opts, server.WithWatcher(ho.Watcher))
	}
	if r, ok := ho.Journal.(history.Reader); ok {
		opts = append(opts, server.WithHistory(r))
	}
	svc, err := auth.NewService(ho.Auth)
	if err != nil {
		return nil, err
	}
	opts = append(opts, server.WithAuth(svc))
	return server.NewRouter(m.inner, basePath, opts...).Handler(), nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics from the default registry on addr.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
