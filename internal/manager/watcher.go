package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/usage"
)

// WatchConfig controls periodic hog detection.
type WatchConfig struct {
	Interval  time.Duration
	Window    time.Duration
	Threshold float64
	AutoPause bool
}

// WatchResult is the outcome of one watch round.
type WatchResult struct {
	At     time.Time           `json:"at"`
	Hogs   []usage.Measurement `json:"hogs"`
	Paused []int               `json:"paused,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Watcher runs FindHogs, or DisableHogs when AutoPause is set, on a ticker.
type Watcher struct {
	mgr *Manager
	cfg WatchConfig

	mu   sync.RWMutex
	last *WatchResult

	startOnce sync.Once
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewWatcher(m *Manager, cfg WatchConfig) *Watcher {
	return &Watcher{mgr: m, cfg: cfg, stopCh: make(chan struct{})}
}

// Start launches the watch loop. Calling it again has no effect.
func (w *Watcher) Start(ctx context.Context) error {
	if w.cfg.Interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %v", w.cfg.Interval)
	}
	if w.cfg.Window <= 0 || w.cfg.Window >= w.cfg.Interval {
		return fmt.Errorf("watch window %v must be positive and shorter than the interval %v", w.cfg.Window, w.cfg.Interval)
	}
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			ticker := time.NewTicker(w.cfg.Interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-w.stopCh:
					return
				case <-ticker.C:
					w.RunOnce(ctx)
				}
			}
		}()
	})
	return nil
}

// Stop ends the loop and waits for a running round to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
}

// RunOnce performs a single round and stores it as the latest result.
func (w *Watcher) RunOnce(ctx context.Context) WatchResult {
	res := WatchResult{At: time.Now().UTC()}
	var err error
	if w.cfg.AutoPause {
		var out process.Outcome
		res.Hogs, out, err = w.mgr.DisableHogs(ctx, w.cfg.Window, w.cfg.Threshold)
		res.Paused = out.Succeeded()
	} else {
		res.Hogs, err = w.mgr.FindHogs(ctx, w.cfg.Window, w.cfg.Threshold)
	}
	switch {
	case err == nil:
		if len(res.Hogs) > 0 {
			slog.Info("cpu hogs detected", "count", len(res.Hogs), "paused", res.Paused)
		}
	case errors.Is(err, process.ErrNoWorkers):
		slog.Debug("watch round found no renderers")
	default:
		slog.Warn("watch round failed", "error", err)
	}
	if err != nil {
		res.Error = err.Error()
	}

	w.mu.Lock()
	w.last = &res
	w.mu.Unlock()
	return res
}

// Last returns the most recent round, if any.
func (w *Watcher) Last() (WatchResult, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return WatchResult{}, false
	}
	return *w.last, true
}
