package manager

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/crthrottle/internal/detector"
	"github.com/loykin/crthrottle/internal/history"
	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/procfs"
	"github.com/loykin/crthrottle/internal/usage"
)

// HogFinder ranks a population by CPU usage over a window.
type HogFinder interface {
	FindHogs(ctx context.Context, pop process.Population, window time.Duration, threshold float64) ([]usage.Measurement, error)
}

// Options wires a Manager. Zero values select the live system.
type Options struct {
	ProcRoot       string
	Matcher        process.Matcher
	TicksPerSecond float64          // 0 = kernel clock tick rate
	Send           process.SendFunc // nil = kill(2)
	Finder         HogFinder        // nil = detector over ProcRoot
	Sink           history.Sink     // nil = no journal
}

// Manager runs throttle operations. Every operation starts from a fresh scan;
// no population is kept between calls.
type Manager struct {
	mu       sync.RWMutex
	scanner  *process.Scanner
	control  *process.Controller
	finder   HogFinder
	recorder *history.Recorder
}

func New(opts Options) *Manager {
	if opts.Matcher == (process.Matcher{}) {
		opts.Matcher = process.DefaultMatcher()
	}
	reader := procfs.New(opts.ProcRoot)
	m := &Manager{
		scanner: process.NewScanner(reader, opts.Matcher),
		control: process.NewController(opts.Send),
		finder:  opts.Finder,
	}
	if m.finder == nil {
		m.finder = detector.New(usage.NewSampler(reader), opts.TicksPerSecond)
	}
	m.SetSink(opts.Sink)
	m.control.OnDelivery(m.record)
	return m
}

// SetSink replaces the journal sink. nil disables journaling.
func (m *Manager) SetSink(s history.Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		m.recorder = nil
		return
	}
	m.recorder = history.NewRecorder(s)
}

func (m *Manager) journal() *history.Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recorder
}

func (m *Manager) record(d process.Delivery) { m.journal().Delivery(d) }

// Population returns the current renderer processes.
func (m *Manager) Population(ctx context.Context) (process.Population, error) {
	return m.scanner.Scan(ctx)
}

// Enable resumes pids. The error is a validation error, or a
// *process.PartialFailureError alongside the outcome.
func (m *Manager) Enable(ctx context.Context, pids []int) (process.Outcome, error) {
	return m.apply(ctx, process.Resume, pids)
}

// Disable pauses pids.
func (m *Manager) Disable(ctx context.Context, pids []int) (process.Outcome, error) {
	return m.apply(ctx, process.Pause, pids)
}

// EnableAll resumes every renderer.
func (m *Manager) EnableAll(ctx context.Context) (process.Outcome, error) {
	return m.applyAll(ctx, process.Resume)
}

// DisableAll pauses every renderer.
func (m *Manager) DisableAll(ctx context.Context) (process.Outcome, error) {
	return m.applyAll(ctx, process.Pause)
}

func (m *Manager) apply(ctx context.Context, kind process.Kind, pids []int) (process.Outcome, error) {
	if len(pids) == 0 {
		return nil, process.ErrNoTargets
	}
	pop, err := m.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out, err := m.control.Apply(kind, pids, pop)
	if err != nil {
		return nil, err
	}
	return out, out.Err()
}

func (m *Manager) applyAll(ctx context.Context, kind process.Kind) (process.Outcome, error) {
	pop, err := m.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out, err := m.control.ApplyAll(kind, pop)
	if err != nil {
		return nil, err
	}
	return out, out.Err()
}

// FindHogs scans, then measures every renderer over window and returns those
// at or above threshold, highest usage first.
func (m *Manager) FindHogs(ctx context.Context, window time.Duration, threshold float64) ([]usage.Measurement, error) {
	_, hogs, err := m.findHogs(ctx, window, threshold)
	return hogs, err
}

func (m *Manager) findHogs(ctx context.Context, window time.Duration, threshold float64) (process.Population, []usage.Measurement, error) {
	if window <= 0 {
		return nil, nil, usage.ErrInvalidWindow
	}
	pop, err := m.scanner.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}
	hogs, err := m.finder.FindHogs(ctx, pop, window, threshold)
	m.journal().Hogs(context.WithoutCancel(ctx), hogs)
	return pop, hogs, err
}

// DisableHogs pauses exactly the processes FindHogs reports. An empty result
// pauses nothing. When the measurement was interrupted nothing is paused and
// the partial ranking is returned with the error.
func (m *Manager) DisableHogs(ctx context.Context, window time.Duration, threshold float64) ([]usage.Measurement, process.Outcome, error) {
	pop, hogs, err := m.findHogs(ctx, window, threshold)
	if err != nil {
		return hogs, nil, err
	}
	if len(hogs) == 0 {
		return hogs, process.Outcome{}, nil
	}
	pids := make([]int, len(hogs))
	for i, h := range hogs {
		pids[i] = h.PID
	}
	out, err := m.control.Apply(process.Pause, pids, pop)
	if err != nil {
		return hogs, nil, err
	}
	return hogs, out, out.Err()
}
