// Package detector finds renderer processes that use a disproportionate share
// of CPU by sampling their tick counters twice, a fixed window apart.
package detector

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/loykin/crthrottle/internal/metrics"
	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/usage"
)

// Defaults for a hog search.
const (
	DefaultWindow    = time.Second
	DefaultThreshold = 0.05
)

// ErrInterrupted is returned, together with the partial ranking, when the
// sampling window was cut short by the caller's context.
var ErrInterrupted = errors.New("detector: sampling window interrupted")

// Sampler takes one CPU sample.
type Sampler interface {
	Sample(pid int) (usage.Sample, error)
}

// Detector ranks a population by CPU usage.
type Detector struct {
	sampler        Sampler
	ticksPerSecond float64
	// sleep blocks for d or until ctx is done and reports the time that passed.
	sleep func(ctx context.Context, d time.Duration) time.Duration
}

// New returns a Detector. A non-positive ticksPerSecond is replaced by the
// kernel's clock tick rate.
func New(s Sampler, ticksPerSecond float64) *Detector {
	if ticksPerSecond <= 0 {
		ticksPerSecond = usage.ClockTicks()
	}
	return &Detector{sampler: s, ticksPerSecond: ticksPerSecond, sleep: sleepContext}
}

// FindHogs samples every member of pop, waits window, samples again and
// returns the processes whose usage is at least threshold, highest first.
// Processes that exit during the window are left out.
func (d *Detector) FindHogs(ctx context.Context, pop process.Population, window time.Duration, threshold float64) ([]usage.Measurement, error) {
	if window <= 0 {
		return nil, usage.ErrInvalidWindow
	}
	before := d.sampleAll(pop.PIDs())
	elapsed := d.sleep(ctx, window)
	interrupted := ctx.Err()
	switch {
	case interrupted == nil:
		// usage is defined against the requested window
		elapsed = window
	case elapsed <= 0:
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, interrupted)
	default:
		slog.Warn("hog sampling interrupted, measuring partial window", "window", window, "elapsed", elapsed)
	}
	after := d.sampleAll(keys(before))

	hogs, err := d.Rank(before, after, elapsed, threshold)
	if err != nil {
		return nil, err
	}
	if interrupted != nil {
		return hogs, fmt.Errorf("%w: %w", ErrInterrupted, interrupted)
	}
	return hogs, nil
}

// Rank measures every pid present in both sample sets, orders the result by
// usage (descending, ties by ascending pid) and keeps usage >= threshold.
func (d *Detector) Rank(before, after map[int]usage.Sample, window time.Duration, threshold float64) ([]usage.Measurement, error) {
	all := make([]usage.Measurement, 0, len(after))
	published := make(map[int]float64, len(after))
	for pid, b := range before {
		a, ok := after[pid]
		if !ok {
			continue
		}
		m, err := usage.Measure(b, a, window, d.ticksPerSecond)
		if err != nil {
			return nil, err
		}
		all = append(all, m)
		published[pid] = m.Fraction
	}
	metrics.SetWorkerUsage(published, window.Seconds())

	SortMeasurements(all)
	hogs := all[:0]
	for _, m := range all {
		if m.Fraction >= threshold {
			hogs = append(hogs, m)
		}
	}
	metrics.AddHogs(len(hogs))
	return hogs, nil
}

// SortMeasurements orders ms by usage descending, then pid ascending.
func SortMeasurements(ms []usage.Measurement) {
	slices.SortFunc(ms, func(a, b usage.Measurement) int {
		if c := cmp.Compare(b.Fraction, a.Fraction); c != 0 {
			return c
		}
		return cmp.Compare(a.PID, b.PID)
	})
}

func (d *Detector) sampleAll(pids []int) map[int]usage.Sample {
	out := make(map[int]usage.Sample, len(pids))
	for _, pid := range pids {
		s, err := d.sampler.Sample(pid)
		if err != nil {
			slog.Debug("dropping process from hog search", "pid", pid, "error", err)
			continue
		}
		out[pid] = s
	}
	return out
}

func keys(m map[int]usage.Sample) []int {
	out := make([]int, 0, len(m))
	for pid := range m {
		out = append(out, pid)
	}
	slices.Sort(out)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) time.Duration {
	start := time.Now()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return time.Since(start)
}
