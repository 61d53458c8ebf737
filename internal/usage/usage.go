// Package usage turns cumulative per-process CPU tick counters into usage
// fractions over a sampling window.
package usage

import (
	"errors"
	"fmt"
	"time"

	"github.com/tklauser/go-sysconf"
)

// DefaultTicksPerSecond is USER_HZ on every Linux platform Go supports.
const DefaultTicksPerSecond = 100

var (
	// ErrInvalidWindow is returned for a zero or negative sampling window.
	ErrInvalidWindow = errors.New("usage: time window must be positive")
	// ErrInvalidTickRate is returned for a zero or negative tick rate.
	ErrInvalidTickRate = errors.New("usage: ticks per second must be positive")
	// ErrPIDMismatch is returned when two samples belong to different processes.
	ErrPIDMismatch = errors.New("usage: samples belong to different processes")
)

// Sample is a point-in-time reading of a process's own utime+stime.
type Sample struct {
	PID   int    `json:"pid"`
	Ticks uint64 `json:"ticks"`
}

// Measurement is the CPU a process used over a window; 1.0 is one full core.
type Measurement struct {
	PID      int     `json:"pid"`
	Fraction float64 `json:"usage_fraction"`
}

// TickReader is the part of procfs.Reader the sampler needs.
type TickReader interface {
	CPUTicks(pid int) (uint64, error)
}

// Sampler reads CPU samples.
type Sampler struct {
	reader TickReader
}

func NewSampler(r TickReader) *Sampler { return &Sampler{reader: r} }

// Sample reads the current counters of pid. A vanished process yields an
// error matching procfs.ErrNotFound.
func (s *Sampler) Sample(pid int) (Sample, error) {
	ticks, err := s.reader.CPUTicks(pid)
	if err != nil {
		return Sample{}, err
	}
	return Sample{PID: pid, Ticks: ticks}, nil
}

// Measure computes (after-before) / (ticksPerSecond * window). It does no I/O.
// A counter that went backwards counts as no usage.
func Measure(before, after Sample, window time.Duration, ticksPerSecond float64) (Measurement, error) {
	if window <= 0 {
		return Measurement{}, ErrInvalidWindow
	}
	if !(ticksPerSecond > 0) {
		return Measurement{}, ErrInvalidTickRate
	}
	if before.PID != after.PID {
		return Measurement{}, fmt.Errorf("%w: %d vs %d", ErrPIDMismatch, before.PID, after.PID)
	}
	return Measurement{
		PID:      before.PID,
		Fraction: float64(deltaU64(after.Ticks, before.Ticks)) / (ticksPerSecond * window.Seconds()),
	}, nil
}

// ClockTicks returns the kernel's USER_HZ, or DefaultTicksPerSecond when it
// cannot be queried.
func ClockTicks() float64 {
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		return DefaultTicksPerSecond
	}
	return float64(clk)
}

func deltaU64(now, prev uint64) uint64 {
	if now >= prev {
		return now - prev
	}
	// pid reused or counter reset
	return 0
}
