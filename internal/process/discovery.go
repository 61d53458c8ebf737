package process

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loykin/crthrottle/internal/metrics"
	"github.com/loykin/crthrottle/internal/procfs"
)

// Defaults identifying a Chromium renderer.
const (
	DefaultName       = "chromium"
	DefaultExecutable = "/usr/lib/chromium/chromium"
	DefaultTypeMarker = "--type=renderer"
)

// Matcher classifies a process as a renderer worker.
type Matcher struct {
	Name       string `json:"name" mapstructure:"name"`
	Executable string `json:"executable" mapstructure:"executable"`
	TypeMarker string `json:"type_marker" mapstructure:"type_marker"`
}

// DefaultMatcher matches Chromium renderers installed from distribution packages.
func DefaultMatcher() Matcher {
	return Matcher{Name: DefaultName, Executable: DefaultExecutable, TypeMarker: DefaultTypeMarker}
}

// Match requires the short name and the first two argv tokens to be exact.
func (m Matcher) Match(info procfs.Info) bool {
	if info.Name != m.Name || len(info.Cmdline) < 2 {
		return false
	}
	return info.Cmdline[0] == m.Executable && info.Cmdline[1] == m.TypeMarker
}

// StatusReader is the part of procfs.Reader a scan needs.
type StatusReader interface {
	PIDs() ([]int, error)
	Read(pid int) (procfs.Info, error)
}

// Scanner produces Population snapshots. It keeps no state between scans.
type Scanner struct {
	reader  StatusReader
	matcher Matcher
}

func NewScanner(r StatusReader, m Matcher) *Scanner {
	return &Scanner{reader: r, matcher: m}
}

// Scan enumerates the process table and returns the renderers, sorted by pid.
// Processes that vanish or cannot be parsed mid-scan are left out.
func (s *Scanner) Scan(ctx context.Context) (Population, error) {
	pids, err := s.reader.PIDs()
	if err != nil {
		return nil, err
	}
	pop := make(Population, 0, 16)
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := s.reader.Read(pid)
		if err != nil {
			switch {
			case errors.Is(err, procfs.ErrNotFound):
				slog.Debug("process vanished during scan", "pid", pid)
			case errors.Is(err, procfs.ErrMalformed):
				slog.Debug("skipping unparseable process", "pid", pid, "error", err)
			default:
				slog.Debug("skipping unreadable process", "pid", pid, "error", err)
			}
			continue
		}
		if !s.matcher.Match(info) {
			continue
		}
		pop = append(pop, Record{PID: pid, State: State(info.State)})
	}
	sortPopulation(pop)
	metrics.ObserveScan(len(pop))
	if len(pop) == 0 {
		return nil, ErrNoWorkers
	}
	return pop, nil
}
