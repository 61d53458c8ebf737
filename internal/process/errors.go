package process

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrNoWorkers is returned by a scan that matched no renderer process.
	ErrNoWorkers = errors.New("no renderer processes found")
	// ErrNoTargets is returned when a signal request names no pids.
	ErrNoTargets = errors.New("no process IDs specified")
	// ErrUnknownTargets matches *UnknownTargetsError.
	ErrUnknownTargets = errors.New("process IDs are not renderer processes")
	// ErrPartialFailure matches *PartialFailureError.
	ErrPartialFailure = errors.New("signal delivery failed for some processes")
)

// UnknownTargetsError lists requested pids that are not part of the population.
type UnknownTargetsError struct {
	PIDs []int
}

func (e *UnknownTargetsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownTargets, joinPIDs(e.PIDs))
}

func (e *UnknownTargetsError) Is(target error) bool { return target == ErrUnknownTargets }

// PartialFailureError carries the pids whose delivery failed.
type PartialFailureError struct {
	Failed map[int]error
}

func (e *PartialFailureError) Error() string {
	pids := slices.Sorted(maps.Keys(e.Failed))
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = fmt.Sprintf("%d: %v", pid, e.Failed[pid])
	}
	return fmt.Sprintf("%s (%s)", ErrPartialFailure, strings.Join(parts, "; "))
}

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

func joinPIDs(pids []int) string {
	parts := make([]string, len(pids))
	for i, p := range pids {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}
