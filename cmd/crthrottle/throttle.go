package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/loykin/crthrottle/internal/detector"
	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/usage"
)

// parsePID accepts "4001" or "4001T"; one trailing state letter is dropped.
func parsePID(s string) (int, error) {
	if pid, err := strconv.Atoi(s); err == nil && pid > 0 {
		return pid, nil
	}
	if len(s) > 1 {
		if pid, err := strconv.Atoi(s[:len(s)-1]); err == nil && pid > 0 {
			return pid, nil
		}
	}
	return 0, usageError{fmt.Errorf("invalid process ID %q", s)}
}

func parsePIDs(args []string) ([]int, error) {
	pids := make([]int, 0, len(args))
	for _, a := range args {
		pid, err := parsePID(a)
		if err != nil {
			return nil, err
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// runThrottle scans once up front so an empty table fails before anything
// else, then runs the selected actions in flag order.
func runThrottle(ctx context.Context, rt *runtime, f ThrottleFlags, pids []int, stdout, stderr io.Writer) error {
	pop, err := rt.mgr.Population(ctx)
	if err != nil {
		return err
	}
	if f.ShowAll {
		_, _ = fmt.Fprintln(stdout, pop.String())
	}

	switch {
	case f.Enable:
		out, err := rt.mgr.Enable(ctx, pids)
		if err := reportOutcome(stderr, out, err); err != nil {
			return err
		}
	case f.Disable:
		out, err := rt.mgr.Disable(ctx, pids)
		if err := reportOutcome(stderr, out, err); err != nil {
			return err
		}
	case f.EnableAll:
		out, err := rt.mgr.EnableAll(ctx)
		if err := reportOutcome(stderr, out, err); err != nil {
			return err
		}
	case f.DisableAll:
		out, err := rt.mgr.DisableAll(ctx)
		if err := reportOutcome(stderr, out, err); err != nil {
			return err
		}
	}

	window, threshold := rt.cfg.Hogs.Window(), rt.cfg.Hogs.Threshold
	switch {
	case f.DisableHogs:
		hogs, out, err := rt.mgr.DisableHogs(ctx, window, threshold)
		printHogs(stdout, hogs)
		if errors.Is(err, detector.ErrInterrupted) {
			return err
		}
		return reportOutcome(stderr, out, err)
	case f.FindHogs:
		hogs, err := rt.mgr.FindHogs(ctx, window, threshold)
		printHogs(stdout, hogs)
		return err
	}
	return nil
}

// printHogs writes one "pid fraction" line per hog.
func printHogs(w io.Writer, hogs []usage.Measurement) {
	for _, h := range hogs {
		_, _ = fmt.Fprintf(w, "%d %.3f\n", h.PID, h.Fraction)
	}
}

// reportOutcome lists failed deliveries on stderr and passes err through.
func reportOutcome(w io.Writer, out process.Outcome, err error) error {
	var pf *process.PartialFailureError
	if errors.As(err, &pf) {
		for _, pid := range sortedKeys(pf.Failed) {
			_, _ = fmt.Fprintf(w, "%d: %v\n", pid, pf.Failed[pid])
		}
		return fmt.Errorf("%w: %d of %d signalled", process.ErrPartialFailure, len(out.Succeeded()), len(out))
	}
	return err
}
