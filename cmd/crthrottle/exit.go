package main

import (
	"errors"

	"github.com/loykin/crthrottle/internal/process"
)

// Exit statuses.
const (
	exitOK             = 0
	exitError          = 1
	exitUsage          = 2
	exitUnknownTargets = 3
	exitNoWorkers      = 4
	exitNoTargets      = 5
	exitPartialFailure = 6
)

// usageError marks bad flags, arguments or configuration.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }

func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue):
		return exitUsage
	case errors.Is(err, process.ErrUnknownTargets):
		return exitUnknownTargets
	case errors.Is(err, process.ErrNoWorkers):
		return exitNoWorkers
	case errors.Is(err, process.ErrNoTargets):
		return exitNoTargets
	case errors.Is(err, process.ErrPartialFailure):
		return exitPartialFailure
	default:
		return exitError
	}
}
