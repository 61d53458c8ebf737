//go:build !unix

package process

import (
	"errors"
	"syscall"
)

// Job control signals only exist on Unix.
func kill(int, syscall.Signal) error {
	return errors.ErrUnsupported
}
