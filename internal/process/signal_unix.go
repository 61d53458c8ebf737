//go:build unix

package process

import "syscall"

// kill delivers sig with kill(2).
func kill(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
