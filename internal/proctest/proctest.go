// Package proctest builds a fake process table on disk for tests: status,
// cmdline and stat records under a temporary root, plus a signal sender that
// flips the recorded state the way the kernel would.
package proctest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
)

// Command lines seen on a typical Chromium desktop.
const (
	CmdPasswd   = "/usr/lib/chromium/chromium --password-store=detect"
	CmdZygote   = "/usr/lib/chromium/chromium --type=zygote"
	CmdSandbox  = "/usr/lib/chromium/chromium-sandbox /usr/lib/chromium/chromium --type=zygote"
	CmdRenderer = "/usr/lib/chromium/chromium --type=renderer --lang=en-US"
	CmdBash     = "/bin/bash"
	CmdStrace   = "/usr/bin/strace /usr/lib/chromium/chromium"
)

var stateNames = map[byte]string{
	'R': "running",
	'S': "sleeping",
	'D': "disk sleep",
	'T': "stopped",
	't': "tracing stop",
	'Z': "zombie",
	'I': "idle",
}

// Table is a fake /proc rooted at Root.
type Table struct {
	Root string

	mu    sync.Mutex
	procs map[int]*proc
	// Sent records every successful delivery in order.
	Sent []Delivery
}

// Delivery is one signal accepted by Table.Kill.
type Delivery struct {
	PID    int
	Signal syscall.Signal
}

type proc struct {
	name    string
	cmdline []string
	state   byte
	utime   uint64
	stime   uint64
}

// New creates an empty table in a test temp dir.
func New(t testing.TB) *Table {
	t.Helper()
	return &Table{Root: t.TempDir(), procs: make(map[int]*proc)}
}

// Add creates a process whose short name is the base name of the first
// cmdline token, like the kernel's comm for an exec'd binary.
func (tb *Table) Add(t testing.TB, pid int, cmdline string, state byte) {
	t.Helper()
	args := strings.Fields(cmdline)
	name := ""
	if len(args) > 0 {
		name = filepath.Base(args[0])
	}
	tb.AddNamed(t, pid, name, args, state)
}

// AddNamed creates a process with an explicit short name.
func (tb *Table) AddNamed(t testing.TB, pid int, name string, args []string, state byte) {
	t.Helper()
	tb.mu.Lock()
	defer tb.mu.Unlock()
	p := &proc{name: name, cmdline: args, state: state}
	tb.procs[pid] = p
	if err := tb.write(pid, p); err != nil {
		t.Fatalf("proctest: write pid %d: %v", pid, err)
	}
}

// SetTicks updates the utime/stime counters of pid.
func (tb *Table) SetTicks(t testing.TB, pid int, utime, stime uint64) {
	t.Helper()
	tb.mu.Lock()
	defer tb.mu.Unlock()
	p, ok := tb.procs[pid]
	if !ok {
		t.Fatalf("proctest: unknown pid %d", pid)
	}
	p.utime, p.stime = utime, stime
	if err := tb.write(pid, p); err != nil {
		t.Fatalf("proctest: write pid %d: %v", pid, err)
	}
}

// AddTicks advances the user-mode counter of pid; it is safe to call from
// a goroutine other than the test's.
func (tb *Table) AddTicks(pid int, utime uint64) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	p, ok := tb.procs[pid]
	if !ok {
		return syscall.ESRCH
	}
	p.utime += utime
	return tb.write(pid, p)
}

// Remove deletes pid from the table, as if the process exited.
func (tb *Table) Remove(pid int) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.procs, pid)
	return os.RemoveAll(filepath.Join(tb.Root, strconv.Itoa(pid)))
}

// WriteRaw replaces one record of pid with arbitrary content.
func (tb *Table) WriteRaw(t testing.TB, pid int, file, content string) {
	t.Helper()
	dir := filepath.Join(tb.Root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// State reports the recorded state of pid, or 0 if it does not exist.
func (tb *Table) State(pid int) byte {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if p, ok := tb.procs[pid]; ok {
		return p.state
	}
	return 0
}

// Kill emulates kill(2): SIGSTOP stops, SIGCONT resumes a stopped process,
// an unknown pid yields ESRCH.
func (tb *Table) Kill(pid int, sig syscall.Signal) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	p, ok := tb.procs[pid]
	if !ok {
		return syscall.ESRCH
	}
	switch sig {
	case syscall.SIGSTOP:
		p.state = 'T'
	case syscall.SIGCONT:
		if p.state == 'T' {
			p.state = 'S'
		}
	}
	tb.Sent = append(tb.Sent, Delivery{PID: pid, Signal: sig})
	return tb.write(pid, p)
}

// Deliveries returns a copy of the signals accepted so far.
func (tb *Table) Deliveries() []Delivery {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return append([]Delivery(nil), tb.Sent...)
}

func (tb *Table) write(pid int, p *proc) error {
	dir := filepath.Join(tb.Root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	status := fmt.Sprintf("Name:\t%s\nUmask:\t0022\nState:\t%c (%s)\nTgid:\t%d\nPid:\t%d\n",
		p.name, p.state, stateNames[p.state], pid, pid)
	if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644); err != nil {
		return err
	}
	cmdline := strings.Join(p.cmdline, "\x00")
	if len(p.cmdline) > 0 {
		cmdline += "\x00"
	}
	if err := os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644); err != nil {
		return err
	}
	// pid (comm) state ppid pgrp session tty tpgid flags minflt cminflt majflt cmajflt utime stime ...
	stat := fmt.Sprintf("%d (%s) %c 1 %d %d 0 -1 4194560 100 0 0 0 %d %d 0 0 20 0 1 0 12345 0 0\n",
		pid, p.name, p.state, pid, pid, p.utime, p.stime)
	return os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644)
}
