// Package procfs reads per-process identity, state and CPU accounting
// records from a Linux-style /proc tree.
package procfs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"unicode"
)

// DefaultRoot is the mount point of the process table.
const DefaultRoot = "/proc"

// Positions of utime and stime in /proc/<pid>/stat, counted from 1 as in proc(5).
const (
	utimeField = 14
	stimeField = 15
	// fields 1 (pid) and 2 (comm) precede the ") " separator
	fieldsBeforeState = 2
)

var (
	// ErrNotFound indicates the process-table entry disappeared.
	ErrNotFound = errors.New("procfs: process not found")
	// ErrMalformed indicates a status or stat record that could not be parsed.
	ErrMalformed = errors.New("procfs: malformed record")
)

var stateLine = regexp.MustCompile(`^State:\s+(\S)\s+\(([^)]*)\)`)

// Info is what the status and cmdline records say about one process.
type Info struct {
	PID     int
	Name    string
	State   byte
	Cmdline []string
}

// Reader reads records below Root. The zero value reads /proc.
type Reader struct {
	Root string
}

// New returns a Reader rooted at root, or at /proc when root is empty.
func New(root string) *Reader { return &Reader{Root: root} }

func (r *Reader) root() string {
	if r == nil || r.Root == "" {
		return DefaultRoot
	}
	return r.Root
}

func (r *Reader) path(pid int, name string) string {
	return filepath.Join(r.root(), strconv.Itoa(pid), name)
}

// PIDs lists the numeric entries of the process table.
func (r *Reader) PIDs() ([]int, error) {
	entries, err := os.ReadDir(r.root())
	if err != nil {
		return nil, fmt.Errorf("procfs: list %s: %w", r.root(), err)
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "" || name[0] < '1' || name[0] > '9' {
			continue
		}
		pid, err := strconv.Atoi(name)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Read returns the short name, state and argument vector of pid.
func (r *Reader) Read(pid int) (Info, error) {
	info := Info{PID: pid}
	status, err := r.readFile(pid, "status")
	if err != nil {
		return info, err
	}
	name, state, err := parseStatus(status)
	if err != nil {
		return info, fmt.Errorf("pid %d: %w", pid, err)
	}
	info.Name = name
	info.State = state

	cmdline, err := r.readFile(pid, "cmdline")
	if err != nil {
		return info, err
	}
	info.Cmdline = splitCmdline(cmdline)
	return info, nil
}

// CPUTicks returns utime+stime of pid in clock ticks.
func (r *Reader) CPUTicks(pid int) (uint64, error) {
	b, err := r.readFile(pid, "stat")
	if err != nil {
		return 0, err
	}
	ticks, err := parseStatTicks(string(b))
	if err != nil {
		return 0, fmt.Errorf("pid %d: %w", pid, err)
	}
	return ticks, nil
}

// readFile opens, reads and closes one record. Vanished processes map to ErrNotFound.
func (r *Reader) readFile(pid int, name string) ([]byte, error) {
	f, err := os.Open(r.path(pid, name))
	if err != nil {
		return nil, classify(pid, name, err)
	}
	defer func() { _ = f.Close() }()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, classify(pid, name, err)
	}
	return b, nil
}

func classify(pid int, name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("pid %d %s: %w", pid, name, ErrNotFound)
	}
	return fmt.Errorf("pid %d %s: %w", pid, name, err)
}

func parseStatus(b []byte) (name string, state byte, err error) {
	var haveName, haveState bool
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "Name:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "Name:"))
			haveName = true
		case strings.HasPrefix(line, "State:"):
			m := stateLine.FindStringSubmatch(line)
			if m == nil || len(m[1]) != 1 {
				return "", 0, fmt.Errorf("state line %q: %w", line, ErrMalformed)
			}
			state = m[1][0]
			haveState = true
		}
		if haveName && haveState {
			return name, state, nil
		}
	}
	if !haveName {
		return "", 0, fmt.Errorf("no Name line: %w", ErrMalformed)
	}
	return "", 0, fmt.Errorf("no State line: %w", ErrMalformed)
}

func splitCmdline(b []byte) []string {
	return strings.FieldsFunc(string(b), func(r rune) bool {
		return r == 0 || unicode.IsSpace(r)
	})
}

func parseStatTicks(line string) (uint64, error) {
	// comm may contain spaces and parentheses
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, ErrMalformed
	}
	fields := strings.Fields(line[i+2:])
	ui, si := utimeField-fieldsBeforeState-1, stimeField-fieldsBeforeState-1
	if len(fields) <= si {
		return 0, fmt.Errorf("short stat (%d fields): %w", len(fields)+fieldsBeforeState, ErrMalformed)
	}
	utime, err := strconv.ParseUint(fields[ui], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("utime: %w", ErrMalformed)
	}
	stime, err := strconv.ParseUint(fields[si], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stime: %w", ErrMalformed)
	}
	return utime + stime, nil
}
