package process

import (
	"slices"
	"strconv"
	"strings"
)

// State is the one-character status code the kernel reports for a process.
type State byte

const (
	StateRunning  State = 'R'
	StateSleeping State = 'S'
	StateDisk     State = 'D'
	StateStopped  State = 'T'
	StateTraced   State = 't'
	StateZombie   State = 'Z'
	StateIdle     State = 'I'
)

func (s State) String() string {
	if s == 0 {
		return "?"
	}
	return string(rune(s))
}

// MarshalText renders the state as its single letter.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Record is one worker as seen by a single scan.
type Record struct {
	PID   int   `json:"pid"`
	State State `json:"state"`
}

func (r Record) String() string { return strconv.Itoa(r.PID) + r.State.String() }

// Population is a scan result: unique pids in ascending order.
type Population []Record

// PIDs returns the pids of p in order.
func (p Population) PIDs() []int {
	out := make([]int, len(p))
	for i, r := range p {
		out[i] = r.PID
	}
	return out
}

// Contains reports whether pid is part of p.
func (p Population) Contains(pid int) bool {
	_, ok := slices.BinarySearchFunc(p, pid, func(r Record, pid int) int { return r.PID - pid })
	return ok
}

// Lookup returns the record for pid.
func (p Population) Lookup(pid int) (Record, bool) {
	i, ok := slices.BinarySearchFunc(p, pid, func(r Record, pid int) int { return r.PID - pid })
	if !ok {
		return Record{}, false
	}
	return p[i], true
}

// String renders p as space separated pid+state pairs, e.g. "4000S 4001T".
func (p Population) String() string {
	parts := make([]string, len(p))
	for i, r := range p {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}

func sortPopulation(p Population) {
	slices.SortFunc(p, func(a, b Record) int { return a.PID - b.PID })
}
