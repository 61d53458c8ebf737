package process

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"syscall"

	"github.com/loykin/crthrottle/internal/metrics"
	"github.com/loykin/crthrottle/internal/procfs"
)

// Kind selects the job-control transition to apply.
type Kind int

const (
	Pause Kind = iota + 1
	Resume
)

func (k Kind) String() string {
	switch k {
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Signal maps the kind to SIGSTOP or SIGCONT.
func (k Kind) Signal() (syscall.Signal, error) {
	switch k {
	case Pause:
		return syscall.SIGSTOP, nil
	case Resume:
		return syscall.SIGCONT, nil
	default:
		return 0, fmt.Errorf("unsupported signal kind %d", int(k))
	}
}

// SendFunc delivers one signal to one process.
type SendFunc func(pid int, sig syscall.Signal) error

// Delivery is reported to observers after every attempted signal.
type Delivery struct {
	Kind Kind
	PID  int
	Err  error
}

// Controller validates signal requests against a population and delivers them.
type Controller struct {
	send     SendFunc
	observer func(Delivery)
}

// NewController returns a Controller using send, or kill(2) when send is nil.
func NewController(send SendFunc) *Controller {
	if send == nil {
		send = kill
	}
	return &Controller{send: send}
}

// OnDelivery registers fn to be called after each delivery attempt.
func (c *Controller) OnDelivery(fn func(Delivery)) { c.observer = fn }

// Outcome maps each targeted pid to its delivery error (nil on success).
type Outcome map[int]error

// Succeeded returns the pids that were signalled, ascending.
func (o Outcome) Succeeded() []int {
	var out []int
	for pid, err := range o {
		if err == nil {
			out = append(out, pid)
		}
	}
	slices.Sort(out)
	return out
}

// Failed returns the pids whose delivery failed.
func (o Outcome) Failed() map[int]error {
	out := make(map[int]error)
	for pid, err := range o {
		if err != nil {
			out[pid] = err
		}
	}
	return out
}

// Err is nil when every delivery succeeded, otherwise a *PartialFailureError.
func (o Outcome) Err() error {
	failed := o.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &PartialFailureError{Failed: failed}
}

// Apply signals targets after checking that every one of them belongs to pop.
// Validation is all-or-nothing: on error no signal has been sent.
func (c *Controller) Apply(kind Kind, targets []int, pop Population) (Outcome, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	sig, err := kind.Signal()
	if err != nil {
		return nil, err
	}
	targets = dedupe(targets)
	if unknown := difference(targets, pop); len(unknown) > 0 {
		return nil, &UnknownTargetsError{PIDs: unknown}
	}
	return c.deliver(kind, sig, targets), nil
}

// ApplyAll signals every member of pop.
func (c *Controller) ApplyAll(kind Kind, pop Population) (Outcome, error) {
	sig, err := kind.Signal()
	if err != nil {
		return nil, err
	}
	return c.deliver(kind, sig, pop.PIDs()), nil
}

func (c *Controller) deliver(kind Kind, sig syscall.Signal, pids []int) Outcome {
	out := make(Outcome, len(pids))
	for _, pid := range pids {
		err := c.send(pid, sig)
		if errors.Is(err, syscall.ESRCH) {
			err = fmt.Errorf("pid %d: %w", pid, procfs.ErrNotFound)
		}
		out[pid] = err
		if err != nil {
			slog.Warn("signal delivery failed", "kind", kind, "pid", pid, "error", err)
		} else {
			slog.Debug("signal delivered", "kind", kind, "pid", pid)
		}
		metrics.IncSignal(kind.String(), err == nil)
		if c.observer != nil {
			c.observer(Delivery{Kind: kind, PID: pid, Err: err})
		}
	}
	return out
}

// difference returns the members of targets not in pop, in request order.
func difference(targets []int, pop Population) []int {
	known := make(map[int]struct{}, len(pop))
	for _, r := range pop {
		known[r.PID] = struct{}{}
	}
	var unknown []int
	for _, pid := range targets {
		if _, ok := known[pid]; !ok {
			unknown = append(unknown, pid)
		}
	}
	return unknown
}

func dedupe(pids []int) []int {
	seen := make(map[int]struct{}, len(pids))
	out := make([]int, 0, len(pids))
	for _, pid := range pids {
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		out = append(out, pid)
	}
	return out
}
