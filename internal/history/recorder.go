package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/usage"
)

// DefaultSendTimeout bounds a single journal write.
const DefaultSendTimeout = 5 * time.Second

// Recorder turns signal deliveries and hog detections into events.
// A nil Recorder, or one without a sink, records nothing.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(s Sink) *Recorder {
	return &Recorder{sink: s, timeout: DefaultSendTimeout, now: time.Now}
}

// Delivery journals one signal attempt. It matches process.Controller.OnDelivery.
func (r *Recorder) Delivery(d process.Delivery) {
	if r == nil || r.sink == nil {
		return
	}
	e := Event{OccurredAt: r.now().UTC(), PID: d.PID}
	switch d.Kind {
	case process.Pause:
		e.Type = EventPause
	case process.Resume:
		e.Type = EventResume
	default:
		return
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.send(ctx, e)
}

// Hogs journals every measurement of a hog search result.
func (r *Recorder) Hogs(ctx context.Context, hogs []usage.Measurement) {
	if r == nil || r.sink == nil {
		return
	}
	at := r.now().UTC()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	for _, h := range hogs {
		r.send(ctx, Event{Type: EventHog, OccurredAt: at, PID: h.PID, Usage: h.Fraction})
	}
}

func (r *Recorder) send(ctx context.Context, e Event) {
	if err := r.sink.Send(ctx, e); err != nil {
		slog.Warn("journal write failed", "event", e.Type, "pid", e.PID, "error", err)
	}
}
