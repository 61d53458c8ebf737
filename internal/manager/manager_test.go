package manager

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/crthrottle/internal/detector"
	"github.com/loykin/crthrottle/internal/history"
	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/proctest"
	"github.com/loykin/crthrottle/internal/usage"
)

// stubFinder returns fixed results and remembers the population it was given.
type stubFinder struct {
	hogs []usage.Measurement
	err  error
	seen process.Population
}

func (s *stubFinder) FindHogs(_ context.Context, pop process.Population, _ time.Duration, _ float64) ([]usage.Measurement, error) {
	s.seen = pop
	return s.hogs, s.err
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func rendererTable(t *testing.T, pids ...int) *proctest.Table {
	t.Helper()
	tb := proctest.New(t)
	tb.Add(t, 1000, proctest.CmdBash, 'S')
	tb.Add(t, 3000, proctest.CmdZygote, 'S')
	for _, pid := range pids {
		tb.Add(t, pid, proctest.CmdRenderer, 'S')
	}
	return tb
}

func newTestManager(tb *proctest.Table, f HogFinder, sink history.Sink) *Manager {
	return New(Options{ProcRoot: tb.Root, TicksPerSecond: 100, Send: tb.Kill, Finder: f, Sink: sink})
}

func TestManager_PauseResumeRoundTrip(t *testing.T) {
	tb := rendererTable(t, 4000, 4001, 4002)
	sink := &memSink{}
	m := newTestManager(tb, nil, sink)
	ctx := context.Background()

	_, err := m.Disable(ctx, []int{4001, 4002})
	require.NoError(t, err)
	pop, err := m.Population(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4000S 4001T 4002T", pop.String())

	_, err = m.Enable(ctx, []int{4001})
	require.NoError(t, err)
	pop, err = m.Population(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4000S 4001S 4002T", pop.String())

	assert.Equal(t, []history.EventType{history.EventPause, history.EventPause, history.EventResume}, sink.types())
}

func TestManager_AllOperations(t *testing.T) {
	tb := rendererTable(t, 4000, 4001)
	m := newTestManager(tb, nil, nil)
	ctx := context.Background()

	out, err := m.DisableAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{4000, 4001}, out.Succeeded())
	assert.Equal(t, byte('S'), tb.State(1000))

	_, err = m.EnableAll(ctx)
	require.NoError(t, err)
	pop, _ := m.Population(ctx)
	assert.Equal(t, "4000S 4001S", pop.String())
}

func TestManager_Errors(t *testing.T) {
	ctx := context.Background()

	empty := newTestManager(proctest.New(t), nil, nil)
	_, err := empty.Population(ctx)
	assert.ErrorIs(t, err, process.ErrNoWorkers)
	_, err = empty.DisableAll(ctx)
	assert.ErrorIs(t, err, process.ErrNoWorkers)

	tb := rendererTable(t, 4000)
	m := newTestManager(tb, nil, nil)
	_, err = m.Disable(ctx, nil)
	assert.ErrorIs(t, err, process.ErrNoTargets)

	_, err = m.Disable(ctx, []int{4000, 1000})
	assert.ErrorIs(t, err, process.ErrUnknownTargets)
	assert.Empty(t, tb.Deliveries())
}

func TestManager_PartialFailure(t *testing.T) {
	tb := rendererTable(t, 4000, 4001)
	send := func(pid int, sig syscall.Signal) error {
		if pid == 4001 {
			return syscall.EPERM
		}
		return tb.Kill(pid, sig)
	}
	m := New(Options{ProcRoot: tb.Root, TicksPerSecond: 100, Send: send})
	out, err := m.DisableAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, process.ErrPartialFailure)
	assert.Equal(t, []int{4000}, out.Succeeded())
	assert.Contains(t, out.Failed(), 4001)
}

func TestManager_FindHogs(t *testing.T) {
	tb := rendererTable(t, 4000, 4001, 4002)
	finder := &stubFinder{hogs: []usage.Measurement{{PID: 4000, Fraction: 0.9}, {PID: 4002, Fraction: 0.2}}}
	sink := &memSink{}
	m := newTestManager(tb, finder, sink)

	hogs, err := m.FindHogs(context.Background(), time.Second, 0.05)
	require.NoError(t, err)
	assert.Len(t, hogs, 2)
	assert.Equal(t, []int{4000, 4001, 4002}, finder.seen.PIDs())
	assert.Equal(t, []history.EventType{history.EventHog, history.EventHog}, sink.types())
	// detection alone never signals
	assert.Empty(t, tb.Deliveries())

	_, err = m.FindHogs(context.Background(), 0, 0.05)
	assert.ErrorIs(t, err, usage.ErrInvalidWindow)
}

func TestManager_DisableHogs(t *testing.T) {
	tb := rendererTable(t, 4000, 4001, 4002)
	finder := &stubFinder{hogs: []usage.Measurement{{PID: 4000, Fraction: 0.9}, {PID: 4002, Fraction: 0.2}}}
	m := newTestManager(tb, finder, nil)

	hogs, out, err := m.DisableHogs(context.Background(), time.Second, 0.05)
	require.NoError(t, err)
	assert.Len(t, hogs, 2)
	assert.Equal(t, []int{4000, 4002}, out.Succeeded())
	pop, _ := m.Population(context.Background())
	assert.Equal(t, "4000T 4001S 4002T", pop.String())
}

func TestManager_DisableHogsNoneFound(t *testing.T) {
	tb := rendererTable(t, 4000)
	m := newTestManager(tb, &stubFinder{}, nil)
	hogs, out, err := m.DisableHogs(context.Background(), time.Second, 0.05)
	require.NoError(t, err)
	assert.Empty(t, hogs)
	assert.Empty(t, out)
	assert.Empty(t, tb.Deliveries())
}

func TestManager_DisableHogsInterrupted(t *testing.T) {
	tb := rendererTable(t, 4000)
	interrupted := errors.Join(detector.ErrInterrupted, context.Canceled)
	finder := &stubFinder{hogs: []usage.Measurement{{PID: 4000, Fraction: 1}}, err: interrupted}
	m := newTestManager(tb, finder, nil)

	hogs, out, err := m.DisableHogs(context.Background(), time.Second, 0.05)
	assert.ErrorIs(t, err, detector.ErrInterrupted)
	assert.Len(t, hogs, 1)
	assert.Nil(t, out)
	assert.Empty(t, tb.Deliveries())
}

func TestManager_RealDetector(t *testing.T) {
	tb := rendererTable(t, 4000, 4001)
	m := newTestManager(tb, nil, nil)
	// idle renderers measure 0, which a zero threshold still reports
	hogs, err := m.FindHogs(context.Background(), 20*time.Millisecond, 0)
	require.NoError(t, err)
	require.Len(t, hogs, 2)
	assert.Equal(t, 4000, hogs[0].PID)
	assert.Equal(t, 0.0, hogs[0].Fraction)
}
