package metrics

import (
	"context"
	"errors"
	"os"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func fixedSource(pids ...int) RendererSource {
	return func(context.Context) ([]int, error) { return pids, nil }
}

func TestRendererCollectorSnapshot(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("reads /proc")
	}
	self := os.Getpid()
	// a pid far above pid_max never exists
	c := NewRendererCollector("/proc", fixedSource(self, 1<<30))

	stats := c.Snapshot(context.Background())
	if len(stats) != 1 {
		t.Fatalf("expected only the live pid, got %+v", stats)
	}
	s := stats[0]
	if s.PID != self || s.RSSBytes == 0 || s.NumThreads == 0 || s.NumFDs == 0 {
		t.Fatalf("implausible stats for the test process: %+v", s)
	}
}

func TestRendererCollectorGather(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("reads /proc")
	}
	reg := prometheus.NewRegistry()
	c := NewRendererCollector("", fixedSource(os.Getpid()))
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	if n := testutil.CollectAndCount(c); n != 4 {
		t.Fatalf("expected 4 series for one renderer, got %d", n)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestRendererCollectorSourceError(t *testing.T) {
	c := NewRendererCollector("", func(context.Context) ([]int, error) {
		return nil, errors.New("no renderer processes found")
	})
	if got := c.Snapshot(context.Background()); len(got) != 0 {
		t.Fatalf("expected no stats, got %+v", got)
	}
	if n := testutil.CollectAndCount(c); n != 0 {
		t.Fatalf("expected no series, got %d", n)
	}
}
