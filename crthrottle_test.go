package crthrottle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/crthrottle/internal/proctest"
)

func table(t *testing.T) *proctest.Table {
	t.Helper()
	tb := proctest.New(t)
	tb.Add(t, 1000, proctest.CmdBash, 'S')
	tb.Add(t, 4000, proctest.CmdRenderer, 'S')
	tb.Add(t, 4001, proctest.CmdRenderer, 'S')
	return tb
}

func TestManagerFacade(t *testing.T) {
	tb := table(t)
	m := New(Options{ProcRoot: tb.Root, TicksPerSecond: 100, Send: tb.Kill})
	ctx := context.Background()

	if _, err := m.Disable(ctx, 4001); err != nil {
		t.Fatalf("disable: %v", err)
	}
	pop, err := m.Population(ctx)
	if err != nil {
		t.Fatalf("population: %v", err)
	}
	if pop.String() != "4000S 4001T" {
		t.Fatalf("unexpected population %q", pop.String())
	}
	if _, err := m.EnableAll(ctx); err != nil {
		t.Fatalf("enable all: %v", err)
	}
	if tb.State(4001) != 'S' {
		t.Fatal("4001 should be running again")
	}
	if _, err := m.Enable(ctx, 1000); !errors.Is(err, ErrUnknownTargets) {
		t.Fatalf("expected ErrUnknownTargets, got %v", err)
	}
	if _, err := m.FindHogs(ctx, 0, 0); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestJournalFacade(t *testing.T) {
	tb := table(t)
	sink, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if c, ok := sink.(io.Closer); ok {
		t.Cleanup(func() { _ = c.Close() })
	}
	m := New(Options{ProcRoot: tb.Root, Send: tb.Kill})
	m.SetJournal(sink)
	if _, err := m.DisableAll(context.Background()); err != nil {
		t.Fatalf("disable all: %v", err)
	}

	h, err := NewHandler(m, "/api", HandlerOptions{Journal: sink})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusOK || strings.Count(rec.Body.String(), `"pause"`) != 2 {
		t.Fatalf("history: %d %s", rec.Code, rec.Body.String())
	}
}

func TestNewHandlerWithWatcher(t *testing.T) {
	tb := table(t)
	m := New(Options{ProcRoot: tb.Root, Send: tb.Kill})
	w := NewWatcher(m, WatchConfig{Interval: time.Minute, Window: 10 * time.Millisecond})
	h, err := NewHandler(m, "/throttle", HandlerOptions{Watcher: w})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/throttle/renderers", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "4000S 4001S") {
		t.Fatalf("renderers: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/throttle/watch", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("watch before first round: %d", rec.Code)
	}
}

func TestNewHandlerRejectsBadAuth(t *testing.T) {
	m := New(Options{ProcRoot: t.TempDir()})
	ho := HandlerOptions{}
	ho.Auth.Enabled = true
	if _, err := NewHandler(m, "/api", ho); err == nil {
		t.Fatal("auth without a secret should fail")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.ProcRoot != "/proc" || c.Target != DefaultMatcher() {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if NewFromConfig(c) == nil {
		t.Fatal("nil manager")
	}
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	// a second registration is tolerated
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register again: %v", err)
	}
}
