package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/crthrottle/internal/auth"
	"github.com/loykin/crthrottle/internal/history/sqlite"
	"github.com/loykin/crthrottle/internal/manager"
	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/proctest"
	"github.com/loykin/crthrottle/internal/server"
	tlsconf "github.com/loykin/crthrottle/internal/tls"
	"github.com/loykin/crthrottle/internal/usage"
)

type fixedFinder []usage.Measurement

func (f fixedFinder) FindHogs(context.Context, process.Population, time.Duration, float64) ([]usage.Measurement, error) {
	return f, nil
}

type fixture struct {
	tb  *proctest.Table
	mgr *manager.Manager
}

func newFixture(t *testing.T, send process.SendFunc) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tb := proctest.New(t)
	tb.Add(t, 1000, proctest.CmdBash, 'S')
	for _, pid := range []int{4000, 4001, 4002} {
		tb.Add(t, pid, proctest.CmdRenderer, 'S')
	}
	if send == nil {
		send = tb.Kill
	}
	mgr := manager.New(manager.Options{
		ProcRoot: tb.Root,
		Send:     send,
		Finder:   fixedFinder{{PID: 4002, Fraction: 0.7}},
	})
	return &fixture{tb: tb, mgr: mgr}
}

func (f *fixture) serve(t *testing.T, opts ...server.Option) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(server.NewRouter(f.mgr, "/api", opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestClient_SignalRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	c := newClient(t, Config{BaseURL: f.serve(t).URL + "/api"})
	ctx := context.Background()

	list, err := c.Renderers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4000S 4001S 4002S", list.Summary)
	assert.Equal(t, Renderer{PID: 4000, State: "S"}, list.Renderers[0])

	res, err := c.Pause(ctx, 4001)
	require.NoError(t, err)
	assert.Equal(t, []int{4001}, res.Signalled)
	assert.Equal(t, byte('T'), f.tb.State(4001))

	_, err = c.Resume(ctx, 4001)
	require.NoError(t, err)
	_, err = c.PauseAll(ctx)
	require.NoError(t, err)
	_, err = c.ResumeAll(ctx)
	require.NoError(t, err)

	list, err = c.Renderers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4000S 4001S 4002S", list.Summary)
}

func TestClient_Errors(t *testing.T) {
	f := newFixture(t, nil)
	c := newClient(t, Config{BaseURL: f.serve(t).URL + "/api"})
	ctx := context.Background()

	_, err := c.Pause(ctx, 4000, 1000)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, []int{1000}, apiErr.PIDs)

	_, err = c.Pause(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = c.History(ctx, 10)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_PartialFailure(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(pid int, sig syscall.Signal) error {
		if pid == 4001 {
			return syscall.EPERM
		}
		return f.tb.Kill(pid, sig)
	})
	c := newClient(t, Config{BaseURL: f.serve(t).URL + "/api"})

	res, err := c.PauseAll(context.Background())
	assert.True(t, errors.Is(err, ErrPartialFailure))
	assert.Equal(t, []int{4000, 4002}, res.Signalled)
	assert.Contains(t, res.Failed, 4001)
}

func TestClient_HogsHistoryWatch(t *testing.T) {
	f := newFixture(t, nil)
	sink, err := sqlite.New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	f.mgr.SetSink(sink)
	w := manager.NewWatcher(f.mgr, manager.WatchConfig{Interval: time.Minute, Window: time.Second, Threshold: 0.05})

	c := newClient(t, Config{BaseURL: f.serve(t, server.WithHistory(sink), server.WithWatcher(w)).URL + "/api"})
	ctx := context.Background()

	_, ok, err := c.Watch(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	rep, err := c.Hogs(ctx, 500*time.Millisecond, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rep.WindowSeconds)
	assert.Equal(t, []Hog{{PID: 4002, Fraction: 0.7}}, rep.Hogs)

	rep, err = c.PauseHogs(ctx, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, rep.Paused)
	assert.Equal(t, []int{4002}, rep.Paused.Signalled)

	w.RunOnce(ctx)
	got, ok, err := c.Watch(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []Hog{{PID: 4002, Fraction: 0.7}}, got.Hogs)

	events, err := c.History(ctx, 0)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	assert.Contains(t, types, "pause")
	assert.Contains(t, types, "hog")
}

func TestClient_Auth(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Config{
		Enabled:   true,
		JWTSecret: "test-secret",
		Users: []auth.User{
			{Username: "ops", PasswordHash: hash, Roles: []string{auth.RoleOperator}},
		},
	})
	require.NoError(t, err)
	f := newFixture(t, nil)
	base := f.serve(t, server.WithAuth(svc)).URL + "/api"
	ctx := context.Background()

	_, err = newClient(t, Config{BaseURL: base}).Renderers(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	basic := newClient(t, Config{BaseURL: base, Username: "ops", Password: "s3cret"})
	_, err = basic.Renderers(ctx)
	require.NoError(t, err)

	bearer := newClient(t, Config{BaseURL: base})
	_, err = bearer.Login(ctx, "ops", "wrong")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	tok, err := bearer.Login(ctx, "ops", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.Type)
	_, err = bearer.Pause(ctx, 4000)
	require.NoError(t, err)
}

func TestClient_TLSWithCA(t *testing.T) {
	dir := t.TempDir()
	tlsCfg, err := tlsconf.Setup(tlsconf.Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)

	f := newFixture(t, nil)
	srv := httptest.NewUnstartedServer(server.NewRouter(f.mgr, "/api").Handler())
	srv.TLS = tlsCfg
	srv.StartTLS()
	t.Cleanup(srv.Close)

	c := newClient(t, Config{
		BaseURL: srv.URL + "/api",
		TLS:     &TLSClientConfig{Enabled: true, CACert: filepath.Join(dir, "tls.crt")},
	})
	list, err := c.Renderers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4000S 4001S 4002S", list.Summary)

	_, err = New(Config{TLS: &TLSClientConfig{Enabled: true, CACert: filepath.Join(dir, "missing.crt")}})
	assert.Error(t, err)
}
