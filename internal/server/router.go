package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/crthrottle/internal/auth"
	"github.com/loykin/crthrottle/internal/detector"
	"github.com/loykin/crthrottle/internal/history"
	"github.com/loykin/crthrottle/internal/manager"
	"github.com/loykin/crthrottle/internal/metrics"
	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/usage"
)

// MaxWindow bounds the sampling window a request may ask for.
const MaxWindow = 10 * time.Second

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Service is the throttling surface the router exposes; *manager.Manager implements it.
type Service interface {
	Population(ctx context.Context) (process.Population, error)
	Enable(ctx context.Context, pids []int) (process.Outcome, error)
	Disable(ctx context.Context, pids []int) (process.Outcome, error)
	EnableAll(ctx context.Context) (process.Outcome, error)
	DisableAll(ctx context.Context) (process.Outcome, error)
	FindHogs(ctx context.Context, window time.Duration, threshold float64) ([]usage.Measurement, error)
	DisableHogs(ctx context.Context, window time.Duration, threshold float64) ([]usage.Measurement, process.Outcome, error)
}

// WatchSource reports the latest periodic detection round.
type WatchSource interface {
	Last() (manager.WatchResult, bool)
}

// Router provides embeddable HTTP handlers for throttling renderers.
// Endpoints:
//
//	GET  {basePath}/renderers              scan, "summary" is the pid+state list
//	POST {basePath}/renderers/pause        body: {"pids":[...]}
//	POST {basePath}/renderers/resume       body: {"pids":[...]}
//	POST {basePath}/renderers/pause-all
//	POST {basePath}/renderers/resume-all
//	GET  {basePath}/hogs                   query: window=1s&threshold=0.05
//	POST {basePath}/hogs/pause             query: window=1s&threshold=0.05
//	GET  {basePath}/history                query: limit=50
//	GET  {basePath}/watch
//	POST {basePath}/auth/login             body: {"username":..,"password":..}
//	GET  /metrics
type Router struct {
	svc      Service
	basePath string
	history  history.Reader
	watch    WatchSource
	auth     *auth.Middleware
}

// Option configures optional Router features.
type Option func(*Router)

// WithHistory serves {base}/history from r.
func WithHistory(r history.Reader) Option { return func(rt *Router) { rt.history = r } }

// WithWatcher serves {base}/watch from w.
func WithWatcher(w WatchSource) Option { return func(rt *Router) { rt.watch = w } }

// WithAuth requires credentials on every {base} route except login.
func WithAuth(svc *auth.Service) Option {
	return func(rt *Router) { rt.auth = auth.NewMiddleware(svc) }
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(svc Service, basePath string, opts ...Option) *Router {
	r := &Router{svc: svc, basePath: sanitizeBase(basePath), auth: auth.NewMiddleware(nil)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	base := g.Group(r.basePath)
	base.POST("/auth/login", r.auth.Login)

	api := base.Group("", r.auth.GinAuth())
	read := r.auth.GinRequire(auth.ActionRead)
	write := r.auth.GinRequire(auth.ActionWrite)
	api.GET("/renderers", read, r.handleList)
	api.POST("/renderers/pause", write, r.handleSignal(process.Pause))
	api.POST("/renderers/resume", write, r.handleSignal(process.Resume))
	api.POST("/renderers/pause-all", write, r.handleSignalAll(process.Pause))
	api.POST("/renderers/resume-all", write, r.handleSignalAll(process.Resume))
	api.GET("/hogs", read, r.handleHogs)
	api.POST("/hogs/pause", write, r.handlePauseHogs)
	api.GET("/history", read, r.handleHistory)
	api.GET("/watch", read, r.handleWatch)
	return g
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
	PIDs  []int  `json:"pids,omitempty"`
}

type pidsReq struct {
	PIDs []int `json:"pids"`
}

type listResp struct {
	Renderers process.Population `json:"renderers"`
	Summary   string             `json:"summary"`
}

type signalResp struct {
	Action    string         `json:"action"`
	Signalled []int          `json:"signalled"`
	Failed    map[int]string `json:"failed,omitempty"`
}

type hogsResp struct {
	Window    float64             `json:"window_seconds"`
	Threshold float64             `json:"threshold"`
	Hogs      []usage.Measurement `json:"hogs"`
	Paused    *signalResp         `json:"paused,omitempty"`
}

func (r *Router) handleList(c *gin.Context) {
	pop, err := r.svc.Population(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, listResp{Renderers: pop, Summary: pop.String()})
}

func (r *Router) handleSignal(kind process.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pidsReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
		op := r.svc.Disable
		if kind == process.Resume {
			op = r.svc.Enable
		}
		out, err := op(c.Request.Context(), req.PIDs)
		writeOutcome(c, kind, out, err)
	}
}

func (r *Router) handleSignalAll(kind process.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		op := r.svc.DisableAll
		if kind == process.Resume {
			op = r.svc.EnableAll
		}
		out, err := op(c.Request.Context())
		writeOutcome(c, kind, out, err)
	}
}

func (r *Router) hogParams(c *gin.Context) (time.Duration, float64, bool) {
	window, err := parseWindow(c.Query("window"), detector.DefaultWindow)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return 0, 0, false
	}
	if window > MaxWindow {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "window must not exceed " + MaxWindow.String()})
		return 0, 0, false
	}
	threshold, err := parseThreshold(c.Query("threshold"), detector.DefaultThreshold)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return 0, 0, false
	}
	return window, threshold, true
}

func (r *Router) handleHogs(c *gin.Context) {
	window, threshold, ok := r.hogParams(c)
	if !ok {
		return
	}
	hogs, err := r.svc.FindHogs(c.Request.Context(), window, threshold)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, hogsResp{Window: window.Seconds(), Threshold: threshold, Hogs: nonNil(hogs)})
}

func (r *Router) handlePauseHogs(c *gin.Context) {
	window, threshold, ok := r.hogParams(c)
	if !ok {
		return
	}
	hogs, out, err := r.svc.DisableHogs(c.Request.Context(), window, threshold)
	if err != nil && !errors.Is(err, process.ErrPartialFailure) {
		writeError(c, err)
		return
	}
	resp := hogsResp{Window: window.Seconds(), Threshold: threshold, Hogs: nonNil(hogs)}
	sr := toSignalResp(process.Pause, out)
	resp.Paused = &sr
	code := http.StatusOK
	if err != nil {
		code = http.StatusMultiStatus
	}
	writeJSON(c, code, resp)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history journal is not configured"})
		return
	}
	limit, err := parseLimit(c.Query("limit"), defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	events, err := r.history.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleWatch(c *gin.Context) {
	if r.watch == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "watcher is not running"})
		return
	}
	res, ok := r.watch.Last()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func toSignalResp(kind process.Kind, out process.Outcome) signalResp {
	resp := signalResp{Action: kind.String(), Signalled: out.Succeeded()}
	if resp.Signalled == nil {
		resp.Signalled = []int{}
	}
	if failed := out.Failed(); len(failed) > 0 {
		resp.Failed = make(map[int]string, len(failed))
		for pid, err := range failed {
			resp.Failed[pid] = err.Error()
		}
	}
	return resp
}

func writeOutcome(c *gin.Context, kind process.Kind, out process.Outcome, err error) {
	if err != nil && !errors.Is(err, process.ErrPartialFailure) {
		writeError(c, err)
		return
	}
	code := http.StatusOK
	if err != nil {
		code = http.StatusMultiStatus
	}
	writeJSON(c, code, toSignalResp(kind, out))
}

// writeError maps operation errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	var unknown *process.UnknownTargetsError
	switch {
	case errors.As(err, &unknown):
		writeJSON(c, http.StatusUnprocessableEntity, errorResp{Error: err.Error(), PIDs: unknown.PIDs})
	case errors.Is(err, process.ErrNoWorkers):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, process.ErrNoTargets), errors.Is(err, usage.ErrInvalidWindow):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	case errors.Is(err, detector.ErrInterrupted):
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func nonNil(ms []usage.Measurement) []usage.Measurement {
	if ms == nil {
		return []usage.Measurement{}
	}
	return ms
}
