package metrics

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/common"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultCollectTimeout bounds one scrape of renderer resource usage.
const DefaultCollectTimeout = 5 * time.Second

// RendererSource lists the renderer pids to report on.
type RendererSource func(ctx context.Context) ([]int, error)

// RendererStats is the resource usage of one renderer.
type RendererStats struct {
	PID        int    `json:"pid"`
	RSSBytes   uint64 `json:"rss_bytes"`
	VMSBytes   uint64 `json:"vms_bytes"`
	NumThreads int32  `json:"num_threads"`
	NumFDs     int32  `json:"num_fds"`
}

// RendererCollector reports memory, threads and open files of every renderer
// at scrape time. Processes that exit between listing and reading are skipped.
type RendererCollector struct {
	source   RendererSource
	procRoot string
	timeout  time.Duration

	rss     *prometheus.Desc
	vms     *prometheus.Desc
	threads *prometheus.Desc
	fds     *prometheus.Desc
}

// NewRendererCollector reads process details below procRoot ("" = /proc).
func NewRendererCollector(procRoot string, source RendererSource) *RendererCollector {
	labels := []string{"pid"}
	return &RendererCollector{
		source:   source,
		procRoot: procRoot,
		timeout:  DefaultCollectTimeout,
		rss: prometheus.NewDesc("crthrottle_worker_resident_memory_bytes",
			"Resident set size of each renderer.", labels, nil),
		vms: prometheus.NewDesc("crthrottle_worker_virtual_memory_bytes",
			"Virtual memory size of each renderer.", labels, nil),
		threads: prometheus.NewDesc("crthrottle_worker_threads",
			"Number of threads of each renderer.", labels, nil),
		fds: prometheus.NewDesc("crthrottle_worker_open_fds",
			"Number of open file descriptors of each renderer.", labels, nil),
	}
}

func (c *RendererCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rss
	ch <- c.vms
	ch <- c.threads
	ch <- c.fds
}

func (c *RendererCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	for _, s := range c.Snapshot(ctx) {
		pid := strconv.Itoa(s.PID)
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(s.RSSBytes), pid)
		ch <- prometheus.MustNewConstMetric(c.vms, prometheus.GaugeValue, float64(s.VMSBytes), pid)
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(s.NumThreads), pid)
		ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(s.NumFDs), pid)
	}
}

// Snapshot reads the current stats of every renderer the source lists.
func (c *RendererCollector) Snapshot(ctx context.Context) []RendererStats {
	pids, err := c.source(ctx)
	if err != nil {
		slog.Debug("renderer stats: listing failed", "error", err)
		return nil
	}
	if c.procRoot != "" {
		ctx = context.WithValue(ctx, common.EnvKey, common.EnvMap{common.HostProcEnvKey: c.procRoot})
	}
	out := make([]RendererStats, 0, len(pids))
	for _, pid := range pids {
		s, err := readStats(ctx, pid)
		if err != nil {
			slog.Debug("renderer stats: read failed", "pid", pid, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out
}

func readStats(ctx context.Context, pid int) (RendererStats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return RendererStats{}, err
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return RendererStats{}, err
	}
	s := RendererStats{PID: pid, RSSBytes: mem.RSS, VMSBytes: mem.VMS}
	// thread and fd counts are best effort; fds need the same uid
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		s.NumThreads = n
	}
	if n, err := p.NumFDsWithContext(ctx); err == nil {
		s.NumFDs = n
	}
	return s, nil
}

// Register adds c to r. Registering an equal collector twice is not an error.
func (c *RendererCollector) Register(r prometheus.Registerer) error {
	if err := r.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}
