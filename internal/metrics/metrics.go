package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	scans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crthrottle",
			Subsystem: "discovery",
			Name:      "scans_total",
			Help:      "Number of process table scans.",
		},
	)
	workers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crthrottle",
			Subsystem: "discovery",
			Name:      "workers",
			Help:      "Renderer processes found by the most recent scan.",
		},
	)
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crthrottle",
			Name:      "signals_total",
			Help:      "Signal deliveries by kind and result.",
		}, []string{"kind", "result"},
	)
	hogsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "crthrottle",
			Name:      "hogs_detected_total",
			Help:      "Renderer processes found at or above the CPU usage threshold.",
		},
	)
	workerUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "crthrottle",
			Subsystem: "worker",
			Name:      "cpu_usage_ratio",
			Help:      "CPU usage of each renderer over the last sampling window (1 = one core).",
		}, []string{"pid"},
	)
	sampleWindow = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crthrottle",
			Subsystem: "worker",
			Name:      "sample_window_seconds",
			Help:      "Elapsed time between the two CPU samples of a hog detection.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times and with several registerers.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{scans, workers, signals, hogsDetected, workerUsage, sampleWindow}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// WriteTextfile dumps the default gatherer in the text exposition format,
// for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveScan(found int) {
	if regOK.Load() {
		scans.Inc()
		workers.Set(float64(found))
	}
}

func IncSignal(kind string, ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		signals.WithLabelValues(kind, result).Inc()
	}
}

func AddHogs(n int) {
	if regOK.Load() {
		hogsDetected.Add(float64(n))
	}
}

// SetWorkerUsage replaces the per-pid usage gauges with usage.
func SetWorkerUsage(usage map[int]float64, windowSeconds float64) {
	if regOK.Load() {
		workerUsage.Reset()
		for pid, v := range usage {
			workerUsage.WithLabelValues(strconv.Itoa(pid)).Set(v)
		}
		sampleWindow.Observe(windowSeconds)
	}
}
