// Package metrics exposes Prometheus metrics for one sweep run, following
// the teacher's promauto package-level-vars-plus-Record* helper pattern,
// and serves them (plus a health endpoint) over a small embedded gin
// server, the way the teacher's HTTP layer is built.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Concurrency tracks the current target concurrency level being driven.
	Concurrency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inferload_concurrency",
		Help: "Current target concurrency level",
	})

	// InferencesPerSecond tracks the most recently measured throughput.
	InferencesPerSecond = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inferload_inferences_per_second",
		Help: "Most recently measured inferences per second",
	})

	// LatencyMs observes per-window average client latency.
	LatencyMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inferload_latency_ms",
		Help:    "Per-window average client latency in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1ms to ~8s
	})

	// StableWindows counts measurement windows that satisfied the
	// stability criterion.
	StableWindows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inferload_stable_windows_total",
		Help: "Total number of measurement windows that reached stability",
	})

	// UnstableWindows counts measurement windows that did not satisfy the
	// stability criterion.
	UnstableWindows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inferload_unstable_windows_total",
		Help: "Total number of measurement windows that did not satisfy the stability criterion",
	})

	// WorkerErrors counts fatal worker RPC failures by transport.
	WorkerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inferload_worker_errors_total",
		Help: "Total number of fatal worker RPC failures",
	}, []string{"transport"})

	// StepDuration observes the wall-clock time one concurrency level's
	// Step call took to reach stability or give up.
	StepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inferload_step_duration_seconds",
		Help:    "Wall-clock duration of one concurrency level's measurement loop",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// RecordSample updates the gauges/histograms from one completed measurement
// window.
func RecordSample(concurrency int, inferencesPerSecond, avgLatencyMs float64, stable bool) {
	Concurrency.Set(float64(concurrency))
	InferencesPerSecond.Set(inferencesPerSecond)
	LatencyMs.Observe(avgLatencyMs)
	if stable {
		StableWindows.Inc()
	} else {
		UnstableWindows.Inc()
	}
}

// RecordWorkerError increments the worker-error counter for transport.
func RecordWorkerError(transport string) {
	WorkerErrors.WithLabelValues(transport).Inc()
}

// RecordStepDuration observes how long a Step call took.
func RecordStepDuration(d time.Duration) {
	StepDuration.Observe(d.Seconds())
}

// Server serves /metrics and /healthz on a background HTTP listener for the
// duration of a run.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) a metrics server bound to addr.
func NewServer(addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{httpServer: &http.Server{Addr: addr, Handler: r}}
}

// Start begins serving in a background goroutine. Errors after a
// successful start are delivered to errCh; ErrServerClosed is not sent.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
