package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isdmx/minisandbox/sandbox"
)

const namespace = "minisandbox"

// Collector holds the Prometheus metrics of a sandbox session.
// Uses a custom registry, no global state.
type Collector struct {
	Registry *prometheus.Registry

	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	ToolCallsTotal *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total sandbox runs by terminal status.",
		}, []string{"status"}),

		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Sandbox run wall-clock duration in seconds, worker start to result.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total tool calls made by sandboxed code.",
		}, []string{"tool", "status"}),
	}

	reg.MustRegister(c.RunsTotal, c.RunDuration, c.ToolCallsTotal)
	return c
}

// ObserveRun records a finished run
func (c *Collector) ObserveRun(status sandbox.Status, duration time.Duration) {
	c.RunsTotal.WithLabelValues(string(status)).Inc()
	c.RunDuration.Observe(duration.Seconds())
}

// ObserveToolCall records a tool call served for a worker
func (c *Collector) ObserveToolCall(tool string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// Handler serves the collector's registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

var _ sandbox.Observer = (*Collector)(nil)
