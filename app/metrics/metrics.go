package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the scheduler and external worker metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	claims          *prometheus.CounterVec
	idleClaims      prometheus.Counter
	outcomes        *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	freezes         *prometheus.CounterVec
	externalClaims  *prometheus.CounterVec
	externalSubmits *prometheus.CounterVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsstag_task_claims_total",
			Help: "Tasks claimed by internal workers",
		}, []string{"type"}),
		idleClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsstag_task_idle_claims_total",
			Help: "Claims that found no task to process",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsstag_task_outcomes_total",
			Help: "Handler outcomes by task type",
		}, []string{"type", "outcome"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rsstag_task_handler_duration_seconds",
			Help:    "Time spent in task handlers",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"type"}),
		freezes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsstag_task_freezes_total",
			Help: "Task types frozen after a provider rejected credentials",
		}, []string{"type"}),
		externalClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsstag_external_claims_total",
			Help: "External worker claims by task type and result",
		}, []string{"type", "result"}),
		externalSubmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsstag_external_submits_total",
			Help: "External worker submissions by task type and result",
		}, []string{"type", "result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.claims,
		c.idleClaims,
		c.outcomes,
		c.handlerDuration,
		c.freezes,
		c.externalClaims,
		c.externalSubmits,
	)

	return c
}

func (c *Collector) ObserveClaim(taskType string) {
	c.claims.WithLabelValues(taskType).Inc()
}

func (c *Collector) ObserveIdle() {
	c.idleClaims.Inc()
}

func (c *Collector) ObserveOutcome(taskType, outcome string, duration time.Duration) {
	c.outcomes.WithLabelValues(taskType, outcome).Inc()
	c.handlerDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

func (c *Collector) ObserveFreeze(taskType string) {
	c.freezes.WithLabelValues(taskType).Inc()
}

// ObserveExternalClaim records an external claim; result is "claimed" or "idle".
func (c *Collector) ObserveExternalClaim(taskType, result string) {
	c.externalClaims.WithLabelValues(taskType, result).Inc()
}

// ObserveExternalSubmit records an external submission; result is "applied",
// "failed" or "stale".
func (c *Collector) ObserveExternalSubmit(taskType, result string) {
	c.externalSubmits.WithLabelValues(taskType, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
