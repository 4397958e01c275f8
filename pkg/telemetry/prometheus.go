package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/breakpoint-labs/havoc/pkg/events"
)

// Collector counts lifecycle events off the bus and exposes them in
// Prometheus format. It runs as its own bus subscriber so a scrape stall
// can never touch the orchestration loop.
type Collector struct {
	registry *prometheus.Registry

	experimentsCreated prometheus.Counter
	experimentsDeleted prometheus.Counter
	executionsStarted  prometheus.Counter
	executionsFinished *prometheus.CounterVec
	rollbacks          prometheus.Counter
	runningExecutions  prometheus.Gauge
}

// NewCollector builds and registers the orchestrator metrics
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		experimentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "havoc_experiments_created_total",
			Help: "Number of experiment definitions created",
		}),
		experimentsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "havoc_experiments_deleted_total",
			Help: "Number of experiment definitions deleted",
		}),
		executionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "havoc_executions_started_total",
			Help: "Number of chaos executions that entered running",
		}),
		executionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "havoc_executions_finished_total",
			Help: "Number of chaos executions reaching a terminal status",
		}, []string{"event"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "havoc_rollbacks_triggered_total",
			Help: "Number of safety rollbacks triggered by metric thresholds",
		}),
		runningExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "havoc_running_executions",
			Help: "Chaos executions currently running",
		}),
	}
	c.registry.MustRegister(
		c.experimentsCreated,
		c.experimentsDeleted,
		c.executionsStarted,
		c.executionsFinished,
		c.rollbacks,
		c.runningExecutions,
	)
	return c
}

// Observe consumes the subscriber channel until it is closed; run it in
// its own goroutine
func (c *Collector) Observe(ch <-chan events.Event) {
	// executions failing pre-checks finish without ever having started, so
	// the gauge tracks its own floor instead of trusting event pairing
	running := 0
	for ev := range ch {
		switch ev.Type {
		case events.EventExperimentCreated:
			c.experimentsCreated.Inc()
		case events.EventExperimentDeleted:
			c.experimentsDeleted.Inc()
		case events.EventExecutionStarted:
			c.executionsStarted.Inc()
			running++
			c.runningExecutions.Set(float64(running))
		case events.EventExecutionCompleted, events.EventExecutionStopped:
			c.executionsFinished.WithLabelValues(string(ev.Type)).Inc()
			if running > 0 {
				running--
			}
			c.runningExecutions.Set(float64(running))
		case events.EventRollbackTriggered:
			c.rollbacks.Inc()
		}
	}
}

// Handler serves the /metrics endpoint for this collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
