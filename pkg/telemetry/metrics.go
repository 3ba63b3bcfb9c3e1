// Package telemetry exposes prometheus metrics for runs, iterations and
// stream subscribers.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the simulator's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted   prometheus.Counter
	RunsFinished  *prometheus.CounterVec
	Iterations    *prometheus.CounterVec
	IterationTime *prometheus.HistogramVec
	StreamClients prometheus.Gauge
	EventsRelayed *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "botsim",
			Name:      "runs_started_total",
			Help:      "Number of simulation runs launched.",
		}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botsim",
			Name:      "runs_finished_total",
			Help:      "Number of simulation runs finished, by final state.",
		}, []string{"state"}),
		Iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botsim",
			Name:      "iterations_total",
			Help:      "Number of iterations executed, by strategy and status class.",
		}, []string{"strategy", "class"}),
		IterationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "botsim",
			Name:      "iteration_duration_seconds",
			Help:      "Time spent executing one iteration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "botsim",
			Name:      "stream_subscribers",
			Help:      "Currently connected event stream observers.",
		}),
		EventsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "botsim",
			Name:      "events_relayed_total",
			Help:      "Events published to the broker, by kind.",
		}, []string{"kind"}),
	}
}

// Handler serves the metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
