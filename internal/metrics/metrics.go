// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fruitbeast"

// Registry is the registry served by the HTTP metrics endpoint
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Analyses counts finished analysis requests by outcome
	// (success, failed, superseded).
	Analyses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analyses_total",
		Help:      "Fruit analyses by outcome.",
	}, []string{"outcome"})

	// RecipeImages counts recipe illustration requests by outcome.
	RecipeImages = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recipe_images_total",
		Help:      "Recipe image generations by outcome.",
	}, []string{"outcome"})

	InferenceDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_duration_seconds",
		Help:      "Latency of calls to the inference endpoint.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"backend", "operation"})

	FruitLogs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fruit_logs_total",
		Help:      "Fruit log writes by kind and outcome.",
	}, []string{"kind", "outcome"})

	Subscriptions = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "logbook_subscriptions",
		Help:      "Open live logbook subscriptions.",
	})

	WebsocketClients = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected websocket clients.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Outcome labels
const (
	OutcomeSuccess    = "success"
	OutcomeFailed     = "failed"
	OutcomeSuperseded = "superseded"
)
