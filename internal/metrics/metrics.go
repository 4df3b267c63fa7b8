// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hassbridge"

var (
	TemplateRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "template",
			Name:      "renders_total",
			Help:      "Template renderings received, by result (ok, error)",
		},
		[]string{"result"},
	)

	BinarySensorTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binary_sensor",
			Name:      "transitions_total",
			Help:      "Binary sensor transitions, by kind (immediate, delayed, cancelled)",
		},
		[]string{"entity_id", "kind"},
	)

	TemplateEntities = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "template",
			Name:      "entities",
			Help:      "Number of template entities currently registered",
		},
	)

	WeatherPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "weather",
			Name:      "polls_total",
			Help:      "Weather provider polls, by entity and result (ok, error)",
		},
		[]string{"unique_id", "result"},
	)

	WeatherLastUpdate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "weather",
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the last successful weather update",
		},
		[]string{"unique_id"},
	)
)

// Register adds all collectors to r.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		TemplateRenders,
		BinarySensorTransitions,
		TemplateEntities,
		WeatherPolls,
		WeatherLastUpdate,
	)
}

// ResultLabel maps an error to the "result" label value.
func ResultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
