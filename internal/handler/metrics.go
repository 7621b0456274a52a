package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delayedmailer_decisions_total",
			Help: "Debounce decisions by policy, decision and reason.",
		},
		[]string{"policy", "decision", "reason"},
	)
	filteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delayedmailer_filtered_total",
			Help: "Events dropped by a suppression filter.",
		},
		[]string{"filter"},
	)
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delayedmailer_deliveries_total",
			Help: "Per-recipient delivery attempts by status.",
		},
		[]string{"status"},
	)
	handleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delayedmailer_handle_duration_seconds",
			Help:    "Time spent handling one event, delivery included.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)
