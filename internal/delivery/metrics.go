// Package delivery drains the issue delivery queue.
//
// This file registers the Prometheus collectors of the delivery workers.
// Outcomes are labelled with Outcome.String(), a fixed set of values.
package delivery

import "github.com/prometheus/client_golang/prometheus"

var (
	// deliveryOutcomes counts finished iterations by outcome. Empty polls are
	// not counted.
	deliveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_delivery_outcomes_total",
			Help: "Total number of delivery task outcomes.",
		},
		[]string{"outcome"},
	)

	// sendDuration records the latency of outbound email sends.
	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_delivery_send_seconds",
			Help:    "Duration of email send calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(deliveryOutcomes, sendDuration)
}
