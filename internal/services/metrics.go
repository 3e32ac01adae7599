// Package services defines the business logic for publishing newsletter
// issues.
//
// This file registers the publisher's Prometheus counters.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// issuesPublished counts successfully published issues by mode.
	issuesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_issues_published_total",
			Help: "Total number of newsletter issues published.",
		},
		[]string{"mode"},
	)

	// idempotentReplays counts requests answered from a saved response.
	idempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_idempotent_replays_total",
			Help: "Total number of publish requests served from a saved response.",
		},
	)
)

func init() {
	prometheus.MustRegister(issuesPublished, idempotentReplays)
}
