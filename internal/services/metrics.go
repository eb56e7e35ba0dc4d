// Package services – metrics
//
// Prometheus counters for the request ledger and the lifecycle engine.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_created_total",
		Help: "Status requests created, by kind.",
	}, []string{"kind"})

	requestsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_rejected_total",
		Help: "Status request creations rejected, by kind and reason.",
	}, []string{"kind", "reason"})

	requestsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_requests_consumed_total",
		Help: "Status requests consumed by a visit report, by kind.",
	}, []string{"kind"})

	// A lost race is the expected outcome when two reports target the
	// same request; it is counted, not treated as an error.
	consumeRaceLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_consume_race_lost_total",
		Help: "Visit reports whose conditional consume found the request already consumed.",
	})
)

func init() {
	prometheus.MustRegister(requestsCreated, requestsRejected, requestsConsumed, consumeRaceLost)
}
