// Package metrics publishes the dispatch core's operational signals as
// Prometheus vectors using promauto's self-registering constructors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth reports the current waiting-list length per group.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Number of chats currently waiting in a group's priority queue",
	}, []string{"group"})

	// SlotHoldSeconds observes how long each active-slot hold lasted, from
	// acquire to release or expiry.
	SlotHoldSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_slot_hold_seconds",
		Help:    "Duration an active slot was held before release or expiry",
		Buckets: prometheus.DefBuckets,
	}, []string{"group"})

	// ClaimsTotal counts route claim attempts by outcome.
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_claims_total",
		Help: "Route claim attempts, partitioned by outcome",
	}, []string{"result"})

	// SessionTransitionsTotal counts session state transitions.
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_session_transitions_total",
		Help: "Session state machine transitions",
	}, []string{"from", "to"})

	// TimeoutsTotal counts response-timeout terminations per group.
	TimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_timeouts_total",
		Help: "Active-slot response timeouts that terminated a session",
	}, []string{"group"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
