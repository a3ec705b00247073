// Package metrics defines the Prometheus collectors for registration and
// waitlist activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registration outcomes.
const (
	OutcomeConfirmed  = "confirmed"
	OutcomeWaitlisted = "waitlisted"
	OutcomeRejected   = "rejected"
	OutcomeError      = "error"
)

var (
	registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_registrations_total",
			Help: "Registration attempts by outcome",
		},
		[]string{"outcome"},
	)

	cancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_cancellations_total",
			Help: "Cancelled registrations by prior status",
		},
		[]string{"from"},
	)

	promotions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waitlist_promotions_total",
			Help: "Promotion offers issued",
		},
	)

	promotionSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waitlist_promotion_skips_total",
			Help: "Candidates skipped during a promotion batch",
		},
	)

	offerResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_offer_responses_total",
			Help: "Promotion offers resolved, by response",
		},
		[]string{"response"}, // accepted, declined, expired
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waitlist_sweep_duration_seconds",
			Help:    "Duration of a full expiry sweep",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_notifications_total",
			Help: "Notification gateway calls by kind and status",
		},
		[]string{"kind", "status"},
	)

	conflictRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_conflict_retries_total",
			Help: "Operations retried after a concurrent modification",
		},
		[]string{"operation"},
	)
)

// RecordRegistration counts a registration attempt.
func RecordRegistration(outcome string) {
	registrations.WithLabelValues(outcome).Inc()
}

// RecordCancellation counts a cancellation.
func RecordCancellation(from string) {
	cancellations.WithLabelValues(from).Inc()
}

// RecordPromotion counts issued offers.
func RecordPromotion(n int) {
	promotions.Add(float64(n))
}

// RecordPromotionSkip counts a candidate skipped mid-batch.
func RecordPromotionSkip() {
	promotionSkips.Inc()
}

// RecordOfferResponse counts an accepted, declined or expired offer.
func RecordOfferResponse(response string, n int) {
	offerResponses.WithLabelValues(response).Add(float64(n))
}

// ObserveSweep records how long a sweep took.
func ObserveSweep(start time.Time) {
	sweepDuration.Observe(time.Since(start).Seconds())
}

// RecordNotification counts a gateway call.
func RecordNotification(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	notifications.WithLabelValues(kind, status).Inc()
}

// RecordConflictRetry counts a retried operation.
func RecordConflictRetry(operation string) {
	conflictRetries.WithLabelValues(operation).Inc()
}
