// Package events carries domain events from the engine to whoever listens:
// the notification dispatcher, the Kafka sink, metrics.
package events

import "time"

// Type names a domain event.
type Type string

const (
	RegistrationCancelled Type = "registration.cancelled"
	PromotionOffered      Type = "promotion.offered"
	PromotionAccepted     Type = "promotion.accepted"
	PromotionDeclined     Type = "promotion.declined"
	PromotionExpired      Type = "promotion.expired"
)

// Event is a single state change. Fields that do not apply are empty.
type Event struct {
	ID              string     `json:"id"`
	Type            Type       `json:"type"`
	SessionID       string     `json:"session_id"`
	RegistrationID  string     `json:"registration_id"`
	WaitlistEntryID string     `json:"waitlist_entry_id,omitempty"`
	UserID          string     `json:"user_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev Event)

// Publish calls f(ev).
func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})
