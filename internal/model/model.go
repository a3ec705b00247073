// Package model defines the core domain types for session registration and
// the waitlist.
package model

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionCancelled SessionStatus = "cancelled"
)

// Session represents a live session with a fixed number of seats.
type Session struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Capacity        int           `json:"capacity"`
	RegisteredCount int           `json:"registered_count"`
	WaitlistCount   int           `json:"waitlist_count"`
	StartsAt        time.Time     `json:"starts_at"`
	Status          SessionStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Remaining returns the number of available seats.
func (s *Session) Remaining() int {
	return s.Capacity - s.RegisteredCount
}

// IsFull returns true when no seats remain.
func (s *Session) IsFull() bool {
	return s.RegisteredCount >= s.Capacity
}

// IsClosed reports whether the session no longer accepts registrations.
func (s *Session) IsClosed(now time.Time) bool {
	return s.Status == SessionCancelled || !s.StartsAt.After(now)
}

// RegistrationStatus is the state of a registration.
type RegistrationStatus string

const (
	RegistrationPending    RegistrationStatus = "pending"
	RegistrationConfirmed  RegistrationStatus = "confirmed"
	RegistrationWaitlisted RegistrationStatus = "waitlisted"
	RegistrationCancelled  RegistrationStatus = "cancelled"
	RegistrationExpired    RegistrationStatus = "expired"
)

// Active reports whether the status still holds a seat or a place in line.
func (s RegistrationStatus) Active() bool {
	return s == RegistrationPending || s == RegistrationConfirmed || s == RegistrationWaitlisted
}

// Registration represents a user's registration for a session.
// Registrations are never deleted; cancellation is a status transition.
type Registration struct {
	ID           string             `json:"id"`
	SessionID    string             `json:"session_id"`
	UserID       string             `json:"user_id"`
	Status       RegistrationStatus `json:"status"`
	RegisteredAt time.Time          `json:"registered_at"`
	ConfirmedAt  *time.Time         `json:"confirmed_at,omitempty"`
	CancelledAt  *time.Time         `json:"cancelled_at,omitempty"`
}

// WaitlistStatus is the state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "waiting"
	WaitlistPromoted WaitlistStatus = "promoted"
	WaitlistDeclined WaitlistStatus = "declined"
	WaitlistExpired  WaitlistStatus = "expired"
)

// WaitlistEntry is a queued registration. Position is only meaningful while
// Status is waiting; PromotionExpiresAt is set exactly when Status is promoted.
type WaitlistEntry struct {
	ID                 string         `json:"id"`
	SessionID          string         `json:"session_id"`
	RegistrationID     string         `json:"registration_id"`
	Position           int            `json:"position"`
	Status             WaitlistStatus `json:"status"`
	PromotedAt         *time.Time     `json:"promoted_at,omitempty"`
	PromotionExpiresAt *time.Time     `json:"promotion_expires_at,omitempty"`
	Notified           bool           `json:"notified"`
	AcceptedPromotion  *bool          `json:"accepted_promotion"`
	RespondedAt        *time.Time     `json:"responded_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Responded reports whether the holder already answered a promotion offer.
func (e *WaitlistEntry) Responded() bool {
	return e.AcceptedPromotion != nil
}

// OfferOpen reports whether the entry holds an unanswered promotion offer.
func (e *WaitlistEntry) OfferOpen() bool {
	return e.Status == WaitlistPromoted && e.AcceptedPromotion == nil
}

// CreateSessionRequest is the payload for creating a new session.
type CreateSessionRequest struct {
	Title    string    `json:"title"`
	Capacity int       `json:"capacity"`
	StartsAt time.Time `json:"starts_at"`
}

// RegisterRequest is the payload for registering for a session.
type RegisterRequest struct {
	UserID string `json:"user_id"`
}

// RegistrationResponse is returned by the register endpoint. WaitlistPosition
// is set when the registration was queued.
type RegistrationResponse struct {
	*Registration
	WaitlistPosition *int `json:"waitlist_position,omitempty"`
}

// WaitlistPositionResponse reports a registration's place in line.
// Position is null when the registration is not waiting.
type WaitlistPositionResponse struct {
	RegistrationID string `json:"registration_id"`
	Position       *int   `json:"position"`
}

// SweepResponse summarises a manual sweep.
type SweepResponse struct {
	SessionID string `json:"session_id"`
	Expired   int    `json:"expired"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
