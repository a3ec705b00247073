// Package notify delivers promotion notifications. The engine only signals
// that a notification is due; Gateway implementations decide how it reaches
// the user.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
)

// Notification kinds.
const (
	KindPromotion = "promotion"
	KindExpired   = "expired"
)

// Notification is what a gateway needs to reach one registrant.
type Notification struct {
	Kind            string     `json:"kind"`
	SessionID       string     `json:"session_id"`
	RegistrationID  string     `json:"registration_id"`
	WaitlistEntryID string     `json:"waitlist_entry_id"`
	UserID          string     `json:"user_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// FromEvent builds a Notification from a promotion event.
func FromEvent(kind string, ev events.Event) Notification {
	return Notification{
		Kind:            kind,
		SessionID:       ev.SessionID,
		RegistrationID:  ev.RegistrationID,
		WaitlistEntryID: ev.WaitlistEntryID,
		UserID:          ev.UserID,
		ExpiresAt:       ev.ExpiresAt,
	}
}

// Gateway delivers notifications. A promotion carries its deadline in
// ExpiresAt and no reminder is sent before it; NotifyExpired reports the
// offer once the sweep has lapsed it.
type Gateway interface {
	NotifyPromotion(ctx context.Context, n Notification) error
	NotifyExpired(ctx context.Context, n Notification) error
}

// LogGateway writes notifications to the log instead of delivering them.
type LogGateway struct {
	log *logger.Logger
}

// NewLogGateway constructs a LogGateway.
func NewLogGateway(log *logger.Logger) *LogGateway {
	if log == nil {
		log = logger.Get()
	}
	return &LogGateway{log: log}
}

func (g *LogGateway) NotifyPromotion(_ context.Context, n Notification) error {
	fields := []zap.Field{
		zap.String("session_id", n.SessionID),
		zap.String("registration_id", n.RegistrationID),
		zap.String("user_id", n.UserID),
	}
	if n.ExpiresAt != nil {
		fields = append(fields, zap.Time("expires_at", *n.ExpiresAt))
	}
	g.log.Info("notify: promotion offered", fields...)
	return nil
}

func (g *LogGateway) NotifyExpired(_ context.Context, n Notification) error {
	g.log.Info("notify: promotion expired",
		zap.String("session_id", n.SessionID),
		zap.String("registration_id", n.RegistrationID))
	return nil
}
