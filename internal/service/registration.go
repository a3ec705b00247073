package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/metrics"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/telemetry"
)

// RegistrationService admits users to sessions and handles cancellation.
type RegistrationService struct {
	store  repository.Store
	queue  *WaitlistQueue
	engine *PromotionEngine
	opts   Options
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(
	store repository.Store,
	queue *WaitlistQueue,
	engine *PromotionEngine,
	opts Options,
) *RegistrationService {
	return &RegistrationService{store: store, queue: queue, engine: engine, opts: opts.withDefaults()}
}

// Register creates a registration and either confirms it against a free seat
// or queues it on the waitlist.
//
// The registration is written as pending first so that the uniqueness guard
// runs before a seat is taken. Anything failing afterwards is compensated:
// a reserved seat is released and the registration cancelled.
func (s *RegistrationService) Register(ctx context.Context, sessionID, userID string) (reg *model.Registration, err error) {
	ctx, span := telemetry.StartSpan(ctx, "RegistrationService.Register", attribute.String("session_id", sessionID))
	defer func() { telemetry.EndSpan(span, err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	if session.IsClosed(now) {
		metrics.RecordRegistration(metrics.OutcomeRejected)
		return nil, repository.ErrSessionClosed
	}

	pending := &model.Registration{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		UserID:       userID,
		Status:       model.RegistrationPending,
		RegisteredAt: now,
	}
	if err := s.store.CreateRegistration(ctx, pending); err != nil {
		if errors.Is(err, repository.ErrAlreadyRegistered) {
			metrics.RecordRegistration(metrics.OutcomeRejected)
		}
		return nil, err
	}

	reserved, err := s.store.TryReserve(ctx, sessionID)
	if err != nil {
		s.compensate(ctx, pending.ID, model.RegistrationPending, sessionID, false)
		return nil, err
	}

	if reserved {
		reg, err = s.store.TransitionRegistration(ctx, pending.ID, model.RegistrationPending, model.RegistrationConfirmed, now)
		if err != nil {
			s.compensate(ctx, pending.ID, model.RegistrationPending, sessionID, true)
			return nil, err
		}
		metrics.RecordRegistration(metrics.OutcomeConfirmed)
		s.opts.Logger.Info("registration confirmed",
			zap.String("session_id", sessionID),
			zap.String("registration_id", reg.ID))
		return reg, nil
	}

	reg, err = s.store.TransitionRegistration(ctx, pending.ID, model.RegistrationPending, model.RegistrationWaitlisted, now)
	if err != nil {
		s.compensate(ctx, pending.ID, model.RegistrationPending, sessionID, false)
		return nil, err
	}
	entry, err := s.queue.Enqueue(ctx, sessionID, reg.ID)
	if err != nil {
		s.compensate(ctx, reg.ID, model.RegistrationWaitlisted, sessionID, false)
		return nil, err
	}

	metrics.RecordRegistration(metrics.OutcomeWaitlisted)
	s.opts.Logger.Info("registration waitlisted",
		zap.String("session_id", sessionID),
		zap.String("registration_id", reg.ID),
		zap.Int("position", entry.Position))

	// A seat freed between the refused reservation and the enqueue would
	// otherwise sit idle until the next cancellation.
	if current, err := s.store.GetSession(ctx, sessionID); err == nil && !current.IsFull() {
		s.engine.Cascade(ctx, sessionID, current.Remaining())
	}
	return reg, nil
}

// compensate undoes a partially applied registration. It runs detached from
// ctx so a cancelled request still cleans up.
func (s *RegistrationService) compensate(ctx context.Context, registrationID string, from model.RegistrationStatus, sessionID string, reserved bool) {
	ctx = context.WithoutCancel(ctx)
	log := s.opts.Logger.With(zap.String("registration_id", registrationID), zap.String("session_id", sessionID))

	if reserved {
		if err := s.store.Release(ctx, sessionID); err != nil {
			log.Error("compensation: release seat failed", zap.Error(err))
		}
	}
	if _, err := s.store.TransitionRegistration(ctx, registrationID, from, model.RegistrationCancelled, s.opts.Now()); err != nil {
		log.Error("compensation: cancel registration failed", zap.Error(err))
		return
	}
	metrics.RecordRegistration(metrics.OutcomeError)
	log.Warn("registration rolled back")
}

// Cancel cancels a registration. A confirmed registration frees its seat and
// cascades one promotion; a waiting one leaves the queue. Cancelling an
// already cancelled or expired registration is a no-op.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "RegistrationService.Cancel", attribute.String("registration_id", registrationID))
	defer func() { telemetry.EndSpan(span, err) }()

	_, err = retryOnConflict(ctx, "cancel", s.opts.Logger, func() (struct{}, error) {
		return struct{}{}, s.cancel(ctx, registrationID)
	})
	return err
}

func (s *RegistrationService) cancel(ctx context.Context, registrationID string) error {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return err
	}

	switch reg.Status {
	case model.RegistrationCancelled, model.RegistrationExpired:
		return nil

	case model.RegistrationConfirmed:
		// The seat comes back in the same write that cancels, so a failure
		// leaves the registration confirmed and the retry starts over.
		if _, err := s.store.CancelConfirmed(ctx, reg.ID, s.opts.Now()); err != nil {
			return err
		}
		s.cancelled(reg)
		s.engine.Cascade(ctx, reg.SessionID, 1)
		return nil

	case model.RegistrationWaitlisted:
		entry, err := s.store.GetEntryByRegistration(ctx, reg.ID)
		switch {
		case err == nil && entry.Status == model.WaitlistWaiting:
			err := s.queue.Withdraw(ctx, entry.ID)
			if errors.Is(err, repository.ErrNotWaiting) || errors.Is(err, repository.ErrWaitlistEntryNotFound) {
				return repository.ErrConcurrencyConflict
			}
			return err
		case err != nil && !errors.Is(err, repository.ErrWaitlistEntryNotFound):
			return err
		}
		// Offer declined or expired: nothing queued, nothing held.
		return s.cancelFrom(ctx, reg, model.RegistrationWaitlisted)

	case model.RegistrationPending:
		return s.cancelFrom(ctx, reg, model.RegistrationPending)
	}
	return nil
}

func (s *RegistrationService) cancelFrom(ctx context.Context, reg *model.Registration, from model.RegistrationStatus) error {
	if _, err := s.store.TransitionRegistration(ctx, reg.ID, from, model.RegistrationCancelled, s.opts.Now()); err != nil {
		return err
	}
	s.cancelled(reg)
	return nil
}

func (s *RegistrationService) cancelled(reg *model.Registration) {
	metrics.RecordCancellation(string(reg.Status))
	s.opts.Publisher.Publish(events.Event{
		Type:           events.RegistrationCancelled,
		SessionID:      reg.SessionID,
		RegistrationID: reg.ID,
		UserID:         reg.UserID,
		OccurredAt:     s.opts.Now(),
	})
	s.opts.Logger.Info("registration cancelled",
		zap.String("session_id", reg.SessionID),
		zap.String("registration_id", reg.ID),
		zap.String("from", string(reg.Status)))
}

// Get returns a single registration.
func (s *RegistrationService) Get(ctx context.Context, registrationID string) (*model.Registration, error) {
	return s.store.GetRegistration(ctx, registrationID)
}

// ListBySession returns all registrations for a session.
func (s *RegistrationService) ListBySession(ctx context.Context, sessionID string) ([]model.Registration, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListRegistrations(ctx, sessionID)
}

// GetWaitlistPosition returns the registration's current place in line, or
// nil when it is not waiting.
func (s *RegistrationService) GetWaitlistPosition(ctx context.Context, registrationID string) (*int, error) {
	if _, err := s.store.GetRegistration(ctx, registrationID); err != nil {
		return nil, err
	}
	entry, err := s.store.GetEntryByRegistration(ctx, registrationID)
	if err != nil {
		if errors.Is(err, repository.ErrWaitlistEntryNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if entry.Status != model.WaitlistWaiting {
		return nil, nil
	}
	pos := entry.Position
	return &pos, nil
}
