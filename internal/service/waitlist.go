package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/metrics"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/telemetry"
)

// WaitlistQueue is the per-session FIFO of waiting registrations. Position
// assignment and renumbering happen inside the store, serialized per session.
type WaitlistQueue struct {
	store repository.Store
	opts  Options
}

// NewWaitlistQueue constructs a WaitlistQueue.
func NewWaitlistQueue(store repository.Store, opts Options) *WaitlistQueue {
	return &WaitlistQueue{store: store, opts: opts.withDefaults()}
}

// Enqueue appends a waitlisted registration to the back of the queue.
func (q *WaitlistQueue) Enqueue(ctx context.Context, sessionID, registrationID string) (*model.WaitlistEntry, error) {
	return q.store.Enqueue(ctx, sessionID, registrationID, q.opts.Now())
}

// Withdraw removes a waiting entry, closes the gap it leaves and cancels its
// registration. Withdrawal never triggers a promotion.
func (q *WaitlistQueue) Withdraw(ctx context.Context, entryID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "WaitlistQueue.Withdraw", attribute.String("entry_id", entryID))
	defer func() { telemetry.EndSpan(span, err) }()

	entry, err := q.store.Withdraw(ctx, entryID, q.opts.Now())
	if err != nil {
		return err
	}

	metrics.RecordCancellation(string(model.RegistrationWaitlisted))
	ev := events.Event{
		Type:            events.RegistrationCancelled,
		SessionID:       entry.SessionID,
		RegistrationID:  entry.RegistrationID,
		WaitlistEntryID: entry.ID,
		OccurredAt:      q.opts.Now(),
	}
	if reg, err := q.store.GetRegistration(ctx, entry.RegistrationID); err == nil {
		ev.UserID = reg.UserID
	}
	q.opts.Publisher.Publish(ev)

	q.opts.Logger.Info("waitlist entry withdrawn",
		zap.String("session_id", entry.SessionID),
		zap.String("entry_id", entry.ID),
		zap.Int("position", entry.Position))
	return nil
}

// PeekNext returns up to count waiting entries, lowest position first.
func (q *WaitlistQueue) PeekNext(ctx context.Context, sessionID string, count int) ([]model.WaitlistEntry, error) {
	return q.store.PeekNext(ctx, sessionID, count)
}

// Get returns a single entry.
func (q *WaitlistQueue) Get(ctx context.Context, entryID string) (*model.WaitlistEntry, error) {
	return q.store.GetEntry(ctx, entryID)
}

// List returns every entry of a session, waiting entries first.
func (q *WaitlistQueue) List(ctx context.Context, sessionID string) ([]model.WaitlistEntry, error) {
	if _, err := q.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return q.store.ListEntries(ctx, sessionID)
}
