package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/metrics"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/telemetry"
)

// Locker is a best-effort distributed mutex keyed by name.
type Locker interface {
	// Acquire returns a token and true when the lock was taken.
	Acquire(ctx context.Context, key string) (token string, ok bool, err error)
	// Release frees the lock if token still owns it.
	Release(ctx context.Context, key, token string) error
}

// SweepLockKey is the lock name guarding one session's sweep.
func SweepLockKey(sessionID string) string {
	return "lock:sweep:" + sessionID
}

// ExpirySweeper resolves promotion offers that ran out unanswered.
type ExpirySweeper struct {
	store  repository.Store
	engine *PromotionEngine
	opts   Options
}

// NewExpirySweeper constructs an ExpirySweeper.
func NewExpirySweeper(store repository.Store, engine *PromotionEngine, opts Options) *ExpirySweeper {
	return &ExpirySweeper{store: store, engine: engine, opts: opts.withDefaults()}
}

// Sweep expires the session's overdue offers and frees their seats in one
// store write, then cascades one promotion batch sized to the number expired. Running it again right
// away finds nothing to do.
func (s *ExpirySweeper) Sweep(ctx context.Context, sessionID string) (expired int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ExpirySweeper.Sweep", attribute.String("session_id", sessionID))
	defer func() {
		span.SetAttributes(attribute.Int("expired", expired))
		telemetry.EndSpan(span, err)
	}()

	now := s.opts.Now()
	entries, err := s.store.ExpireOffers(ctx, sessionID, now)
	if err != nil {
		return 0, fmt.Errorf("expire offers: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	for _, entry := range entries {
		s.opts.Publisher.Publish(events.Event{
			Type:            events.PromotionExpired,
			SessionID:       entry.SessionID,
			RegistrationID:  entry.RegistrationID,
			WaitlistEntryID: entry.ID,
			OccurredAt:      now,
		})
	}

	metrics.RecordOfferResponse("expired", len(entries))
	s.opts.Logger.Info("expired promotion offers",
		zap.String("session_id", sessionID),
		zap.Int("expired", len(entries)))

	s.engine.Cascade(ctx, sessionID, len(entries))
	return len(entries), nil
}

// SweepAll sweeps every scheduled session that has not started. With a
// Locker configured, a session already being swept elsewhere is skipped.
// Per-session failures are logged and do not stop the pass.
func (s *ExpirySweeper) SweepAll(ctx context.Context) (int, error) {
	start := time.Now()
	defer metrics.ObserveSweep(start)

	ids, err := s.store.ListActiveSessionIDs(ctx, s.opts.Now())
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.sweepGuarded(ctx, id)
		if err != nil {
			s.opts.Logger.Error("sweep session failed", zap.String("session_id", id), zap.Error(err))
			continue
		}
		total += n
	}

	if total > 0 {
		s.opts.Logger.Info("sweep pass complete",
			zap.Int("sessions", len(ids)),
			zap.Int("expired", total),
			zap.Duration("took", time.Since(start)))
	}
	return total, nil
}

func (s *ExpirySweeper) sweepGuarded(ctx context.Context, sessionID string) (int, error) {
	if s.opts.Locker == nil {
		return s.Sweep(ctx, sessionID)
	}

	key := SweepLockKey(sessionID)
	token, ok, err := s.opts.Locker.Acquire(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		s.opts.Logger.Debug("sweep lock held elsewhere", zap.String("session_id", sessionID))
		return 0, nil
	}
	defer func() {
		if err := s.opts.Locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.opts.Logger.Warn("release sweep lock failed", zap.String("key", key), zap.Error(err))
		}
	}()
	return s.Sweep(ctx, sessionID)
}
