package service

import (
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/metrics"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/model"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/telemetry"
)

// maxRepeeks bounds how often one Promote call refills its candidate list
// after losing or skipping candidates.
const maxRepeeks = 3

// Cascader runs the follow-up promotion after a decline, expiry or
// cancellation has committed.
type Cascader interface {
	Cascade(ctx context.Context, sessionID string, count int) error
}

// InlineCascader promotes in the calling goroutine, detached from the
// caller's cancellation.
type InlineCascader struct {
	engine *PromotionEngine
}

// NewInlineCascader returns a Cascader that calls engine.Promote directly.
func NewInlineCascader(engine *PromotionEngine) *InlineCascader {
	return &InlineCascader{engine: engine}
}

// Cascade implements Cascader.
func (c *InlineCascader) Cascade(ctx context.Context, sessionID string, count int) error {
	_, err := c.engine.Promote(context.WithoutCancel(ctx), sessionID, count)
	return err
}

// PromotionEngine issues time-boxed offers to the head of the queue and
// resolves the responses.
type PromotionEngine struct {
	store    repository.Store
	cascader Cascader
	opts     Options
}

// NewPromotionEngine constructs a PromotionEngine. Without opts.Cascader the
// engine cascades inline.
func NewPromotionEngine(store repository.Store, opts Options) *PromotionEngine {
	e := &PromotionEngine{store: store, opts: opts.withDefaults()}
	e.cascader = e.opts.Cascader
	if e.cascader == nil {
		e.cascader = NewInlineCascader(e)
	}
	return e
}

// Promote offers freed seats to up to count waiting entries in position
// order and returns how many offers were issued.
//
// Each offer first reserves a seat; a refused reservation ends the batch. A
// candidate that fails is released, logged and skipped, and the batch tops up
// from further down the queue. A candidate lost to a concurrent promoter may
// be peeked again. Only a failure to read the queue at all is returned as an
// error.
func (e *PromotionEngine) Promote(ctx context.Context, sessionID string, count int) (promoted int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "PromotionEngine.Promote",
		attribute.String("session_id", sessionID), attribute.Int("count", count))
	defer func() {
		span.SetAttributes(attribute.Int("promoted", promoted))
		telemetry.EndSpan(span, err)
	}()

	if count <= 0 {
		return 0, nil
	}

	log := e.opts.Logger.With(zap.String("session_id", sessionID))
	var skipped []string

	for peeks := 0; peeks <= maxRepeeks && promoted < count; peeks++ {
		want := count - promoted
		candidates, err := e.store.PeekNext(ctx, sessionID, want+len(skipped))
		if err != nil {
			if peeks == 0 {
				return 0, err
			}
			log.Warn("re-peek failed, ending batch", zap.Int("promoted", promoted), zap.Error(err))
			return promoted, nil
		}

		refill := false
		attempted := 0
		for _, c := range candidates {
			if attempted == want {
				break
			}
			if slices.Contains(skipped, c.ID) {
				continue
			}
			attempted++

			reserved, err := e.store.TryReserve(ctx, sessionID)
			if err != nil {
				log.Error("reserve failed, ending batch", zap.Int("promoted", promoted), zap.Error(err))
				return promoted, nil
			}
			if !reserved {
				return promoted, nil
			}

			entry, err := e.offer(ctx, c)
			if err != nil {
				e.release(ctx, sessionID)
				refill = true
				if errors.Is(err, repository.ErrConcurrencyConflict) {
					log.Debug("candidate taken by concurrent promoter", zap.String("entry_id", c.ID))
					continue
				}
				skipped = append(skipped, c.ID)
				metrics.RecordPromotionSkip()
				log.Warn("skipping promotion candidate",
					zap.String("entry_id", c.ID),
					zap.Int("position", c.Position),
					zap.Error(err))
				continue
			}
			promoted++
			e.publishOffer(ctx, entry)
		}

		if !refill {
			break
		}
	}

	if promoted > 0 {
		metrics.RecordPromotion(promoted)
		log.Info("promotion offers issued", zap.Int("requested", count), zap.Int("promoted", promoted))
	}
	return promoted, nil
}

func (e *PromotionEngine) offer(ctx context.Context, c model.WaitlistEntry) (*model.WaitlistEntry, error) {
	now := e.opts.Now()
	return e.store.PromoteEntry(ctx, c.ID, now, now.Add(e.opts.OfferTTL))
}

func (e *PromotionEngine) publishOffer(ctx context.Context, entry *model.WaitlistEntry) {
	ev := events.Event{
		Type:            events.PromotionOffered,
		SessionID:       entry.SessionID,
		RegistrationID:  entry.RegistrationID,
		WaitlistEntryID: entry.ID,
		ExpiresAt:       entry.PromotionExpiresAt,
		OccurredAt:      e.opts.Now(),
	}
	if reg, err := e.store.GetRegistration(ctx, entry.RegistrationID); err == nil {
		ev.UserID = reg.UserID
	}
	e.opts.Publisher.Publish(ev)
}

// release hands a reserved seat back. A failure leaves registered_count one
// too high, so it is logged loudly.
func (e *PromotionEngine) release(ctx context.Context, sessionID string) {
	if err := e.store.Release(context.WithoutCancel(ctx), sessionID); err != nil {
		e.opts.Logger.Error("release seat failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// Accept records that the holder takes the offered seat. The seat was
// reserved when the offer was issued, so nothing cascades.
func (e *PromotionEngine) Accept(ctx context.Context, entryID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "PromotionEngine.Accept", attribute.String("entry_id", entryID))
	defer func() { telemetry.EndSpan(span, err) }()

	entry, err := retryOnConflict(ctx, "accept", e.opts.Logger, func() (*model.WaitlistEntry, error) {
		return e.store.RespondToOffer(ctx, entryID, true, e.opts.Now())
	})
	if err != nil {
		return err
	}

	metrics.RecordOfferResponse("accepted", 1)
	e.opts.Publisher.Publish(events.Event{
		Type:            events.PromotionAccepted,
		SessionID:       entry.SessionID,
		RegistrationID:  entry.RegistrationID,
		WaitlistEntryID: entry.ID,
		OccurredAt:      e.opts.Now(),
	})
	return nil
}

// Decline records a refusal, reverts the registration to waitlisted and frees
// the seat in one store write, then passes the seat on to the next waiting
// entry.
func (e *PromotionEngine) Decline(ctx context.Context, entryID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "PromotionEngine.Decline", attribute.String("entry_id", entryID))
	defer func() { telemetry.EndSpan(span, err) }()

	entry, err := retryOnConflict(ctx, "decline", e.opts.Logger, func() (*model.WaitlistEntry, error) {
		return e.store.RespondToOffer(ctx, entryID, false, e.opts.Now())
	})
	if err != nil {
		return err
	}

	metrics.RecordOfferResponse("declined", 1)
	e.opts.Publisher.Publish(events.Event{
		Type:            events.PromotionDeclined,
		SessionID:       entry.SessionID,
		RegistrationID:  entry.RegistrationID,
		WaitlistEntryID: entry.ID,
		OccurredAt:      e.opts.Now(),
	})

	e.Cascade(ctx, entry.SessionID, 1)
	return nil
}

// Cascade hands a follow-up promotion to the configured Cascader. Failures
// are logged; the transition that freed the seat has already committed.
func (e *PromotionEngine) Cascade(ctx context.Context, sessionID string, count int) {
	if count <= 0 {
		return
	}
	if err := e.cascader.Cascade(ctx, sessionID, count); err != nil {
		e.opts.Logger.Error("cascade promotion failed",
			zap.String("session_id", sessionID),
			zap.Int("count", count),
			zap.Error(err))
	}
}
