package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/notify"
)

// Promoter is satisfied by *service.PromotionEngine.
type Promoter interface {
	Promote(ctx context.Context, sessionID string, count int) (int, error)
}

// Sweeper is satisfied by *service.ExpirySweeper.
type Sweeper interface {
	SweepAll(ctx context.Context) (int, error)
}

// Handlers holds the task handlers.
type Handlers struct {
	promoter Promoter
	sweeper  Sweeper
	gateway  notify.Gateway
	log      *logger.Logger
}

// NewHandlers constructs Handlers. gateway is the real delivery gateway,
// never the task-backed one.
func NewHandlers(promoter Promoter, sweeper Sweeper, gateway notify.Gateway, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Get()
	}
	return &Handlers{promoter: promoter, sweeper: sweeper, gateway: gateway, log: log}
}

// HandlePromotionCascade promotes from the queue. A failed peek is returned
// so asynq retries the cascade.
func (h *Handlers) HandlePromotionCascade(ctx context.Context, t *asynq.Task) error {
	var payload PromotionCascadePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.SessionID == "" || payload.Count <= 0 {
		return fmt.Errorf("%w: invalid cascade payload", asynq.SkipRetry)
	}

	n, err := h.promoter.Promote(ctx, payload.SessionID, payload.Count)
	if err != nil {
		return err
	}
	h.log.Debug("cascade task done",
		zap.String("session_id", payload.SessionID),
		zap.Int("requested", payload.Count),
		zap.Int("promoted", n))
	return nil
}

// HandleSweepAll runs one sweep pass over every active session.
func (h *Handlers) HandleSweepAll(ctx context.Context, t *asynq.Task) error {
	_, err := h.sweeper.SweepAll(ctx)
	return err
}

// HandleNotify delivers a notification through the real gateway.
func (h *Handlers) HandleNotify(ctx context.Context, t *asynq.Task) error {
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	n := payload.Notification
	switch n.Kind {
	case notify.KindPromotion:
		return h.gateway.NotifyPromotion(ctx, n)
	case notify.KindExpired:
		return h.gateway.NotifyExpired(ctx, n)
	default:
		return fmt.Errorf("%w: unknown notification kind %q", asynq.SkipRetry, n.Kind)
	}
}
