package tasks

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/notify"
)

// Enqueuer is the part of *asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Cascader submits follow-up promotions as tasks, so each one runs as its
// own unit of work after the freeing transition has committed.
type Cascader struct {
	client Enqueuer
}

// NewCascader constructs a Cascader.
func NewCascader(client Enqueuer) *Cascader {
	return &Cascader{client: client}
}

// Cascade implements service.Cascader.
func (c *Cascader) Cascade(ctx context.Context, sessionID string, count int) error {
	task, err := NewPromotionCascadeTask(sessionID, count)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue cascade: %w", err)
	}
	return nil
}

// Gateway is a notify.Gateway that defers delivery to a notify task, which
// retries independently of the dispatcher.
type Gateway struct {
	client Enqueuer
}

var _ notify.Gateway = (*Gateway)(nil)

// NewGateway constructs a Gateway.
func NewGateway(client Enqueuer) *Gateway {
	return &Gateway{client: client}
}

func (g *Gateway) NotifyPromotion(ctx context.Context, n notify.Notification) error {
	n.Kind = notify.KindPromotion
	return g.enqueue(ctx, n)
}

func (g *Gateway) NotifyExpired(ctx context.Context, n notify.Notification) error {
	n.Kind = notify.KindExpired
	return g.enqueue(ctx, n)
}

func (g *Gateway) enqueue(ctx context.Context, n notify.Notification) error {
	task, err := NewNotifyTask(n)
	if err != nil {
		return err
	}
	if _, err := g.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}
