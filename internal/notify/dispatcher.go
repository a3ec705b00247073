package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/metrics"
)

const deliveryTimeout = 10 * time.Second

// Dispatcher turns promotion events into gateway calls. Delivery failures
// are logged and counted; they never reach the code that emitted the event.
type Dispatcher struct {
	gateway Gateway
	log     *logger.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(gateway Gateway, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Get()
	}
	return &Dispatcher{gateway: gateway, log: log}
}

// Run consumes events until the channel closes or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			d.Handle(ctx, ev)
		}
	}
}

// Handle delivers a single event. Events that need no notification are
// ignored.
func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) {
	var (
		kind string
		send func(context.Context, Notification) error
	)
	switch ev.Type {
	case events.PromotionOffered:
		kind, send = KindPromotion, d.gateway.NotifyPromotion
	case events.PromotionExpired:
		kind, send = KindExpired, d.gateway.NotifyExpired
	default:
		return
	}

	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	err := send(ctx, FromEvent(kind, ev))
	metrics.RecordNotification(kind, err)
	if err != nil {
		d.log.Error("notification failed",
			zap.String("kind", kind),
			zap.String("session_id", ev.SessionID),
			zap.String("registration_id", ev.RegistrationID),
			zap.Error(err))
	}
}
