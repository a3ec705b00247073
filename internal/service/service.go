// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer: admission, the waitlist,
// promotion offers and their expiry.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/metrics"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/repository"
)

// DefaultOfferTTL is how long a promotion offer stays open.
const DefaultOfferTTL = 24 * time.Hour

// conflictTries bounds whole-operation retries on ErrConcurrencyConflict.
const conflictTries = 4

// ErrInvalidInput is returned for requests that fail validation.
var ErrInvalidInput = errors.New("invalid input")

// Clock returns the current time.
type Clock func() time.Time

// Options carries the collaborators shared by the services. Zero values get
// sensible defaults.
type Options struct {
	Publisher events.Publisher
	Logger    *logger.Logger
	Now       Clock
	OfferTTL  time.Duration
	// Cascader runs follow-up promotions. Nil means promote inline.
	Cascader Cascader
	// Locker guards per-session sweeps across processes. Nil means no lock.
	Locker Locker
}

func (o Options) withDefaults() Options {
	if o.Publisher == nil {
		o.Publisher = events.Discard
	}
	if o.Logger == nil {
		o.Logger = logger.Get()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.OfferTTL <= 0 {
		o.OfferTTL = DefaultOfferTTL
	}
	return o
}

// retryOnConflict reruns fn while it fails with ErrConcurrencyConflict. Any
// other error stops immediately. The last conflict is returned once tries run
// out.
func retryOnConflict[T any](ctx context.Context, op string, log *logger.Logger, fn func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, repository.ErrConcurrencyConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     10 * time.Millisecond,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         200 * time.Millisecond,
		}),
		backoff.WithMaxTries(conflictTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.RecordConflictRetry(op)
			log.Debug("retrying after conflict",
				zap.String("operation", op),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
}
