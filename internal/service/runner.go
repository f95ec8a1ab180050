package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/event-reservations/internal/apperr"
	"github.com/Shivanand-hulikatti/event-reservations/internal/clock"
	"github.com/Shivanand-hulikatti/event-reservations/internal/code"
	"github.com/Shivanand-hulikatti/event-reservations/internal/notify"
	"github.com/Shivanand-hulikatti/event-reservations/internal/repository"
)

// Options carries the collaborators and limits shared by both lifecycles.
// Zero values fall back to production defaults.
type Options struct {
	Clock    clock.Clock
	Notifier notify.Notifier
	Logger   *zap.Logger

	// StoreTimeout bounds each individual store call.
	StoreTimeout time.Duration
	// MaxRetries is how many times a transient store failure is retried.
	MaxRetries int
	// RetryInitialInterval is the first backoff delay between retries.
	RetryInitialInterval time.Duration
	// CodeMaxAttempts bounds reservation code allocation.
	CodeMaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Notifier == nil {
		o.Notifier = notify.Nop{}
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 50 * time.Millisecond
	}
	if o.CodeMaxAttempts <= 0 {
		o.CodeMaxAttempts = code.DefaultMaxAttempts
	}
	return o
}

// runner executes store calls with a per-call timeout and retries the ones
// that fail with repository.ErrTransient.
type runner struct {
	timeout    time.Duration
	maxRetries int
	initial    time.Duration
	log        *zap.Logger
}

func newRunner(o Options) runner {
	return runner{
		timeout:    o.StoreTimeout,
		maxRetries: o.MaxRetries,
		initial:    o.RetryInitialInterval,
		log:        o.Logger,
	}
}

func (r runner) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		err := fn(callCtx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, repository.ErrTransient):
			r.log.Debug("transient store failure",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
	)
	if err != nil && errors.Is(err, repository.ErrTransient) {
		r.log.Warn("store contention persisted after retries",
			zap.String("op", op),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
	}
	return err
}

// translate turns store errors into business errors. notFound is the message
// used when the primary record is missing.
func translate(err error, notFound string) error {
	var appErr *apperr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("%s", notFound)
	case errors.Is(err, repository.ErrTransient):
		return apperr.Wrap(apperr.KindConflict,
			apperr.Transient(err, "store contention"),
			"The system is busy, please retry")
	default:
		return apperr.Wrap(apperr.KindInternal, err, "internal error")
	}
}
