package eventbook

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"time"
)

var (
	ErrInvalidMaxAttempts  = errors.New("max attempts must be positive")
	ErrNegativeBaseDelay   = errors.New("base delay must not be negative")
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// permanentErrors are caused by the caller or the configuration. Retrying them cannot succeed.
var permanentErrors = []error{
	ErrValidation,
	ErrConnection,
	ErrTypeConflict,
	ErrNotFound,
}

// RetryableFunc is one attempt of a connector write.
type RetryableFunc func(ctx context.Context) error

// RetryOption configures RetryWithExponentialBackoff.
type RetryOption func(*backoff) error

type backoff struct {
	attempts int
	base     time.Duration
	jitter   float64
	notify   func(attempt int, err error)
}

// wait returns the pause before the given retry (1 for the first retry): base doubled per retry plus up
// to jitter percent on top.
func (b *backoff) wait(retry int) time.Duration {
	pause := b.base << (retry - 1)
	if b.jitter == 0 || pause == 0 {
		return pause
	}

	return pause + time.Duration(rand.Float64()*b.jitter*float64(pause))
}

// RetryWithExponentialBackoff calls fn until it succeeds, fails permanently or runs out of attempts.
// One attempt is made unless WithMaxAttempts says otherwise. With WithMaxAttempts(4) and the default
// base delay the pauses are roughly 10 ms, 20 ms and 40 ms.
func RetryWithExponentialBackoff(ctx context.Context, fn RetryableFunc, options ...RetryOption) error {
	b := &backoff{attempts: 1, base: 10 * time.Millisecond, jitter: 0.3}

	for _, option := range options {
		if err := option(b); err != nil {
			return err
		}
	}

	err := fn(ctx)

	for retry := 1; err != nil && retry < b.attempts && !isPermanent(ctx, err); retry++ {
		if b.notify != nil {
			b.notify(retry, err)
		}

		timer := time.NewTimer(b.wait(retry))

		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		err = fn(ctx)
	}

	return err
}

// isPermanent treats a context error as permanent only when ctx itself is done. A deadline of a
// single attempt is transient.
func isPermanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}

	return slices.ContainsFunc(permanentErrors, func(target error) bool {
		return errors.Is(err, target)
	})
}

func WithMaxAttempts(attempts int) RetryOption {
	return func(b *backoff) error {
		if attempts < 1 {
			return ErrInvalidMaxAttempts
		}

		b.attempts = attempts

		return nil
	}
}

// WithBaseDelay sets the pause before the first retry. Every further retry doubles it.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(b *backoff) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		b.base = delay

		return nil
	}
}

// WithJitterFactor adds up to factor times the pause at random, 0.0 disables jitter.
func WithJitterFactor(factor float64) RetryOption {
	return func(b *backoff) error {
		if factor < 0 || factor > 1 {
			return ErrInvalidJitterFactor
		}

		b.jitter = factor

		return nil
	}
}

func withRetryHook(hook func(attempt int, err error)) RetryOption {
	return func(b *backoff) error {
		b.notify = hook
		return nil
	}
}
