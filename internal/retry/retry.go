package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/logger"
	"github.com/googleapis/gax-go/v2"
)

// Policy bounds one external call: a per-attempt timeout and a number of
// retries with exponential backoff. Attempts is the number of retries after
// the first try.
type Policy struct {
	Timeout  time.Duration
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	// Retryable, when set, stops retrying on errors it rejects.
	Retryable func(error) bool
}

// NewPolicy combines a call timeout with the configured retry settings.
func NewPolicy(timeout time.Duration, cfg config.RetryConfig) Policy {
	return Policy{
		Timeout:  timeout,
		Attempts: cfg.Attempts,
		Initial:  cfg.InitialBackoff,
		Max:      cfg.MaxBackoff,
	}
}

// NoRetry keeps the timeout and drops retries.
func (p Policy) NoRetry() Policy {
	p.Attempts = 0
	return p
}

// Do runs fn until it succeeds, the retries are spent, or ctx is done.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for calls that return a result.
func Value[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	log := logger.FromContext(ctx)

	bo := gax.Backoff{
		Initial:    p.Initial,
		Max:        p.Max,
		Multiplier: 2,
	}

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
		if attempt >= p.Attempts || (p.Retryable != nil && !p.Retryable(err)) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		pause := bo.Pause()
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("backoff", pause).Msg("Call failed, retrying")
		if serr := gax.Sleep(ctx, pause); serr != nil {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}
