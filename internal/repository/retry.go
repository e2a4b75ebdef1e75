// internal/repository/retry.go
package repository

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"auth-flow-server/pkg/errors"
)

const (
	DefaultAttempts = 3
	retryMaxElapsed = 10 * time.Second
)

func newRetryBackoff(attempts int) backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = retryMaxElapsed
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(bo, uint64(attempts-1))
}

// withRetry runs op until it succeeds, fails with an error that needs new
// user input, or runs out of attempts.
func withRetry(ctx context.Context, name string, attempts int, op func() error) error {
	err := backoff.Retry(func() error {
		err := op()
		if err != nil && errors.Retryable(err) && !errors.Is(err, errNotFound) {
			return err // Retryable - backoff will retry
		}
		if err != nil {
			return backoff.Permanent(err) // Non-retryable - stop immediately
		}
		return nil
	}, backoff.WithContext(newRetryBackoff(attempts), ctx))
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return errors.FromContext(name, err)
	}
	return err
}
