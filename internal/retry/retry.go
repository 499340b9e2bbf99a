// Package retry wraps fallible store operations in a bounded
// fixed-attempt, fixed-delay policy. No jitter, no backoff growth.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy bounds a retried operation: at most MaxAttempts executions with a
// constant Delay between them.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy matches the pairing-critical store operations: three
// attempts, 1.5s apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: 1500 * time.Millisecond}
}

// Do executes op up to p.MaxAttempts times, waiting p.Delay between
// attempts. The first success wins; on exhaustion the last captured error is
// returned. Idempotence of op under retry is the caller's responsibility.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	if p.MaxAttempts < 1 {
		return result, fmt.Errorf("retry %s: max attempts must be at least 1", name)
	}

	logger := zap.L().Named("retry")

	attempt := 0
	wrapped := func() error {
		attempt++
		v, err := op(ctx)
		if err != nil {
			logger.Warn("attempt failed",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		result = v
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(p.MaxAttempts-1)),
		ctx)

	if err := backoff.Retry(wrapped, bo); err != nil {
		return result, fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
	}
	return result, nil
}
