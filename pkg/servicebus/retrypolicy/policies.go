package retrypolicy

import (
	"context"
	"time"

	"github.com/abecu-hub/go-bus-sagas/pkg/servicebus"
)

//Multiplies the retry count with the given backoff duration to gradually reduce the retry frequency.
func Backoff(backoffDuration time.Duration) servicebus.RetryPolicy {
	return func(ctx context.Context, retryCount int, retry func() error) error {
		if err := wait(ctx, backoffDuration*time.Duration(retryCount)); err != nil {
			return err
		}
		return retry()
	}
}

//Waits for the given duration until the next retry.
func Simple(duration time.Duration) servicebus.RetryPolicy {
	return func(ctx context.Context, retryCount int, retry func() error) error {
		if err := wait(ctx, duration); err != nil {
			return err
		}
		return retry()
	}
}

//Retries right away.
func Immediate() servicebus.RetryPolicy {
	return func(ctx context.Context, retryCount int, retry func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return retry()
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
