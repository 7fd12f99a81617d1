package broker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RunConsumeLoop calls fn repeatedly until ctx is cancelled, retrying with
// exponential backoff whenever fn reports a transport error (connection
// drop, Redis failover) so a restarted Redis doesn't need the consumer
// process to be restarted too.
func RunConsumeLoop(ctx context.Context, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			b.Reset()
			continue
		}
		if errors.Is(err, context.Canceled) {
			return err
		}

		wait := b.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
