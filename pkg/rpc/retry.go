package rpc

import (
	"context"
	"time"

	"github.com/cuemby/claimd/pkg/types"
)

// Retriable is one attempt of an idempotent call
type Retriable func(ctx context.Context) error

// Retry runs f until it succeeds, fails with a non-transient error, the
// policy gives up or ctx is done. Only TransientRPCErrors are retried.
func Retry(ctx context.Context, p RetryPolicy, f Retriable) error {
	var err error
	var backoff time.Duration

	r := NewRetrier(p)
	for {
		// function executed successfully. no need to retry.
		if err = f(ctx); err == nil {
			return nil
		}
		if !types.IsTransient(err) {
			return err
		}

		if backoff = r.NextBackOff(); backoff == done {
			return err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}
