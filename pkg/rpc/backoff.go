package rpc

import (
	"time"
)

const (
	done time.Duration = -1
)

// Retrier hands out the delay before each retry; done ends the sequence
type Retrier interface {
	NextBackOff() time.Duration
}

// NewRetrier returns a retrier driven by policy
func NewRetrier(policy RetryPolicy) Retrier {
	return &retrierImpl{
		policy:         policy,
		currentAttempt: 1,
	}
}

type retrierImpl struct {
	policy         RetryPolicy
	currentAttempt int
}

func (r *retrierImpl) NextBackOff() time.Duration {
	nextInterval := r.policy.CalculateNextDelay(r.currentAttempt)

	r.currentAttempt++
	return nextInterval
}

// RetryPolicy computes the delay after a failed attempt
type RetryPolicy interface {
	CalculateNextDelay(attempts int) time.Duration
}

// NewRetryPolicy returns an exponential policy: the first retry waits
// initial, each further retry doubles the wait up to max, and no retry is
// made once maxAttempts calls have been made.
func NewRetryPolicy(maxAttempts int, initial, max time.Duration) RetryPolicy {
	if max < initial {
		max = initial
	}
	return &retryPolicy{
		maxAttempts: maxAttempts,
		initial:     initial,
		max:         max,
	}
}

type retryPolicy struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
}

func (p *retryPolicy) CalculateNextDelay(attempts int) time.Duration {
	if attempts >= p.maxAttempts {
		return done
	}
	delay := p.initial
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.max {
			return p.max
		}
	}
	return delay
}
