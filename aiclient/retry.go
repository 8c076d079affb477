package aiclient

import (
	"context"
	"errors"
	"time"
)

// Retrying wraps a Client with a bounded retry policy: up to Attempts
// tries total, escalating backoff between them, and a longer wait whenever
// the failure is ErrRateLimited.
type Retrying struct {
	next     Client
	attempts int
	backoff  time.Duration
}

// NewRetrying wraps next with a retry policy. attempts defaults to 3,
// backoff to 500ms (doubled per attempt, tripled instead when the prior
// attempt failed with ErrRateLimited).
func NewRetrying(next Client, attempts int, backoff time.Duration) *Retrying {
	if attempts <= 0 {
		attempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Retrying{next: next, attempts: attempts, backoff: backoff}
}

func (r *Retrying) Complete(ctx context.Context, req Request) (*Response, error) {
	wait := r.backoff
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, err := r.next.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, ErrRateLimited) {
			wait *= 3
		} else {
			wait *= 2
		}
	}
	return nil, lastErr
}
