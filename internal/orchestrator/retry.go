package orchestrator

import (
	"context"
	"time"

	berrors "github.com/beamforge/beamforge/internal/errors"
)

// retryPolicy governs how the orchestrator retries a failed capability call
// before giving up and surfacing a per-leaf failure.
type retryPolicy struct {
	maxRetries           int
	backoffBase          time.Duration
	contentPolicyRetries int
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxRetries:           3,
		backoffBase:          100 * time.Millisecond,
		contentPolicyRetries: 2,
	}
}

// withRetry submits fn through capabilityName's limiter, retrying with
// exponential backoff while the failure kind is retryable. Non-retryable
// kinds (ContentPolicy, Cancelled, InvalidArgument) are returned immediately
// so the caller can apply its own handling.
func (o *Orchestrator) withRetry(ctx context.Context, capabilityName string, fn func(ctx context.Context) (any, error)) (any, error) {
	lim := o.limiters.Get(capabilityName)

	var lastErr error
	for attempt := 0; attempt <= o.retry.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, berrors.New(berrors.Cancelled, "context cancelled: %v", ctx.Err())
		}

		v, err := lim.Execute(ctx, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !berrors.KindOf(err).Retryable() {
			return nil, err
		}
		if attempt < o.retry.maxRetries {
			o.backoffSleep(ctx, attempt)
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) backoffSleep(ctx context.Context, attempt int) {
	d := o.retry.backoffBase << uint(attempt)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// extractUsage reads the optional "tokens" and "cost" keys a capability may
// set on its result Metadata. Missing or mistyped keys contribute zero.
func extractUsage(meta map[string]any) (tokens int, cost float64) {
	if meta == nil {
		return 0, 0
	}
	if t, ok := meta["tokens"].(int); ok {
		tokens = t
	}
	if c, ok := meta["cost"].(float64); ok {
		cost = c
	}
	return tokens, cost
}
