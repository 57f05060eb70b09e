package resilience

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	Backoff           time.Duration `json:"backoff_ms" yaml:"backoff_ms"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Backoff: 100 * time.Millisecond, BackoffMultiplier: 2}
}

// RetryNotice is reported before each backoff sleep.
type RetryNotice struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// ExecuteWithRetry loops fn with exponential backoff, retrying only while
// the classifier deems the error retryable. onRetry, if non-nil, is
// invoked before each backoff sleep. Total attempts never exceed
// MaxRetries+1.
func (c *Classifier) ExecuteWithRetry(ctx context.Context, policy RetryPolicy, fn func(context.Context) error, onRetry func(RetryNotice)) error {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.Backoff <= 0 {
		policy.Backoff = DefaultRetryPolicy().Backoff
	}
	if policy.BackoffMultiplier <= 0 {
		policy.BackoffMultiplier = DefaultRetryPolicy().BackoffMultiplier
	}

	delay := policy.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt > policy.MaxRetries {
			return err
		}
		if !c.Classify(err).Retryable {
			return err
		}
		if onRetry != nil {
			onRetry(RetryNotice{Attempt: attempt, Delay: delay, Err: err})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * policy.BackoffMultiplier)
	}
}
