package occurrent

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy defines how to handle retries for failed operations.
// Attempt is zero-based: ShouldRetry(0, err) is asked after the first failure.
type RetryPolicy interface {
	// ShouldRetry returns true if the operation should be retried.
	ShouldRetry(attempt int, err error) bool

	// Delay returns the duration to wait before the next retry.
	Delay(attempt int) time.Duration
}

// exponentialBackoffRetry implements RetryPolicy with exponential backoff.
type exponentialBackoffRetry struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ExponentialBackoffRetry creates a retry policy with exponential backoff.
// A negative maxRetries retries forever.
func ExponentialBackoffRetry(maxRetries int, baseDelay, maxDelay time.Duration) RetryPolicy {
	return &exponentialBackoffRetry{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

func (r *exponentialBackoffRetry) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	return r.maxRetries < 0 || attempt < r.maxRetries
}

func (r *exponentialBackoffRetry) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the shift amount to prevent overflow.
	if attempt > 62 {
		return r.maxDelay
	}
	delay := r.baseDelay * (1 << uint(attempt)) // #nosec G115 - attempt is clamped to 0-62
	if delay > r.maxDelay || delay <= 0 {
		delay = r.maxDelay
	}
	return delay
}

// noRetry is a retry policy that never retries.
type noRetry struct{}

// NoRetry returns a retry policy that never retries.
func NoRetry() RetryPolicy {
	return &noRetry{}
}

func (r *noRetry) ShouldRetry(attempt int, err error) bool {
	return false
}

func (r *noRetry) Delay(attempt int) time.Duration {
	return 0
}

// transientOnly restricts a policy to errors matching ErrStorageUnavailable.
type transientOnly struct {
	RetryPolicy
}

// RetryTransient wraps a policy so that only storage-unavailable failures are retried.
func RetryTransient(policy RetryPolicy) RetryPolicy {
	return &transientOnly{RetryPolicy: policy}
}

func (r *transientOnly) ShouldRetry(attempt int, err error) bool {
	return errors.Is(err, ErrStorageUnavailable) && r.RetryPolicy.ShouldRetry(attempt, err)
}

// retry runs fn until it succeeds, the policy gives up, or ctx is done.
// onRetry, when set, is called before each wait.
func retry(ctx context.Context, policy RetryPolicy, fn func() error, onRetry func(attempt int, err error)) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !policy.ShouldRetry(attempt, err) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if werr := sleep(ctx, policy.Delay(attempt)); werr != nil {
			return err
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isPowerOfTwo reports whether n is 1, 2, 4, 8 and so on. Repeated failures are
// logged only at these counts.
func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
