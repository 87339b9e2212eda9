package occurrent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoffRetry(t *testing.T) {
	policy := ExponentialBackoffRetry(3, 10*time.Millisecond, 50*time.Millisecond)
	err := errors.New("boom")

	assert.True(t, policy.ShouldRetry(0, err))
	assert.True(t, policy.ShouldRetry(2, err))
	assert.False(t, policy.ShouldRetry(3, err))
	assert.False(t, policy.ShouldRetry(0, nil))

	assert.Equal(t, 10*time.Millisecond, policy.Delay(0))
	assert.Equal(t, 20*time.Millisecond, policy.Delay(1))
	assert.Equal(t, 40*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 50*time.Millisecond, policy.Delay(3))
	assert.Equal(t, 50*time.Millisecond, policy.Delay(100))

	forever := ExponentialBackoffRetry(-1, time.Millisecond, time.Second)
	assert.True(t, forever.ShouldRetry(1_000_000, err))
}

func TestNoRetry(t *testing.T) {
	policy := NoRetry()
	assert.False(t, policy.ShouldRetry(0, errors.New("boom")))
	assert.Zero(t, policy.Delay(0))
}

func TestRetryTransient(t *testing.T) {
	policy := RetryTransient(ExponentialBackoffRetry(5, time.Millisecond, time.Millisecond))

	assert.True(t, policy.ShouldRetry(0, &StorageError{Op: "load", Cause: errors.New("eof")}))
	assert.False(t, policy.ShouldRetry(0, NewConcurrencyError("game-1", 0, 1)))
	assert.False(t, policy.ShouldRetry(5, &StorageError{Op: "load", Cause: errors.New("eof")}))
}

func TestRetry(t *testing.T) {
	t.Run("stops on success", func(t *testing.T) {
		calls := 0
		var retried []int
		err := retry(context.Background(), ExponentialBackoffRetry(5, time.Millisecond, time.Millisecond), func() error {
			calls++
			if calls < 3 {
				return errors.New("boom")
			}
			return nil
		}, func(attempt int, err error) { retried = append(retried, attempt) })

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{0, 1}, retried)
	})

	t.Run("returns last error when cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		boom := errors.New("boom")

		err := retry(ctx, ExponentialBackoffRetry(-1, time.Hour, time.Hour), func() error { return boom }, nil)
		assert.Equal(t, boom, err)
	})
}

func TestIsPowerOfTwo(t *testing.T) {
	var got []int
	for i := 0; i <= 20; i++ {
		if isPowerOfTwo(i) {
			got = append(got, i)
		}
	}
	assert.Equal(t, []int{1, 2, 4, 8, 16}, got)
}
