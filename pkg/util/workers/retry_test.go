package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{"succeeds first try", 0, 3, 1, false},
		{"succeeds after failures", 2, 3, 3, false},
		{"exhausts attempts", 5, 3, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), fastRetry(tt.attempts), func() error {
				calls++
				if calls <= tt.failures {
					return errors.New("transient")
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "max retries exceeded")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("broker said no")
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, IsPermanent(err))
	assert.True(t, IsPermanent(Permanent(sentinel)))
	assert.Nil(t, Permanent(nil))
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := fastRetry(3)
	cfg.InitialDelay = time.Second
	err := Retry(ctx, cfg, func() error { return errors.New("transient") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitedRetry(t *testing.T) {
	limiter := NewLimiter(1000, 1)
	require.NotNil(t, limiter)
	assert.Nil(t, NewLimiter(0, 1))

	calls := 0
	err := RateLimitedRetry(context.Background(), limiter, fastRetry(2), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
