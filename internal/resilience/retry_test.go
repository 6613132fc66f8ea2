package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), nil, func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(3), nil, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &apperrors.ExternalServiceError{Service: "eks", Op: "DescribeCluster", StatusCode: 503, Err: errors.New("unavailable")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_MaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(2), nil, func(context.Context) error {
		attempts++
		return &apperrors.ExternalServiceError{Service: "github", Op: "GET", Err: errors.New("reset")}
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_NonRetryable(t *testing.T) {
	attempts := 0
	conflict := &apperrors.ConcurrentModificationError{Ref: "heads/main"}
	err := Retry(context.Background(), fastConfig(5), nil, func(context.Context) error {
		attempts++
		return conflict
	})
	assert.Same(t, conflict, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiplier: 1}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func(error) bool { return true }, func(context.Context) error {
			attempts++
			return errors.New("flaky")
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
	assert.LessOrEqual(t, attempts, 1)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 2))
}
