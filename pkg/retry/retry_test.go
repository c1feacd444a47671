package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/courier-im/courier/pkg/logging"
)

// TestRetry tests the basic retry functionality
func TestRetry(t *testing.T) {
	logger := logging.NewNoopLogger()

	tests := []struct {
		name           string
		operation      func() (string, error)
		config         *Config
		expectedResult string
		expectError    bool
		expectedDelay  time.Duration // Expected minimum delay between retries
	}{
		{
			name: "success on first try",
			operation: func() (string, error) {
				return "success", nil
			},
			config:         DefaultConfig(),
			expectedResult: "success",
			expectError:    false,
			expectedDelay:  0,
		},
		{
			name: "failure after all retries",
			operation: func() (string, error) {
				return "", errors.New("operation failed")
			},
			config: &Config{
				MaxRetries:      2,
				InitialDelay:    10 * time.Millisecond,
				MaxDelay:        100 * time.Millisecond,
				BackoffFactor:   2.0,
				JitterFactor:    0.1,
				LogRetryAttempt: false,
			},
			expectedResult: "",
			expectError:    true,
			expectedDelay:  10 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			result, err := Retry(context.Background(), tt.operation, tt.config, logger)
			duration := time.Since(start)

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "failed after")
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.expectedResult, result)
			}

			// Verify minimum delay for retries
			if tt.config.MaxRetries > 1 && tt.expectError {
				assert.GreaterOrEqual(t, duration, tt.expectedDelay)
			}
		})
	}
}

// TestRetryShouldRetryPredicate tests that a non-retryable error short-circuits
func TestRetryShouldRetryPredicate(t *testing.T) {
	logger := logging.NewNoopLogger()
	permanent := errors.New("permanent failure")

	attempts := 0
	config := &Config{
		MaxRetries:      5,
		InitialDelay:    5 * time.Millisecond,
		MaxDelay:        50 * time.Millisecond,
		BackoffFactor:   2.0,
		JitterFactor:    0,
		LogRetryAttempt: false,
		ShouldRetry: func(err error, attempt int) bool {
			return !errors.Is(err, permanent)
		},
	}

	_, err := Retry(context.Background(), func() (int, error) {
		attempts++
		return 0, permanent
	}, config, logger)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

// TestRetryContextCancellation tests that cancellation aborts the backoff sleep
func TestRetryContextCancellation(t *testing.T) {
	logger := logging.NewNoopLogger()
	ctx, cancel := context.WithCancel(context.Background())

	config := &Config{
		MaxRetries:      3,
		InitialDelay:    time.Minute,
		MaxDelay:        time.Minute,
		BackoffFactor:   2.0,
		JitterFactor:    0,
		LogRetryAttempt: false,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Retry(ctx, func() (string, error) {
		return "", errors.New("transient")
	}, config, logger)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

// TestRetryWithDifferentTypes tests retry with different return types
func TestRetryWithDifferentTypes(t *testing.T) {
	logger := logging.NewNoopLogger()

	t.Run("int type", func(t *testing.T) {
		result, err := Retry(context.Background(), func() (int, error) {
			return 42, nil
		}, DefaultConfig(), logger)

		assert.NoError(t, err)
		assert.Equal(t, 42, result)
	})

	t.Run("pointer type", func(t *testing.T) {
		result, err := Retry(context.Background(), func() (*string, error) {
			value := "pointer"
			return &value, nil
		}, DefaultConfig(), logger)

		assert.NoError(t, err)
		assert.Equal(t, "pointer", *result)
	})
}

// TestRetryConfig tests configuration validation and defaults
func TestRetryConfig(t *testing.T) {
	t.Run("default config values", func(t *testing.T) {
		config := DefaultConfig()
		assert.Equal(t, 5, config.MaxRetries)
		assert.Equal(t, time.Second, config.InitialDelay)
		assert.Equal(t, 30*time.Second, config.MaxDelay)
		assert.Equal(t, 2.0, config.BackoffFactor)
		assert.Equal(t, 0.2, config.JitterFactor)
		assert.True(t, config.LogRetryAttempt)
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		config := DefaultConfig()
		config.BackoffFactor = 0.5
		assert.Error(t, config.Validate())
	})
}
