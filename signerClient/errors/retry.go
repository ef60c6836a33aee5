package errors

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	RetryableErrors []ErrorCode
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		RetryableErrors: []ErrorCode{
			ErrCodeNetwork,
			ErrCodeRPC,
			ErrCodeTimeout,
		},
	}
}

// Backoff builds the exponential, capped backoff described by the config.
// MaxAttempts of zero or less means no attempt limit.
func (c *RetryConfig) Backoff() (retry.Backoff, error) {
	b, err := retry.NewExponential(c.InitialDelay)
	if err != nil {
		return nil, err
	}
	if c.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.MaxDelay, b)
	}
	if c.MaxAttempts > 0 {
		b = retry.WithMaxRetries(uint64(c.MaxAttempts-1), b)
	}
	return b, nil
}

// RetryFunc is a function that can be retried
type RetryFunc func() error

// RetryWithConfig retries fn while it fails with a retryable error.
func RetryWithConfig(ctx context.Context, fn RetryFunc, config *RetryConfig) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	backoff, err := config.Backoff()
	if err != nil {
		return NewInternalError("invalid retry configuration", err)
	}

	attempts := 0
	var lastErr error
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		lastErr = fn()
		if lastErr != nil && isRetryableError(lastErr, config.RetryableErrors) {
			return retry.RetryableError(lastErr)
		}
		return lastErr
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lastErr != nil && !isRetryableError(lastErr, config.RetryableErrors) {
		return lastErr
	}
	return WrapSignerError(lastErr, ErrCodeInternal, "maximum retry attempts exceeded").
		WithContext("attempts", attempts)
}

// Retry retries a function with default configuration
func Retry(ctx context.Context, fn RetryFunc) error {
	return RetryWithConfig(ctx, fn, DefaultRetryConfig())
}

func isRetryableError(err error, retryableCodes []ErrorCode) bool {
	var signerErr *SignerError
	if As(err, &signerErr) {
		for _, code := range retryableCodes {
			if signerErr.Code == code {
				return true
			}
		}
		return signerErr.IsRetryable()
	}
	return IsRetryable(err)
}
