package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies a failure for retry and reporting decisions.
type ErrorCategory string

const (
	// ErrorCategoryDriver for transient browser/network/navigation failures
	ErrorCategoryDriver ErrorCategory = "driver"
	// ErrorCategoryOracle for vision API failures and timeouts
	ErrorCategoryOracle ErrorCategory = "oracle"
	// ErrorCategoryCrash for fatal game errors and recovery exhaustion
	ErrorCategoryCrash ErrorCategory = "crash"
	// ErrorCategoryDeadline for wall-clock budget expiry
	ErrorCategoryDeadline ErrorCategory = "deadline"
)

// CategorizedError wraps an error with its category and retry eligibility.
type CategorizedError struct {
	Category  ErrorCategory
	Original  error
	Retryable bool
	Message   string
}

func (e *CategorizedError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Message, e.Original)
}

func (e *CategorizedError) Unwrap() error {
	return e.Original
}

// NewDriverError creates a retryable browser/network error.
func NewDriverError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryDriver,
		Original:  err,
		Retryable: true,
		Message:   message,
	}
}

// NewOracleError creates a vision-call error. Oracle failures are never
// retried by the decision layers; they downgrade confidence and fall through.
func NewOracleError(message string, err error) *CategorizedError {
	return &CategorizedError{
		Category:  ErrorCategoryOracle,
		Original:  err,
		Retryable: false,
		Message:   message,
	}
}

// IsCategory reports whether err carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category == category
	}
	return false
}

// RetryConfig bounds the exponential backoff used for transient failures.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig is 3 attempts at 1s/2s/4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Retry runs fn with exponential backoff, honoring ctx cancellation between
// attempts. Only retryable categorized errors are retried.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var catErr *CategorizedError
		if !errors.As(err, &catErr) || !catErr.Retryable {
			return err
		}

		if attempt < config.MaxAttempts-1 {
			select {
			case <-time.After(retryDelay(attempt, config)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
}

func retryDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= config.BackoffFactor
	}
	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
