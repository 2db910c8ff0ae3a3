package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/omicslake/sra-mirror-lake/logging"
	"github.com/omicslake/sra-mirror-lake/metrics"
)

// RetryPolicy defines retry behavior for network operations
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	JitterFactor    float64
	RetryableErrors map[string]bool
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableErrors: map[string]bool{
			"connection refused":  true,
			"connection reset":    true,
			"deadline exceeded":   true,
			"unexpected EOF":      true,
			"temporary failure":   true,
			"too many requests":   true,
			"service unavailable": true,
			"bad gateway":         true,
			"gateway timeout":     true,
		},
	}
}

// RetryManager handles retry logic with backoff
type RetryManager struct {
	policy    *RetryPolicy
	logger    *logging.ComponentLogger
	metrics   *RetryMetrics
	collector *metrics.Collector
	mu        sync.RWMutex
}

// RetryMetrics tracks retry statistics
type RetryMetrics struct {
	TotalAttempts     int64
	SuccessfulRetries int64
	FailedRetries     int64
	TotalRetryTime    time.Duration
}

// NewRetryManager creates a new retry manager
func NewRetryManager(policy *RetryPolicy, logger *logging.ComponentLogger) *RetryManager {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	return &RetryManager{
		policy:  policy,
		logger:  logger,
		metrics: &RetryMetrics{},
	}
}

// SetCollector attaches a metrics collector so retried attempts are counted.
func (rm *RetryManager) SetCollector(c *metrics.Collector) {
	rm.collector = c
}

// Execute executes a function with retry logic
func (rm *RetryManager) Execute(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	startTime := time.Now()

	for attempt := 1; attempt <= rm.policy.MaxAttempts; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Execute the function
		err := fn()
		if err == nil {
			// Success
			if attempt > 1 {
				rm.recordSuccess(time.Since(startTime))
				rm.logger.Info().
					Str("operation", operation).
					Int("attempts", attempt).
					Dur("total_time", time.Since(startTime)).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err
		rm.recordAttempt()

		// Check if error is retryable
		if !rm.isRetryable(err) {
			rm.logger.Debug().
				Str("operation", operation).
				Err(err).
				Msg("Error is not retryable")
			return err
		}

		// Check if we've exhausted attempts
		if attempt >= rm.policy.MaxAttempts {
			rm.recordFailure(time.Since(startTime))
			rm.logger.Error().
				Str("operation", operation).
				Int("attempts", attempt).
				Err(err).
				Msg("Operation failed after max attempts")
			return fmt.Errorf("operation failed after %d attempts: %w", attempt, err)
		}

		// Calculate backoff delay
		delay := rm.calculateDelay(attempt)

		if rm.collector != nil {
			rm.collector.RecordRetry()
		}

		rm.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(err).
			Msg("Operation failed, retrying")

		// Wait before retry
		select {
		case <-time.After(delay):
			// Continue to next attempt
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// ExecuteWithResult executes a function that returns a value with retry logic
func ExecuteWithResult[T any](ctx context.Context, rm *RetryManager, operation string, fn func() (T, error)) (T, error) {
	var result T
	err := rm.Execute(ctx, operation, func() error {
		var fnErr error
		result, fnErr = fn()
		return fnErr
	})
	return result, err
}

// isRetryable determines if an error should trigger a retry
func (rm *RetryManager) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Never retry cancellation, even when wrapped
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Network-level timeouts are always retryable
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for pattern := range rm.policy.RetryableErrors {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// calculateDelay calculates the delay before the next retry
func (rm *RetryManager) calculateDelay(attempt int) time.Duration {
	// Exponential backoff
	delay := float64(rm.policy.InitialDelay) * math.Pow(rm.policy.BackoffFactor, float64(attempt-1))

	// Apply jitter
	if rm.policy.JitterFactor > 0 {
		jitter := delay * rm.policy.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
	}

	// Cap at max delay
	if delay > float64(rm.policy.MaxDelay) {
		delay = float64(rm.policy.MaxDelay)
	}

	return time.Duration(delay)
}

// recordAttempt records a retry attempt
func (rm *RetryManager) recordAttempt() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.metrics.TotalAttempts++
}

// recordSuccess records a successful retry
func (rm *RetryManager) recordSuccess(duration time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.metrics.SuccessfulRetries++
	rm.metrics.TotalRetryTime += duration
}

// recordFailure records a failed retry sequence
func (rm *RetryManager) recordFailure(duration time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.metrics.FailedRetries++
	rm.metrics.TotalRetryTime += duration
}

// GetMetrics returns retry metrics
func (rm *RetryManager) GetMetrics() RetryMetrics {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return *rm.metrics
}
