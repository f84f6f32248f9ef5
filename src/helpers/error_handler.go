package helpers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trading-hub/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type TradingHubError struct {
	Message string
	Cause   error
}

func (e *TradingHubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TradingHubError) Unwrap() error {
	return e.Cause
}

// Distinct error types for errors.As checks
type ConfigurationError struct{ TradingHubError }
type NetworkError struct{ TradingHubError }
type CollaboratorError struct{ TradingHubError }
type ProtocolError struct{ TradingHubError }
type ActionError struct{ TradingHubError }

func NewNetworkError(msg string, cause error) error {
	return &NetworkError{TradingHubError{Message: msg, Cause: cause}}
}

func NewCollaboratorError(msg string, cause error) error {
	return &CollaboratorError{TradingHubError{Message: msg, Cause: cause}}
}

func NewProtocolError(msg string, cause error) error {
	return &ProtocolError{TradingHubError{Message: msg, Cause: cause}}
}

func NewActionError(msg string, cause error) error {
	return &ActionError{TradingHubError{Message: msg, Cause: cause}}
}

// IsProtocolError reports whether err was caused by a malformed client message.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// BackoffDelay returns the wait after failed attempt k (1-based): base * 2^(k-1).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base * (1 << (attempt - 1))
}

// RetryOptions configures RetryWithBackoff.
type RetryOptions struct {
	Attempts  int
	BaseDelay time.Duration
	Logger    *logger.Logger

	// Retryable decides whether a failure is worth repeating. Nil retries all.
	Retryable func(error) bool
	// Sleep waits between attempts. Nil waits on a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// RetryWithBackoff runs fn up to opts.Attempts times, waiting base * 2^(k-1)
// after failed attempt k. It stops early on success, on a non-retryable error
// or when ctx is done, and returns the last error fn produced.
func RetryWithBackoff(ctx context.Context, operation string, opts RetryOptions, fn func(ctx context.Context) error) error {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == opts.Attempts || ctx.Err() != nil {
			break
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			break
		}

		delay := BackoffDelay(opts.BaseDelay, attempt)
		if opts.Logger != nil {
			opts.Logger.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt, opts.Attempts, operation, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			break
		}
	}

	return lastErr
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// Error Handler
// -----------------------------------------------------------------------------

// ErrorHandler tracks consecutive failures per operation: the first failure of
// a streak is an error, the rest are warnings.
type ErrorHandler struct {
	Logger   *logger.Logger
	failures map[string]int
	mu       sync.Mutex
}

func NewErrorHandler(log *logger.Logger) *ErrorHandler {
	return &ErrorHandler{
		Logger:   log,
		failures: make(map[string]int),
	}
}

// -----------------------------------------------------------------------------

// Handle records err for operation. It returns the current failure streak.
func (e *ErrorHandler) Handle(err error, operation string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil {
		if n := e.failures[operation]; n > 0 {
			e.Logger.Info("%s recovered after %d failed attempts", operation, n)
			delete(e.failures, operation)
		}
		return 0
	}

	e.failures[operation]++
	n := e.failures[operation]
	if n == 1 {
		e.Logger.Error("Error in %s: %v", operation, err)
	} else {
		e.Logger.Warning("Error in %s (%d in a row): %v", operation, n, err)
	}
	return n
}

// -----------------------------------------------------------------------------

// Failures returns the current failure streak for operation.
func (e *ErrorHandler) Failures(operation string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures[operation]
}
