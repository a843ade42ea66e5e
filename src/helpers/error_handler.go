package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flow-observer/src/logger"

	"github.com/jpillora/backoff"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type ObserverError struct {
	Message string
	Cause   error
}

func (e *ObserverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ObserverError) Unwrap() error {
	return e.Cause
}

// Disconnects and timeouts; retried with capped backoff.
type TransientNetworkError struct{ ObserverError }

// Sequence gap in a diff stream; forces a full resync.
type ProtocolGapError struct {
	ObserverError
	Expected int64
	Got      int64
}

// Unparseable or unrecognised upstream frame; dropped.
type MalformedMessageError struct{ ObserverError }

// Store write failure; in-memory state stays authoritative.
type PersistenceWriteError struct{ ObserverError }

// Ranking fetch failure; previous symbol set is retained.
type UpstreamRankingFetchError struct{ ObserverError }

type ConfigurationError struct{ ObserverError }

// -----------------------------------------------------------------------------

func NewTransientNetworkError(message string, cause error) error {
	return &TransientNetworkError{ObserverError{Message: message, Cause: cause}}
}

func NewProtocolGapError(symbol string, expected, got int64) error {
	return &ProtocolGapError{
		ObserverError: ObserverError{Message: fmt.Sprintf("%s: update gap, expected first id <= %d, got %d", symbol, expected, got)},
		Expected:      expected,
		Got:           got,
	}
}

func NewMalformedMessageError(message string, cause error) error {
	return &MalformedMessageError{ObserverError{Message: message, Cause: cause}}
}

func NewPersistenceWriteError(message string, cause error) error {
	return &PersistenceWriteError{ObserverError{Message: message, Cause: cause}}
}

func NewUpstreamRankingFetchError(message string, cause error) error {
	return &UpstreamRankingFetchError{ObserverError{Message: message, Cause: cause}}
}

func NewConfigurationError(message string, cause error) error {
	return &ConfigurationError{ObserverError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------

func IsTransient(err error) bool {
	var target *TransientNetworkError
	return errors.As(err, &target)
}

func IsProtocolGap(err error) bool {
	var target *ProtocolGapError
	return errors.As(err, &target)
}

func IsMalformed(err error) bool {
	var target *MalformedMessageError
	return errors.As(err, &target)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// NewBackoff builds the capped exponential backoff used by every reconnect loop.
func NewBackoff(min, max time.Duration) *backoff.Backoff {
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	return &backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: 2,
		Jitter: true,
	}
}

// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries times, sleeping with capped
// exponential backoff between attempts. It stops early when ctx is done or
// fn returns a MalformedMessageError.
func RetryWithBackoff[T any](ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if maxRetries <= 0 {
		maxRetries = 1
	}

	b := NewBackoff(baseDelay, baseDelay*time.Duration(1<<uint(min(maxRetries, 10))))
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}

		lastErr = err
		if attempt == maxRetries-1 || IsMalformed(err) {
			break
		}

		delay := b.Duration()
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
