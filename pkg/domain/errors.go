package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error taxonomy. Components convert driver-specific failures into one of
// these at the boundary; the pipeline engine decides fatal-vs-continue by
// matching with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrTransient  = errors.New("transient backend error")
	ErrPermanent  = errors.New("permanent backend error")
	ErrIntegrity  = errors.New("integrity error")
	ErrDegraded   = errors.New("degraded: optional subsystem unavailable")
	ErrCancelled  = errors.New("cancelled")
	ErrSchema     = errors.New("schema violation")
)

// RateLimitError is a transient error carrying the provider's retry-after
// hint. RetryAfter zero means retry immediately.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrTransient }

// ChunkingError marks a per-document chunking failure; the rest of the batch
// proceeds.
type ChunkingError struct {
	DataID uuid.UUID
	Err    error
}

func (e *ChunkingError) Error() string {
	return fmt.Sprintf("chunking failed for data %s: %v", e.DataID, e.Err)
}

func (e *ChunkingError) Unwrap() error { return e.Err }

// Retryable reports whether an error is worth retrying with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Fatal reports whether an error must fail the whole run.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIntegrity) || errors.Is(err, ErrDegraded) {
		return false
	}
	return errors.Is(err, ErrPermanent) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Cancelled reports whether err was caused by cancellation, in either the
// taxonomy or context form.
func Cancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// RetryAfterHint extracts a provider retry-after hint, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
