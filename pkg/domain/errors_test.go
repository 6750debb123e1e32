package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitErrorIsTransient(t *testing.T) {
	err := &RateLimitError{RetryAfter: 2 * time.Second}
	assert.True(t, Retryable(err))
	assert.ErrorIs(t, err, ErrTransient)

	hint, ok := RetryAfterHint(err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, hint)

	_, ok = RetryAfterHint(ErrTransient)
	assert.False(t, ok)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", ErrTransient)))
	assert.False(t, Retryable(ErrPermanent))
	assert.False(t, Retryable(ErrValidation))
	assert.False(t, Retryable(errors.New("unknown")))
}

func TestFatal(t *testing.T) {
	assert.True(t, Fatal(ErrPermanent))
	assert.True(t, Fatal(ErrValidation))
	assert.True(t, Fatal(ErrCancelled))
	assert.True(t, Fatal(context.Canceled))
	assert.False(t, Fatal(ErrTransient))
	assert.False(t, Fatal(ErrIntegrity))
	assert.False(t, Fatal(ErrDegraded))
	assert.False(t, Fatal(nil))
}

func TestCancelled(t *testing.T) {
	assert.True(t, Cancelled(ErrCancelled))
	assert.True(t, Cancelled(context.Canceled))
	assert.True(t, Cancelled(fmt.Errorf("op: %w", context.Canceled)))
	assert.False(t, Cancelled(ErrTransient))
}

func TestChunkingErrorUnwraps(t *testing.T) {
	inner := errors.New("bad bytes")
	dataID := uuid.New()
	err := &ChunkingError{DataID: dataID, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), dataID.String())
}
