package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/cognify/pkg/domain"
)

func TestAcquireUnconfiguredIsUnlimited(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Acquire(context.Background(), "openai", "chat"))
	}
}

func TestAcquireThrottles(t *testing.T) {
	r := NewRegistry()
	r.Configure("openai", "embed", 50, 1)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Acquire(context.Background(), "openai", "embed"))
	}
	// Burst 1 at 50 rps means the 3rd acquisition waits about 40ms total.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAcquireCancelled(t *testing.T) {
	r := NewRegistry()
	r.Configure("openai", "chat", 0.001, 1)
	require.NoError(t, r.Acquire(context.Background(), "openai", "chat"))

	// A deadline that cannot cover the wait fails as cancellation even
	// though the context is not done yet.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.Acquire(ctx, "openai", "chat")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCancelled)

	cctx, ccancel := context.WithCancel(context.Background())
	ccancel()
	err = r.Acquire(cctx, "openai", "chat")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestConfigureIsPerResource(t *testing.T) {
	r := NewRegistry()
	r.Configure("openai", "chat", 0.001, 1)
	require.NoError(t, r.Acquire(context.Background(), "openai", "chat"))

	// A different resource on the same provider is unaffected.
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Acquire(context.Background(), "openai", "embed"))
	}
}
