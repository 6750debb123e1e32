// Package ratelimit gates calls to external providers. Buckets are
// process-wide, keyed by (provider, resource), and every acquisition honours
// the caller's context.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// Registry holds one token bucket per (provider, resource) pair.
type Registry struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]*rate.Limiter)}
}

// Configure installs or replaces the bucket for a key. rps is the sustained
// request rate; burst is the bucket size.
func (r *Registry) Configure(provider, resource string, rps float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buckets[key(provider, resource)] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Acquire blocks until a token is available or ctx is done. Unconfigured
// keys are unlimited.
func (r *Registry) Acquire(ctx context.Context, provider, resource string) error {
	r.mu.Lock()
	limiter := r.buckets[key(provider, resource)]
	r.mu.Unlock()

	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		// Wait also fails up front when the deadline cannot cover the wait;
		// that is a cancellation condition, not a backend failure.
		if _, hasDeadline := ctx.Deadline(); hasDeadline || ctx.Err() != nil {
			return fmt.Errorf("%w: rate limit wait: %v", domain.ErrCancelled, err)
		}
		return fmt.Errorf("%w: rate limit wait: %v", domain.ErrTransient, err)
	}
	return nil
}

func key(provider, resource string) string {
	return provider + "/" + resource
}
