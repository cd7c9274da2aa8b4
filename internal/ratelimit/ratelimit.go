// Package ratelimit provides a pluggable rate limiting interface for the
// HTTP edge. The default implementation is an in-memory token bucket
// (MemoryLimiter); deployments that need cross-instance coordination can
// substitute their own Limiter.
//
// This is edge protection only. Per-run capability call budgets are
// enforced separately by the guardrail gate.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// The key is opaque to the limiter; callers construct it
	// (e.g. "runs:10.0.0.1"). Errors signal a limiter malfunction and
	// callers should fail open rather than block traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
