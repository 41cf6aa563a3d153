// Package ratelimit bounds request rates on the allocation endpoint.
//
// The shipped implementation is an in-memory token bucket, which is enough
// for a single-instance deployment. The Limiter interface is the contract a
// shared-store implementation would satisfy if the service ever runs
// replicated behind a load balancer.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. The key is opaque;
	// callers construct it (here, the client IP). An error signals a limiter
	// malfunction and callers fail open rather than blocking traffic.
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
