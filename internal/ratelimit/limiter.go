// Package ratelimit implements fixed-window admission control per client.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Decision is a backend's verdict for one key.
type Decision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

// Backend counts requests per key within a window.
type Backend interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) Decision
	Reset()
	Close()
}

// Policy is a request budget per window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Info carries the values emitted as X-RateLimit-* headers.
type Info struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Result is the outcome of CheckLimit.
type Result struct {
	Allowed    bool
	Info       Info
	RetryAfter time.Duration
}

// Limiter applies the webhook or api policy to a client identity.
type Limiter struct {
	backend Backend
	webhook Policy
	api     Policy
	now     func() time.Time
}

// New constructs a Limiter. A nil backend falls back to an in-memory one.
func New(backend Backend, webhook, api Policy) *Limiter {
	if backend == nil {
		backend = NewMemory()
	}
	return &Limiter{backend: backend, webhook: webhook, api: api, now: time.Now}
}

// CheckLimit counts one request for clientID and reports whether it is admitted.
// Webhook deliveries and interactive API calls are budgeted separately.
func (l *Limiter) CheckLimit(ctx context.Context, clientID string, webhook bool) Result {
	policy, scope := l.api, "api:"
	if webhook {
		policy, scope = l.webhook, "webhook:"
	}
	if policy.Limit <= 0 {
		return Result{Allowed: true}
	}
	window := policy.Window
	if window <= 0 {
		window = time.Minute
	}
	if clientID == "" {
		clientID = "unknown"
	}

	decision := l.backend.Allow(ctx, scope+clientID, policy.Limit, window)
	remaining := policy.Limit - decision.Count
	if remaining < 0 || !decision.Allowed {
		remaining = 0
	}
	result := Result{
		Allowed: decision.Allowed,
		Info: Info{
			Limit:     policy.Limit,
			Remaining: remaining,
			Reset:     decision.WindowEnd,
		},
	}
	if !decision.Allowed {
		result.RetryAfter = decision.WindowEnd.Sub(l.now())
		if result.RetryAfter < time.Second {
			result.RetryAfter = time.Second
		}
	}
	return result
}

// Reset clears every counter.
func (l *Limiter) Reset() {
	l.backend.Reset()
}

// Close releases backend resources.
func (l *Limiter) Close() {
	l.backend.Close()
}

// GenerateHeaders renders rate-limit headers for a response.
func GenerateHeaders(info Info, retryAfter time.Duration) http.Header {
	headers := make(http.Header)
	if info.Limit <= 0 {
		return headers
	}
	headers.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	if !info.Reset.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset.Unix(), 10))
	}
	if retryAfter > 0 {
		seconds := int(math.Ceil(retryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		headers.Set("Retry-After", strconv.Itoa(seconds))
	}
	return headers
}
