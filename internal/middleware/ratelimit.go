package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RateLimiter is per-actor token bucket rate limiting middleware. Requests
// without an authenticated actor are keyed by client IP. Idle buckets expire
// from the underlying go-cache after maxIdle.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *gocache.Cache
	rate    float64 // tokens per second
	burst   int     // max tokens
	maxIdle time.Duration
	now     func() time.Time
}

type bucket struct {
	tokens    float64
	updatedAt time.Time
}

// NewRateLimiter creates a rate limiter with the given sustained rate
// (requests per second), burst size and bucket idle expiry.
func NewRateLimiter(rate float64, burst int, maxIdle time.Duration) *RateLimiter {
	if maxIdle <= 0 {
		maxIdle = 10 * time.Minute
	}
	return &RateLimiter{
		buckets: gocache.New(maxIdle, maxIdle/2+time.Second),
		rate:    rate,
		burst:   burst,
		maxIdle: maxIdle,
		now:     time.Now,
	}
}

// Handler returns HTTP middleware that enforces per-actor rate limiting.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + realIP(r)
		if a := ActorFromContext(r.Context()); a != nil {
			key = "actor:" + a.ID
		}

		remaining, retryAfter, allowed := rl.allow(key)

		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter)))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow checks whether a request for key is allowed.
// Returns remaining tokens, seconds until next token, and whether the request is allowed.
func (rl *RateLimiter) allow(key string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	var b *bucket
	if v, ok := rl.buckets.Get(key); ok {
		b = v.(*bucket)
		elapsed := now.Sub(b.updatedAt).Seconds()
		b.tokens = math.Min(b.tokens+elapsed*rl.rate, float64(rl.burst))
		b.updatedAt = now
	} else {
		b = &bucket{tokens: float64(rl.burst), updatedAt: now}
	}
	// Re-set on every access so the idle expiry slides.
	rl.buckets.Set(key, b, rl.maxIdle)

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}

	b.tokens--
	return int(b.tokens), 0, true
}

// Len returns the number of tracked buckets (for metrics and testing).
func (rl *RateLimiter) Len() int {
	return rl.buckets.ItemCount()
}

// realIP extracts the client IP from RemoteAddr.
// Proxy headers (X-Forwarded-For, X-Real-Ip) are NOT trusted because
// they can be spoofed by attackers to bypass rate limiting.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
