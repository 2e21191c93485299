// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the process-local edge limiter: a token bucket per
// client address. It sits in front of every route and caps raw request
// volume. The per-profile recommendation quota is enforced separately by
// the Redis-backed limiter inside the recommendation gate.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/medfolio-backend/internal/identity"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByClientIP keys buckets by the forwarded client address, the same value
// the recommendation gate records. Requests that carry no forwarding headers
// fall back to Gin's view of the peer so direct callers do not share one
// bucket.
func KeyByClientIP() keyFunc {
	return func(c *gin.Context) string {
		ip := identity.ClientIP(c.Request.Header)
		if ip == identity.UnknownIP {
			ip = c.ClientIP()
		}
		return "ip:" + ip
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per key. Idle buckets are evicted
// during lookups once they have not been touched for ttl.
//
// Safe for concurrent use.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFn   keyFunc
	mu      sync.Mutex
	buckets map[string]*bucket

	ttl      time.Duration
	sweepN   uint64
	sweepAt  uint64
	disabled bool
}

// NewRateLimiter builds a limiter refilling rps tokens per second up to
// burst. A non-positive rps disables limiting; burst is coerced to >= 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if keyFn == nil {
		keyFn = KeyByClientIP()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		buckets:  make(map[string]*bucket),
		ttl:      10 * time.Minute,
		sweepAt:  5000,
		disabled: rps <= 0,
	}
}

// limiterFor returns the bucket for key, creating it on first use. Every
// sweepAt lookups idle buckets are dropped before the requested one is
// refreshed, so a stale bucket can be evicted even when it is being fetched.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepN++
	if rl.sweepN >= rl.sweepAt {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.sweepN = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// Handler returns the Gin middleware. Over-limit requests get 429 with a
// Retry-After derived from the time until the next token, in whole seconds:
//
//	{"request_id":"...","code":"too_many_requests","error":"rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.disabled {
			c.Next()
			return
		}

		res := rl.limiterFor(rl.keyFn(c)).Reserve()
		delay := res.Delay()
		if delay == 0 {
			c.Next()
			return
		}
		// Give the token back; the request is rejected, not queued.
		res.Cancel()

		c.Header("Retry-After", retryAfter(delay))
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}

// retryAfter renders d as whole seconds, rounded up, never below 1.
func retryAfter(d time.Duration) string {
	if d == rate.InfDuration {
		return "60"
	}
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
