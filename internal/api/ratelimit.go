package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────
// Per-IP Token Bucket Rate Limiter
//
// Each IP gets its own bucket holding up to `burst` tokens, refilled at
// RATE_LIMIT_PER_MIN / 60 tokens per second. An empty bucket answers
// HTTP 429 with a Retry-After header in whole seconds.
//
// Buckets idle for longer than cleanupIdleDuration are dropped by a
// background loop that stops with the limiter's context.
// ──────────────────────────────────────────────────────────────────────

const cleanupIdleDuration = 10 * time.Minute

type ipBucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimiter holds per-IP state. A zero rate disables limiting.
type RateLimiter struct {
	rate  float64 // tokens added per second
	burst float64 // max bucket capacity
	label string
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*ipBucket
}

// NewRateLimiter allows ratePerMin requests per minute per IP with a burst
// capacity of burst requests. Cleanup runs until ctx is done.
func NewRateLimiter(ctx context.Context, ratePerMin, burst int) *RateLimiter {
	if burst <= 0 {
		burst = max(ratePerMin, 1)
	}
	rl := &RateLimiter{
		rate:    float64(ratePerMin) / 60.0,
		burst:   float64(burst),
		label:   fmt.Sprintf("%d requests/minute per IP", ratePerMin),
		now:     time.Now,
		buckets: make(map[string]*ipBucket),
	}
	if rl.rate > 0 {
		go rl.cleanupLoop(ctx)
	}
	return rl
}

func (rl *RateLimiter) allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[ip]
	if !ok {
		bucket = &ipBucket{tokens: rl.burst, lastSeen: now}
		rl.buckets[ip] = bucket
	}

	// Refill for the time since the last request
	elapsed := now.Sub(bucket.lastSeen).Seconds()
	bucket.tokens = math.Min(rl.burst, bucket.tokens+elapsed*rl.rate)
	bucket.lastSeen = now

	if bucket.tokens >= 1.0 {
		bucket.tokens--
		return true, 0
	}

	wait := time.Duration((1.0 - bucket.tokens) / rl.rate * float64(time.Second))
	return false, wait
}

// Middleware returns a Gin handler that enforces the rate limit
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}
		allowed, retryAfter := rl.allow(c.ClientIP())
		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"retryAfter": secs,
				"limit":      rl.label,
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops buckets idle past cleanupIdleDuration
func (rl *RateLimiter) sweep() int {
	cutoff := rl.now().Add(-cleanupIdleDuration)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
			removed++
		}
	}
	return removed
}
