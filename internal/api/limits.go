package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// IPRateLimiter is a per-client token bucket.
type IPRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    time.Duration // one token per rate
	burst   int
	idleTTL time.Duration
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

func newIPRateLimiter(rate time.Duration, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
}

func (l *IPRateLimiter) allow(ip string) bool {
	return l.allowAt(ip, time.Now())
}

func (l *IPRateLimiter) allowAt(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = &tokenBucket{tokens: float64(l.burst), lastRefill: now}
		l.buckets[ip] = bucket
	}
	bucket.lastSeen = now

	if refills := now.Sub(bucket.lastRefill) / l.rate; refills > 0 {
		bucket.tokens = min(float64(l.burst), bucket.tokens+float64(refills))
		bucket.lastRefill = bucket.lastRefill.Add(refills * l.rate)
	}

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// sweep drops buckets for clients not seen within idleTTL.
func (l *IPRateLimiter) sweep(now time.Time) {
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, ip)
		}
	}
}

func (l *IPRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func rateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": limiter.rate.String(),
			})
			return
		}
		c.Next()
	}
}
