// Package middleware holds likechat-specific gin middleware.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// UserIDHeader lets trusted frontends attribute requests to a user. Requests
// without it are limited per client IP.
const UserIDHeader = "X-User-ID"

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per user, falling back to client IP.
// Idle buckets are dropped every idleTTL until done is closed.
func RateLimiter(perSecond float64, burst int, idleTTL time.Duration, done <-chan struct{}) gin.HandlerFunc {
	var mu sync.Mutex
	entries := make(map[string]*limiterEntry)

	go func() {
		ticker := time.NewTicker(idleTTL)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mu.Lock()
				cutoff := time.Now().Add(-idleTTL)
				for key, entry := range entries {
					if entry.lastSeen.Before(cutoff) {
						delete(entries, key)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(c *gin.Context) {
		key := limiterKey(c)

		mu.Lock()
		entry, exists := entries[key]
		if !exists {
			entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
			entries[key] = entry
		}
		entry.lastSeen = time.Now()
		reservation := entry.limiter.Reserve()
		mu.Unlock()

		if !reservation.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		c.Next()
	}
}

func limiterKey(c *gin.Context) string {
	if uid := c.GetHeader(UserIDHeader); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.ClientIP()
}
