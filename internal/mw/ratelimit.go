package mw

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// WorkerIDHeader identifies the picking device's worker on every request.
// Warehouse devices often sit behind one NAT address, so rate limiting keys
// by worker when the header is present and falls back to client IP.
const WorkerIDHeader = "X-Worker-ID"

// keyedRateLimiter stores a rate limiter per caller key.
type keyedRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       *sync.RWMutex
	r        rate.Limit
	b        int
}

func newKeyedRateLimiter(r rate.Limit, b int) *keyedRateLimiter {
	return &keyedRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		mu:       &sync.RWMutex{},
		r:        r,
		b:        b,
	}
}

func (k *keyedRateLimiter) add(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	limiter := rate.NewLimiter(k.r, k.b)
	k.limiters[key] = limiter
	return limiter
}

func (k *keyedRateLimiter) get(key string) *rate.Limiter {
	k.mu.RLock()
	limiter, exists := k.limiters[key]
	k.mu.RUnlock()

	if !exists {
		return k.add(key)
	}
	return limiter
}

// RateLimiter is a middleware limiting request rates per worker, falling
// back to per-IP for unidentified callers.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := newKeyedRateLimiter(r, b)
	return func(c *gin.Context) {
		key := c.GetHeader(WorkerIDHeader)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.get(key).Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
