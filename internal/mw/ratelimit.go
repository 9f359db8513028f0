package mw

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// deviceIDHeader identifies a scanning device. Handheld scanners at a venue
// typically sit behind one NAT'd address, so an identified device gets its
// own bucket instead of sharing the IP's.
const deviceIDHeader = "X-Device-ID"

// callerLimiter hands out one token bucket per caller key.
type callerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newCallerLimiter(r rate.Limit, b int) *callerLimiter {
	return &callerLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

func (l *callerLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter
}

// callerKey resolves the bucket a request draws from: the device ID when the
// caller identifies as a scanner, the client IP otherwise.
func callerKey(c *gin.Context) string {
	if device := c.GetHeader(deviceIDHeader); device != "" {
		return "device:" + device
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter is a middleware limiting request rates per caller.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := newCallerLimiter(r, b)
	return func(c *gin.Context) {
		if !limiter.get(callerKey(c)).Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
