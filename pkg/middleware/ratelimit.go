package middleware

import (
	"sync"
	"time"

	"merchant-voucher/pkg/errutil"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const visitorIdle = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per account, or per client IP when no
// account is attached to the request.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
	swept    time.Time
	now      func() time.Time
}

// NewRateLimiter returns nil when perMinute is not positive; a nil limiter
// lets every request through.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (r *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil {
			c.Next()
			return
		}

		key := c.ClientIP()
		if addr, ok := GetAccount(c); ok {
			key = addr.Hex()
		}
		if !r.allow(key) {
			_ = c.Error(errutil.TooManyRequest("rate limit exceeded", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.swept) > visitorIdle {
		for k, v := range r.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(r.visitors, k)
			}
		}
		r.swept = now
	}

	v, ok := r.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
