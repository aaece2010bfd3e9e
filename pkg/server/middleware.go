package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data:; " +
	"connect-src 'self'; " +
	"frame-ancestors 'none'"

// securityHeaders applies the hardening headers to every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		c.Next()
	}
}

// ipLimiter enforces a fixed request budget per client IP. Tokens refill
// continuously so the hourly quota behaves as a sliding allowance rather
// than a hard window reset.
type ipLimiter struct {
	mu       sync.Mutex
	perHour  int
	limiters map[string]*rate.Limiter
}

func newIPLimiter(perHour int) *ipLimiter {
	return &ipLimiter{
		perHour:  perHour,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *ipLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perHour)/3600.0), l.perHour)
		l.limiters[ip] = lim
	}
	return lim
}

func (l *ipLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.limiterFor(c.ClientIP()).Allow() {
			rateLimited.Inc()
			status, body := errorByCode(CodeRateLimitExceeded)
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Next()
	}
}

// requireJSON rejects chat requests whose body is not declared as JSON.
func requireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.ContentType() != "application/json" {
			status, body := errorByCode(CodeInvalidRequestFormat)
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Next()
	}
}
