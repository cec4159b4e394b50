package server

import (
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/identity"
	"auction-engine/internal/metrics"
	"auction-engine/services/auction/helpers"
	"auction-engine/utils"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	utils.Info("HTTP Request", map[string]any{
		"method":    c.Request.Method,
		"path":      c.Request.URL.Path,
		"status":    c.Writer.Status(),
		"latency":   time.Since(start).String(),
		"client_ip": c.ClientIP(),
	})
}

// MetricsMiddleware records request counts and latency per route template
func MetricsMiddleware(c *gin.Context) {
	start := time.Now()
	metrics.RequestStarted()

	defer func() {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RequestFinished(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}()

	c.Next()
}

// Authenticate requires a valid bearer token and stores its subject for handlers.
func Authenticate(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			utils.JSONError(c, http.StatusUnauthorized, biddingerrors.ErrUnauthenticated, "authentication required")
			c.Abort()
			return
		}

		subject, err := identity.ParseToken(secret, token)
		if err != nil {
			utils.JSONError(c, http.StatusUnauthorized, err, "authentication required")
			utils.Warn("Authenticate: rejected token", map[string]any{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			})
			c.Abort()
			return
		}

		c.Set(helpers.ContextUserKey, subject)
		c.Next()
	}
}

var errRateLimited = errors.New("rate limit exceeded")

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	swept   time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     5 * time.Minute,
		swept:   time.Now(),
	}
}

// Allow reports whether the client identified by key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.ttl {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(c *gin.Context) {
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	if !l.Allow(ip) {
		c.Header("Retry-After", helpers.RetryAfterSeconds)
		utils.JSONError(c, http.StatusTooManyRequests, errRateLimited, "too many requests")
		c.Abort()
		return
	}
	c.Next()
}
