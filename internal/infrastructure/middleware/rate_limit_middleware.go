package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"aivision/pkg/config"
	"aivision/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an idle caller's limiter is kept around.
const limiterIdleTTL = 10 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// callerLimiters hands out one token bucket per caller IP and forgets callers
// that have been idle for limiterIdleTTL.
type callerLimiters struct {
	mu        sync.Mutex
	callers   map[string]*callerLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

func newCallerLimiters(limit rate.Limit, burst int) *callerLimiters {
	return &callerLimiters{
		callers: make(map[string]*callerLimiter),
		limit:   limit,
		burst:   burst,
	}
}

func (l *callerLimiters) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for key, c := range l.callers {
			if now.Sub(c.lastSeen) > limiterIdleTTL {
				delete(l.callers, key)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.callers[ip]
	if !ok {
		c = &callerLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.callers[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// retryAfter is the whole number of seconds until the bucket has a token.
func retryAfter(limiter *rate.Limiter, now time.Time) string {
	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return "1"
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return strconv.Itoa(int(math.Max(1, math.Ceil(delay.Seconds()))))
}

// NewHTTPRateLimitMiddleware applies per-IP rate limiting to the status API.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.Status.RateLimiting
	if !rl.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	limiters := newCallerLimiters(rate.Limit(rl.RequestsPerSecond), rl.Burst)

	return func(c *gin.Context) {
		now := time.Now()
		limiter := limiters.get(c.ClientIP(), now)
		if limiter.AllowN(now, 1) {
			c.Next()
			return
		}

		appErr := errors.NewRateLimitError()
		c.Header("Retry-After", retryAfter(limiter, now))
		c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		})
	}
}
