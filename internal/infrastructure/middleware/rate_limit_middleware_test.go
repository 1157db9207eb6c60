package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"aivision/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func serve(router *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w
}

func TestHTTPRateLimitMiddleware_Disabled_AllowsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Status.RateLimiting.Enabled = false

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, serve(router, "10.0.0.1:1234").Code)
}

func TestHTTPRateLimitMiddleware_Enabled_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Status.RateLimiting.Enabled = true
	cfg.Status.RateLimiting.RequestsPerSecond = 1
	cfg.Status.RateLimiting.Burst = 1

	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, "10.0.0.1:1234").Code)

	limited := serve(router, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMIT_EXCEEDED")

	assert.Equal(t, http.StatusOK, serve(router, "10.0.0.2:1234").Code, "limits are per client IP")
}

func TestCallerLimiters_ForgetIdleCallers(t *testing.T) {
	limiters := newCallerLimiters(rate.Limit(1), 1)
	start := time.Now()

	first := limiters.get("10.0.0.1", start)
	assert.Same(t, first, limiters.get("10.0.0.1", start.Add(time.Second)))

	limiters.get("10.0.0.2", start.Add(2*limiterIdleTTL))
	assert.Len(t, limiters.callers, 1)
	assert.NotSame(t, first, limiters.get("10.0.0.1", start.Add(2*limiterIdleTTL)))
}
