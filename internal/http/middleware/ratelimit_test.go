package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/k99k5/oidc-convert/internal/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimitedRouter(rpm int) *gin.Engine {
	r := gin.New()
	r.Use(middleware.NewRateLimiter(rpm).Handler())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimiterThrottlesBurst(t *testing.T) {
	// 60 rpm yields a burst of 6.
	router := newLimitedRouter(60)

	var limited bool
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		router.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.True(t, limited, "burst beyond the budget must hit the limiter")
}

func TestRateLimiterDisabledForNonPositiveBudget(t *testing.T) {
	require.Nil(t, middleware.NewRateLimiter(0))

	router := newLimitedRouter(0)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestLogger(nil))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	r.ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
