package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if key := KeyByUserOrIP()(c); key != "ip:203.0.113.9" {
		t.Fatalf("expected ip-based key; got %q", key)
	}
	c.Request.Header.Set(HeaderUserID, "u123")
	if key := KeyByUserOrIP()(c); key != "user:u123" {
		t.Fatalf("expected user-based key; got %q", key)
	}
}

func TestNewRateLimiter_BurstCoercion_AndReuse(t *testing.T) {
	rl := NewRateLimiter(2, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
	now := time.Now()
	lim := rl.limiterFor("k1", now)
	if rl.limiterFor("k1", now) != lim {
		t.Fatalf("expected the same limiter for the same key")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByUserOrIP())
	rl.idleTTL = time.Minute
	start := time.Now()
	old := rl.limiterFor("old", start)

	rl.lookups = sweepEvery - 1
	later := start.Add(2 * time.Minute)
	if rl.limiterFor("old", later) == old {
		t.Fatalf("idle bucket should have been swept and recreated")
	}
	if rl.lookups != 0 {
		t.Fatalf("lookup counter not reset")
	}
}

func newLimitedRouter(rl *RateLimiter, pre ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(pre...)
	r.Use(rl.Handler())
	r.POST("/admin/newsletters", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimiter_Returns429WithEnvelope(t *testing.T) {
	r := newLimitedRouter(NewRateLimiter(0.001, 1, KeyByUserOrIP()))

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil)
		req.Header.Set(HeaderUserID, "editor")
		r.ServeHTTP(w, req)
		return w
	}
	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if !strings.Contains(w.Body.String(), `"too_many_requests"`) || !strings.Contains(w.Body.String(), `"request_id"`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestRateLimiter_BucketsAreIndependent(t *testing.T) {
	r := newLimitedRouter(NewRateLimiter(0.001, 1, KeyByUserOrIP()))
	for _, user := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil)
		req.Header.Set(HeaderUserID, user)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("user %s: %d", user, w.Code)
		}
	}
}

func TestRateLimiter_ReplayBypass(t *testing.T) {
	bypass := func(c *gin.Context) {
		c.Set(ctxKeyRateBypass, true)
		c.Next()
	}
	r := newLimitedRouter(NewRateLimiter(0, 1, KeyByUserOrIP()), bypass)
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/newsletters", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("replay %d limited: %d", i, w.Code)
		}
	}
}
