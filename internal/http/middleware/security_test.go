package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecurity(opts SecurityOptions, req *http.Request, pre ...gin.HandlerFunc) http.Header {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(pre...)
	r.Use(SecurityHeaders(opts))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecurity(SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/ok", nil), RequestID())

	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	for _, k := range []string{"Permissions-Policy", "Cache-Control", "Strict-Transport-Security"} {
		if h.Get(k) != "" {
			t.Fatalf("unexpected %s: %q", k, h.Get(k))
		}
	}
	if h.Get("Access-Control-Expose-Headers") != "X-Request-ID" {
		t.Fatalf("expose header = %q", h.Get("Access-Control-Expose-Headers"))
	}
}

func TestSecurityHeaders_AppendsExposeOnce(t *testing.T) {
	pre := func(c *gin.Context) {
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("X-Request-ID", "rid")
		c.Next()
	}
	h := serveSecurity(SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/ok", nil), pre)
	if got := h.Get("Access-Control-Expose-Headers"); got != "Content-Length, X-Request-ID" {
		t.Fatalf("expose header = %q", got)
	}

	pre2 := func(c *gin.Context) {
		c.Header("Access-Control-Expose-Headers", "x-request-id")
		c.Header("X-Request-ID", "rid")
		c.Next()
	}
	h = serveSecurity(SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/ok", nil), pre2)
	if got := h.Get("Access-Control-Expose-Headers"); got != "x-request-id" {
		t.Fatalf("expose header duplicated: %q", got)
	}
}

func TestSecurityHeaders_PolicyAndNoStore(t *testing.T) {
	h := serveSecurity(SecurityOptions{NoStore: true, EnablePolicy: true}, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if h.Get("Cache-Control") != "no-store" || h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Fatalf("cache headers missing: %#v", h)
	}
	if h.Get("Permissions-Policy") == "" || h.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("policy headers missing: %#v", h)
	}
}

func TestSecurityHeaders_HSTSOnlyOverHTTPS(t *testing.T) {
	opts := SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}

	plain := serveSecurity(opts, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if plain.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS sent over plain HTTP")
	}

	tlsReq := httptest.NewRequest(http.MethodGet, "/ok", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	if got := serveSecurity(opts, tlsReq).Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}

	proxied := httptest.NewRequest(http.MethodGet, "/ok", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")
	if got := serveSecurity(SecurityOptions{EnableHSTS: true}, proxied).Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains; preload" {
		t.Fatalf("default HSTS = %q", got)
	}
}
