package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/pkg/cache"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

func TestCORS_IsOriginAllowed(t *testing.T) {
	allowed := []string{"https://dash.atalaya.io", "*.grafana.net"}
	if !isOriginAllowed("https://dash.atalaya.io", allowed) {
		t.Fatalf("expected exact origin allowed")
	}
	if !isOriginAllowed("https://org.grafana.net", allowed) {
		t.Fatalf("expected wildcard subdomain allowed")
	}
	if isOriginAllowed("https://evil.example.com", allowed) {
		t.Fatalf("unexpected origin allowed")
	}
	if !isOriginAllowed("https://anywhere.example.com", []string{"*"}) {
		t.Fatalf("expected * to allow any origin")
	}
	// Nothing configured: local development origins only.
	if !isOriginAllowed("http://localhost:3000", nil) {
		t.Fatalf("expected localhost allowed by default")
	}
	if isOriginAllowed("https://evil.example.com", nil) {
		t.Fatalf("unexpected origin allowed by default")
	}
}

func TestCORS_SetsOriginHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware(config.CORSConfig{AllowedOrigins: []string{"https://dash.atalaya.io"}}))
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://dash.atalaya.io")
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.atalaya.io" {
		t.Fatalf("allow-origin = %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin leaked for disallowed origin: %q", got)
	}
}

func TestCORS_PreflightReturnsNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware(config.CORSConfig{AllowedOrigins: []string{"*"}}))
	r.POST("/api/v1/logs", func(c *gin.Context) { c.String(200, "should not run") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/logs", nil)
	req.Header.Set("Origin", "https://dash.atalaya.io")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("preflight reached the handler: %q", w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("missing allow-methods header")
	}
}

func TestRateLimiter_AppliesHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := logger.NewNop()
	r.Use(RateLimiter(cache.NewNoopValkeyCache(log)))
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if got := w.Header().Get("X-Rate-Limit-Limit"); got != "3000" {
		t.Fatalf("limit header = %q", got)
	}
	if w.Header().Get("X-Rate-Limit-Remaining") == "" {
		t.Fatalf("missing remaining header")
	}
	if w.Header().Get("X-Rate-Limit-Reset") == "" {
		t.Fatalf("missing reset header")
	}
}

func TestRateLimiter_BlocksWhenBudgetExhausted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := logger.NewNop()
	r.Use(RateLimiter(cache.NewNoopValkeyCache(log)))
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	// The minute window can roll over once mid-loop, so allow two budgets
	// of headroom before declaring the limiter broken.
	for i := 0; i < 2*int(maxRequestsPerMinute)+200; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		r.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			if got := w.Header().Get("X-Rate-Limit-Remaining"); got != "0" {
				t.Fatalf("remaining = %q on rejected request", got)
			}
			if !strings.Contains(w.Body.String(), "Rate limit exceeded") {
				t.Fatalf("unexpected body: %s", w.Body.String())
			}
			return
		}
	}
	t.Fatalf("limiter never rejected past the budget")
}

// failingCounter errors on Incr, standing in for an unreachable Valkey.
type failingCounter struct{ cache.ValkeyCache }

func (failingCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestRateLimiter_FailsOpenOnCacheError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(failingCounter{}))
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected fail-open 200, got %d", w.Code)
	}
	if w.Header().Get("X-Rate-Limit-Limit") != "" {
		t.Fatalf("headers set despite counter failure")
	}
}

func TestRequestLoggerWithBody_Captures200(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLoggerWithBody(logger.NewNop()))
	r.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(200, string(b))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("hi"))
	r.ServeHTTP(w, req)
	if w.Code != 200 || w.Body.String() != "hi" {
		t.Fatalf("unexpected: %d %q", w.Code, w.Body.String())
	}
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(logger.NewNop()))
	r.GET("/ping", func(c *gin.Context) { c.String(200, "pong") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	if w.Code != 200 || w.Body.String() != "pong" {
		t.Fatalf("unexpected: %d %q", w.Code, w.Body.String())
	}
}

func TestIsIngestEndpoint(t *testing.T) {
	cases := map[string]bool{
		"/api/v1/logs":               true,
		"/api/v1/logs/bulk":          true,
		"/api/v1/logs/recent":        false,
		"/api/v1/logs/recent/errors": false,
		"/api/v1/search":             false,
		"/health":                    false,
	}
	for p, want := range cases {
		if got := isIngestEndpoint(p); got != want {
			t.Fatalf("path %s: want %v got %v", p, want, got)
		}
	}
}
