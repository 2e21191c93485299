package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	c, _ := gin.CreateTestContext(w)
	c.Request = req

	// No forwarding headers: peer address.
	if key := KeyByClientIP()(c); key != "ip:203.0.113.9" {
		t.Fatalf("expected peer-based key; got %q", key)
	}

	// First X-Forwarded-For entry wins.
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	if key := KeyByClientIP()(c); key != "ip:198.51.100.4" {
		t.Fatalf("expected forwarded key; got %q", key)
	}
}

func TestNewRateLimiter_Coercions(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, nil)
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
	if rl.keyFn == nil {
		t.Fatalf("expected default key func")
	}
	if rl.disabled {
		t.Fatalf("positive rps must not disable the limiter")
	}
	if !NewRateLimiter(0, 5, nil).disabled {
		t.Fatalf("rps=0 must disable the limiter")
	}

	lim := rl.limiterFor("k1")
	if got := rl.limiterFor("k1"); got != lim {
		t.Fatalf("expected same limiter instance to be reused")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, nil)
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.buckets["old"] = &bucket{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.sweepN = rl.sweepAt - 1
	rl.mu.Unlock()

	_ = rl.limiterFor("new")

	rl.mu.Lock()
	_, existsOld := rl.buckets["old"]
	_, existsNew := rl.buckets["new"]
	rl.mu.Unlock()

	if existsOld {
		t.Fatalf("expected 'old' bucket to be evicted")
	}
	if !existsNew {
		t.Fatalf("expected 'new' bucket to be created")
	}
}

func TestRateLimiter_Handler_AllowThenDeny(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1.0, 1, KeyByClientIP())

	r := gin.New()
	r.Use(RequestID())
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request should be allowed, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req2.Header.Set("X-Request-ID", "rid-2")
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be rate-limited, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After=1, got %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "too_many_requests" || body["error"] != "rate limit exceeded" || body["request_id"] != "rid-2" {
		t.Fatalf("unexpected JSON body: %v", body)
	}

	// A different client has its own bucket.
	w3 := httptest.NewRecorder()
	req3 := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req3.Header.Set("X-Forwarded-For", "198.51.100.77")
	r.ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("other client should be allowed, got %d", w3.Code)
	}
}

func TestRateLimiter_Handler_Disabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(NewRateLimiter(0, 1, nil).Handler())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("request %d: got %d", i, w.Code)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	cases := map[time.Duration]string{
		time.Millisecond:        "1",
		time.Second:             "1",
		1500 * time.Millisecond: "2",
		rate.InfDuration:        "60",
	}
	for d, want := range cases {
		if got := retryAfter(d); got != want {
			t.Fatalf("retryAfter(%v) = %q; want %q", d, got, want)
		}
	}
}
