package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(5*time.Second, 10*time.Minute, nil)

	if !rl.Allow("1.2.3.4") {
		t.Fatal("first request should be admitted")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("second request inside the window should be denied")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("different client should not share the limit")
	}
}

func TestRateLimiterHandler(t *testing.T) {
	rl := NewRateLimiter(5*time.Second, 10*time.Minute, nil)
	calls := 0
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	req.Header.Set("X-Real-IP", "9.9.9.9")

	first := httptest.NewRecorder()
	h.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("denied response is missing Retry-After")
	}
	if calls != 1 {
		t.Fatalf("handler reached %d times, want 1", calls)
	}
}

func TestClientKeyPrefersRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	if got := ClientKey(req); got != "10.0.0.1" {
		t.Fatalf("key from remote addr = %q", got)
	}

	req.Header.Set("X-Real-IP", "203.0.113.7")
	if got := ClientKey(req); got != "203.0.113.7" {
		t.Fatalf("key from X-Real-IP = %q", got)
	}
}

func TestRateLimiterEviction(t *testing.T) {
	rl := NewRateLimiter(time.Second, 10*time.Minute, nil)

	now := time.Unix(5000, 0)
	rl.now = func() time.Time { return now }

	rl.Allow("stale")
	now = now.Add(5 * time.Minute)
	rl.Allow("fresh")

	now = now.Add(6 * time.Minute)
	rl.evict()

	if rl.size() != 1 {
		t.Fatalf("limiter count after evict = %d, want 1", rl.size())
	}
	// stale client starts over with a fresh window
	if !rl.Allow("stale") {
		t.Fatal("evicted client should be admitted again")
	}
}
