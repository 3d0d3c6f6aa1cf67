package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestLimiter returns a limiter on a manual clock and a function that
// advances it.
func newTestLimiter() (*RateLimiter, func(time.Duration)) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }
	return rl, func(d time.Duration) { now = now.Add(d) }
}

func TestRateLimiterAllow(t *testing.T) {
	rl, _ := newTestLimiter()

	for i := 0; i < 5; i++ {
		if !rl.Allow("key", 5, time.Minute) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if rl.Allow("key", 5, time.Minute) {
		t.Error("6th request should be denied")
	}
	if !rl.Allow("other", 5, time.Minute) {
		t.Error("keys are counted independently")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl, advance := newTestLimiter()

	for i := 0; i < 3; i++ {
		rl.Allow("key", 3, 10*time.Second)
	}

	ok, wait := rl.Reserve("key", 3, 10*time.Second)
	if ok {
		t.Fatal("should be blocked within window")
	}
	if wait != 10*time.Second {
		t.Errorf("wait = %v, want 10s", wait)
	}

	advance(4 * time.Second)
	if _, wait := rl.Reserve("key", 3, 10*time.Second); wait != 6*time.Second {
		t.Errorf("wait = %v, want 6s", wait)
	}

	advance(6 * time.Second)
	if !rl.Allow("key", 3, 10*time.Second) {
		t.Error("should be allowed once the window resets")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl, advance := newTestLimiter()

	rl.Allow("expired", 5, 10*time.Second)
	advance(15 * time.Second)
	rl.Allow("active", 5, time.Minute)

	rl.Cleanup()

	if got := rl.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.windows["active"]; !ok {
		t.Error("active window should still exist")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, _ := newTestLimiter()
	keyFunc := func(r *http.Request) string { return "test" }

	handler := RateLimit(rl, keyFunc, 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestRateLimitMiddlewareRetryAfter(t *testing.T) {
	rl, advance := newTestLimiter()
	handler := RateLimit(rl, UserKey, 1, 30*time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/backup", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	serve()
	advance(12500 * time.Millisecond)
	rec := serve()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "18" {
		t.Errorf("Retry-After = %q, want %q", got, "18")
	}
}
