package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(1, 3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.allow("k") {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if rl.allow("k") {
		t.Fatal("request beyond burst allowed")
	}
	if !rl.allow("other") {
		t.Fatal("separate key shares bucket")
	}

	now = now.Add(time.Second)
	if !rl.allow("k") {
		t.Fatal("bucket did not refill")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(1, 3)
	rl.now = func() time.Time { return now }

	rl.allow("old")
	now = now.Add(20 * time.Minute)
	rl.allow("fresh")

	if removed := rl.cleanup(10 * time.Minute); removed != 1 {
		t.Fatalf("expected 1 bucket removed, got %d", removed)
	}
	if _, ok := rl.buckets["fresh"]; !ok {
		t.Error("fresh bucket was removed")
	}
}

func TestIPRateLimitMiddleware(t *testing.T) {
	rl := newRateLimiter(0.001, 1)
	handler := ipRateLimitMiddleware(rl, "slow down")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if code := send("10.0.0.1:5000"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	// Same host on a different port shares the bucket.
	if code := send("10.0.0.1:5001"); code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", code)
	}
	if code := send("10.0.0.2:5000"); code != http.StatusOK {
		t.Fatalf("other host: %d", code)
	}
}
