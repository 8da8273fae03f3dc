package httpapi

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(3)
	now := time.Date(2026, time.September, 15, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("10.0.0.1") {
		t.Error("fourth request inside the window should be limited")
	}

	// Other clients have their own window.
	if !rl.allow("10.0.0.2") {
		t.Error("different client should be allowed")
	}

	// The window resets after a minute.
	now = now.Add(61 * time.Second)
	if !rl.allow("10.0.0.1") {
		t.Error("request after window reset should be allowed")
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := newRateLimiter(10)
	now := time.Date(2026, time.September, 15, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.1")
	rl.allow("10.0.0.2")

	now = now.Add(15 * time.Minute)
	rl.allow("10.0.0.3")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.clients) != 1 {
		t.Errorf("stale windows should be swept, %d remain", len(rl.clients))
	}
}
