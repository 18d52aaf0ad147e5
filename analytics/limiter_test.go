package analytics

import (
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if !rl.allow("192.0.2.10") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allow("192.0.2.10") {
		t.Error("request over the cap should be denied")
	}
	if !rl.allow("192.0.2.99") {
		t.Error("a different key has its own budget")
	}

	rl.now = func() time.Time { return base.Add(61 * time.Second) }
	if !rl.allow("192.0.2.10") {
		t.Error("budget should reset after the window")
	}
}

func TestRateLimiterSlides(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	rl.now = func() time.Time { return base }
	rl.allow("k")
	rl.now = func() time.Time { return base.Add(40 * time.Second) }
	rl.allow("k")

	// 70s in: the first hit has expired, the second has not.
	rl.now = func() time.Time { return base.Add(70 * time.Second) }
	if !rl.allow("k") {
		t.Error("one slot should have freed up")
	}
	if rl.allow("k") {
		t.Error("cap should be reached again")
	}
}
