package main

import (
	"testing"
	"time"
)

func TestLoginLimiterCountsOnlyFailures(t *testing.T) {
	l := newLoginLimiter(3, time.Minute)

	// check alone never consumes budget.
	for i := 0; i < 10; i++ {
		if !l.check("192.0.2.10") {
			t.Fatalf("check %d should pass with no recorded failures", i+1)
		}
	}

	l.record("192.0.2.10")
	l.record("192.0.2.10")
	if !l.check("192.0.2.10") {
		t.Error("two failures of three should still pass")
	}
	l.record("192.0.2.10")
	if l.check("192.0.2.10") {
		t.Error("third failure should trip the limiter")
	}
	if !l.check("192.0.2.99") {
		t.Error("other IPs are unaffected")
	}
}
