package handlers

import (
	"fmt"
	"testing"
	"time"
)

func TestSessionOpenLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newSessionOpenLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("op-1", "") || !limiter.Allow("op-1", "") {
		t.Fatalf("expected first two opens to pass")
	}
	if limiter.Allow("OP-1 ", "") {
		t.Fatalf("expected third open to be limited regardless of case")
	}
	if !limiter.Allow("op-2", "") {
		t.Fatalf("expected other operators to be unaffected")
	}
	if !limiter.Allow("op-1", "SHP-1") {
		t.Fatalf("expected a different shipment to use its own bucket")
	}

	now = now.Add(31 * time.Second)
	if !limiter.Allow("op-1", "") {
		t.Fatalf("expected one token back after half the window passes")
	}
	if limiter.Allow("op-1", "") {
		t.Fatalf("expected the refilled token to be spent")
	}
}

func TestSessionOpenLimiterAnonymous(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newSessionOpenLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("", "") {
		t.Fatalf("expected first anonymous open to pass")
	}
	if limiter.Allow("  ", "") {
		t.Fatalf("expected blank operators to share the anonymous bucket")
	}
}

func TestSessionOpenLimiterSweepsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newSessionOpenLimiter(1, time.Minute, func() time.Time { return now }).(*sessionOpenLimiter)

	for i := 0; i < sweepThreshold; i++ {
		limiter.Allow(fmt.Sprintf("op-%d", i), "")
	}
	now = now.Add(2 * time.Minute)
	limiter.Allow("late", "")

	if got := len(limiter.buckets); got != 1 {
		t.Fatalf("expected idle buckets dropped, got %d", got)
	}
}

func TestSessionOpenLimiterDisabled(t *testing.T) {
	if limiter := newSessionOpenLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
}
