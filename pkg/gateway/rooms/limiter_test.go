package rooms

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestInboundLimiter_MessageBudget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newInboundLimiter(10, 0, 2, clock.now)

	// Burst window: 10 msg/s over 2s.
	for i := 0; i < 20; i++ {
		if !l.Allow(100) {
			t.Fatalf("message %d rejected inside burst", i)
		}
	}
	if l.Allow(100) {
		t.Fatalf("message allowed past exhausted burst")
	}

	clock.advance(100 * time.Millisecond) // refills one token at 10/s
	if !l.Allow(100) {
		t.Fatalf("message rejected after refill")
	}
	if l.Allow(100) {
		t.Fatalf("second message allowed on a single refilled token")
	}
}

func TestInboundLimiter_ByteBudget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newInboundLimiter(0, 1000, 1, clock.now)

	if !l.Allow(900) {
		t.Fatalf("frame inside byte budget rejected")
	}
	if l.Allow(200) {
		t.Fatalf("frame past byte budget allowed")
	}
	clock.advance(time.Second)
	if !l.Allow(200) {
		t.Fatalf("frame rejected after byte refill")
	}
}

func TestInboundLimiter_CapsAtBurst(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := newInboundLimiter(1, 0, 1, clock.now)

	// A long idle stretch must not bank unlimited tokens.
	clock.advance(time.Hour)
	if !l.Allow(1) {
		t.Fatalf("first message rejected")
	}
	if l.Allow(1) {
		t.Fatalf("idle stretch banked more than the burst")
	}
}

func TestInboundLimiter_Disabled(t *testing.T) {
	if l := newInboundLimiter(0, 0, 2, nil); l != nil {
		t.Fatalf("limiter with no rates should be nil")
	}
	var l *inboundLimiter
	for i := 0; i < 1000; i++ {
		if !l.Allow(1 << 20) {
			t.Fatalf("nil limiter rejected a frame")
		}
	}
}
