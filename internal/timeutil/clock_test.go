package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	var c RealClock
	before := time.Now()
	got := c.Now()
	if got.Before(before) {
		t.Fatal("RealClock.Now went backwards")
	}
	if c.Since(before) < 0 {
		t.Fatal("RealClock.Since returned negative duration")
	}
}

func TestMockClockFrozen(t *testing.T) {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Fatalf("got %v, want %v", c.Now(), base)
	}
	if !c.Now().Equal(c.Now()) {
		t.Fatal("frozen clock must not tick")
	}
}

func TestMockClockSetAndAdvance(t *testing.T) {
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(base)

	c.Advance(90 * time.Second)
	if want := base.Add(90 * time.Second); !c.Now().Equal(want) {
		t.Fatalf("got %v, want %v", c.Now(), want)
	}

	moved := base.Add(24 * time.Hour)
	c.Set(moved)
	if !c.Now().Equal(moved) {
		t.Fatalf("got %v, want %v", c.Now(), moved)
	}
	if got := c.Since(base); got != 24*time.Hour {
		t.Fatalf("Since = %v, want 24h", got)
	}
}
