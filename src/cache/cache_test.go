package cache

import (
	"context"
	"testing"
	"time"

	"flow-observer/src/models"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestCache(capacity, ttl int) (*ResponseCache, *fakeClock) {
	c := NewResponseCache(models.MCacheConfig{Capacity: capacity, TTLSeconds: ttl})
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c.now = clock.now
	return c, clock
}

func TestKeyShape(t *testing.T) {
	if got := Key("cvd", "BTCUSDT", "5m", 0, 100); got != "cvd|BTCUSDT|5m|0|100" {
		t.Fatalf("Key() = %q", got)
	}
}

func TestInsertionOrderEviction(t *testing.T) {
	c, _ := newTestCache(2, 60)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // overwrite keeps a as the oldest
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should have been evicted first")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("b missing: %v %v", v, ok)
	}
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Fatalf("c missing: %v %v", v, ok)
	}
	if s := c.Stats(); s.Evictions != 1 || s.Size != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestTTLExpiry(t *testing.T) {
	c, clock := newTestCache(4, 5)

	c.Set("k", "v")
	clock.t = clock.t.Add(4 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("entry expired too early")
	}
	clock.t = clock.t.Add(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry should expire at ttl")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not removed")
	}

	// expired keys must not linger in the eviction order
	for _, k := range []string{"w", "x", "y", "z"} {
		c.Set(k, k)
	}
	if s := c.Stats(); s.Evictions != 0 || s.Size != 4 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestInvalidateOnEvent(t *testing.T) {
	c, _ := newTestCache(4, 60)
	c.Set("k", 1)

	updates := make(chan models.MEngineEvent)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.InvalidateOn(ctx, updates)
		close(done)
	}()

	updates <- models.MEngineEvent{Engine: models.EngineCvd, Kind: models.EventMinute}
	cancel()
	<-done

	if c.Len() != 0 {
		t.Fatalf("cache should be cleared by an engine event")
	}
	if c.Stats().Clears != 1 {
		t.Fatalf("expected one clear")
	}
}
