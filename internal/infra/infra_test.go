package infra

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", 42)
	if v, ok := c.Get("k"); !ok || v != 42 {
		t.Fatalf("Get = %v, %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("entry should have expired")
	}
	c.Cleanup()
	if s := c.Stats(); s.Entries != 0 || s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestCacheGetOrCompute(t *testing.T) {
	c := NewCache(time.Minute)
	calls := 0
	compute := func() (any, error) {
		calls++
		return "v", nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute("k", compute)
		if err != nil || v != "v" {
			t.Fatalf("GetOrCompute = %v, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrCompute("bad", func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("errors must not be cached")
	}

	c.Flush()
	if c.Stats().Entries != 0 {
		t.Error("Flush left entries behind")
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.Allow() {
		t.Error("third request should be throttled")
	}
	now = now.Add(1500 * time.Millisecond)
	if !rl.Allow() {
		t.Error("one token should have been refilled")
	}
	if rl.Allow() {
		t.Error("only one token should have been refilled")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := PerSecond(0)
	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d throttled by an unlimited limiter", i)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "rows", 3)
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"rows":3`) {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := NewLogger(&buf, "loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := NewLogger(&buf, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
