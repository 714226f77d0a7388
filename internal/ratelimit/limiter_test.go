package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Limiter Tests
// =============================================================================

func TestNew(t *testing.T) {
	l := New(Config{RequestsPerSecond: 10, Burst: 5})

	if l.limiter == nil {
		t.Fatal("limiter is nil")
	}
	if l.perHost == nil {
		t.Error("perHost map is nil")
	}
	if got := l.Rate(); got != 10.0 {
		t.Errorf("Rate() = %v, want 10.0", got)
	}
	if got := l.Stats().Burst; got != 5 {
		t.Errorf("Burst = %d, want 5", got)
	}
}

func TestNew_Unlimited(t *testing.T) {
	l := New(Config{})

	if !math.IsInf(l.Rate(), 1) {
		t.Errorf("Rate() = %v, want +Inf for a zero rate", l.Rate())
	}
	if got := l.Stats().Rate; got != 0 {
		t.Errorf("Stats().Rate = %v, want 0 when unlimited", got)
	}
	if _, err := json.Marshal(l.Stats()); err != nil {
		t.Errorf("Stats() should marshal: %v", err)
	}
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("Allow() denied event %d on an unlimited limiter", i)
		}
	}
}

func TestLimiter_Allow_Burst(t *testing.T) {
	l := NewLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Errorf("Allow() should return true for burst request %d", i+1)
		}
	}
	if l.Allow() {
		t.Error("Allow() should return false after burst exhausted")
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := NewLimiter(1000, 10)

	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if got := l.Stats().Waits; got != 1 {
		t.Errorf("Waits = %d, want 1", got)
	}
}

func TestLimiter_Wait_Paces(t *testing.T) {
	l := NewLimiter(20, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// One token up front, two more at 50ms each.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("three waits took %v, want >= ~100ms", elapsed)
	}
}

func TestLimiter_Wait_ContextCancelled(t *testing.T) {
	l := NewLimiter(0.1, 1)
	l.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Wait(ctx); err == nil {
		t.Error("Wait() should return error for cancelled context")
	}
}

func TestLimiter_WaitHost(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1000, Burst: 10, PerHost: 100})
	ctx := context.Background()

	if err := l.WaitHost(ctx, "Example.com"); err != nil {
		t.Errorf("WaitHost() error = %v", err)
	}

	l.mu.RLock()
	_, exists := l.perHost["example.com"]
	l.mu.RUnlock()
	if !exists {
		t.Error("WaitHost should create a lowercase per-host limiter")
	}
}

func TestLimiter_WaitHost_NoPerHostRate(t *testing.T) {
	l := NewLimiter(1000, 10)

	if err := l.WaitHost(context.Background(), "example.com"); err != nil {
		t.Errorf("WaitHost() error = %v", err)
	}
	if got := l.Stats().HostCount; got != 0 {
		t.Errorf("HostCount = %d, want 0 without a per-host rate", got)
	}
}

func TestLimiter_Host(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1000, Burst: 1, PerHost: 1})
	l.SetHostRate("slow.com", 0.1, 1)
	w := l.Host("slow.com")

	if err := w.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Wait(ctx); err == nil {
		t.Error("second Wait() should not fit in the deadline at 0.1 rps")
	}
}

func TestLimiter_SetRate(t *testing.T) {
	l := NewLimiter(10.0, 5)

	l.SetRate(20.0, 10)

	stats := l.Stats()
	if stats.Rate != 20.0 {
		t.Errorf("Rate = %v, want 20.0", stats.Rate)
	}
	if stats.Burst != 10 {
		t.Errorf("Burst = %d, want 10", stats.Burst)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1000, Burst: 100, PerHost: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = l.WaitHost(ctx, host)
			}
		}(fmt.Sprintf("host%d.example", i))
	}
	wg.Wait()

	stats := l.Stats()
	if stats.HostCount != 10 {
		t.Errorf("HostCount = %d, want 10", stats.HostCount)
	}
	if stats.Waits != 200 {
		t.Errorf("Waits = %d, want 200 (global + host per call)", stats.Waits)
	}
}

// =============================================================================
// AdaptiveRateLimiter Tests
// =============================================================================

func TestNewAdaptiveRateLimiter(t *testing.T) {
	a := NewAdaptiveRateLimiter(1.0, 100.0, 10)

	if a.Limiter == nil {
		t.Fatal("Embedded Limiter is nil")
	}
	if a.currentRate != 100.0 {
		t.Errorf("currentRate = %v, want 100.0 (starts at max)", a.currentRate)
	}
	if a.windowSize != 100 {
		t.Errorf("windowSize = %d, want 100", a.windowSize)
	}
}

func TestAdaptiveRateLimiter_Record(t *testing.T) {
	a := NewAdaptiveRateLimiter(1.0, 100.0, 10)

	a.Record(nil)
	a.Record(fmt.Errorf("navigation failed"))

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.successCount != 1 || a.errorCount != 1 {
		t.Errorf("success/error = %d/%d, want 1/1", a.successCount, a.errorCount)
	}
}

func TestAdaptiveRateLimiter_Adjust(t *testing.T) {
	tests := []struct {
		name      string
		min, max  float64
		start     float64
		successes int
		errors    int
		check     func(rate float64) bool
	}{
		{"slows down on errors", 1, 100, 100, 5, 5, func(r float64) bool { return r < 100 }},
		{"speeds up when clean", 1, 100, 50, 10, 0, func(r float64) bool { return r > 50 }},
		{"never below min", 10, 100, 11, 0, 10, func(r float64) bool { return r >= 10 }},
		{"never above max", 1, 100, 100, 10, 0, func(r float64) bool { return r <= 100 }},
		{"mixed window holds", 1, 100, 50, 95, 5, func(r float64) bool { return r == 50 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdaptiveRateLimiter(tt.min, tt.max, 10)
			a.SetWindow(tt.successes + tt.errors)
			a.currentRate = tt.start
			a.SetRate(tt.start, 10)

			for i := 0; i < tt.successes; i++ {
				a.RecordSuccess()
			}
			for i := 0; i < tt.errors; i++ {
				a.RecordError()
			}

			rate := a.CurrentRate()
			if !tt.check(rate) {
				t.Errorf("CurrentRate() = %v", rate)
			}
			if a.Rate() != rate {
				t.Errorf("limiter rate = %v, want %v", a.Rate(), rate)
			}
		})
	}
}
