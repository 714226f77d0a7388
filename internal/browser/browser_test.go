package browser

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// =============================================================================
// Config Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Headless {
		t.Error("default should be headless")
	}
	if cfg.MaxTabs < 1 {
		t.Errorf("MaxTabs = %d, want at least 1", cfg.MaxTabs)
	}
	if cfg.OpenTimeout <= 0 {
		t.Errorf("OpenTimeout = %v, want positive", cfg.OpenTimeout)
	}
	if cfg.MaxJSONBodies <= 0 {
		t.Errorf("MaxJSONBodies = %d, want positive", cfg.MaxJSONBodies)
	}
}

// =============================================================================
// Decode Tests
// =============================================================================

func TestDecode(t *testing.T) {
	var signals []string
	if err := Decode(gson.New([]string{"react", "router"}), &signals); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(signals) != 2 || signals[0] != "react" || signals[1] != "router" {
		t.Errorf("signals = %v", signals)
	}

	var n int
	if err := Decode(gson.New("not a number"), &n); err == nil {
		t.Error("Decode() should fail on a type mismatch")
	}
}

// =============================================================================
// Page Tests
// =============================================================================

func TestFlattenHeaders(t *testing.T) {
	got := flattenHeaders(proto.NetworkHeaders{
		"Content-Type": gson.New("application/json"),
		"X-Trace":      gson.New("abc"),
	})
	if len(got) != 2 || got["Content-Type"] != "application/json" || got["X-Trace"] != "abc" {
		t.Errorf("flattenHeaders() = %v", got)
	}
	if len(flattenHeaders(nil)) != 0 {
		t.Error("nil headers should flatten to an empty map")
	}
}

func TestRodPage_JSONResponsesDrains(t *testing.T) {
	p := &rodPage{bodies: []JSONResponse{{URL: "https://a.test/api", Body: `{"ok":true}`}}}

	got := p.JSONResponses()
	if len(got) != 1 || got[0].URL != "https://a.test/api" {
		t.Fatalf("JSONResponses() = %v", got)
	}
	if again := p.JSONResponses(); len(again) != 0 {
		t.Errorf("second call = %v, want nothing", again)
	}
}

func TestRodPage_LoadingFinishedRespectsCap(t *testing.T) {
	p := &rodPage{
		owner:   &Rod{config: Config{MaxJSONBodies: 0}},
		pending: map[proto.NetworkRequestID]string{"1": "https://a.test/api"},
	}

	p.handleLoadingFinished(&proto.NetworkLoadingFinished{RequestID: "1"})
	p.handleLoadingFinished(&proto.NetworkLoadingFinished{RequestID: "unknown"})

	if len(p.pending) != 0 {
		t.Errorf("pending = %v, want the finished request dropped", p.pending)
	}
	if p.taken != 0 {
		t.Errorf("taken = %d, want 0 when the cap is reached", p.taken)
	}
}

func TestRodPage_WaitForTimeout(t *testing.T) {
	p := &rodPage{}

	if err := p.WaitForTimeout(context.Background(), time.Millisecond); err != nil {
		t.Errorf("WaitForTimeout() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := p.WaitForTimeout(ctx, time.Hour); err != context.Canceled {
		t.Errorf("WaitForTimeout() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("a cancelled wait should return immediately")
	}
}
