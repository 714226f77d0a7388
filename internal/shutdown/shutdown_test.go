package shutdown

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// Construction Tests
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Errorf("Signals length = %d, want 2", len(cfg.Signals))
	}
}

func TestNew_Defaults(t *testing.T) {
	h := New(Config{})
	defer h.Shutdown()

	if h.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", h.timeout)
	}
	if h.IsShuttingDown() {
		t.Error("new handler should not be shutting down")
	}
	if h.Result() != nil {
		t.Error("Result() should be nil before shutdown")
	}
}

// ============================================================================
// Callback Tests
// ============================================================================

func TestHandler_CallbacksRunInOrder(t *testing.T) {
	h := NewDefault()

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"stop crawler", "save state", "close browser"} {
		name := name
		h.RegisterFunc(name, func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}

	h.Shutdown()

	want := []string{"stop crawler", "save state", "close browser"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestHandler_ErrorsCollected(t *testing.T) {
	h := NewDefault()
	saveErr := errors.New("disk full")
	closed := false

	h.Register("save state", func(ctx context.Context) error { return saveErr })
	h.RegisterFunc("close browser", func() { closed = true })

	res := h.Shutdown()

	if !res.HasErrors() || !errors.Is(res.Errors[0], saveErr) {
		t.Errorf("Errors = %v, want [%v]", res.Errors, saveErr)
	}
	if !closed {
		t.Error("a failing step should not prevent later steps")
	}
}

func TestHandler_PanicRecovered(t *testing.T) {
	h := NewDefault()
	ran := false

	h.RegisterFunc("boom", func() { panic("boom") })
	h.RegisterFunc("after", func() { ran = true })

	res := h.Shutdown()

	if len(res.Errors) != 1 {
		t.Fatalf("Errors = %v, want one panic error", res.Errors)
	}
	if !ran {
		t.Error("callback after a panic should still run")
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := New(Config{Timeout: 50 * time.Millisecond})

	h.Register("slow", func(ctx context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	start := time.Now()
	res := h.Shutdown()

	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Shutdown took %v, want it bounded by the timeout", time.Since(start))
	}
	var te *TimeoutError
	if len(res.Errors) != 1 || !errors.As(res.Errors[0], &te) {
		t.Fatalf("Errors = %v, want TimeoutError", res.Errors)
	}
	if te.CallbackName != "slow" {
		t.Errorf("CallbackName = %q, want slow", te.CallbackName)
	}
}

// ============================================================================
// Lifecycle Tests
// ============================================================================

func TestHandler_ContextCancelledOnShutdown(t *testing.T) {
	h := NewDefault()

	var sawCancel atomic.Bool
	h.Register("check", func(ctx context.Context) error {
		sawCancel.Store(h.Context().Err() != nil)
		return nil
	})

	h.Shutdown()

	if !sawCancel.Load() {
		t.Error("handler context should be cancelled before callbacks run")
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done() should be closed after Shutdown")
	}
}

func TestHandler_ShutdownOnce(t *testing.T) {
	h := NewDefault()
	var calls atomic.Int32
	h.RegisterFunc("count", func() { calls.Add(1) })

	var wg sync.WaitGroup
	results := make([]*Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.Shutdown()
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("callback ran %d times, want 1", calls.Load())
	}
	for i, r := range results {
		if r == nil {
			t.Errorf("results[%d] is nil", i)
		}
	}
}

func TestHandler_Trigger(t *testing.T) {
	h := NewDefault()
	called := make(chan struct{})
	h.RegisterFunc("mark", func() { close(called) })

	done := h.Listen()
	h.Trigger()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete after Trigger")
	}
	select {
	case <-called:
	default:
		t.Error("callback was not called")
	}
}

func TestHandler_WaitWithContext(t *testing.T) {
	h := NewDefault()
	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan struct{})
	go func() {
		h.WaitWithContext(ctx)
		close(finished)
	}()

	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitWithContext did not return after ctx was cancelled")
	}
	if !h.IsShuttingDown() {
		t.Error("ctx cancellation should start shutdown")
	}
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{CallbackName: "save state"}
	if got := err.Error(); got != "shutdown callback timed out: save state" {
		t.Errorf("Error() = %q", got)
	}
}
