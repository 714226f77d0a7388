package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// ErrorType
// =============================================================================

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    string
	}{
		{Unknown, "unknown"},
		{Setup, "setup"},
		{Navigation, "navigation"},
		{Timeout, "timeout"},
		{Stage, "stage"},
		{Persistence, "persistence"},
		{Browser, "browser"},
		{Network, "network"},
		{Scope, "scope"},
		{Cancelled, "cancelled"},
		{ErrorType(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.errType.String(); got != tt.want {
			t.Errorf("ErrorType(%d).String() = %q, want %q", tt.errType, got, tt.want)
		}
	}
}

func TestErrorType_IsRetryable(t *testing.T) {
	retryable := map[ErrorType]bool{Network: true, Timeout: true}
	for _, et := range []ErrorType{Unknown, Setup, Navigation, Timeout, Stage, Persistence, Browser, Network, Scope, Cancelled} {
		if got := et.IsRetryable(); got != retryable[et] {
			t.Errorf("%s.IsRetryable() = %v, want %v", et, got, retryable[et])
		}
	}
}

// =============================================================================
// CrawlError
// =============================================================================

func TestCrawlError_Error(t *testing.T) {
	err := NewCrawlError(Stage, "http://a.test", "forms", "stage failed", nil)
	want := "stage error during forms on http://a.test: stage failed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := NewStageError("http://a.test", "links", errors.New("detached"))
	if !strings.Contains(wrapped.Error(), "caused by: detached") {
		t.Errorf("Error() = %q, missing cause", wrapped.Error())
	}
}

func TestCrawlError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("root")
	err := NewBrowserError("http://a.test", "open", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !errors.Is(err, &CrawlError{Type: Browser}) {
		t.Error("errors.Is should match on type")
	}
	if errors.Is(err, &CrawlError{Type: Setup}) {
		t.Error("errors.Is should not match a different type")
	}
}

func TestNewNavigationError(t *testing.T) {
	if got := NewNavigationError("u", context.DeadlineExceeded).Type; got != Timeout {
		t.Errorf("deadline navigation type = %v, want Timeout", got)
	}
	if got := NewNavigationError("u", errors.New("net::ERR_NAME_NOT_RESOLVED")).Type; got != Navigation {
		t.Errorf("navigation type = %v, want Navigation", got)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"setup", NewSetupError("browser", "failed to launch", nil), true},
		{"wrapped setup", fmt.Errorf("start: %w", NewSetupError("config", "no seed", nil)), true},
		{"navigation", NewNavigationError("u", errors.New("x")), false},
		{"stage", NewStageError("u", "tech", errors.New("x")), false},
		{"persistence", NewPersistenceError("k", "save", errors.New("x")), false},
		{"plain", errors.New("x"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	if Categorize(nil, "u") != nil {
		t.Error("Categorize(nil) should be nil")
	}

	orig := NewScopeError("u", "off-origin")
	if Categorize(orig, "u") != orig {
		t.Error("Categorize should return an existing CrawlError unchanged")
	}

	tests := []struct {
		err  error
		want ErrorType
	}{
		{context.Canceled, Cancelled},
		{context.DeadlineExceeded, Timeout},
		{errors.New("dial tcp: connection refused"), Network},
		{errors.New("something odd"), Unknown},
	}
	for _, tt := range tests {
		if got := Categorize(tt.err, "u").Type; got != tt.want {
			t.Errorf("Categorize(%v).Type = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryable(NewNetworkError("u", "fetch", nil)) {
		t.Error("network error should be retryable")
	}
	if IsRetryable(NewStageError("u", "x", nil)) {
		t.Error("stage error should not be retryable")
	}
	if !IsRetryable(errors.New("i/o timeout")) {
		t.Error("timeout text should be retryable")
	}
}

// =============================================================================
// Retrier
// =============================================================================

func fastRetrier(maxRetries int) *Retrier {
	return NewRetrier(RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	})
}

func TestRetrier_Do(t *testing.T) {
	t.Run("succeeds after retryable failures", func(t *testing.T) {
		calls := 0
		res := fastRetrier(3).Do(context.Background(), "fetch", "u", func(context.Context) error {
			calls++
			if calls < 3 {
				return NewNetworkError("u", "fetch", nil)
			}
			return nil
		})
		if !res.Success || res.Attempts != 3 {
			t.Errorf("Success = %v, Attempts = %d, want true, 3", res.Success, res.Attempts)
		}
	})

	t.Run("stops at max retries", func(t *testing.T) {
		res := fastRetrier(2).Do(context.Background(), "fetch", "u", func(context.Context) error {
			return NewTimeoutError("u", "fetch", nil)
		})
		if res.Success || res.Attempts != 3 {
			t.Errorf("Success = %v, Attempts = %d, want false, 3", res.Success, res.Attempts)
		}
	})

	t.Run("no retry for non-retryable", func(t *testing.T) {
		res := fastRetrier(5).Do(context.Background(), "fetch", "u", func(context.Context) error {
			return NewScopeError("u", "nope")
		})
		if res.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", res.Attempts)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := fastRetrier(5).Do(ctx, "fetch", "u", func(context.Context) error {
			return NewNetworkError("u", "fetch", nil)
		})
		if GetErrorType(res.LastError) != Cancelled {
			t.Errorf("LastError type = %v, want Cancelled", GetErrorType(res.LastError))
		}
	})
}
