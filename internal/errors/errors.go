// Package errors provides the crawl error taxonomy.
//
// Only Setup errors terminate a crawl. Navigation errors fail a single
// task, Stage errors drop one visitor stage's contribution, and
// Persistence errors skip one snapshot cycle.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Setup covers missing seed URL, invalid config or a browser that fails to start.
	Setup
	// Navigation is a failed or timed-out page load.
	Navigation
	// Timeout represents an operation deadline.
	Timeout
	// Stage is a failure inside one visitor stage.
	Stage
	// Persistence is a snapshot read/write failure.
	Persistence
	// Browser represents browser/CDP errors.
	Browser
	// Network represents transport errors (DNS, connection).
	Network
	// Scope represents scope violation errors.
	Scope
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Setup:
		return "setup"
	case Navigation:
		return "navigation"
	case Timeout:
		return "timeout"
	case Stage:
		return "stage"
	case Persistence:
		return "persistence"
	case Browser:
		return "browser"
	case Network:
		return "network"
	case Scope:
		return "scope"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether a script fetch failing with this type may be retried.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case Network, Timeout:
		return true
	default:
		return false
	}
}

// CrawlError represents a categorized crawl error.
type CrawlError struct {
	Type      ErrorType
	URL       string
	Operation string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type, e.Operation, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type, e.Operation, e.URL, e.Message)
}

// Unwrap returns the underlying error.
func (e *CrawlError) Unwrap() error {
	return e.Cause
}

// Is matches another CrawlError of the same type.
func (e *CrawlError) Is(target error) bool {
	t, ok := target.(*CrawlError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewCrawlError creates a new CrawlError.
func NewCrawlError(errType ErrorType, url, operation, message string, cause error) *CrawlError {
	return &CrawlError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewSetupError creates a crawl-terminating error.
func NewSetupError(operation, message string, cause error) *CrawlError {
	return NewCrawlError(Setup, "", operation, message, cause)
}

// NewNavigationError creates a task-level navigation error.
func NewNavigationError(url string, cause error) *CrawlError {
	if isTimeout(cause) {
		return NewCrawlError(Timeout, url, "navigate", "navigation timed out", cause)
	}
	return NewCrawlError(Navigation, url, "navigate", "navigation failed", cause)
}

// NewStageError wraps a failure in a named visitor stage.
func NewStageError(url, stage string, cause error) *CrawlError {
	return NewCrawlError(Stage, url, stage, "stage failed", cause)
}

// NewPersistenceError creates a snapshot read/write error.
func NewPersistenceError(key, operation string, cause error) *CrawlError {
	return NewCrawlError(Persistence, key, operation, "state persistence failed", cause)
}

// NewBrowserError creates a browser error.
func NewBrowserError(url, operation string, cause error) *CrawlError {
	return NewCrawlError(Browser, url, operation, "browser operation failed", cause)
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *CrawlError {
	return NewCrawlError(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *CrawlError {
	return NewCrawlError(Timeout, url, operation, "operation timed out", cause)
}

// NewScopeError creates a scope error.
func NewScopeError(url, reason string) *CrawlError {
	return NewCrawlError(Scope, url, "scope_check", reason, nil)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *CrawlError {
	return NewCrawlError(Cancelled, url, operation, "operation cancelled", context.Canceled)
}

// Categorize determines the error type from a generic error.
func Categorize(err error, url string) *CrawlError {
	if err == nil {
		return nil
	}

	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "request")
	}
	if isTimeout(err) {
		return NewTimeoutError(url, "request", err)
	}
	if isNetworkError(err) {
		return NewNetworkError(url, "request", err)
	}
	return NewCrawlError(Unknown, url, "request", err.Error(), err)
}

// IsFatal reports whether err must abort the crawl.
func IsFatal(err error) bool {
	return GetErrorType(err) == Setup
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Type.IsRetryable()
	}
	return isTimeout(err) || isNetworkError(err)
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Type
	}
	return Unknown
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host")
}
