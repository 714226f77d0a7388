// Package shutdown runs ordered cleanup when the crawl is interrupted or
// finishes. Callbacks run in registration order, so a crawl registers
// "stop crawler", then "save state", then "close browser".
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/logger"
)

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

type namedCallback struct {
	name string
	fn   Callback
}

// Config holds shutdown configuration.
type Config struct {
	Timeout time.Duration
	Signals []os.Signal
	Logger  *logger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Handler manages graceful shutdown.
type Handler struct {
	mu        sync.Mutex
	callbacks []namedCallback
	result    *Result

	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration

	// Cancelled when shutdown begins.
	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal
	log     *logger.Logger
}

// New creates a new shutdown handler and starts receiving cfg.Signals.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		log:     logger.OrNop(cfg.Logger).WithComponent("shutdown"),
	}

	signal.Notify(h.sigChan, cfg.Signals...)

	return h
}

// NewDefault creates a handler with default configuration.
func NewDefault() *Handler {
	return New(DefaultConfig())
}

// Register appends a named shutdown callback.
func (h *Handler) Register(name string, callback Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, namedCallback{name: name, fn: callback})
}

// RegisterFunc registers a simple cleanup function.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Context returns the shutdown context.
// This context is cancelled when shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done returns a channel that is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until a signal arrives or shutdown starts elsewhere.
func (h *Handler) Wait() {
	h.WaitWithContext(context.Background())
}

// WaitWithContext waits for a signal or ctx and then shuts down.
func (h *Handler) WaitWithContext(ctx context.Context) {
	select {
	case sig := <-h.sigChan:
		h.log.Warnf("received %s, shutting down", sig)
		h.Shutdown()
	case <-ctx.Done():
		h.Shutdown()
	case <-h.ctx.Done():
		// Already shutting down
	}
}

// Listen waits for a signal in the background. The returned channel is
// closed when shutdown completes.
func (h *Handler) Listen() <-chan struct{} {
	go h.Wait()
	return h.done
}

// Shutdown cancels the handler context and runs every callback in
// registration order, each bounded by the shared timeout. Later calls
// wait for the first one and return its result.
func (h *Handler) Shutdown() *Result {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return h.Result()
	}
	defer signal.Stop(h.sigChan)

	start := time.Now()
	h.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	h.mu.Lock()
	callbacks := append([]namedCallback(nil), h.callbacks...)
	h.mu.Unlock()

	res := &Result{}
	for _, cb := range callbacks {
		if err := h.executeCallback(shutdownCtx, cb); err != nil {
			h.log.WithError(err).Warnf("shutdown step %s failed", cb.name)
			res.Errors = append(res.Errors, err)
			continue
		}
		h.log.Debugf("shutdown step %s done", cb.name)
	}
	res.Elapsed = time.Since(start)

	h.mu.Lock()
	h.result = res
	h.mu.Unlock()

	close(h.done)
	return res
}

// executeCallback runs one callback, recovering panics and giving up when
// ctx expires.
func (h *Handler) executeCallback(ctx context.Context, cb namedCallback) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("shutdown callback %s panicked: %v", cb.name, r)
			}
		}()
		done <- cb.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: cb.name}
	}
}

// Trigger starts shutdown as if a signal had been received.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
		// Signal already pending
	}
}

// Result returns the outcome of a completed shutdown, or nil.
func (h *Handler) Result() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}

// Result holds the outcome of a shutdown.
type Result struct {
	Elapsed time.Duration
	Errors  []error
}

// HasErrors returns whether any errors occurred during shutdown.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}
