// Package ratelimit paces navigations and script fetches with token buckets.
package ratelimit

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Config defines pacing. A zero RequestsPerSecond disables the global
// bucket; a zero PerHost disables per-host buckets.
type Config struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
	PerHost           float64 `json:"per_host,omitempty" yaml:"per_host,omitempty"`
}

// DefaultConfig returns default pacing.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 10, Burst: 5}
}

// Limiter implements rate limiting for crawling. It is safe for concurrent
// use.
type Limiter struct {
	limiter *rate.Limiter

	mu        sync.RWMutex
	perHost   map[string]*rate.Limiter
	hostRate  rate.Limit
	hostBurst int

	waits  atomic.Int64
	waited atomic.Int64 // nanoseconds
}

// New creates a limiter from cfg.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		limiter:   rate.NewLimiter(limitOf(cfg.RequestsPerSecond), burst),
		perHost:   make(map[string]*rate.Limiter),
		hostRate:  limitOf(cfg.PerHost),
		hostBurst: burst,
	}
	return l
}

// NewLimiter creates a limiter with only a global bucket.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	return New(Config{RequestsPerSecond: requestsPerSecond, Burst: burst})
}

func limitOf(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until the global bucket allows one event or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	l.record(start)
	return err
}

// WaitHost waits on the global bucket and then on host's bucket.
func (l *Limiter) WaitHost(ctx context.Context, host string) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	hl := l.hostLimiter(host)
	if hl == nil {
		return nil
	}
	start := time.Now()
	err := hl.Wait(ctx)
	l.record(start)
	return err
}

func (l *Limiter) record(start time.Time) {
	l.waits.Add(1)
	l.waited.Add(int64(time.Since(start)))
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	host = strings.ToLower(host)

	l.mu.RLock()
	hl, ok := l.perHost[host]
	hostRate := l.hostRate
	l.mu.RUnlock()
	if ok {
		return hl
	}
	if hostRate == rate.Inf {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if hl, ok := l.perHost[host]; ok {
		return hl
	}
	hl = rate.NewLimiter(l.hostRate, l.hostBurst)
	l.perHost[host] = hl
	return hl
}

// Host returns a waiter bound to host.
func (l *Limiter) Host(host string) HostWaiter {
	return HostWaiter{l: l, host: host}
}

// HostWaiter waits on one host's bucket.
type HostWaiter struct {
	l    *Limiter
	host string
}

// Wait implements the fetch and visitor pacing interface.
func (h HostWaiter) Wait(ctx context.Context) error {
	return h.l.WaitHost(ctx, h.host)
}

// SetHostRate sets a custom rate for one host.
func (l *Limiter) SetHostRate(host string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perHost[strings.ToLower(host)] = rate.NewLimiter(limitOf(requestsPerSecond), burst)
}

// Allow reports whether an event may happen now without waiting.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SetRate updates the global rate.
func (l *Limiter) SetRate(requestsPerSecond float64, burst int) {
	l.limiter.SetLimit(limitOf(requestsPerSecond))
	l.limiter.SetBurst(burst)
}

// Rate returns the global rate; +Inf when unlimited.
func (l *Limiter) Rate() float64 {
	limit := l.limiter.Limit()
	if limit == rate.Inf {
		return math.Inf(1)
	}
	return float64(limit)
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	hosts := len(l.perHost)
	l.mu.RUnlock()

	return LimiterStats{
		HostCount:    hosts,
		Rate:         l.statsRate(),
		Burst:        l.limiter.Burst(),
		Waits:        l.waits.Load(),
		TotalWaiting: time.Duration(l.waited.Load()),
	}
}

// statsRate is Rate with 0 for unlimited, which JSON can carry.
func (l *Limiter) statsRate() float64 {
	if r := l.Rate(); !math.IsInf(r, 1) {
		return r
	}
	return 0
}

// LimiterStats contains rate limiter statistics. Rate is 0 when unlimited.
type LimiterStats struct {
	HostCount    int           `json:"host_count"`
	Rate         float64       `json:"rate"`
	Burst        int           `json:"burst"`
	Waits        int64         `json:"waits"`
	TotalWaiting time.Duration `json:"total_waiting"`
}

// AdaptiveRateLimiter slows navigations down when too many fail and speeds
// them back up when failures stop.
type AdaptiveRateLimiter struct {
	*Limiter
	mu           sync.Mutex
	minRate      float64
	maxRate      float64
	currentRate  float64
	burst        int
	errorCount   int
	successCount int
	windowSize   int
}

// NewAdaptiveRateLimiter creates a new adaptive rate limiter.
func NewAdaptiveRateLimiter(minRate, maxRate float64, burst int) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		Limiter:     NewLimiter(maxRate, burst),
		minRate:     minRate,
		maxRate:     maxRate,
		currentRate: maxRate,
		burst:       burst,
		windowSize:  100,
	}
}

// SetWindow sets how many outcomes are collected before adjusting.
func (a *AdaptiveRateLimiter) SetWindow(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > 0 {
		a.windowSize = n
	}
}

// Record counts one outcome.
func (a *AdaptiveRateLimiter) Record(err error) {
	if err != nil {
		a.RecordError()
		return
	}
	a.RecordSuccess()
}

// RecordSuccess records a successful request.
func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.checkAndAdjust()
}

// RecordError records a failed request.
func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.checkAndAdjust()
}

// checkAndAdjust adjusts the rate based on success/error ratio.
func (a *AdaptiveRateLimiter) checkAndAdjust() {
	total := a.successCount + a.errorCount
	if total < a.windowSize {
		return
	}

	errorRate := float64(a.errorCount) / float64(total)

	if errorRate > 0.1 {
		a.currentRate = a.currentRate * 0.8
		if a.currentRate < a.minRate {
			a.currentRate = a.minRate
		}
	} else if errorRate < 0.01 {
		a.currentRate = a.currentRate * 1.1
		if a.currentRate > a.maxRate {
			a.currentRate = a.maxRate
		}
	}

	a.SetRate(a.currentRate, a.burst)

	a.successCount = 0
	a.errorCount = 0
}

// CurrentRate returns the current rate.
func (a *AdaptiveRateLimiter) CurrentRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
