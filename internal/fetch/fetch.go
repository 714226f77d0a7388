// Package fetch downloads same-origin script bodies for the analyzers.
package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/ReconCrawler/internal/errors"
)

// Waiter paces outgoing requests.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Config holds configuration for the script client.
type Config struct {
	Timeout         time.Duration
	MaxBytes        int64
	MaxConnsPerHost int
	UserAgent       string
	SkipTLSVerify   bool
	Retry           errors.RetryConfig
}

// DefaultConfig returns defaults sized for script bundles.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		MaxBytes:        2 * 1024 * 1024,
		MaxConnsPerHost: 8,
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		SkipTLSVerify:   true,
		Retry:           errors.DefaultRetryConfig(),
	}
}

// Client fetches scripts with decoding, a size cap and retry.
type Client struct {
	client  *http.Client
	cfg     Config
	retrier *errors.Retrier
	limiter Waiter
	mu      sync.RWMutex
	headers map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithLimiter paces every request through w.
func WithLimiter(w Waiter) Option {
	return func(c *Client) { c.limiter = w }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		ForceAttemptHTTP2:   true,
		// Encoding is negotiated and decoded here so brotli is accepted too.
		DisableCompression: true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
	}

	c := &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		cfg:     cfg,
		retrier: errors.NewRetrier(cfg.Retry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHeaders sets headers sent with every request.
func (c *Client) SetHeaders(headers map[string]string) {
	c.mu.Lock()
	c.headers = headers
	c.mu.Unlock()
}

// Result is one fetched script.
type Result struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        string
	Truncated   bool
	Duration    time.Duration
}

// Get fetches targetURL once.
func (c *Client) Get(ctx context.Context, targetURL string) (*Result, error) {
	start := time.Now()
	result := &Result{URL: targetURL}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return result, errors.NewCancelledError(targetURL, "rate_limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return result, errors.NewCrawlError(errors.Unknown, targetURL, "request_creation", "failed to create request", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	c.mu.RLock()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.mu.RUnlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return result, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.FinalURL = resp.Request.URL.String()
	result.ContentType = resp.Header.Get("Content-Type")

	if err := statusError(resp.StatusCode, targetURL); err != nil {
		return result, err
	}

	body, truncated, err := c.readBody(resp)
	if err != nil {
		return result, errors.NewNetworkError(targetURL, "body_read", err)
	}
	result.Body = string(body)
	result.Truncated = truncated
	result.Duration = time.Since(start)
	return result, nil
}

// GetWithRetry fetches targetURL, retrying network failures and 5xx/429
// responses with backoff.
func (c *Client) GetWithRetry(ctx context.Context, targetURL string) (*Result, error) {
	var result *Result
	rr := c.retrier.Do(ctx, "fetch_script", targetURL, func(ctx context.Context) error {
		var err error
		result, err = c.Get(ctx, targetURL)
		return err
	})
	if !rr.Success {
		return result, rr.LastError
	}
	return result, nil
}

// FetchAll fetches urls with at most limit requests in flight. Failed
// fetches are reported through onError when it is non-nil and omitted
// from the result, which keeps the input order.
func (c *Client) FetchAll(ctx context.Context, urls []string, limit int, onError func(url string, err error)) []*Result {
	if limit <= 0 {
		limit = 4
	}
	out := make([]*Result, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := c.GetWithRetry(ctx, u)
			if err != nil {
				if onError != nil {
					onError(u, err)
				}
				return nil
			}
			out[i] = res
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*Result, 0, len(out))
	for _, r := range out {
		if r != nil {
			results = append(results, r)
		}
	}
	return results
}

func statusError(code int, url string) error {
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return errors.NewCrawlError(errors.Network, url, "status", fmt.Sprintf("HTTP %d", code), nil)
	case code >= 400:
		return errors.NewCrawlError(errors.Unknown, url, "status", fmt.Sprintf("HTTP %d", code), nil)
	}
	return nil
}

// readBody decodes the response and reads up to MaxBytes. Longer bodies
// are cut and reported as truncated.
func (c *Client) readBody(resp *http.Response) ([]byte, bool, error) {
	reader := io.Reader(resp.Body)

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, c.cfg.MaxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > c.cfg.MaxBytes {
		return body[:c.cfg.MaxBytes], true, nil
	}
	return body, false, nil
}
