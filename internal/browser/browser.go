// Package browser defines the browsing capability the crawl core drives and
// its go-rod implementation.
package browser

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ysmood/gson"
)

// Page is one open tab in the shared browsing context.
type Page interface {
	// ID identifies the tab; request and response events carry it.
	ID() string
	// Navigate loads url and waits for the load event, bounded by timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Evaluate runs a JavaScript function expression with args and returns
	// its JSON result. Promises are awaited.
	Evaluate(ctx context.Context, script string, args ...interface{}) (gson.JSON, error)
	WaitForTimeout(ctx context.Context, d time.Duration) error
	// Click clicks the first element matching selector, bounded by timeout.
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Content(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// URL returns the page's current location.
	URL(ctx context.Context) (string, error)
	// JSONResponses drains JSON response bodies captured since the last call.
	JSONResponses() []JSONResponse
	Close() error
}

// Browser is the shared browsing context. Request and response callbacks
// are context-level and observe every page the browser opens.
type Browser interface {
	Open(ctx context.Context) (Page, error)
	OnRequest(fn func(RequestEvent))
	OnResponse(fn func(ResponseEvent))
	// SetSession installs cookies in the context and sends headers from
	// every page opened afterwards.
	SetSession(ctx context.Context, s Session) error
	// Cookies returns the context's cookies.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	Close() error
}

// Session is authentication state shared by every page.
type Session struct {
	Headers map[string]string
	Cookies []*http.Cookie
}

// RequestEvent is an outgoing request observed on any page.
type RequestEvent struct {
	PageID       string
	URL          string
	Method       string
	Headers      map[string]string
	Body         string
	ResourceType string
	Navigation   bool // top-level document request
	Timestamp    time.Time
}

// ResponseEvent is an incoming response observed on any page.
type ResponseEvent struct {
	PageID    string
	URL       string
	Method    string
	Status    int
	Headers   map[string]string
	MimeType  string
	Timestamp time.Time
}

// JSONResponse is a captured JSON response body.
type JSONResponse struct {
	URL  string
	Body string
}

// Config defines browser configuration.
type Config struct {
	Headless          bool          `json:"headless" yaml:"headless"`
	Path              string        `json:"path,omitempty" yaml:"path,omitempty"`
	UserAgent         string        `json:"user_agent" yaml:"user_agent"`
	ViewportWidth     int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `json:"viewport_height" yaml:"viewport_height"`
	IgnoreHTTPSErrors bool          `json:"ignore_https_errors" yaml:"ignore_https_errors"`
	MaxTabs           int           `json:"max_tabs" yaml:"max_tabs"`
	OpenTimeout       time.Duration `json:"open_timeout" yaml:"open_timeout"`
	// MaxJSONBodies caps captured JSON bodies per page.
	MaxJSONBodies int `json:"max_json_bodies" yaml:"max_json_bodies"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		ViewportWidth:     1366,
		ViewportHeight:    768,
		IgnoreHTTPSErrors: true,
		MaxTabs:           4,
		OpenTimeout:       15 * time.Second,
		MaxJSONBodies:     25,
	}
}

// Decode unmarshals an evaluation result into v.
func Decode(j gson.JSON, v interface{}) error {
	return json.Unmarshal([]byte(j.JSON("", "")), v)
}
