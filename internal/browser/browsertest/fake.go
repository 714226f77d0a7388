// Package browsertest provides scripted in-memory implementations of the
// browser interfaces for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ysmood/gson"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
)

// Handler answers one evaluated script.
type Handler func(args []interface{}) (interface{}, error)

// Page is a fake tab. Scripts are answered by exact-text lookup in Scripts;
// unknown scripts evaluate to null.
type Page struct {
	mu sync.Mutex

	PageID     string
	CurrentURL string
	HTML       string
	TitleText  string
	Scripts    map[string]Handler
	// OnNavigate runs on Navigate; it may mutate the page and returns the
	// navigation error.
	OnNavigate func(p *Page, url string) error
	// OnClick runs on Click.
	OnClick func(p *Page, selector string) error
	JSON    []browser.JSONResponse

	Evaluated []string
	Clicked   []string
	Closed    bool

	blocking map[string]bool
	owner    *Browser
}

var _ browser.Page = (*Page)(nil)

// NewPage creates an unattached fake page.
func NewPage(id string) *Page {
	return &Page{PageID: id, Scripts: make(map[string]Handler)}
}

// Handle registers a script handler.
func (p *Page) Handle(script string, h Handler) *Page {
	p.mu.Lock()
	p.Scripts[script] = h
	p.mu.Unlock()
	return p
}

// Blocks makes script hang until the evaluation context is done, like a
// page stuck behind a modal dialog.
func (p *Page) Blocks(script string) *Page {
	p.mu.Lock()
	if p.blocking == nil {
		p.blocking = make(map[string]bool)
	}
	p.blocking[script] = true
	p.mu.Unlock()
	return p
}

// Returns registers a script with a fixed result.
func (p *Page) Returns(script string, v interface{}) *Page {
	return p.Handle(script, func([]interface{}) (interface{}, error) { return v, nil })
}

func (p *Page) ID() string { return p.PageID }

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.CurrentURL = url
	fn := p.OnNavigate
	p.mu.Unlock()
	if fn != nil {
		return fn(p, url)
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string, args ...interface{}) (gson.JSON, error) {
	if err := ctx.Err(); err != nil {
		return gson.JSON{}, err
	}
	p.mu.Lock()
	p.Evaluated = append(p.Evaluated, script)
	h := p.Scripts[script]
	blocks := p.blocking[script]
	p.mu.Unlock()

	if blocks {
		<-ctx.Done()
		return gson.JSON{}, ctx.Err()
	}
	if h == nil {
		return gson.New(nil), nil
	}
	v, err := h(args)
	if err != nil {
		return gson.JSON{}, err
	}
	return gson.New(v), nil
}

// EvalCount returns how often script was evaluated.
func (p *Page) EvalCount(script string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.Evaluated {
		if s == script {
			n++
		}
	}
	return n
}

func (p *Page) WaitForTimeout(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Page) Click(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	p.Clicked = append(p.Clicked, selector)
	fn := p.OnClick
	p.mu.Unlock()
	if fn != nil {
		return fn(p, selector)
	}
	return nil
}

// ClickCount returns the number of clicks recorded.
func (p *Page) ClickCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Clicked)
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TitleText, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CurrentURL, nil
}

func (p *Page) JSONResponses() []browser.JSONResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.JSON
	p.JSON = nil
	return out
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.Closed = true
	p.mu.Unlock()
	return nil
}

// EmitRequest publishes a request event from this page.
func (p *Page) EmitRequest(ev browser.RequestEvent) {
	if p.owner == nil {
		return
	}
	ev.PageID = p.PageID
	p.owner.EmitRequest(ev)
}

// Browser is a fake browsing context.
type Browser struct {
	mu sync.Mutex

	// NewPage builds each opened page; a blank page is used when nil.
	NewPage func(n int) *Page
	OpenErr error
	// Session is the last session installed; Jar is returned by Cookies
	// together with the session cookies.
	Session browser.Session
	Jar     []*http.Cookie

	pages      []*Page
	onRequest  []func(browser.RequestEvent)
	onResponse []func(browser.ResponseEvent)
	closed     bool
}

var _ browser.Browser = (*Browser)(nil)

// ErrClosed is returned by Open after Close.
var ErrClosed = errors.New("browsertest: browser closed")

func (b *Browser) Open(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.OpenErr != nil {
		return nil, b.OpenErr
	}

	n := len(b.pages)
	var p *Page
	if b.NewPage != nil {
		p = b.NewPage(n)
	}
	if p == nil {
		p = NewPage("")
	}
	if p.PageID == "" {
		p.PageID = fmt.Sprintf("page-%d", n)
	}
	if p.Scripts == nil {
		p.Scripts = make(map[string]Handler)
	}
	p.owner = b
	b.pages = append(b.pages, p)
	return p, nil
}

// Pages returns every page opened so far.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Page, len(b.pages))
	copy(out, b.pages)
	return out
}

func (b *Browser) OnRequest(fn func(browser.RequestEvent)) {
	b.mu.Lock()
	b.onRequest = append(b.onRequest, fn)
	b.mu.Unlock()
}

func (b *Browser) OnResponse(fn func(browser.ResponseEvent)) {
	b.mu.Lock()
	b.onResponse = append(b.onResponse, fn)
	b.mu.Unlock()
}

// EmitRequest delivers ev to every request callback.
func (b *Browser) EmitRequest(ev browser.RequestEvent) {
	b.mu.Lock()
	fns := b.onRequest
	b.mu.Unlock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, fn := range fns {
		fn(ev)
	}
}

// EmitResponse delivers ev to every response callback.
func (b *Browser) EmitResponse(ev browser.ResponseEvent) {
	b.mu.Lock()
	fns := b.onResponse
	b.mu.Unlock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, fn := range fns {
		fn(ev)
	}
}

func (b *Browser) SetSession(ctx context.Context, s browser.Session) error {
	b.mu.Lock()
	b.Session = s
	b.mu.Unlock()
	return nil
}

func (b *Browser) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*http.Cookie, 0, len(b.Session.Cookies)+len(b.Jar))
	out = append(out, b.Session.Cookies...)
	return append(out, b.Jar...), nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
