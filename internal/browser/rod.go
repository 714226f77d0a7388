package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

const maxJSONBodyBytes = 1 << 20

// Rod drives a headless Chrome through go-rod.
type Rod struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	config   Config
	slots    chan struct{}

	mu         sync.RWMutex
	onRequest  []func(RequestEvent)
	onResponse []func(ResponseEvent)
	headers    []string
}

// Launch starts a browser and connects to it.
func Launch(config Config) (*Rod, error) {
	l := launcher.New().Headless(config.Headless)
	if config.Path != "" {
		l = l.Bin(config.Path)
	}
	if config.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors", "true")
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	if config.MaxTabs < 1 {
		config.MaxTabs = 1
	}
	return &Rod{
		browser:  b,
		launcher: l,
		config:   config,
		slots:    make(chan struct{}, config.MaxTabs),
	}, nil
}

// OnRequest registers a context-level request callback.
func (r *Rod) OnRequest(fn func(RequestEvent)) {
	r.mu.Lock()
	r.onRequest = append(r.onRequest, fn)
	r.mu.Unlock()
}

// OnResponse registers a context-level response callback.
func (r *Rod) OnResponse(fn func(ResponseEvent)) {
	r.mu.Lock()
	r.onResponse = append(r.onResponse, fn)
	r.mu.Unlock()
}

func (r *Rod) emitRequest(ev RequestEvent) {
	r.mu.RLock()
	fns := r.onRequest
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (r *Rod) emitResponse(ev ResponseEvent) {
	r.mu.RLock()
	fns := r.onResponse
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Open creates a new tab. It blocks while MaxTabs tabs are open.
func (r *Rod) Open(ctx context.Context) (Page, error) {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b := r.browser
	if r.config.OpenTimeout > 0 {
		b = b.Timeout(r.config.OpenTimeout)
	}
	p, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		<-r.slots
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	pageCtx, cancel := context.WithCancel(context.Background())
	p = p.Context(pageCtx)

	pg := &rodPage{
		owner:   r,
		page:    p,
		cancel:  cancel,
		methods: make(map[proto.NetworkRequestID]string),
		pending: make(map[proto.NetworkRequestID]string),
	}

	if err := (proto.NetworkEnable{}).Call(p); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("failed to enable network domain: %w", err)
	}
	_ = p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  r.config.ViewportWidth,
		Height: r.config.ViewportHeight,
	})
	if r.config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: r.config.UserAgent}.Call(p)
	}
	r.mu.RLock()
	headers := r.headers
	r.mu.RUnlock()
	if len(headers) > 0 {
		if _, err := p.SetExtraHeaders(headers); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("failed to set session headers: %w", err)
		}
	}

	go p.EachEvent(pg.handleRequest, pg.handleResponse, pg.handleLoadingFinished)()

	return pg, nil
}

// SetSession installs s for the whole browsing context.
func (r *Rod) SetSession(ctx context.Context, s Session) error {
	dict := make([]string, 0, 2*len(s.Headers))
	for k, v := range s.Headers {
		dict = append(dict, k, v)
	}
	r.mu.Lock()
	r.headers = dict
	r.mu.Unlock()

	if len(s.Cookies) == 0 {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	if err := r.browser.Context(ctx).SetCookies(params); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// Cookies returns every cookie in the browsing context.
func (r *Rod) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	cookies, err := r.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

// Close closes the browser and the launched process.
func (r *Rod) Close() error {
	err := r.browser.Close()
	r.launcher.Kill()
	return err
}

type rodPage struct {
	owner  *Rod
	page   *rod.Page
	cancel context.CancelFunc
	once   sync.Once

	mu      sync.Mutex
	methods map[proto.NetworkRequestID]string
	pending map[proto.NetworkRequestID]string // JSON responses awaiting their body
	bodies  []JSONResponse
	taken   int
}

func (p *rodPage) ID() string {
	return string(p.page.TargetID)
}

func (p *rodPage) handleRequest(e *proto.NetworkRequestWillBeSent) {
	if e.Request == nil {
		return
	}
	p.mu.Lock()
	p.methods[e.RequestID] = e.Request.Method
	p.mu.Unlock()

	p.owner.emitRequest(RequestEvent{
		PageID:       p.ID(),
		URL:          e.Request.URL,
		Method:       e.Request.Method,
		Headers:      flattenHeaders(e.Request.Headers),
		Body:         e.Request.PostData,
		ResourceType: string(e.Type),
		Navigation:   e.Type == proto.NetworkResourceTypeDocument,
		Timestamp:    time.Now(),
	})
}

func (p *rodPage) handleResponse(e *proto.NetworkResponseReceived) {
	if e.Response == nil {
		return
	}
	p.mu.Lock()
	method := p.methods[e.RequestID]
	delete(p.methods, e.RequestID)
	if strings.Contains(strings.ToLower(e.Response.MIMEType), "json") {
		p.pending[e.RequestID] = e.Response.URL
	}
	p.mu.Unlock()

	if method == "" {
		method = "GET"
	}
	p.owner.emitResponse(ResponseEvent{
		PageID:    p.ID(),
		URL:       e.Response.URL,
		Method:    method,
		Status:    e.Response.Status,
		Headers:   flattenHeaders(e.Response.Headers),
		MimeType:  e.Response.MIMEType,
		Timestamp: time.Now(),
	})
}

func (p *rodPage) handleLoadingFinished(e *proto.NetworkLoadingFinished) {
	p.mu.Lock()
	u, ok := p.pending[e.RequestID]
	delete(p.pending, e.RequestID)
	full := p.taken >= p.owner.config.MaxJSONBodies
	if ok && !full {
		p.taken++
	}
	p.mu.Unlock()
	if !ok || full {
		return
	}

	go func() {
		res, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(p.page)
		if err != nil {
			return
		}
		body := res.Body
		if res.Base64Encoded {
			raw, err := base64.StdEncoding.DecodeString(body)
			if err != nil {
				return
			}
			body = string(raw)
		}
		if len(body) > maxJSONBodyBytes {
			body = body[:maxJSONBodyBytes]
		}
		p.mu.Lock()
		p.bodies = append(p.bodies, JSONResponse{URL: u, Body: body})
		p.mu.Unlock()
	}()
}

func (p *rodPage) JSONResponses() []JSONResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.bodies
	p.bodies = nil
	return out
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	pg := p.page.Context(ctx).Timeout(timeout)
	defer pg.CancelTimeout()

	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *rodPage) Evaluate(ctx context.Context, script string, args ...interface{}) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(script, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func (p *rodPage) WaitForTimeout(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *rodPage) Click(ctx context.Context, selector string, timeout time.Duration) error {
	pg := p.page.Context(ctx).Timeout(timeout)
	defer pg.CancelTimeout()

	el, err := pg.Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) Content(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Close() error {
	var err error
	p.once.Do(func() {
		err = p.page.Close()
		p.cancel()
		<-p.owner.slots
	})
	return err
}

func flattenHeaders(h proto.NetworkHeaders) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}
