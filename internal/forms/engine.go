// Package forms discovers, fills and submits forms and SPA pseudo-forms.
package forms

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ysmood/gson"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
	"github.com/PentesterFlow/ReconCrawler/internal/logger"
)

// DefaultFallbackValue is typed when no other value applies.
const DefaultFallbackValue = "test"

// Config configures form processing.
type Config struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	Submit    bool `json:"submit" yaml:"submit"`
	Synthetic bool `json:"synthetic" yaml:"synthetic"`
	// CustomValues maps lowercase field names or ids to values.
	CustomValues   map[string]string `json:"custom_values,omitempty" yaml:"custom_values,omitempty"`
	FallbackValue  string            `json:"fallback_value" yaml:"fallback_value"`
	ConfirmTimeout time.Duration     `json:"confirm_timeout" yaml:"confirm_timeout"`
	SettleDelay    time.Duration     `json:"settle_delay" yaml:"settle_delay"`
	ClickTimeout   time.Duration     `json:"click_timeout" yaml:"click_timeout"`
	EvalTimeout    time.Duration     `json:"eval_timeout" yaml:"eval_timeout"`
}

// DefaultConfig returns default form settings.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Submit:         true,
		Synthetic:      true,
		FallbackValue:  DefaultFallbackValue,
		ConfirmTimeout: 3 * time.Second,
		SettleDelay:    time.Second,
		ClickTimeout:   2 * time.Second,
		EvalTimeout:    5 * time.Second,
	}
}

// RequestSource delivers request events for every page of the browsing
// context.
type RequestSource interface {
	OnRequest(fn func(browser.RequestEvent))
}

// analyticsHosts never confirm a submission.
var analyticsHosts = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"facebook.com",
	"segment.io",
	"hotjar.com",
	"mixpanel.com",
	"sentry.io",
}

// Engine processes forms on pages.
type Engine struct {
	cfg    Config
	values *Values
	log    *logger.Logger

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

// NewEngine creates an engine and subscribes it to request events.
func NewEngine(cfg Config, events RequestSource, log *logger.Logger) *Engine {
	e := &Engine{
		cfg:     cfg,
		values:  NewValues(cfg.CustomValues, cfg.Synthetic, cfg.FallbackValue),
		log:     logger.OrNop(log).WithComponent("forms"),
		waiters: make(map[string]chan struct{}),
	}
	if events != nil {
		events.OnRequest(e.observe)
	}
	return e
}

func (e *Engine) observe(ev browser.RequestEvent) {
	if !strings.EqualFold(ev.Method, "POST") && !ev.Navigation {
		return
	}
	if isAnalytics(ev.URL) {
		return
	}
	e.mu.Lock()
	ch, ok := e.waiters[ev.PageID]
	if ok {
		delete(e.waiters, ev.PageID)
	}
	e.mu.Unlock()
	if ok {
		close(ch)
	}
}

func isAnalytics(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range analyticsHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return strings.HasSuffix(u.Path, "/collect")
}

func (e *Engine) watch(pageID string) <-chan struct{} {
	ch := make(chan struct{})
	e.mu.Lock()
	e.waiters[pageID] = ch
	e.mu.Unlock()
	return ch
}

func (e *Engine) unwatch(pageID string) {
	e.mu.Lock()
	delete(e.waiters, pageID)
	e.mu.Unlock()
}

// Process discovers the forms on page, fills each one not yet in
// submitted and submits it when enabled.
func (e *Engine) Process(ctx context.Context, page browser.Page, submitted *SubmittedSet) (Result, error) {
	var res Result

	uctx, cancel := e.bounded(ctx)
	pageURL, err := page.URL(uctx)
	cancel()
	if err != nil {
		return res, fmt.Errorf("read page url: %w", err)
	}

	descs, err := e.Discover(ctx, page, pageURL)
	if err != nil {
		return res, err
	}
	if len(descs) == 0 {
		return res, nil
	}

	pool := e.values.NewPool()
	seen := make(map[string]bool, len(descs))

	for _, d := range descs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if seen[d.Signature] {
			e.log.Debugf("Skipping duplicate %s %d on %s", d.Kind, d.ContainerIndex, pageURL)
			continue
		}
		seen[d.Signature] = true

		key := d.Key()
		if !submitted.TryAdd(key) {
			e.log.Debugf("Form %s already attempted", key)
			continue
		}

		attempt, err := e.processOne(ctx, page, pageURL, d, pool)
		res.FieldsProcessed += attempt.FieldsProcessed
		res.Submitted = res.Submitted || attempt.Submitted
		res.Attempts = append(res.Attempts, attempt)
		e.log.FormEvent(pageURL, key, attempt.FieldsProcessed, attempt.Submitted)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// Discover returns the page's forms, or its SPA regions when it has no
// forms. Signatures, methods and actions are filled in.
func (e *Engine) Discover(ctx context.Context, page browser.Page, pageURL string) ([]Descriptor, error) {
	j, err := e.eval(ctx, page, discoverScript)
	if err != nil {
		return nil, fmt.Errorf("discover forms: %w", err)
	}
	var descs []Descriptor
	if err := browser.Decode(j, &descs); err != nil {
		return nil, fmt.Errorf("decode forms: %w", err)
	}

	for i := range descs {
		d := &descs[i]
		d.Signature = Signature(d.Fields)
		d.Method = strings.ToUpper(strings.TrimSpace(d.Method))
		if d.Method == "" {
			if d.Kind == KindSPARegion {
				d.Method = "POST"
			} else {
				d.Method = "GET"
			}
		}
		d.Action = resolveAction(pageURL, d.Action)
	}
	return descs, nil
}

// Signature is the sorted tag:type:name-or-id list of the fields.
func Signature(fields []Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Tag+":"+f.Type+":"+f.Ident())
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func resolveAction(pageURL, action string) string {
	action = strings.TrimSpace(action)
	if action == "" {
		return pageURL
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return action
	}
	ref, err := url.Parse(action)
	if err != nil {
		return pageURL
	}
	u := base.ResolveReference(ref)
	u.Fragment = ""
	return u.String()
}

func scopeSelector(d Descriptor) string {
	return fmt.Sprintf(`[%s="%s-%d"]`, containerAttr, d.Kind, d.ContainerIndex)
}

// processOne fills and submits one form. Its error is only ever the
// context's; the attempt is valid either way.
func (e *Engine) processOne(ctx context.Context, page browser.Page, pageURL string, d Descriptor, pool Pool) (Attempt, error) {
	attempt := Attempt{
		PageURL:   pageURL,
		Key:       d.Key(),
		Form:      d,
		Timestamp: time.Now(),
	}
	scope := scopeSelector(d)

	for _, f := range d.Fields {
		if f.Disabled || f.ReadOnly || !f.Visible {
			e.log.Debugf("Skipping field %s (disabled=%t readonly=%t visible=%t)", f.Ident(), f.Disabled, f.ReadOnly, f.Visible)
			continue
		}
		ok, err := e.fill(ctx, page, scope, f, e.values.Resolve(f, pool))
		if err != nil {
			e.log.Debugf("Fill %s failed: %v", f.Ident(), err)
			continue
		}
		if ok {
			attempt.FieldsProcessed++
		}
	}

	if !e.cfg.Submit {
		return attempt, nil
	}

	done := e.watch(page.ID())
	defer e.unwatch(page.ID())

	if !e.submit(ctx, page, d, scope) {
		e.log.Debugf("No submit control for %s", attempt.Key)
		return attempt, nil
	}
	attempt.Submitted = true

	timer := time.NewTimer(e.cfg.ConfirmTimeout)
	defer timer.Stop()
	select {
	case <-done:
		attempt.Confirmed = true
		if err := page.WaitForTimeout(ctx, e.cfg.SettleDelay); err != nil {
			return attempt, err
		}
	case <-timer.C:
		e.log.Debugf("No request after submitting %s, likely client-side only", attempt.Key)
	case <-ctx.Done():
		return attempt, ctx.Err()
	}
	return attempt, nil
}

type fillResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

func (e *Engine) fill(ctx context.Context, page browser.Page, scope string, f Field, value string) (bool, error) {
	j, err := e.eval(ctx, page, fillScript, scope, f.Index, value)
	if err != nil {
		return false, err
	}
	var r fillResult
	if err := browser.Decode(j, &r); err != nil {
		return false, err
	}
	if !r.OK && r.Reason != "" {
		e.log.Debugf("Field %s not filled: %s", f.Ident(), r.Reason)
	}
	return r.OK, nil
}

// submit clicks an explicit submit control, or failing that a control
// whose text matches the submit vocabulary.
func (e *Engine) submit(ctx context.Context, page browser.Page, d Descriptor, scope string) bool {
	explicit := []string{scope + " button[type=submit]", scope + " input[type=submit]", scope + " input[type=image]"}
	if d.Kind == KindForm {
		explicit = append(explicit, scope+" button:not([type])")
	}
	if err := page.Click(ctx, strings.Join(explicit, ", "), e.cfg.ClickTimeout); err == nil {
		return true
	}

	j, err := e.eval(ctx, page, markSubmitScript, scope, submitWords)
	if err != nil {
		return false
	}
	var found bool
	if err := browser.Decode(j, &found); err != nil || !found {
		return false
	}
	return page.Click(ctx, scope+" ["+submitAttr+"]", e.cfg.ClickTimeout) == nil
}

func (e *Engine) eval(ctx context.Context, page browser.Page, script string, args ...interface{}) (gson.JSON, error) {
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	return page.Evaluate(ctx, script, args...)
}

func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	d := e.cfg.EvalTimeout
	if d <= 0 {
		d = DefaultConfig().EvalTimeout
	}
	return context.WithTimeout(ctx, d)
}
