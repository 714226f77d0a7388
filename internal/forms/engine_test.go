package forms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
	"github.com/PentesterFlow/ReconCrawler/internal/browser/browsertest"
)

var errNoElement = errors.New("element not found")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Synthetic = false
	cfg.ConfirmTimeout = 20 * time.Millisecond
	cfg.SettleDelay = time.Millisecond
	cfg.ClickTimeout = 10 * time.Millisecond
	return cfg
}

func textField(name string, index int) Field {
	return Field{Tag: "input", Type: "text", Name: name, Index: index, Visible: true}
}

func form(index int, action, method string, fields ...Field) Descriptor {
	return Descriptor{Kind: KindForm, ContainerIndex: index, Action: action, Method: method, Fields: fields}
}

type fillRecorder struct {
	mu     sync.Mutex
	values map[string]string
	calls  int
}

func (r *fillRecorder) handler(fields map[int]string) browsertest.Handler {
	return func(args []interface{}) (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls++
		idx := args[1].(int)
		r.values[fields[idx]] = args[2].(string)
		return map[string]interface{}{"ok": true}, nil
	}
}

func newRecorder() *fillRecorder {
	return &fillRecorder{values: make(map[string]string)}
}

// setup opens a fake page at pageURL that reports descs on discovery.
func setup(t *testing.T, cfg Config, pageURL string, descs []Descriptor) (*Engine, *browsertest.Browser, *browsertest.Page) {
	t.Helper()
	b := &browsertest.Browser{}
	e := NewEngine(cfg, b, nil)

	p, err := b.Open(context.Background())
	require.NoError(t, err)
	page := p.(*browsertest.Page)
	page.CurrentURL = pageURL
	page.Returns(discoverScript, descs)
	return e, b, page
}

// =============================================================================
// Discovery and dedup
// =============================================================================

func TestEngine_DuplicateSignaturesOnPage(t *testing.T) {
	email := Field{Tag: "input", Type: "email", Name: "email", Index: 0, Visible: true}
	descs := []Descriptor{
		form(0, "", "post", email),
		form(1, "", "post", email),
		form(2, "", "post", email),
	}
	e, _, page := setup(t, testConfig(), "http://a.test/", descs)
	rec := newRecorder()
	page.Handle(fillScript, rec.handler(map[int]string{0: "email"}))
	page.OnClick = func(*browsertest.Page, string) error { return errNoElement }

	res, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)

	assert.Equal(t, 1, res.FieldsProcessed)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 1, page.EvalCount(fillScript))
	assert.Equal(t, "http://a.test/", res.Attempts[0].Form.Action)
	assert.Equal(t, "POST", res.Attempts[0].Form.Method)
}

func TestEngine_GlobalDedupAcrossPages(t *testing.T) {
	descs := []Descriptor{form(0, "/login", "POST", textField("user", 0))}
	submitted := NewSubmittedSet()

	e, b, first := setup(t, testConfig(), "http://a.test/one", descs)
	first.OnClick = func(*browsertest.Page, string) error { return nil }

	res, err := e.Process(context.Background(), first, submitted)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Submitted)
	assert.True(t, submitted.Has("POST:http://a.test/login:input:text:user"))

	p, err := b.Open(context.Background())
	require.NoError(t, err)
	second := p.(*browsertest.Page)
	second.CurrentURL = "http://a.test/two"
	second.Returns(discoverScript, descs)

	res, err = e.Process(context.Background(), second, submitted)
	require.NoError(t, err)
	assert.Empty(t, res.Attempts)
	assert.False(t, res.Submitted)
	assert.Equal(t, 0, second.EvalCount(fillScript))
	assert.Equal(t, 0, second.ClickCount())
}

func TestEngine_SPARegionDefaults(t *testing.T) {
	region := Descriptor{Kind: KindSPARegion, ContainerIndex: 0, Fields: []Field{textField("q", 0)}}
	cfg := testConfig()
	cfg.Submit = false
	e, _, page := setup(t, cfg, "http://a.test/app", []Descriptor{region})

	descs, err := e.Discover(context.Background(), page, "http://a.test/app")
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "POST", descs[0].Method)
	assert.Equal(t, "http://a.test/app", descs[0].Action)
	assert.Equal(t, "input:text:q", descs[0].Signature)
}

func TestEngine_NoForms(t *testing.T) {
	e, _, page := setup(t, testConfig(), "http://a.test/", nil)

	res, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestEngine_DiscoverError(t *testing.T) {
	e, _, page := setup(t, testConfig(), "http://a.test/", nil)
	page.Handle(discoverScript, func([]interface{}) (interface{}, error) {
		return nil, errors.New("execution context destroyed")
	})

	_, err := e.Process(context.Background(), page, NewSubmittedSet())
	assert.Error(t, err)
}

// =============================================================================
// Filling
// =============================================================================

func TestEngine_SkipsUneditableFields(t *testing.T) {
	fields := []Field{
		textField("a", 0),
		{Tag: "input", Type: "text", Name: "b", Index: 1, Disabled: true, Visible: true},
		{Tag: "input", Type: "text", Name: "c", Index: 2, ReadOnly: true, Visible: true},
		{Tag: "input", Type: "text", Name: "d", Index: 3},
		textField("e", 4),
	}
	cfg := testConfig()
	cfg.Submit = false
	e, _, page := setup(t, cfg, "http://a.test/", []Descriptor{form(0, "", "", fields...)})
	rec := newRecorder()
	page.Handle(fillScript, rec.handler(map[int]string{0: "a", 1: "b", 2: "c", 3: "d", 4: "e"}))

	res, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)

	assert.Equal(t, 2, res.FieldsProcessed)
	assert.ElementsMatch(t, []string{"a", "e"}, keys(rec.values))
	assert.False(t, res.Submitted)
	assert.Equal(t, 0, page.ClickCount())
}

func TestEngine_FillFailuresNotCounted(t *testing.T) {
	cfg := testConfig()
	cfg.Submit = false
	e, _, page := setup(t, cfg, "http://a.test/", []Descriptor{form(0, "", "", textField("a", 0), textField("b", 1))})
	page.Handle(fillScript, func(args []interface{}) (interface{}, error) {
		if args[1].(int) == 0 {
			return map[string]interface{}{"ok": false, "reason": "field not found"}, nil
		}
		return map[string]interface{}{"ok": true}, nil
	})

	res, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)
	assert.Equal(t, 1, res.FieldsProcessed)
}

func TestEngine_CustomValues(t *testing.T) {
	cfg := testConfig()
	cfg.Submit = false
	cfg.CustomValues = map[string]string{"Email": "me@corp.test"}
	cfg.FallbackValue = "fallback"
	fields := []Field{
		{Tag: "input", Type: "email", Name: "email", Index: 0, Visible: true},
		textField("comment", 1),
	}
	e, _, page := setup(t, cfg, "http://a.test/", []Descriptor{form(0, "", "", fields...)})
	rec := newRecorder()
	page.Handle(fillScript, rec.handler(map[int]string{0: "email", 1: "comment"}))

	_, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)

	assert.Equal(t, "me@corp.test", rec.values["email"])
	assert.Equal(t, "fallback", rec.values["comment"])
}

func TestEngine_SyntheticPoolSharedWithinCall(t *testing.T) {
	cfg := testConfig()
	cfg.Submit = false
	cfg.Synthetic = true
	fields := []Field{
		{Tag: "input", Type: "email", Name: "email", Index: 0, Visible: true},
		{Tag: "input", Type: "text", Name: "confirm_email", Index: 1, Visible: true},
		{Tag: "input", Type: "tel", Name: "mobile", Index: 2, Visible: true},
	}
	e, _, page := setup(t, cfg, "http://a.test/", []Descriptor{form(0, "", "", fields...)})
	rec := newRecorder()
	page.Handle(fillScript, rec.handler(map[int]string{0: "email", 1: "confirm_email", 2: "mobile"}))

	res, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)
	require.Equal(t, 3, res.FieldsProcessed)

	assert.Contains(t, rec.values["email"], "@")
	assert.Equal(t, rec.values["email"], rec.values["confirm_email"])
	assert.Len(t, rec.values["mobile"], 10)
}

// =============================================================================
// Submission
// =============================================================================

func TestEngine_SubmitConfirmedByPost(t *testing.T) {
	e, _, page := setup(t, testConfig(), "http://a.test/", []Descriptor{form(0, "/login", "POST", textField("user", 0))})
	page.OnClick = func(p *browsertest.Page, selector string) error {
		p.EmitRequest(browser.RequestEvent{URL: "http://a.test/login", Method: "POST"})
		return nil
	}

	res, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].Submitted)
	assert.True(t, res.Attempts[0].Confirmed)
	assert.Contains(t, page.Clicked[0], `[data-rc-container="form-0"] button[type=submit]`)
}

func TestEngine_CancelDuringSettleStops(t *testing.T) {
	cfg := testConfig()
	cfg.SettleDelay = time.Hour
	descs := []Descriptor{
		form(0, "/login", "POST", textField("user", 0)),
		form(1, "/search", "GET", textField("q", 0)),
	}
	e, _, page := setup(t, cfg, "http://a.test/", descs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page.OnClick = func(p *browsertest.Page, selector string) error {
		p.EmitRequest(browser.RequestEvent{URL: "http://a.test/login", Method: "POST"})
		cancel()
		return nil
	}

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		defer close(done)
		res, err = e.Process(ctx, page, NewSubmittedSet())
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Process() did not return after cancellation")
	}

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Attempts, 1, "the second form must not be attempted")
	assert.True(t, res.Attempts[0].Submitted)
	assert.Equal(t, 1, page.ClickCount())
}

func TestEngine_AnalyticsDoesNotConfirm(t *testing.T) {
	e, _, page := setup(t, testConfig(), "http://a.test/", []Descriptor{form(0, "", "", textField("q", 0))})
	page.OnClick = func(p *browsertest.Page, selector string) error {
		p.EmitRequest(browser.RequestEvent{URL: "https://www.google-analytics.com/g/collect", Method: "POST"})
		return nil
	}

	res, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)
	assert.True(t, res.Submitted)
	assert.False(t, res.Attempts[0].Confirmed)
}

func TestEngine_SubmitFallsBackToVocabulary(t *testing.T) {
	region := Descriptor{Kind: KindSPARegion, Fields: []Field{textField("q", 0)}}
	e, _, page := setup(t, testConfig(), "http://a.test/", []Descriptor{region})
	page.OnClick = func(p *browsertest.Page, selector string) error {
		if strings.Contains(selector, submitAttr) {
			return nil
		}
		return errNoElement
	}
	page.Handle(markSubmitScript, func(args []interface{}) (interface{}, error) {
		assert.Equal(t, `[data-rc-container="spa-region-0"]`, args[0])
		return true, nil
	})

	res, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)
	assert.True(t, res.Submitted)
	assert.False(t, res.Attempts[0].Confirmed)
	require.Len(t, page.Clicked, 2)
	assert.NotContains(t, page.Clicked[0], "button:not([type])")
	assert.Equal(t, `[data-rc-container="spa-region-0"] [data-rc-submit]`, page.Clicked[1])
}

func TestEngine_NoSubmitControl(t *testing.T) {
	e, _, page := setup(t, testConfig(), "http://a.test/", []Descriptor{form(0, "", "", textField("q", 0))})
	page.OnClick = func(*browsertest.Page, string) error { return errNoElement }
	page.Returns(markSubmitScript, false)
	page.Returns(fillScript, map[string]interface{}{"ok": true})

	res, err := e.Process(context.Background(), page, NewSubmittedSet())
	require.NoError(t, err)
	assert.False(t, res.Submitted)
	assert.Equal(t, 1, res.FieldsProcessed)
}

// =============================================================================
// Helpers
// =============================================================================

func TestSignature_OrderIndependent(t *testing.T) {
	a := []Field{textField("b", 0), {Tag: "select", Type: "select", ID: "country", Index: 1}}
	b := []Field{{Tag: "select", Type: "select", ID: "country", Index: 0}, textField("b", 1)}

	assert.Equal(t, Signature(a), Signature(b))
	assert.Equal(t, "input:text:b|select:select:country", Signature(a))
}

func TestResolveAction(t *testing.T) {
	tests := []struct {
		page, action, want string
	}{
		{"http://a.test/x/y", "", "http://a.test/x/y"},
		{"http://a.test/x/y", "/login", "http://a.test/login"},
		{"http://a.test/x/y", "save", "http://a.test/x/save"},
		{"http://a.test/x/y", "https://b.test/p#frag", "https://b.test/p"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveAction(tt.page, tt.action), "action %q", tt.action)
	}
}

func TestIsAnalytics(t *testing.T) {
	assert.True(t, isAnalytics("https://www.googletagmanager.com/gtm.js"))
	assert.True(t, isAnalytics("https://a.test/g/collect"))
	assert.False(t, isAnalytics("https://a.test/login"))
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
