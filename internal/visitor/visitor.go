// Package visitor drives one crawl task through its page stages: navigate,
// settle, collaborator fan-out, interaction, SPA detection, AJAX settling,
// link extraction, enqueue and commit.
//
// Only navigation failures fail a task. Every later stage is isolated: its
// error (or panic) is logged and the stage contributes nothing.
package visitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ysmood/gson"

	"github.com/PentesterFlow/ReconCrawler/internal/analyzer"
	"github.com/PentesterFlow/ReconCrawler/internal/browser"
	"github.com/PentesterFlow/ReconCrawler/internal/errors"
	"github.com/PentesterFlow/ReconCrawler/internal/fetch"
	"github.com/PentesterFlow/ReconCrawler/internal/forms"
	"github.com/PentesterFlow/ReconCrawler/internal/logger"
	"github.com/PentesterFlow/ReconCrawler/internal/results"
	"github.com/PentesterFlow/ReconCrawler/internal/scheduler"
	"github.com/PentesterFlow/ReconCrawler/internal/scope"
)

// Stage names used in logs and metrics.
const (
	StageSettle      = "settle"
	StageCaptcha     = "captcha"
	StagePrepare     = "prepare"
	StageTech        = "tech"
	StageChunks      = "chunks"
	StageForms       = "forms"
	StageEndpoints   = "endpoints"
	StageSecrets     = "secrets"
	StageInteraction = "interaction"
	StageSPA         = "spa"
	StageAJAX        = "ajax"
	StageLinks       = "links"
	StageEnqueue     = "enqueue"
)

// SettleMode selects how a page is given time to render.
type SettleMode string

const (
	SettleIdle  SettleMode = "idle"
	SettleDelay SettleMode = "delay"
)

// Config holds the per-page knobs.
type Config struct {
	NavigationTimeout time.Duration
	MaxDepth          int

	SettleMode  SettleMode
	SettleDelay time.Duration
	IdleTimeout time.Duration

	Scroll       bool
	ScrollSteps  int
	ScrollPause  time.Duration
	ClickExpand  bool
	MaxClicks    int
	ClickTimeout time.Duration

	// EvalTimeout bounds each script evaluation and DOM read on the page.
	EvalTimeout time.Duration

	SPAThreshold int
	AJAXMaxWait  time.Duration
	PollInterval time.Duration

	// ChunkEvery runs chunk analysis on every Nth page; 0 disables it.
	ChunkEvery    int
	MaxScripts    int
	FetchParallel int
}

// DefaultConfig returns the default page configuration.
func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 30 * time.Second,
		MaxDepth:          3,
		SettleMode:        SettleIdle,
		SettleDelay:       2 * time.Second,
		IdleTimeout:       5 * time.Second,
		Scroll:            true,
		ScrollSteps:       3,
		ScrollPause:       300 * time.Millisecond,
		ClickExpand:       true,
		MaxClicks:         5,
		ClickTimeout:      2 * time.Second,
		EvalTimeout:       10 * time.Second,
		SPAThreshold:      3,
		AJAXMaxWait:       5 * time.Second,
		PollInterval:      250 * time.Millisecond,
		ChunkEvery:        5,
		MaxScripts:        20,
		FetchParallel:     4,
	}
}

// Scheduler is the part of the scheduler the visitor feeds.
type Scheduler interface {
	Submit(t scheduler.Task) bool
	Complete(url string)
	Stopped() bool
}

// ScriptFetcher downloads script bodies.
type ScriptFetcher interface {
	FetchAll(ctx context.Context, urls []string, limit int, onError func(url string, err error)) []*fetch.Result
}

// Recorder receives per-page outcomes, typically the metrics collector.
type Recorder interface {
	PageVisited(took time.Duration)
	StageFailed(stage string)
	SPADetected()
	LinksFound(n int)
}

// Deps are the shared crawl components a Visitor works against.
type Deps struct {
	Browser   browser.Browser
	Scheduler Scheduler
	Scope     *scope.Checker
	Results   *results.Aggregate
	Forms     *forms.Engine // nil disables form processing
	Submitted *forms.SubmittedSet
	Fetcher   ScriptFetcher
	Analyzers analyzer.Set
	// Limiter paces navigations.
	Limiter  fetch.Waiter
	Recorder Recorder
	// OnCommit runs after each page commit, typically a state snapshot.
	OnCommit func()
	Logger   *logger.Logger
}

// Visitor processes crawl tasks. It is safe for concurrent use; each call
// to Visit opens its own page.
type Visitor struct {
	cfg  Config
	deps Deps
	log  *logger.Logger
	rec  Recorder

	pages   atomic.Int64
	headers *headerBook
}

// New creates a visitor and subscribes it to document responses on the
// shared browser.
func New(cfg Config, deps Deps) *Visitor {
	v := &Visitor{
		cfg:     cfg,
		deps:    deps,
		log:     logger.OrNop(deps.Logger).WithComponent("visitor"),
		rec:     deps.Recorder,
		headers: newHeaderBook(),
	}
	if v.rec == nil {
		v.rec = nopRecorder{}
	}
	if v.deps.Submitted == nil {
		v.deps.Submitted = forms.NewSubmittedSet()
	}
	if deps.Browser != nil {
		deps.Browser.OnResponse(v.headers.observe)
	}
	return v
}

// visit carries what the stages of one task have gathered.
type visit struct {
	task  scheduler.Task
	page  browser.Page
	url   string
	title string
	html  string
	doc   *goquery.Document
	spa   bool
	links []string
	// enqueued is set once the links were handed to a running scheduler.
	enqueued bool
}

// Visit runs every stage for t. It fails only when the page cannot be
// opened or navigated; the URL is then never committed. A visit stopped
// before its links were enqueued returns an error wrapping
// scheduler.ErrInterrupted and is not committed either.
func (v *Visitor) Visit(ctx context.Context, t scheduler.Task) error {
	start := time.Now()
	log := v.log.WithURL(t.URL).WithDepth(t.Depth)

	if v.deps.Limiter != nil {
		if err := v.deps.Limiter.Wait(ctx); err != nil {
			return interrupted(t.URL, "rate_limit")
		}
	}

	page, err := v.deps.Browser.Open(ctx)
	if err != nil {
		return errors.NewBrowserError(t.URL, "open_page", err)
	}
	defer v.release(page)

	v.headers.reset(page.ID())
	if err := page.Navigate(ctx, t.URL, v.cfg.NavigationTimeout); err != nil {
		if ctx.Err() != nil {
			return interrupted(t.URL, "navigate")
		}
		log.WithError(err).Warn("Navigation failed")
		return errors.NewNavigationError(t.URL, err)
	}

	vs := &visit{task: t, page: page, url: t.URL}
	uctx, cancel := v.bounded(ctx, 0)
	if cur, err := page.URL(uctx); err == nil && cur != "" {
		vs.url = cur
	}
	cancel()

	v.stage(ctx, vs, StageSettle, func() error { return v.settle(ctx, page) })
	v.fanOut(ctx, vs)
	v.stage(ctx, vs, StageInteraction, func() error { return v.interact(ctx, page) })
	v.stage(ctx, vs, StageSPA, func() error {
		spa, signals, err := v.detectSPA(ctx, page)
		if err != nil {
			return err
		}
		vs.spa = spa
		if spa {
			v.rec.SPADetected()
			log.Debugf("SPA detected (%s)", strings.Join(signals, ", "))
		}
		return nil
	})
	if vs.spa {
		v.stage(ctx, vs, StageAJAX, func() error {
			outcome, err := v.settleAJAX(ctx, page)
			log.Debugf("AJAX settle: %s", outcome)
			return err
		})
	}
	v.stage(ctx, vs, StageLinks, func() error { return v.extract(ctx, vs) })
	v.stage(ctx, vs, StageEnqueue, func() error { v.enqueue(vs); return nil })

	if !vs.enqueued {
		log.Info("Stopped before links were enqueued, leaving page for resume")
		return interrupted(t.URL, "visit")
	}
	v.commit(vs)

	took := time.Since(start)
	v.rec.PageVisited(took)
	v.rec.LinksFound(len(vs.links))
	log.PageEvent(t.URL, t.Depth, len(vs.links), took)
	return nil
}

// stage runs fn unless the crawl is stopping. Errors and panics are logged
// and absorbed.
func (v *Visitor) stage(ctx context.Context, vs *visit, name string, fn func() error) {
	if ctx.Err() != nil || v.deps.Scheduler.Stopped() {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	if err != nil {
		v.rec.StageFailed(name)
		v.log.StageFailure(vs.task.URL, name, errors.NewStageError(vs.task.URL, name, err))
	}
}

func interrupted(url, operation string) error {
	return errors.NewCrawlError(errors.Cancelled, url, operation, "stopped before the page was done", scheduler.ErrInterrupted)
}

// bounded derives the context for one page operation: EvalTimeout plus
// extra for scripts that wait on purpose.
func (v *Visitor) bounded(ctx context.Context, extra time.Duration) (context.Context, context.CancelFunc) {
	d := v.cfg.EvalTimeout
	if d <= 0 {
		d = DefaultConfig().EvalTimeout
	}
	return context.WithTimeout(ctx, d+extra)
}

func (v *Visitor) eval(ctx context.Context, page browser.Page, script string, args ...interface{}) (gson.JSON, error) {
	ctx, cancel := v.bounded(ctx, 0)
	defer cancel()
	return page.Evaluate(ctx, script, args...)
}

// settle gives client-side rendering time to finish.
func (v *Visitor) settle(ctx context.Context, page browser.Page) error {
	if v.cfg.SettleMode == SettleDelay {
		return page.WaitForTimeout(ctx, v.cfg.SettleDelay)
	}
	timeout := v.cfg.IdleTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// The probe gives up on its own; the context is a backstop.
	pctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()
	idle, err := page.Evaluate(pctx, idleProbeScript, timeout.Milliseconds())
	if err != nil {
		return err
	}
	if !idle.Bool() {
		v.log.Debugf("Page did not reach network idle within %s", timeout)
	}
	return nil
}

// fanOut runs the collaborators in order and appends their findings.
func (v *Visitor) fanOut(ctx context.Context, vs *visit) {
	set := v.deps.Analyzers
	n := v.pages.Add(1)

	if set.Captcha != nil {
		v.stage(ctx, vs, StageCaptcha, func() error {
			hctx, cancel := v.bounded(ctx, 0)
			defer cancel()
			return set.Captcha.Handle(hctx, vs.page)
		})
	}

	ap := &analyzer.Page{URL: vs.url, Live: vs.page, Headers: v.headers.get(vs.page.ID())}
	v.stage(ctx, vs, StagePrepare, func() error { return v.prepare(ctx, vs, ap) })

	v.analyze(ctx, vs, StageTech, set.Tech, ap)
	if v.cfg.ChunkEvery > 0 && (n-1)%int64(v.cfg.ChunkEvery) == 0 {
		v.analyze(ctx, vs, StageChunks, set.Chunks, ap)
	}
	if v.deps.Forms != nil {
		v.stage(ctx, vs, StageForms, func() error {
			res, err := v.deps.Forms.Process(ctx, vs.page, v.deps.Submitted)
			for _, a := range res.Attempts {
				v.deps.Results.AddForm(a)
			}
			return err
		})
	}
	v.analyze(ctx, vs, StageEndpoints, set.Endpoints, ap)
	v.analyze(ctx, vs, StageSecrets, set.Secrets, ap)
}

func (v *Visitor) analyze(ctx context.Context, vs *visit, name string, a analyzer.Analyzer, ap *analyzer.Page) {
	if a == nil {
		return
	}
	v.stage(ctx, vs, name, func() error {
		f, err := a.Analyze(ctx, ap)
		if !f.Empty() {
			f.Apply(v.deps.Results)
		}
		return err
	})
}

// prepare snapshots the rendered page for the analyzers and fetches its
// in-scope scripts.
func (v *Visitor) prepare(ctx context.Context, vs *visit, ap *analyzer.Page) error {
	if title, err := v.title(ctx, vs.page); err == nil {
		vs.title = title
		ap.Title = title
	}
	html, err := v.content(ctx, vs.page)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse content: %w", err)
	}
	vs.html, vs.doc = html, doc
	ap.HTML, ap.Doc = html, doc
	ap.Scripts = v.scripts(ctx, ap)
	return nil
}

func (v *Visitor) scripts(ctx context.Context, ap *analyzer.Page) []analyzer.Script {
	var out []analyzer.Script
	var srcs []string
	seen := make(map[string]bool)
	base := ap.Base()

	ap.Doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			if body := strings.TrimSpace(s.Text()); body != "" {
				out = append(out, analyzer.Script{Body: body, Inline: true})
			}
			return
		}
		if base == nil || len(srcs) >= v.cfg.MaxScripts {
			return
		}
		u := scope.Resolve(base, src)
		if u == "" || seen[u] || (v.deps.Scope != nil && !v.deps.Scope.Allow(u)) {
			return
		}
		seen[u] = true
		srcs = append(srcs, u)
	})

	if len(srcs) == 0 || v.deps.Fetcher == nil {
		return out
	}
	fetched := v.deps.Fetcher.FetchAll(ctx, srcs, v.cfg.FetchParallel, func(u string, err error) {
		v.log.WithURL(u).WithError(err).Debug("Script fetch failed")
	})
	for _, r := range fetched {
		out = append(out, analyzer.Script{URL: r.URL, Body: string(r.Body)})
	}
	return out
}

// extract re-reads the DOM after interaction and collects its links.
func (v *Visitor) extract(ctx context.Context, vs *visit) error {
	html, err := v.content(ctx, vs.page)
	if err != nil {
		if vs.html == "" {
			return fmt.Errorf("read content: %w", err)
		}
		html = vs.html
	}
	if vs.title == "" {
		vs.title, _ = v.title(ctx, vs.page)
	}
	links, err := ExtractLinks(html, vs.url)
	if err != nil {
		return err
	}
	vs.links = links
	return nil
}

// enqueue submits in-scope links and URLs seen in JSON responses one level
// deeper. Links past the depth bound are not submitted.
func (v *Visitor) enqueue(vs *visit) {
	candidates := vs.links
	for _, r := range vs.page.JSONResponses() {
		candidates = append(candidates, URLsFromJSON(r.Body, r.URL)...)
	}
	depth := vs.task.Depth + 1
	if v.cfg.MaxDepth > 0 && depth > v.cfg.MaxDepth {
		vs.enqueued = true
		return
	}
	accepted := 0
	for _, u := range candidates {
		if v.deps.Scope != nil && !v.deps.Scope.Allow(u) {
			continue
		}
		if v.deps.Scheduler.Submit(scheduler.Task{URL: u, Depth: depth, Referer: vs.task.URL}) {
			accepted++
		}
	}
	v.log.WithURL(vs.task.URL).Debugf("Enqueued %d of %d candidate URLs", accepted, len(candidates))
	// Submit rejects everything once the scheduler stops.
	vs.enqueued = !v.deps.Scheduler.Stopped()
}

func (v *Visitor) content(ctx context.Context, page browser.Page) (string, error) {
	ctx, cancel := v.bounded(ctx, 0)
	defer cancel()
	return page.Content(ctx)
}

func (v *Visitor) title(ctx context.Context, page browser.Page) (string, error) {
	ctx, cancel := v.bounded(ctx, 0)
	defer cancel()
	return page.Title(ctx)
}

// commit records the page, marks it visited and triggers a snapshot.
func (v *Visitor) commit(vs *visit) {
	v.deps.Results.AddPage(results.PageRecord{
		URL:        vs.task.URL,
		Depth:      vs.task.Depth,
		Title:      vs.title,
		LinksFound: len(vs.links),
		Timestamp:  time.Now(),
	})
	v.deps.Scheduler.Complete(vs.task.URL)
	if v.deps.OnCommit != nil {
		v.deps.OnCommit()
	}
}

func (v *Visitor) release(page browser.Page) {
	v.headers.forget(page.ID())
	if err := page.Close(); err != nil {
		v.log.WithError(err).Debug("Page close failed")
	}
}

// headerBook keeps the last document response headers per page.
type headerBook struct {
	mu    sync.Mutex
	pages map[string]map[string]string
}

func newHeaderBook() *headerBook {
	return &headerBook{pages: make(map[string]map[string]string)}
}

func (h *headerBook) observe(ev browser.ResponseEvent) {
	if !strings.Contains(strings.ToLower(ev.MimeType), "html") {
		return
	}
	hdrs := make(map[string]string, len(ev.Headers))
	for k, val := range ev.Headers {
		hdrs[strings.ToLower(k)] = val
	}
	h.mu.Lock()
	// Only pages being visited are tracked.
	if _, ok := h.pages[ev.PageID]; ok {
		h.pages[ev.PageID] = hdrs
	}
	h.mu.Unlock()
}

func (h *headerBook) reset(pageID string) {
	h.mu.Lock()
	h.pages[pageID] = map[string]string{}
	h.mu.Unlock()
}

func (h *headerBook) get(pageID string) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pages[pageID]
}

func (h *headerBook) forget(pageID string) {
	h.mu.Lock()
	delete(h.pages, pageID)
	h.mu.Unlock()
}

type nopRecorder struct{}

func (nopRecorder) PageVisited(time.Duration) {}
func (nopRecorder) StageFailed(string) {}
func (nopRecorder) SPADetected() {}
func (nopRecorder) LinksFound(int) {}
