package crawler

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/analyzer"
	"github.com/PentesterFlow/ReconCrawler/internal/auth"
	"github.com/PentesterFlow/ReconCrawler/internal/browser"
	"github.com/PentesterFlow/ReconCrawler/internal/errors"
	"github.com/PentesterFlow/ReconCrawler/internal/fetch"
	"github.com/PentesterFlow/ReconCrawler/internal/forms"
	"github.com/PentesterFlow/ReconCrawler/internal/logger"
	"github.com/PentesterFlow/ReconCrawler/internal/metrics"
	"github.com/PentesterFlow/ReconCrawler/internal/network"
	"github.com/PentesterFlow/ReconCrawler/internal/output"
	"github.com/PentesterFlow/ReconCrawler/internal/progress"
	"github.com/PentesterFlow/ReconCrawler/internal/ratelimit"
	"github.com/PentesterFlow/ReconCrawler/internal/results"
	"github.com/PentesterFlow/ReconCrawler/internal/scheduler"
	"github.com/PentesterFlow/ReconCrawler/internal/scope"
	"github.com/PentesterFlow/ReconCrawler/internal/shutdown"
	"github.com/PentesterFlow/ReconCrawler/internal/state"
	"github.com/PentesterFlow/ReconCrawler/internal/visitor"
)

const (
	statusInterval   = 15 * time.Second
	progressInterval = 500 * time.Millisecond
)

// Crawler is the main crawler orchestrator.
type Crawler struct {
	config    *Config
	logger    *logger.Logger
	browser   browser.Browser
	store     state.Store
	analyzers *analyzer.Set
	fetcher   visitor.ScriptFetcher
	metrics   *metrics.Collector
	out       io.Writer
	stream    output.Writer
	progress  *progress.Display

	scope      *scope.Checker
	sched      *scheduler.Scheduler
	agg        *results.Aggregate
	correlator *network.Correlator
	submitted  *forms.SubmittedSet
	state      *state.Manager
	limiter    *ratelimit.AdaptiveRateLimiter
	visitor    *visitor.Visitor

	mu        sync.RWMutex
	running   atomic.Bool
	complete  atomic.Bool
	startTime time.Time
}

// New creates a new crawler with the given options.
func New(opts ...Option) (*Crawler, error) {
	c := &Crawler{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := c.config.Validate(); err != nil {
		return nil, errors.NewSetupError("config", "invalid configuration", err)
	}

	if c.logger == nil {
		c.logger = logger.New(logger.Config{
			Level:     c.config.LogLevel(),
			Pretty:    c.config.Log.Pretty,
			Component: "crawler",
		})
	}

	return c, nil
}

// Config returns a copy of the effective configuration.
func (c *Crawler) Config() *Config {
	return c.config.Clone()
}

// initialize builds the crawl components. Every error it returns is a
// setup error and aborts the crawl.
func (c *Crawler) initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	cfg := c.config

	c.scope, err = scope.NewChecker(cfg.Target, cfg.Scope)
	if err != nil {
		return errors.NewSetupError("scope", "invalid scope rules", err)
	}

	if c.metrics == nil {
		c.metrics, err = metrics.New(nil)
		if err != nil {
			return errors.NewSetupError("metrics", "register collectors", err)
		}
	}

	if c.browser == nil {
		b, err := browser.Launch(cfg.BrowserConfig())
		if err != nil {
			return errors.NewSetupError("browser", "failed to start browsing session", err)
		}
		c.browser = b
	}

	var session browser.Session
	if cfg.Auth.Enabled() {
		provider, err := auth.NewProvider(cfg.Auth.ScopedTo(c.scope.Host()))
		if err != nil {
			return errors.NewSetupError("auth", "invalid credentials", err)
		}
		session, err = auth.Apply(ctx, provider, c.browser)
		if err != nil {
			return errors.NewSetupError("auth", "authentication failed", err)
		}
		c.logger.Infof("Authenticated with %s credentials", provider.Type())
	}

	// Capture only in-scope traffic.
	c.correlator = network.NewCorrelator(c.scope)
	c.correlator.Attach(c.browser)
	c.agg = results.New(c.correlator)
	c.submitted = forms.NewSubmittedSet()

	c.sched = scheduler.New(
		scheduler.WithLogger(c.logger),
		scheduler.WithObserver(c.metrics),
		scheduler.WithEstimatedSize(cfg.MaxPages*50),
	)

	rps := cfg.RateLimit.RequestsPerSecond
	c.limiter = ratelimit.NewAdaptiveRateLimiter(rps/10, rps, cfg.RateLimit.Burst)
	c.limiter.SetWindow(20)
	if cfg.RateLimit.PerHost > 0 {
		c.limiter.SetHostRate(c.scope.Host(), cfg.RateLimit.PerHost, cfg.RateLimit.Burst)
	}

	if c.fetcher == nil {
		client := fetch.New(cfg.FetchConfig(), fetch.WithLimiter(c.limiter.Host(c.scope.Host())))
		client.SetHeaders(auth.RequestHeaders(session))
		c.fetcher = client
	}

	set := analyzer.Defaults(c.logger)
	if c.analyzers != nil {
		set = *c.analyzers
	}

	var engine *forms.Engine
	if cfg.Forms.Enabled {
		engine = forms.NewEngine(cfg.Forms, c.browser, c.logger)
	}

	c.initState()
	c.openStream()

	c.visitor = visitor.New(cfg.VisitorConfig(), visitor.Deps{
		Browser:   c.browser,
		Scheduler: c.sched,
		Scope:     c.scope,
		Results:   c.agg,
		Forms:     engine,
		Submitted: c.submitted,
		Fetcher:   c.fetcher,
		Analyzers: set,
		Limiter:   c.limiter,
		Recorder:  c.metrics,
		OnCommit:  c.saveState,
		Logger:    c.logger,
	})

	return nil
}

// initState opens the snapshot store. Failures disable resumability for
// this run and are not fatal.
func (c *Crawler) initState() {
	cfg := c.config.State
	if !cfg.Enabled {
		return
	}

	store := c.store
	if store == nil {
		var err error
		store, err = state.OpenStore(cfg.Backend, cfg.Dir)
		if err != nil {
			c.logger.WithError(errors.NewPersistenceError(cfg.Dir, "open", err)).Warn("State store unavailable, continuing without resumability")
			return
		}
	}

	m := state.NewManager(store, c.logger)
	if err := m.Init(c.config.Target); err != nil {
		c.logger.WithError(err).Warn("State init failed, continuing without resumability")
		store.Close()
		return
	}
	c.state = m
}

// openStream starts the JSON-lines writer when streaming is on. Pages and
// new endpoints are written as the aggregate records them; the report
// follows as the last event. A writer that cannot be opened falls back to
// the single report at the end.
func (c *Crawler) openStream() {
	if !c.config.Output.Stream {
		return
	}
	if c.out != nil {
		c.stream = output.NewJSONWriter(c.out, false, true)
	} else {
		w, err := output.Open(c.config.Output)
		if err != nil {
			c.logger.WithError(err).Warn("Stream output unavailable, writing the report at the end")
			return
		}
		c.stream = w
	}
	c.agg.SetListener(&streamListener{w: c.stream, log: c.logger})
}

// streamListener forwards aggregate events to the stream writer.
type streamListener struct {
	w   output.Writer
	log *logger.Logger
}

func (s *streamListener) PageAdded(p results.PageRecord) {
	if err := s.w.WritePage(&p); err != nil {
		s.log.WithURL(p.URL).WithError(err).Warn("Stream write failed")
	}
}

func (s *streamListener) EndpointAdded(ep results.Endpoint) {
	if err := s.w.WriteEndpoint(&ep); err != nil {
		s.log.WithURL(ep.URL).WithError(err).Warn("Stream write failed")
	}
}

func (c *Crawler) sources() state.Sources {
	return state.Sources{
		Scheduler: c.sched,
		Results:   c.agg,
		Forms:     c.submitted,
	}
}

// Start runs the crawl until the queue is idle, Stop is called, ctx is
// cancelled or a shutdown signal arrives. Only setup failures are
// returned as errors; a failed report write is returned alongside the
// result.
func (c *Crawler) Start(ctx context.Context) (*Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("crawler is already running")
	}
	defer c.running.Store(false)

	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	seed, err := scope.Canonicalize(c.config.Target)
	if err != nil {
		return nil, errors.NewSetupError("seed", "invalid target", err)
	}

	if err := c.initialize(ctx); err != nil {
		c.logger.WithError(err).Error("Crawl setup failed")
		if c.browser != nil {
			c.browser.Close()
		}
		return nil, err
	}

	res := &Result{Target: c.config.Target, StartedAt: c.startTime}

	if c.state != nil {
		if st, ok := c.state.Load(); ok {
			res.Restored = c.state.Restore(st, c.sources())
			res.Resumed = true
		}
		res.CrawlID = c.state.CrawlID()
		res.StartedAt = c.state.StartedAt()
	}

	c.sched.Submit(scheduler.Task{URL: seed, Depth: 0})

	c.logger.Infof("Starting crawl of %s (max pages %d, max depth %d, threads %d)",
		seed, c.config.MaxPages, c.config.MaxDepth, c.config.Threads)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDone := make(chan struct{})
	handler := shutdown.New(shutdown.Config{
		Timeout: 2 * c.config.Timeout,
		Logger:  c.logger,
	})
	c.registerShutdownCallbacks(handler, runDone)
	go handler.WaitWithContext(runCtx)

	go c.snapshotLoop(runDone)
	if c.progress != nil {
		c.progress.Start(seed, c.config.MaxPages)
		go c.progressLoop(runDone)
	} else {
		go c.statusReporter(runDone)
	}

	stats := c.sched.Run(runCtx, c.config.Threads, c.admit, c.process)
	c.complete.Store(!c.sched.Stopped())
	close(runDone)

	if sr := handler.Shutdown(); sr.HasErrors() {
		c.logger.Warnf("Shutdown finished in %v with %d errors", sr.Elapsed, len(sr.Errors))
	}

	res.Complete = c.complete.Load()
	res.Duration = time.Since(c.startTime)
	res.Stats = stats
	res.Results = c.agg.Snapshot()
	res.Metrics = c.metrics.Snapshot()

	if c.progress != nil {
		c.progress.Update(c.progressStats(&res.Results))
		c.progress.Stop()
	}

	c.logger.StatsEvent(res.Metrics.Summary())
	c.logger.Infof("Crawl finished: %d pages, %d requests, %d endpoints, complete=%v",
		len(res.Results.Pages), len(res.Results.Requests), len(res.Results.Endpoints), res.Complete)

	if err := c.writeReport(res); err != nil {
		return res, fmt.Errorf("failed to write output: %w", err)
	}
	return res, nil
}

// admit runs under the scheduler lock. Committed pages plus tasks in
// flight never exceed MaxPages.
func (c *Crawler) admit(t scheduler.Task, inFlight int) bool {
	if t.Depth > c.config.MaxDepth {
		return false
	}
	return c.agg.PageCount()+inFlight < c.config.MaxPages
}

func (c *Crawler) process(ctx context.Context, t scheduler.Task) error {
	err := c.visitor.Visit(ctx, t)
	if errors.GetErrorType(err) != errors.Cancelled {
		c.limiter.Record(err)
	}
	switch {
	case err == nil:
	case stderrors.Is(err, scheduler.ErrInterrupted):
		c.logger.WithURL(t.URL).Debug("Task interrupted, kept pending")
	default:
		c.logger.WithURL(t.URL).WithError(err).Warn("Task failed")
	}
	return err
}

// saveState writes a snapshot. Failures are logged and the crawl goes on.
func (c *Crawler) saveState() {
	if c.state == nil {
		return
	}
	err := c.state.Save(c.sources())
	c.metrics.SnapshotSaved(err)
	if err != nil {
		c.logger.WithError(err).Warn("Snapshot failed")
	}
}

// finishState deletes the snapshot after a complete crawl and saves a
// final one otherwise.
func (c *Crawler) finishState() error {
	if c.state == nil {
		return nil
	}
	if c.complete.Load() {
		return c.state.MarkComplete(c.sources())
	}
	err := c.state.Save(c.sources())
	c.metrics.SnapshotSaved(err)
	return err
}

func (c *Crawler) snapshotLoop(done <-chan struct{}) {
	if c.state == nil || c.config.State.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.State.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.saveState()
		}
	}
}

func (c *Crawler) statusReporter(done <-chan struct{}) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			summary := c.metrics.Snapshot().Summary()
			summary["pending"] = len(c.sched.Pending())
			summary["rate"] = c.limiter.CurrentRate()
			c.logger.StatsEvent(summary)
		}
	}
}

func (c *Crawler) progressLoop(done <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.progress.Update(c.progressStats(nil))
		}
	}
}

// progressStats samples the collectors. snap supplies result counts once
// the crawl is over.
func (c *Crawler) progressStats(snap *results.Snapshot) progress.Stats {
	m := c.metrics.Snapshot()
	s := progress.Stats{
		Pages:    int(m.Pages),
		Pending:  len(c.sched.Pending()),
		InFlight: int(m.InFlight),
		Links:    int(m.Links),
		Failed:   int(m.Tasks[metrics.OutcomeFailed]),
	}
	if snap != nil {
		s.Endpoints = len(snap.Endpoints)
		s.Forms = len(snap.Forms)
		s.Secrets = len(snap.Secrets)
	}
	return s
}

// registerShutdownCallbacks registers cleanup in the order it must run:
// stop scheduling and wait for in-flight pages, persist state, then
// release the browser and the store.
func (c *Crawler) registerShutdownCallbacks(h *shutdown.Handler, runDone <-chan struct{}) {
	h.Register("stop crawler", func(ctx context.Context) error {
		c.sched.Stop()
		select {
		case <-runDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	h.Register("save state", func(ctx context.Context) error {
		return c.finishState()
	})

	h.Register("close browser", func(ctx context.Context) error {
		c.logger.Debug("Closing browser...")
		return c.browser.Close()
	})

	h.Register("close state store", func(ctx context.Context) error {
		if c.state == nil {
			return nil
		}
		return c.state.Close()
	})
}

func (c *Crawler) writeReport(res *Result) error {
	report := res.Report()
	if w := c.stream; w != nil {
		c.stream = nil
		c.agg.SetListener(nil)
		err := w.WriteReport(report)
		// A caller-supplied writer stays open.
		finish := w.Close
		if c.out != nil {
			finish = w.Flush
		}
		if ferr := finish(); err == nil {
			err = ferr
		}
		return err
	}
	if c.out != nil {
		w := output.NewJSONWriter(c.out, c.config.Output.Pretty, false)
		return w.WriteReport(report)
	}
	return output.WriteFile(c.config.Output, report)
}

// Stop asks the crawler to finish: in-flight pages skip their remaining
// stages and pending tasks are drained. Start then returns normally.
func (c *Crawler) Stop() error {
	c.mu.RLock()
	sched := c.sched
	c.mu.RUnlock()

	if !c.running.Load() || sched == nil {
		return nil
	}
	sched.Stop()
	return nil
}

// IsRunning reports whether Start is in progress.
func (c *Crawler) IsRunning() bool {
	return c.running.Load()
}

// Results returns a snapshot of everything collected so far.
func (c *Crawler) Results() results.Snapshot {
	c.mu.RLock()
	agg := c.agg
	c.mu.RUnlock()

	if agg == nil {
		return results.Snapshot{}
	}
	return agg.Snapshot()
}

// Stats returns current scheduler statistics.
func (c *Crawler) Stats() scheduler.Stats {
	c.mu.RLock()
	sched := c.sched
	c.mu.RUnlock()

	if sched == nil {
		return scheduler.Stats{}
	}
	return sched.Stats()
}

// Metrics returns the metrics collector for external access.
func (c *Crawler) Metrics() *metrics.Collector {
	return c.metrics
}

// CrawlID returns the run id, or "" when state is disabled.
func (c *Crawler) CrawlID() string {
	c.mu.RLock()
	m := c.state
	c.mu.RUnlock()

	if m == nil {
		return ""
	}
	return m.CrawlID()
}
