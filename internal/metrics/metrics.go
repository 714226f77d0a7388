// Package metrics exposes Prometheus collectors for crawl progress. A
// Collector observes the scheduler and records per-page visitor outcomes.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Task outcomes used as the "outcome" label.
const (
	OutcomeSubmitted = "submitted"
	OutcomeRejected  = "rejected"
	OutcomeAdmitted  = "admitted"
	OutcomeDropped   = "dropped"
	OutcomeDrained   = "drained"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

var outcomes = []string{
	OutcomeSubmitted, OutcomeRejected, OutcomeAdmitted, OutcomeDropped,
	OutcomeDrained, OutcomeSucceeded, OutcomeFailed,
}

// Collector owns the crawl collectors and the registry they live on.
type Collector struct {
	registry *prometheus.Registry

	tasks         *prometheus.CounterVec
	inFlight      prometheus.Gauge
	pages         prometheus.Counter
	pageDuration  prometheus.Histogram
	stageFailures *prometheus.CounterVec
	spaPages      prometheus.Counter
	links         prometheus.Counter
	snapshots     *prometheus.CounterVec

	startTime time.Time
}

// New creates a collector registered on reg. A nil reg gets a private
// registry.
func New(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: reg,
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcrawler_tasks_total",
			Help: "Crawl tasks partitioned by scheduler outcome.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconcrawler_tasks_in_flight",
			Help: "Tasks admitted and not yet finished.",
		}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcrawler_pages_total",
			Help: "Pages committed.",
		}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcrawler_page_duration_seconds",
			Help:    "Wall time per committed page.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcrawler_stage_failures_total",
			Help: "Absorbed page stage failures partitioned by stage.",
		}, []string{"stage"}),
		spaPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcrawler_spa_pages_total",
			Help: "Pages detected as single-page applications.",
		}),
		links: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcrawler_links_found_total",
			Help: "Links extracted across all pages.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcrawler_state_snapshots_total",
			Help: "State snapshot writes partitioned by result.",
		}, []string{"result"}),
		startTime: time.Now(),
	}
	for _, collector := range []prometheus.Collector{
		c.tasks, c.inFlight, c.pages, c.pageDuration,
		c.stageFailures, c.spaPages, c.links, c.snapshots,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register crawl collector: %w", err)
		}
	}
	for _, o := range outcomes {
		c.tasks.WithLabelValues(o)
	}
	return c, nil
}

// Registry returns the registry the collectors are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Scheduler observer.

func (c *Collector) TaskSubmitted()     { c.tasks.WithLabelValues(OutcomeSubmitted).Inc() }
func (c *Collector) TaskRejected()      { c.tasks.WithLabelValues(OutcomeRejected).Inc() }
func (c *Collector) TaskAdmitted()      { c.tasks.WithLabelValues(OutcomeAdmitted).Inc() }
func (c *Collector) TaskDropped()       { c.tasks.WithLabelValues(OutcomeDropped).Inc() }
func (c *Collector) InFlight(n int)     { c.inFlight.Set(float64(n)) }
func (c *Collector) TasksDrained(n int) { c.tasks.WithLabelValues(OutcomeDrained).Add(float64(n)) }

func (c *Collector) TaskFinished(err error) {
	if err != nil {
		c.tasks.WithLabelValues(OutcomeFailed).Inc()
		return
	}
	c.tasks.WithLabelValues(OutcomeSucceeded).Inc()
}

// Visitor recorder.

func (c *Collector) PageVisited(took time.Duration) {
	c.pages.Inc()
	c.pageDuration.Observe(took.Seconds())
}

func (c *Collector) StageFailed(stage string) { c.stageFailures.WithLabelValues(stage).Inc() }
func (c *Collector) SPADetected()             { c.spaPages.Inc() }
func (c *Collector) LinksFound(n int)         { c.links.Add(float64(n)) }

// SnapshotSaved records a state snapshot write.
func (c *Collector) SnapshotSaved(err error) {
	if err != nil {
		c.snapshots.WithLabelValues("error").Inc()
		return
	}
	c.snapshots.WithLabelValues("ok").Inc()
}

// Snapshot is a point-in-time view of the collectors.
type Snapshot struct {
	Timestamp     time.Time          `json:"timestamp"`
	Uptime        time.Duration      `json:"uptime"`
	Tasks         map[string]float64 `json:"tasks"`
	InFlight      float64            `json:"in_flight"`
	Pages         float64            `json:"pages"`
	SPAPages      float64            `json:"spa_pages"`
	Links         float64            `json:"links"`
	StageFailures map[string]float64 `json:"stage_failures"`
	SnapshotsOK   float64            `json:"snapshots_ok"`
	SnapshotsErr  float64            `json:"snapshots_error"`
}

// Snapshot reads the current collector values.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:     time.Now(),
		Uptime:        time.Since(c.startTime),
		Tasks:         make(map[string]float64, len(outcomes)),
		InFlight:      value(c.inFlight),
		Pages:         value(c.pages),
		SPAPages:      value(c.spaPages),
		Links:         value(c.links),
		StageFailures: labelled(c.stageFailures, "stage"),
		SnapshotsOK:   value(c.snapshots.WithLabelValues("ok")),
		SnapshotsErr:  value(c.snapshots.WithLabelValues("error")),
	}
	for _, o := range outcomes {
		s.Tasks[o] = value(c.tasks.WithLabelValues(o))
	}
	return s
}

// FailureRate returns failed tasks over finished tasks.
func (s *Snapshot) FailureRate() float64 {
	done := s.Tasks[OutcomeSucceeded] + s.Tasks[OutcomeFailed]
	if done == 0 {
		return 0
	}
	return s.Tasks[OutcomeFailed] / done
}

// Summary returns the snapshot as log fields.
func (s *Snapshot) Summary() map[string]interface{} {
	failures := 0.0
	for _, n := range s.StageFailures {
		failures += n
	}
	return map[string]interface{}{
		"uptime":         s.Uptime.Round(time.Second).String(),
		"pages":          int64(s.Pages),
		"spa_pages":      int64(s.SPAPages),
		"links":          int64(s.Links),
		"in_flight":      int64(s.InFlight),
		"admitted":       int64(s.Tasks[OutcomeAdmitted]),
		"dropped":        int64(s.Tasks[OutcomeDropped]),
		"failed":         int64(s.Tasks[OutcomeFailed]),
		"failure_rate":   s.FailureRate(),
		"stage_failures": int64(failures),
	}
}

// value reads a single counter or gauge.
func value(m prometheus.Metric) float64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return 0
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	return 0
}

// labelled reads every child of vec keyed by label.
func labelled(vec *prometheus.CounterVec, label string) map[string]float64 {
	out := make(map[string]float64)
	ch := make(chan prometheus.Metric, 16)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	for m := range ch {
		var d dto.Metric
		if err := m.Write(&d); err != nil {
			continue
		}
		for _, lp := range d.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] = d.GetCounter().GetValue()
			}
		}
	}
	return out
}
