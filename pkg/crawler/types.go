// Package crawler drives a browser-based reconnaissance crawl: it wires the
// scheduler, page visitor, form engine, network correlator and state store
// together and owns the crawl lifecycle.
package crawler

import (
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/metrics"
	"github.com/PentesterFlow/ReconCrawler/internal/output"
	"github.com/PentesterFlow/ReconCrawler/internal/results"
	"github.com/PentesterFlow/ReconCrawler/internal/scheduler"
)

// Result is the outcome of one Start call.
type Result struct {
	CrawlID string `json:"crawl_id"`
	Target  string `json:"target"`
	// Resumed is true when a saved snapshot was restored.
	Resumed bool `json:"resumed"`
	// Restored counts pending tasks rescheduled from the snapshot.
	Restored int `json:"restored"`
	// Complete is true when the crawl ran until the queue was idle.
	Complete  bool              `json:"complete"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Stats     scheduler.Stats   `json:"stats"`
	Results   results.Snapshot  `json:"results"`
	Metrics   *metrics.Snapshot `json:"metrics,omitempty"`
}

// Report converts r into the output document.
func (r *Result) Report() *output.Report {
	rep := output.NewReport(r.CrawlID, r.Target, r.StartedAt, r.Results, r.Stats)
	rep.Complete = r.Complete
	if r.Metrics != nil {
		rep.Metrics = r.Metrics.Summary()
	}
	return rep
}
