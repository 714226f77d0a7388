package state

import (
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/results"
	"github.com/PentesterFlow/ReconCrawler/internal/scheduler"
)

// FormatVersion is written into every snapshot.
const FormatVersion = 1

// CrawlState is the persisted snapshot of one crawl target.
type CrawlState struct {
	Version        int              `json:"version"`
	CrawlID        string           `json:"crawl_id"`
	TargetURL      string           `json:"target_url"`
	Visited        []string         `json:"visited"`
	Pending        []scheduler.Task `json:"pending"`
	Results        results.Snapshot `json:"results"`
	SubmittedForms []string         `json:"submitted_forms,omitempty"`
	StartedAt      time.Time        `json:"started_at"`
	Timestamp      time.Time        `json:"timestamp"`
	Completed      bool             `json:"completed"`
}

// Summary is a short description of a snapshot.
type Summary struct {
	CrawlID   string
	TargetURL string
	Visited   int
	Pending   int
	Pages     int
	Requests  int
	Endpoints int
	Secrets   int
	Forms     int
	StartedAt time.Time
	Timestamp time.Time
	Completed bool
}

// Summarize counts the contents of st.
func (st *CrawlState) Summarize() Summary {
	return Summary{
		CrawlID:   st.CrawlID,
		TargetURL: st.TargetURL,
		Visited:   len(st.Visited),
		Pending:   len(st.Pending),
		Pages:     len(st.Results.Pages),
		Requests:  len(st.Results.Requests),
		Endpoints: len(st.Results.Endpoints),
		Secrets:   len(st.Results.Secrets),
		Forms:     len(st.SubmittedForms),
		StartedAt: st.StartedAt,
		Timestamp: st.Timestamp,
		Completed: st.Completed,
	}
}

// SchedulerState is the part of the scheduler that is snapshotted.
type SchedulerState interface {
	Checkpoint() ([]string, []scheduler.Task)
	Restore(visited []string, pending []scheduler.Task) int
}

// ResultState is the part of the result aggregate that is snapshotted.
type ResultState interface {
	Snapshot() results.Snapshot
	Merge(s results.Snapshot)
}

// FormState is the crawl-wide submitted-forms set.
type FormState interface {
	Items() []string
	Restore(keys []string)
}

// Sources are the live components a snapshot is taken from and restored
// into. Forms may be nil.
type Sources struct {
	Scheduler SchedulerState
	Results   ResultState
	Forms     FormState
}
