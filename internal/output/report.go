package output

import (
	"sort"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/results"
	"github.com/PentesterFlow/ReconCrawler/internal/scheduler"
)

// Report is the document written at crawl end.
type Report struct {
	CrawlID     string                 `json:"crawl_id,omitempty"`
	Target      string                 `json:"target"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Duration    string                 `json:"duration"`
	Complete    bool                   `json:"complete"`
	Statistics  Statistics             `json:"statistics"`
	Endpoints   EndpointSummary        `json:"endpoint_summary"`
	Results     results.Snapshot       `json:"results"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
}

// Statistics contains crawl statistics.
type Statistics struct {
	Pages          int             `json:"pages"`
	Requests       int             `json:"requests"`
	Endpoints      int             `json:"endpoints"`
	Secrets        int             `json:"secrets"`
	Forms          int             `json:"forms"`
	FormsSubmitted int             `json:"forms_submitted"`
	Technologies   int             `json:"technologies"`
	Scheduler      scheduler.Stats `json:"scheduler"`
}

// EndpointSummary contains a summary of discovered endpoints.
type EndpointSummary struct {
	Total    int            `json:"total"`
	ByMethod map[string]int `json:"by_method"`
	BySource map[string]int `json:"by_source"`
	TopPaths []PathCount    `json:"top_paths,omitempty"`
}

// PathCount represents a page and how many endpoints were found on it.
type PathCount struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

const topPaths = 10

// NewReport builds a report from a results snapshot.
func NewReport(crawlID, target string, started time.Time, snap results.Snapshot, stats scheduler.Stats) *Report {
	done := time.Now()
	r := &Report{
		CrawlID:     crawlID,
		Target:      target,
		StartedAt:   started,
		CompletedAt: done,
		Duration:    done.Sub(started).Round(time.Millisecond).String(),
		Results:     snap,
		Endpoints:   summarizeEndpoints(snap.Endpoints),
		Statistics: Statistics{
			Pages:        len(snap.Pages),
			Requests:     len(snap.Requests),
			Endpoints:    len(snap.Endpoints),
			Secrets:      len(snap.Secrets),
			Forms:        len(snap.Forms),
			Technologies: len(snap.Technologies),
			Scheduler:    stats,
		},
	}
	for _, f := range snap.Forms {
		if f.Submitted {
			r.Statistics.FormsSubmitted++
		}
	}
	return r
}

func summarizeEndpoints(eps []results.Endpoint) EndpointSummary {
	s := EndpointSummary{
		Total:    len(eps),
		ByMethod: make(map[string]int),
		BySource: make(map[string]int),
	}
	pages := make(map[string]int)
	for _, ep := range eps {
		method := ep.Method
		if method == "" {
			method = "GET"
		}
		s.ByMethod[method]++
		s.BySource[ep.Source]++
		if ep.PageURL != "" {
			pages[ep.PageURL]++
		}
	}
	for p, n := range pages {
		s.TopPaths = append(s.TopPaths, PathCount{Path: p, Count: n})
	}
	sort.Slice(s.TopPaths, func(i, j int) bool {
		if s.TopPaths[i].Count != s.TopPaths[j].Count {
			return s.TopPaths[i].Count > s.TopPaths[j].Count
		}
		return s.TopPaths[i].Path < s.TopPaths[j].Path
	})
	if len(s.TopPaths) > topPaths {
		s.TopPaths = s.TopPaths[:topPaths]
	}
	return s
}
