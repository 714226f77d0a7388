// Package progress provides progress bar display for the crawler.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	colorBar   = color.New(color.FgCyan).SprintFunc()
	colorCount = color.New(color.FgGreen).SprintFunc()
	colorWarn  = color.New(color.FgYellow).SprintFunc()
	colorTitle = color.New(color.FgHiWhite, color.Bold).SprintFunc()
)

const barWidth = 30

// Stats is one progress sample.
type Stats struct {
	Pages     int
	Pending   int
	InFlight  int
	Links     int
	Endpoints int
	Forms     int
	Secrets   int
	Failed    int
}

// Display manages progress bar display during crawling.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	stats     Stats
	budget    int
	startTime time.Time
	target    string

	lastLine string
}

// New creates a progress display writing to out; nil means stderr.
func New(out io.Writer) *Display {
	if out == nil {
		out = os.Stderr
	}
	return &Display{out: out}
}

// Start begins the progress display. budget is the page limit the bar
// fills towards.
func (d *Display) Start(target string, budget int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.target = target
	d.budget = budget
}

// Update redraws the progress line with s.
func (d *Display) Update(s Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats = s
	if !d.started || d.stopped {
		return
	}

	pct := d.percent()
	elapsed := time.Since(d.startTime)
	speed := 0.0
	if elapsed.Seconds() > 0 {
		speed = float64(s.Pages) / elapsed.Seconds()
	}

	filled := pct * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | Pages: %s | Queue: %d | Active: %d | Links: %d | %.1f p/s | %s",
		colorBar(bar), pct, colorCount(s.Pages), s.Pending, s.InFlight, s.Links, speed, formatDuration(elapsed))
	if s.Failed > 0 {
		line += " | " + colorWarn(fmt.Sprintf("Failed: %d", s.Failed))
	}

	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// percent is guarded by d.mu.
func (d *Display) percent() int {
	s := d.stats
	if s.Pending == 0 && s.InFlight == 0 && s.Pages > 0 {
		return 100
	}
	total := s.Pages + s.Pending + s.InFlight
	if d.budget > 0 && d.budget < total {
		total = d.budget
	}
	if total == 0 {
		return 0
	}
	pct := s.Pages * 100 / total
	if pct > 99 {
		pct = 99
	}
	return pct
}

// Stop stops the progress display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true
	fmt.Fprintln(d.out)
}

// PrintSummary prints a final summary after crawling.
func (d *Display) PrintSummary(complete bool) {
	d.mu.Lock()
	s := d.stats
	duration := time.Since(d.startTime)
	target := d.target
	d.mu.Unlock()

	status := colorCount("complete")
	if !complete {
		status = colorWarn("interrupted (state saved)")
	}

	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, colorTitle("Crawl Summary"))
	fmt.Fprintln(d.out, strings.Repeat("─", 40))
	fmt.Fprintf(d.out, "  Target:     %s\n", truncateURL(target, 50))
	fmt.Fprintf(d.out, "  Status:     %s\n", status)
	fmt.Fprintf(d.out, "  Duration:   %s\n", formatDuration(duration))
	fmt.Fprintf(d.out, "  Pages:      %d\n", s.Pages)
	fmt.Fprintf(d.out, "  Endpoints:  %d\n", s.Endpoints)
	fmt.Fprintf(d.out, "  Forms:      %d\n", s.Forms)
	fmt.Fprintf(d.out, "  Secrets:    %d\n", s.Secrets)
	fmt.Fprintf(d.out, "  Failed:     %d\n", s.Failed)

	if duration.Seconds() > 0 {
		fmt.Fprintf(d.out, "  Speed:      %.1f pages/sec\n", float64(s.Pages)/duration.Seconds())
	}
	fmt.Fprintln(d.out)
}

// Stats returns the last sample.
func (d *Display) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
