package crawler

import (
	"fmt"
	"io"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/analyzer"
	"github.com/PentesterFlow/ReconCrawler/internal/auth"
	"github.com/PentesterFlow/ReconCrawler/internal/browser"
	"github.com/PentesterFlow/ReconCrawler/internal/logger"
	"github.com/PentesterFlow/ReconCrawler/internal/metrics"
	"github.com/PentesterFlow/ReconCrawler/internal/progress"
	"github.com/PentesterFlow/ReconCrawler/internal/scope"
	"github.com/PentesterFlow/ReconCrawler/internal/state"
	"github.com/PentesterFlow/ReconCrawler/internal/visitor"
)

// Option is a functional option for configuring the Crawler.
type Option func(*Crawler) error

// WithConfig replaces the whole configuration. Options applied after it
// override individual fields.
func WithConfig(config *Config) Option {
	return func(c *Crawler) error {
		if config == nil {
			return fmt.Errorf("nil config")
		}
		c.config = config.Clone()
		return nil
	}
}

// WithTarget sets the seed URL.
func WithTarget(url string) Option {
	return func(c *Crawler) error {
		c.config.Target = url
		return nil
	}
}

// WithMaxPages sets the page budget.
func WithMaxPages(n int) Option {
	return func(c *Crawler) error {
		if n < 1 {
			return fmt.Errorf("max pages must be at least 1, got %d", n)
		}
		c.config.MaxPages = n
		return nil
	}
}

// WithMaxDepth sets the maximum crawl depth.
func WithMaxDepth(depth int) Option {
	return func(c *Crawler) error {
		if depth < 0 {
			return fmt.Errorf("max depth must not be negative, got %d", depth)
		}
		c.config.MaxDepth = depth
		return nil
	}
}

// WithThreads sets the number of concurrent pages.
func WithThreads(n int) Option {
	return func(c *Crawler) error {
		if n < 1 {
			n = 1
		}
		c.config.Threads = n
		return nil
	}
}

// WithTimeout sets the navigation timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Crawler) error {
		c.config.Timeout = timeout
		return nil
	}
}

// WithScope sets the scope rules.
func WithScope(rules scope.Rules) Option {
	return func(c *Crawler) error {
		c.config.Scope = rules
		return nil
	}
}

// WithSettle sets the settle mode and its wait.
func WithSettle(mode visitor.SettleMode, wait time.Duration) Option {
	return func(c *Crawler) error {
		c.config.Settle.Mode = mode
		if mode == visitor.SettleDelay {
			c.config.Settle.Delay = wait
		} else {
			c.config.Settle.IdleTimeout = wait
		}
		return nil
	}
}

// WithFormValues merges custom field values, keyed by lowercase field
// name or id.
func WithFormValues(values map[string]string) Option {
	return func(c *Crawler) error {
		if c.config.Forms.CustomValues == nil {
			c.config.Forms.CustomValues = make(map[string]string, len(values))
		}
		for k, v := range values {
			c.config.Forms.CustomValues[k] = v
		}
		return nil
	}
}

// WithSyntheticData toggles generated form values.
func WithSyntheticData(enabled bool) Option {
	return func(c *Crawler) error {
		c.config.Forms.Synthetic = enabled
		return nil
	}
}

// WithFormSubmission toggles form submission. Forms are still filled.
func WithFormSubmission(enabled bool) Option {
	return func(c *Crawler) error {
		c.config.Forms.Submit = enabled
		return nil
	}
}

// WithState enables snapshots under dir with the given backend.
func WithState(enabled bool, dir string, backend state.Backend) Option {
	return func(c *Crawler) error {
		c.config.State.Enabled = enabled
		if dir != "" {
			c.config.State.Dir = dir
		}
		if backend != "" {
			c.config.State.Backend = backend
		}
		return nil
	}
}

// WithStateStore uses store for snapshots instead of opening one from the
// configuration.
func WithStateStore(store state.Store) Option {
	return func(c *Crawler) error {
		c.store = store
		c.config.State.Enabled = store != nil
		return nil
	}
}

// WithOutputFile sets the report destination. Empty means stdout.
func WithOutputFile(path string) Option {
	return func(c *Crawler) error {
		c.config.Output.File = path
		return nil
	}
}

// WithOutput writes the report to w instead of the configured file.
func WithOutput(w io.Writer) Option {
	return func(c *Crawler) error {
		c.out = w
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Crawler) error {
		c.logger = l
		return nil
	}
}

// WithBrowser uses b instead of launching Chrome. The crawler closes it.
func WithBrowser(b browser.Browser) Option {
	return func(c *Crawler) error {
		c.browser = b
		return nil
	}
}

// WithAnalyzers replaces the default analyzers.
func WithAnalyzers(set analyzer.Set) Option {
	return func(c *Crawler) error {
		c.analyzers = &set
		return nil
	}
}

// WithScriptFetcher replaces the HTTP script client.
func WithScriptFetcher(f visitor.ScriptFetcher) Option {
	return func(c *Crawler) error {
		c.fetcher = f
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Crawler) error {
		c.metrics = m
		return nil
	}
}

// WithProgress draws a progress bar on d instead of periodic status logs.
func WithProgress(d *progress.Display) Option {
	return func(c *Crawler) error {
		c.progress = d
		return nil
	}
}

// WithAuth sets the credentials used to establish a session before the
// crawl starts.
func WithAuth(creds auth.Credentials) Option {
	return func(c *Crawler) error {
		c.config.Auth = creds
		return nil
	}
}
