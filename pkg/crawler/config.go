package crawler

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/ReconCrawler/internal/auth"
	"github.com/PentesterFlow/ReconCrawler/internal/browser"
	"github.com/PentesterFlow/ReconCrawler/internal/fetch"
	"github.com/PentesterFlow/ReconCrawler/internal/forms"
	"github.com/PentesterFlow/ReconCrawler/internal/logger"
	"github.com/PentesterFlow/ReconCrawler/internal/output"
	"github.com/PentesterFlow/ReconCrawler/internal/ratelimit"
	"github.com/PentesterFlow/ReconCrawler/internal/scope"
	"github.com/PentesterFlow/ReconCrawler/internal/state"
	"github.com/PentesterFlow/ReconCrawler/internal/visitor"
)

// Config holds all crawler configuration.
type Config struct {
	// Target URL to crawl
	Target string `json:"target" yaml:"target"`

	// MaxPages bounds committed pages plus pages in flight.
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// MaxDepth bounds link depth; the seed is depth 0.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// Threads is the number of pages processed concurrently.
	Threads int `json:"threads" yaml:"threads"`

	// Timeout is the per-navigation timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Settle      SettleConfig      `json:"settle" yaml:"settle"`
	Scope       scope.Rules       `json:"scope" yaml:"scope"`
	Forms       forms.Config      `json:"forms" yaml:"forms"`
	SPA         SPAConfig         `json:"spa" yaml:"spa"`
	Interaction InteractionConfig `json:"interaction" yaml:"interaction"`
	Analysis    AnalysisConfig    `json:"analysis" yaml:"analysis"`
	Auth        auth.Credentials  `json:"auth" yaml:"auth"`
	State       StateConfig       `json:"state" yaml:"state"`
	Browser     browser.Config    `json:"browser" yaml:"browser"`
	RateLimit   ratelimit.Config  `json:"rate_limit" yaml:"rate_limit"`
	Output      output.Config     `json:"output" yaml:"output"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

// SettleConfig controls how long a page is left to render after load.
type SettleConfig struct {
	Mode        visitor.SettleMode `json:"mode" yaml:"mode"`
	Delay       time.Duration      `json:"delay" yaml:"delay"`
	IdleTimeout time.Duration      `json:"idle_timeout" yaml:"idle_timeout"`
}

// SPAConfig controls single-page application detection and AJAX settling.
type SPAConfig struct {
	Threshold    int           `json:"threshold" yaml:"threshold"`
	AJAXMaxWait  time.Duration `json:"ajax_max_wait" yaml:"ajax_max_wait"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// InteractionConfig controls scrolling, expand clicks and in-page script
// evaluation.
type InteractionConfig struct {
	Scroll       bool          `json:"scroll" yaml:"scroll"`
	ScrollSteps  int           `json:"scroll_steps" yaml:"scroll_steps"`
	ScrollPause  time.Duration `json:"scroll_pause" yaml:"scroll_pause"`
	ClickExpand  bool          `json:"click_expand" yaml:"click_expand"`
	MaxClicks    int           `json:"max_clicks" yaml:"max_clicks"`
	ClickTimeout time.Duration `json:"click_timeout" yaml:"click_timeout"`

	// EvalTimeout bounds each page script evaluation and DOM read.
	EvalTimeout time.Duration `json:"eval_timeout" yaml:"eval_timeout"`
}

// AnalysisConfig controls script collection for the analyzers.
type AnalysisConfig struct {
	// ChunkEvery runs bundle analysis on every Nth page; 0 disables it.
	ChunkEvery     int   `json:"chunk_every" yaml:"chunk_every"`
	MaxScripts     int   `json:"max_scripts" yaml:"max_scripts"`
	MaxScriptBytes int64 `json:"max_script_bytes" yaml:"max_script_bytes"`
	FetchParallel  int   `json:"fetch_parallel" yaml:"fetch_parallel"`
}

// StateConfig controls crawl snapshots.
type StateConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Dir      string        `json:"dir" yaml:"dir"`
	Backend  state.Backend `json:"backend" yaml:"backend"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	v := visitor.DefaultConfig()
	return &Config{
		MaxPages: 100,
		MaxDepth: v.MaxDepth,
		Threads:  4,
		Timeout:  v.NavigationTimeout,
		Settle: SettleConfig{
			Mode:        v.SettleMode,
			Delay:       v.SettleDelay,
			IdleTimeout: v.IdleTimeout,
		},
		Scope: scope.DefaultRules(),
		Forms: forms.DefaultConfig(),
		SPA: SPAConfig{
			Threshold:    v.SPAThreshold,
			AJAXMaxWait:  v.AJAXMaxWait,
			PollInterval: v.PollInterval,
		},
		Interaction: InteractionConfig{
			Scroll:       v.Scroll,
			ScrollSteps:  v.ScrollSteps,
			ScrollPause:  v.ScrollPause,
			ClickExpand:  v.ClickExpand,
			MaxClicks:    v.MaxClicks,
			ClickTimeout: v.ClickTimeout,
			EvalTimeout:  v.EvalTimeout,
		},
		Analysis: AnalysisConfig{
			ChunkEvery:     v.ChunkEvery,
			MaxScripts:     v.MaxScripts,
			MaxScriptBytes: fetch.DefaultConfig().MaxBytes,
			FetchParallel:  v.FetchParallel,
		},
		State: StateConfig{
			Enabled:  true,
			Dir:      ".reconcrawler",
			Backend:  state.BackendFile,
			Interval: 30 * time.Second,
		},
		Browser:   browser.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Output:    output.Config{Pretty: true},
		Log:       LogConfig{Level: "info", Pretty: true},
	}
}

// LoadFromFile loads configuration from a file (YAML or JSON) on top of
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		config = DefaultConfig()
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. Paths ending in .json are
// written as JSON, everything else as YAML.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("target URL is required")
	}
	u, err := url.Parse(c.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("target must be an absolute http(s) URL: %q", c.Target)
	}

	if c.MaxPages < 1 {
		return fmt.Errorf("max pages must be at least 1")
	}

	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative")
	}

	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	switch c.Settle.Mode {
	case visitor.SettleIdle, visitor.SettleDelay:
	default:
		return fmt.Errorf("settle mode must be %q or %q, got %q", visitor.SettleIdle, visitor.SettleDelay, c.Settle.Mode)
	}

	if c.State.Enabled {
		switch c.State.Backend {
		case state.BackendFile, state.BackendBolt, state.BackendMemory:
		default:
			return fmt.Errorf("unknown state backend %q", c.State.Backend)
		}
	}

	if c.Auth.Enabled() {
		if _, err := auth.NewProvider(c.Auth); err != nil {
			return fmt.Errorf("invalid auth: %w", err)
		}
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}

	if c.Log.Level != "" {
		if _, err := logger.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("invalid log level %q", c.Log.Level)
		}
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

// VisitorConfig returns the per-page settings.
func (c *Config) VisitorConfig() visitor.Config {
	v := visitor.DefaultConfig()
	v.NavigationTimeout = c.Timeout
	v.MaxDepth = c.MaxDepth
	v.SettleMode = c.Settle.Mode
	v.SettleDelay = c.Settle.Delay
	v.IdleTimeout = c.Settle.IdleTimeout
	v.Scroll = c.Interaction.Scroll
	v.ScrollSteps = c.Interaction.ScrollSteps
	v.ScrollPause = c.Interaction.ScrollPause
	v.ClickExpand = c.Interaction.ClickExpand
	v.MaxClicks = c.Interaction.MaxClicks
	v.ClickTimeout = c.Interaction.ClickTimeout
	v.EvalTimeout = c.Interaction.EvalTimeout
	v.SPAThreshold = c.SPA.Threshold
	v.AJAXMaxWait = c.SPA.AJAXMaxWait
	v.PollInterval = c.SPA.PollInterval
	v.ChunkEvery = c.Analysis.ChunkEvery
	v.MaxScripts = c.Analysis.MaxScripts
	v.FetchParallel = c.Analysis.FetchParallel
	return v
}

// FetchConfig returns the script client settings.
func (c *Config) FetchConfig() fetch.Config {
	f := fetch.DefaultConfig()
	if c.Analysis.MaxScriptBytes > 0 {
		f.MaxBytes = c.Analysis.MaxScriptBytes
	}
	if c.Browser.UserAgent != "" {
		f.UserAgent = c.Browser.UserAgent
	}
	f.SkipTLSVerify = c.Browser.IgnoreHTTPSErrors
	return f
}

// BrowserConfig returns the browser settings with one tab per thread.
func (c *Config) BrowserConfig() browser.Config {
	b := c.Browser
	if b.MaxTabs < c.Threads {
		b.MaxTabs = c.Threads
	}
	return b
}

// LogLevel returns the configured level, defaulting to info.
func (c *Config) LogLevel() logger.Level {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return logger.InfoLevel
	}
	return level
}
