package crawler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/auth"
	"github.com/PentesterFlow/ReconCrawler/internal/logger"
	"github.com/PentesterFlow/ReconCrawler/internal/state"
	"github.com/PentesterFlow/ReconCrawler/internal/visitor"
)

// =============================================================================
// DefaultConfig Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxPages != 100 {
		t.Errorf("MaxPages = %d, want 100", config.MaxPages)
	}
	if config.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", config.MaxDepth)
	}
	if config.Threads != 4 {
		t.Errorf("Threads = %d, want 4", config.Threads)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", config.Timeout)
	}
	if config.Settle.Mode != visitor.SettleIdle {
		t.Errorf("Settle.Mode = %q, want idle", config.Settle.Mode)
	}
	if !config.Scope.SameOrigin || config.Scope.IncludeSubdomains {
		t.Errorf("Scope = %+v, want same-origin without subdomains", config.Scope)
	}
	if len(config.Scope.BlockedExtensions) == 0 {
		t.Error("default blocked extensions should be set")
	}
	if !config.Forms.Enabled || !config.Forms.Submit || !config.Forms.Synthetic {
		t.Errorf("Forms = %+v, want enabled with submission and synthetic data", config.Forms)
	}
	if !config.State.Enabled || config.State.Backend != state.BackendFile {
		t.Errorf("State = %+v", config.State)
	}
	if config.Output.File != "" {
		t.Errorf("Output.File = %q, want stdout", config.Output.File)
	}
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(c *Config) {},
		},
		{
			name:    "missing target",
			modify:  func(c *Config) { c.Target = "" },
			wantErr: "target URL is required",
		},
		{
			name:    "relative target",
			modify:  func(c *Config) { c.Target = "/login" },
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "non-http target",
			modify:  func(c *Config) { c.Target = "ftp://example.com" },
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "zero max pages",
			modify:  func(c *Config) { c.MaxPages = 0 },
			wantErr: "max pages",
		},
		{
			name:    "negative depth",
			modify:  func(c *Config) { c.MaxDepth = -1 },
			wantErr: "max depth",
		},
		{
			name:   "zero depth crawls only the seed",
			modify: func(c *Config) { c.MaxDepth = 0 },
		},
		{
			name:    "zero threads",
			modify:  func(c *Config) { c.Threads = 0 },
			wantErr: "threads",
		},
		{
			name:    "zero timeout",
			modify:  func(c *Config) { c.Timeout = 0 },
			wantErr: "timeout",
		},
		{
			name:    "unknown settle mode",
			modify:  func(c *Config) { c.Settle.Mode = "forever" },
			wantErr: "settle mode",
		},
		{
			name:    "unknown state backend",
			modify:  func(c *Config) { c.State.Backend = "redis" },
			wantErr: "state backend",
		},
		{
			name: "backend ignored when state disabled",
			modify: func(c *Config) {
				c.State.Enabled = false
				c.State.Backend = "redis"
			},
		},
		{
			name:    "incomplete auth",
			modify:  func(c *Config) { c.Auth = auth.Credentials{Type: auth.TypeJWT} },
			wantErr: "invalid auth",
		},
		{
			name:    "negative rate",
			modify:  func(c *Config) { c.RateLimit.RequestsPerSecond = -1 },
			wantErr: "rate limit",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Target = "https://example.com"
			tt.modify(config)

			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// File Tests
// =============================================================================

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
target: https://example.com
max_pages: 25
threads: 8
timeout: 10s
settle:
  mode: delay
  delay: 500ms
scope:
  same_origin: true
  include_subdomains: true
forms:
  enabled: true
  submit: false
  custom_values:
    email: pentest@example.com
state:
  enabled: true
  backend: bolt
  dir: /tmp/rc
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if config.Target != "https://example.com" || config.MaxPages != 25 || config.Threads != 8 {
		t.Errorf("basic fields = %q %d %d", config.Target, config.MaxPages, config.Threads)
	}
	if config.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", config.Timeout)
	}
	if config.Settle.Mode != visitor.SettleDelay || config.Settle.Delay != 500*time.Millisecond {
		t.Errorf("Settle = %+v", config.Settle)
	}
	if !config.Scope.IncludeSubdomains {
		t.Error("IncludeSubdomains should be true")
	}
	if config.Forms.Submit {
		t.Error("Forms.Submit should be false")
	}
	if config.Forms.CustomValues["email"] != "pentest@example.com" {
		t.Errorf("CustomValues = %v", config.Forms.CustomValues)
	}
	if config.State.Backend != state.BackendBolt {
		t.Errorf("State.Backend = %q, want bolt", config.State.Backend)
	}
	// Unset fields keep their defaults.
	if config.MaxDepth != DefaultConfig().MaxDepth {
		t.Errorf("MaxDepth = %d, want default", config.MaxDepth)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"target": "https://example.com", "max_pages": 7, "max_depth": 1}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if config.MaxPages != 7 || config.MaxDepth != 1 {
		t.Errorf("MaxPages = %d, MaxDepth = %d", config.MaxPages, config.MaxDepth)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromFile() should fail for a missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("target: [unclosed"), 0644)
	if _, err := LoadFromFile(path); err == nil {
		t.Error("LoadFromFile() should fail for invalid content")
	}
}

func TestConfig_SaveToFile(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			config := DefaultConfig()
			config.Target = "https://example.com"
			config.MaxPages = 42
			config.Forms.CustomValues = map[string]string{"username": "admin"}

			if err := config.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile() error = %v", err)
			}

			loaded, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile() error = %v", err)
			}
			if loaded.Target != config.Target || loaded.MaxPages != 42 {
				t.Errorf("round trip lost fields: %q %d", loaded.Target, loaded.MaxPages)
			}
			if loaded.Forms.CustomValues["username"] != "admin" {
				t.Errorf("CustomValues = %v", loaded.Forms.CustomValues)
			}
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	config := DefaultConfig()
	config.Target = "https://example.com"
	config.Forms.CustomValues = map[string]string{"email": "a@b.c"}

	clone := config.Clone()
	clone.Forms.CustomValues["email"] = "changed"
	clone.Scope.BlockedExtensions[0] = ".changed"

	if config.Forms.CustomValues["email"] != "a@b.c" {
		t.Error("Clone() shares CustomValues")
	}
	if config.Scope.BlockedExtensions[0] == ".changed" {
		t.Error("Clone() shares BlockedExtensions")
	}
}

// =============================================================================
// Derived Config Tests
// =============================================================================

func TestConfig_VisitorConfig(t *testing.T) {
	config := DefaultConfig()
	config.Timeout = 12 * time.Second
	config.MaxDepth = 5
	config.Settle = SettleConfig{Mode: visitor.SettleDelay, Delay: time.Second}
	config.SPA.Threshold = 4
	config.Interaction.MaxClicks = 9
	config.Interaction.ScrollPause = 750 * time.Millisecond
	config.Interaction.EvalTimeout = 3 * time.Second
	config.Analysis.ChunkEvery = 0

	v := config.VisitorConfig()
	if v.NavigationTimeout != 12*time.Second || v.MaxDepth != 5 {
		t.Errorf("NavigationTimeout = %v, MaxDepth = %d", v.NavigationTimeout, v.MaxDepth)
	}
	if v.SettleMode != visitor.SettleDelay || v.SettleDelay != time.Second {
		t.Errorf("settle = %q %v", v.SettleMode, v.SettleDelay)
	}
	if v.SPAThreshold != 4 || v.MaxClicks != 9 || v.ChunkEvery != 0 {
		t.Errorf("SPAThreshold = %d, MaxClicks = %d, ChunkEvery = %d", v.SPAThreshold, v.MaxClicks, v.ChunkEvery)
	}
	if v.ScrollPause != 750*time.Millisecond || v.EvalTimeout != 3*time.Second {
		t.Errorf("ScrollPause = %v, EvalTimeout = %v", v.ScrollPause, v.EvalTimeout)
	}
}

func TestConfig_FetchConfig(t *testing.T) {
	config := DefaultConfig()
	config.Analysis.MaxScriptBytes = 1024
	config.Browser.UserAgent = "recon/1.0"
	config.Browser.IgnoreHTTPSErrors = false

	f := config.FetchConfig()
	if f.MaxBytes != 1024 || f.UserAgent != "recon/1.0" || f.SkipTLSVerify {
		t.Errorf("FetchConfig() = %+v", f)
	}
}

func TestConfig_BrowserConfig(t *testing.T) {
	config := DefaultConfig()
	config.Threads = 10
	config.Browser.MaxTabs = 2

	if got := config.BrowserConfig().MaxTabs; got != 10 {
		t.Errorf("MaxTabs = %d, want one per thread", got)
	}
}

func TestConfig_LogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  logger.Level
	}{
		{"", logger.InfoLevel},
		{"debug", logger.DebugLevel},
		{"warn", logger.WarnLevel},
		{"nonsense", logger.InfoLevel},
	}
	for _, tt := range tests {
		config := DefaultConfig()
		config.Log.Level = tt.level
		if got := config.LogLevel(); got != tt.want {
			t.Errorf("LogLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
