package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newBuffered(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Output: &buf}), &buf
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != InfoLevel {
		t.Errorf("Level = %v, want InfoLevel", cfg.Level)
	}
	if !cfg.Pretty {
		t.Error("Pretty should be true by default")
	}
	if cfg.Output == nil {
		t.Error("Output should not be nil")
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("ignored")
	l.WithURL("http://x").StageFailure("http://x", "links", errors.New("boom"))

	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	if got := OrNop(l); got != l {
		t.Error("OrNop should return the given logger")
	}
}

func TestLogger_Fields(t *testing.T) {
	tests := []struct {
		name  string
		build func(*Logger) *Logger
		want  string
	}{
		{"component", func(l *Logger) *Logger { return l.WithComponent("scheduler") }, `"component":"scheduler"`},
		{"field", func(l *Logger) *Logger { return l.WithField("k", "v") }, `"k":"v"`},
		{"url", func(l *Logger) *Logger { return l.WithURL("http://a.test/") }, `"url":"http://a.test/"`},
		{"worker", func(l *Logger) *Logger { return l.WithWorker(3) }, `"worker_id":3`},
		{"depth", func(l *Logger) *Logger { return l.WithDepth(2) }, `"depth":2`},
		{"error", func(l *Logger) *Logger { return l.WithError(errors.New("bad")) }, `"error":"bad"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBuffered(InfoLevel)
			tt.build(l).Info("msg")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBuffered(WarnLevel)

	l.Debug("debug")
	l.Info("info")
	if buf.Len() != 0 {
		t.Errorf("expected no output below warn, got %q", buf.String())
	}

	l.Warnf("warn %d", 1)
	if !strings.Contains(buf.String(), "warn 1") {
		t.Errorf("warn message missing: %q", buf.String())
	}

	l.SetLevel(DebugLevel)
	l.Debugf("now %s", "visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("debug message missing after SetLevel: %q", buf.String())
	}
}

// =============================================================================
// Domain events
// =============================================================================

func TestLogger_PageEvent(t *testing.T) {
	l, buf := newBuffered(InfoLevel)
	l.PageEvent("http://a.test/x", 1, 12, 250*time.Millisecond)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["url"] != "http://a.test/x" {
		t.Errorf("url = %v, want http://a.test/x", entry["url"])
	}
	if entry["links"] != float64(12) {
		t.Errorf("links = %v, want 12", entry["links"])
	}
	if entry["message"] != "Page committed" {
		t.Errorf("message = %v, want Page committed", entry["message"])
	}
}

func TestLogger_StageFailure(t *testing.T) {
	l, buf := newBuffered(InfoLevel)
	l.StageFailure("http://a.test/", "forms", errors.New("detached"))

	out := buf.String()
	for _, want := range []string{`"stage":"forms"`, `"level":"warn"`, "detached"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestLogger_FormEvent(t *testing.T) {
	l, buf := newBuffered(InfoLevel)
	l.FormEvent("http://a.test/", "POST:http://a.test/login:input:text:email", 1, true)

	out := buf.String()
	if !strings.Contains(out, `"submitted":true`) || !strings.Contains(out, `"fields":1`) {
		t.Errorf("unexpected form event: %q", out)
	}
}

func TestLogger_StatsEvent(t *testing.T) {
	l, buf := newBuffered(InfoLevel)
	l.StatsEvent(map[string]interface{}{"pages": 5})

	if !strings.Contains(buf.String(), `"pages":5`) {
		t.Errorf("stats missing: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
