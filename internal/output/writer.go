// Package output writes the final crawl report.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/PentesterFlow/ReconCrawler/internal/results"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteReport writes the complete crawl report
	WriteReport(report *Report) error

	// WritePage writes a single committed page (for streaming)
	WritePage(page *results.PageRecord) error

	// WriteEndpoint writes a single endpoint (for streaming)
	WriteEndpoint(endpoint *results.Endpoint) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration. An empty File means stdout.
type Config struct {
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Stream bool   `json:"stream,omitempty" yaml:"stream,omitempty"`
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, config Config) Writer {
	return NewJSONWriter(w, config.Pretty, config.Stream)
}

// Open creates a writer for config.File, creating parent directories. The
// returned writer closes the file; stdout is never closed.
func Open(config Config) (Writer, error) {
	if config.File == "" || config.File == "-" {
		return NewWriter(nopCloser{os.Stdout}, config), nil
	}
	if dir := filepath.Dir(config.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(config.File)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return NewWriter(f, config), nil
}

// WriteFile writes report to config.File and closes it.
func WriteFile(config Config, report *Report) error {
	w, err := Open(config)
	if err != nil {
		return err
	}
	if err := w.WriteReport(report); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

type nopCloser struct {
	io.Writer
}
