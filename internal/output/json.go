package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/PentesterFlow/ReconCrawler/internal/results"
)

// JSONWriter writes output in JSON format.
type JSONWriter struct {
	mu     sync.Mutex
	writer io.Writer
	pretty bool
	stream bool
	closed bool
}

// NewJSONWriter creates a new JSON writer. In stream mode pages and
// endpoints are written as one event per line as they arrive.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteReport writes the complete crawl report.
func (j *JSONWriter) WriteReport(report *Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	if j.stream {
		return j.write(StreamEvent{Type: "report", Data: report})
	}
	return j.write(report)
}

// WritePage writes a single page in streaming mode.
func (j *JSONWriter) WritePage(page *results.PageRecord) error {
	return j.writeEvent("page", page)
}

// WriteEndpoint writes a single endpoint in streaming mode.
func (j *JSONWriter) WriteEndpoint(endpoint *results.Endpoint) error {
	return j.writeEvent("endpoint", endpoint)
}

func (j *JSONWriter) writeEvent(kind string, data interface{}) error {
	if !j.stream {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	return j.write(StreamEvent{Type: kind, Data: data})
}

// write marshals v and terminates it with a newline. Stream events are
// always compact so each one stays on a single line.
func (j *JSONWriter) write(v interface{}) error {
	var data []byte
	var err error

	if j.pretty && !j.stream {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = j.writer.Write(data)
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Close closes the writer. Further writes are ignored.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if flusher, ok := j.writer.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			return err
		}
	}
	if closer, ok := j.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// StreamEvent represents a streaming output event.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
