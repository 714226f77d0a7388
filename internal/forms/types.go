package forms

import "time"

// Kind distinguishes real forms from SPA pseudo-forms.
type Kind string

const (
	KindForm      Kind = "form"
	KindSPARegion Kind = "spa-region"
)

// Field describes one fillable control.
type Field struct {
	Tag      string `json:"tag"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	ID       string `json:"id,omitempty"`
	Index    int    `json:"index"`
	Disabled bool   `json:"disabled,omitempty"`
	ReadOnly bool   `json:"readonly,omitempty"`
	Visible  bool   `json:"visible"`
}

// Ident returns the name, or the id when the name is empty.
func (f Field) Ident() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

// Button describes a clickable control inside a form or region.
type Button struct {
	Tag   string `json:"tag"`
	Type  string `json:"type,omitempty"`
	Text  string `json:"text,omitempty"`
	Index int    `json:"index"`
}

// Descriptor is a discovered form or SPA region.
type Descriptor struct {
	Kind           Kind     `json:"type"`
	ContainerIndex int      `json:"container_index"`
	Action         string   `json:"action"`
	Method         string   `json:"method"`
	Signature      string   `json:"signature"`
	Fields         []Field  `json:"fields"`
	Buttons        []Button `json:"buttons,omitempty"`
}

// Key is the crawl-wide dedup key: method:action:signature.
func (d Descriptor) Key() string {
	return d.Method + ":" + d.Action + ":" + d.Signature
}

// Attempt records one processed form.
type Attempt struct {
	PageURL         string     `json:"page_url"`
	Key             string     `json:"key"`
	Form            Descriptor `json:"form"`
	FieldsProcessed int        `json:"fields_processed"`
	Submitted       bool       `json:"submitted"`
	// Confirmed is true when a POST or navigation followed the submit click.
	Confirmed bool      `json:"confirmed"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the outcome of processing one page.
type Result struct {
	FieldsProcessed int
	Submitted       bool
	Attempts        []Attempt
}
