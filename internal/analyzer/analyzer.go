// Package analyzer holds the page collaborators the visitor fans out to:
// technology detection, chunk analysis, endpoint extraction, secret
// scanning and captcha handling.
package analyzer

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
	"github.com/PentesterFlow/ReconCrawler/internal/logger"
	"github.com/PentesterFlow/ReconCrawler/internal/results"
)

// Script is a script body seen on a page.
type Script struct {
	URL    string // empty for inline scripts
	Body   string
	Inline bool
}

// Page is what the analyzers see of a visited page.
type Page struct {
	URL     string
	Title   string
	HTML    string
	Doc     *goquery.Document
	Headers map[string]string // document response headers, lowercase keys
	Scripts []Script
	Live    browser.Page
}

// Base returns the parsed page URL, or nil.
func (p *Page) Base() *url.URL {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil
	}
	return u
}

// Header returns a document header by case-insensitive name.
func (p *Page) Header(name string) string {
	return p.Headers[strings.ToLower(name)]
}

// Findings is what one analyzer contributes.
type Findings struct {
	Technologies []results.Technology
	Endpoints    []results.Endpoint
	Secrets      []results.Secret
}

// Empty reports whether f holds nothing.
func (f Findings) Empty() bool {
	return len(f.Technologies) == 0 && len(f.Endpoints) == 0 && len(f.Secrets) == 0
}

// Apply appends f to agg and returns the number of new endpoints.
func (f Findings) Apply(agg *results.Aggregate) int {
	agg.AddTechnologies(f.Technologies...)
	agg.AddSecrets(f.Secrets...)
	return agg.AddEndpoints(f.Endpoints...)
}

// Analyzer inspects a page and returns findings.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, page *Page) (Findings, error)
}

// Handler acts on a live page and produces no findings.
type Handler interface {
	Name() string
	Handle(ctx context.Context, page browser.Page) error
}

// Set is the collaborators the visitor calls, in stage order. Nil entries
// are skipped.
type Set struct {
	Captcha   Handler
	Tech      Analyzer
	Chunks    Analyzer
	Endpoints Analyzer
	Secrets   Analyzer
}

// Defaults returns the built-in analyzers.
func Defaults(log *logger.Logger) Set {
	return Set{
		Captcha:   NewCaptchaDetector(log),
		Tech:      NewTechDetector(),
		Chunks:    NewChunkAnalyzer(),
		Endpoints: NewEndpointExtractor(),
		Secrets:   NewSecretScanner(),
	}
}

// resolve turns ref into an absolute URL against base without fragment.
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func sourceOf(s Script) string {
	if s.Inline || s.URL == "" {
		return "inline"
	}
	return s.URL
}
