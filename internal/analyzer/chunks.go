package analyzer

import (
	"context"
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"

	"github.com/PentesterFlow/ReconCrawler/internal/results"
)

var (
	chunkRef     = regexp.MustCompile(`["'` + "`" + `]((?:/|\./)?(?:[a-zA-Z0-9_.-]+/)*(?:_next/static/chunks|static/js|_nuxt|assets|js|chunks)/[a-zA-Z0-9_./-]*?\.(?:chunk\.)?js)["'` + "`" + `]`)
	sourceMap    = regexp.MustCompile(`//[#@]\s*sourceMappingURL=([^\s'"]+)`)
	// webpack runtime: {12:"a1b2c3",...}[e]+".chunk.js"
	webpackMap   = regexp.MustCompile(`\{((?:\s*["']?\d+["']?\s*:\s*["'][0-9a-f]{6,}["']\s*,?)+)\}\[\w+\]\s*\+\s*["']([a-zA-Z0-9_./-]*\.js)["']`)
	webpackEntry = regexp.MustCompile(`["']?(\d+)["']?\s*:\s*["']([0-9a-f]{6,})["']`)
	publicPath   = regexp.MustCompile(`\.p\s*=\s*["']([^"']+)["']`)
)

// ChunkAnalyzer finds lazily loaded JavaScript chunks and source maps
// referenced by a page's scripts. The visitor runs it every Nth page.
type ChunkAnalyzer struct{}

// NewChunkAnalyzer creates an analyzer.
func NewChunkAnalyzer() *ChunkAnalyzer { return &ChunkAnalyzer{} }

// Name implements Analyzer.
func (a *ChunkAnalyzer) Name() string { return "chunks" }

// Analyze implements Analyzer.
func (a *ChunkAnalyzer) Analyze(ctx context.Context, page *Page) (Findings, error) {
	base := page.Base()
	seen := make(map[string]bool)
	var eps []results.Endpoint

	add := func(raw, source, kind string) {
		u := resolve(base, raw)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		eps = append(eps, results.Endpoint{URL: u, Method: "GET", Source: kind + ":" + source, PageURL: page.URL})
	}

	if page.Doc != nil {
		page.Doc.Find(`link[rel="preload"][as="script"], link[rel="modulepreload"], link[rel="prefetch"]`).Each(func(_ int, s *goquery.Selection) {
			if href, ok := s.Attr("href"); ok {
				add(href, page.URL, "chunk")
			}
		})
	}

	for _, s := range page.Scripts {
		if ctx.Err() != nil {
			return Findings{Endpoints: eps}, ctx.Err()
		}
		src := sourceOf(s)
		for _, m := range chunkRef.FindAllStringSubmatch(s.Body, -1) {
			add(m[1], src, "chunk")
		}
		for _, path := range webpackChunks(s.Body) {
			add(path, src, "chunk")
		}
		if m := sourceMap.FindStringSubmatch(s.Body); m != nil && s.URL != "" {
			// Source maps resolve against the script, not the page.
			if u := resolve(scriptBase(s.URL), m[1]); u != "" && !seen[u] {
				seen[u] = true
				eps = append(eps, results.Endpoint{URL: u, Method: "GET", Source: "sourcemap:" + src, PageURL: page.URL})
			}
		}
	}
	return Findings{Endpoints: eps}, nil
}

// webpackChunks expands a webpack runtime's id-to-hash map into chunk
// paths under the runtime's public path.
func webpackChunks(body string) []string {
	m := webpackMap.FindStringSubmatch(body)
	if m == nil {
		return nil
	}
	prefix := ""
	if p := publicPath.FindStringSubmatch(body); p != nil {
		prefix = p[1]
	}
	var out []string
	for _, e := range webpackEntry.FindAllStringSubmatch(m[1], -1) {
		out = append(out, prefix+e[1]+"."+e[2]+m[2])
	}
	return out
}

func scriptBase(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}
