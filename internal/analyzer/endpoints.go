package analyzer

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PentesterFlow/ReconCrawler/internal/results"
)

type callPattern struct {
	re     *regexp.Regexp
	method string // empty: taken from the match
}

// Request primitives. Groups: url, or method then url for XHR open.
var callPatterns = []callPattern{
	{regexp.MustCompile(`fetch\s*\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]\s*,\s*\{[^}]*method\s*:\s*["'](\w+)["']`), ""},
	{regexp.MustCompile(`fetch\s*\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`), "GET"},
	{regexp.MustCompile(`axios\.(get|post|put|delete|patch)\s*\(\s*["'` + "`" + `]([^"'` + "`" + `]+)["'` + "`" + `]`), ""},
	{regexp.MustCompile(`\$\.(get|post)\s*\(\s*["']([^"']+)["']`), ""},
	{regexp.MustCompile(`\$\.ajax\s*\(\s*\{[^}]*url\s*:\s*["']([^"']+)["'][^}]*?(?:type|method)\s*:\s*["'](\w+)["']`), ""},
	{regexp.MustCompile(`\$\.ajax\s*\(\s*\{[^}]*url\s*:\s*["']([^"']+)["']`), "GET"},
	{regexp.MustCompile(`\.open\s*\(\s*["'](\w+)["']\s*,\s*["']([^"']+)["']`), ""},
}

var (
	quotedAPIPath = regexp.MustCompile(`["'](/(?:api|rest|graphql|v[0-9]+)(?:/[a-zA-Z0-9_.{}:$-]*)*(?:\?[^"'\s]*)?)["']`)
	absoluteURL   = regexp.MustCompile(`https?://[a-zA-Z0-9][a-zA-Z0-9.-]*[a-zA-Z0-9](?::\d+)?(?:/[^\s"'<>()\x60\\]*)?`)
	httpMethods   = map[string]bool{"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true, "HEAD": true, "OPTIONS": true}
)

var apiIndicators = []string{"/api/", "/v1/", "/v2/", "/v3/", "/rest/", "/graphql", ".json"}

// EndpointExtractor finds request targets in inline and fetched scripts.
type EndpointExtractor struct{}

// NewEndpointExtractor creates an extractor.
func NewEndpointExtractor() *EndpointExtractor { return &EndpointExtractor{} }

// Name implements Analyzer.
func (e *EndpointExtractor) Name() string { return "endpoints" }

// Analyze implements Analyzer.
func (e *EndpointExtractor) Analyze(ctx context.Context, page *Page) (Findings, error) {
	base := page.Base()
	seen := make(map[string]bool)
	var eps []results.Endpoint

	add := func(method, raw, source string) {
		u := resolve(base, cleanURL(raw))
		if u == "" {
			return
		}
		method = strings.ToUpper(method)
		key := method + " " + u
		if seen[key] {
			return
		}
		seen[key] = true
		eps = append(eps, results.Endpoint{URL: u, Method: method, Source: source, PageURL: page.URL})
	}

	for _, s := range page.Scripts {
		if ctx.Err() != nil {
			return Findings{Endpoints: eps}, ctx.Err()
		}
		src := sourceOf(s)
		for _, c := range ExtractCalls(s.Body) {
			add(c.Method, c.URL, src)
		}
		for _, m := range quotedAPIPath.FindAllStringSubmatch(s.Body, -1) {
			add("GET", m[1], src)
		}
		for _, m := range absoluteURL.FindAllString(s.Body, -1) {
			if IsAPIURL(m) {
				add("GET", m, src)
			}
		}
	}
	return Findings{Endpoints: eps}, nil
}

// Call is a request primitive found in a script.
type Call struct {
	Method string
	URL    string
}

// ExtractCalls returns the targets of fetch, axios, jQuery and XHR calls
// in body. Each target is reported once.
func ExtractCalls(body string) []Call {
	var out []Call
	claimed := make(map[string]bool)

	for _, p := range callPatterns {
		for _, m := range p.re.FindAllStringSubmatch(body, -1) {
			method, target := p.method, ""
			switch {
			case len(m) == 2:
				target = m[1]
			case httpMethods[strings.ToUpper(m[1])]:
				method, target = m[1], m[2]
			default:
				target, method = m[1], m[2]
			}
			method = strings.ToUpper(method)
			if !httpMethods[method] || target == "" {
				continue
			}
			// The more specific pattern for a call site wins.
			if claimed[target] {
				continue
			}
			claimed[target] = true
			out = append(out, Call{Method: method, URL: target})
		}
	}
	return out
}

// IsAPIURL reports whether u looks like an API endpoint.
func IsAPIURL(u string) bool {
	lower := strings.ToLower(u)
	for _, ind := range apiIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

func cleanURL(raw string) string {
	raw = strings.TrimRight(raw, ".,;:!?'\")}]>")
	raw = strings.ReplaceAll(raw, `\/`, "/")
	raw = strings.ReplaceAll(raw, `\`, "")
	if strings.Contains(raw, "${") {
		// Template literal; keep the static prefix.
		raw = raw[:strings.Index(raw, "${")]
	}
	if strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "mailto:") {
		return ""
	}
	if _, err := url.Parse(raw); err != nil {
		return ""
	}
	return raw
}
