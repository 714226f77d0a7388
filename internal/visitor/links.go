package visitor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/PentesterFlow/ReconCrawler/internal/scope"
)

var (
	onclickURL = regexp.MustCompile(`(?:location(?:\.href)?\s*=|location\.(?:assign|replace)\(|window\.open\()\s*['"]([^'"]+)['"]`)
	commentRef = regexp.MustCompile(`(?i)(?:href|src|action)\s*=\s*["']([^"']+)["']`)
	jsonPath   = regexp.MustCompile(`"(/[A-Za-z0-9_\-./?=&%~+]*)"`)
)

// linkAttrs maps selectors to the attribute holding the target.
var linkAttrs = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"area[href]", "href"},
	{"iframe[src]", "src"},
	{"frame[src]", "src"},
	{"[ng-href]", "ng-href"},
	{"[routerlink]", "routerlink"},
}

// linkSet resolves candidates against a base and keeps the first
// occurrence of each.
type linkSet struct {
	base *url.URL
	seen map[string]bool
	out  []string
}

func (s *linkSet) add(ref string) {
	if strings.Contains(ref, "{{") {
		return
	}
	u := scope.Resolve(s.base, ref)
	if u == "" || s.seen[u] {
		return
	}
	s.seen[u] = true
	s.out = append(s.out, u)
}

// ExtractLinks returns the absolute, fragment-free URLs referenced by a
// page: link attributes, onclick handlers, URLs in the text and markup,
// and references inside HTML comments. Order follows first appearance.
func ExtractLinks(body, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	set := &linkSet{base: base, seen: make(map[string]bool)}

	for _, la := range linkAttrs {
		doc.Find(la.selector).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(la.attr); ok {
				if la.attr == "routerlink" {
					v = strings.Trim(v, "[]\"' ")
				}
				set.add(v)
			}
		})
	}

	doc.Find("[onclick]").Each(func(_ int, s *goquery.Selection) {
		handler, _ := s.Attr("onclick")
		for _, m := range onclickURL.FindAllStringSubmatch(handler, -1) {
			set.add(m[1])
		}
	})

	for _, u := range ExtractURLsFromText(doc.Text()) {
		set.add(u)
	}
	for _, u := range ExtractURLsFromText(body) {
		set.add(u)
	}

	for _, c := range htmlComments(body) {
		for _, m := range commentRef.FindAllStringSubmatch(c, -1) {
			set.add(m[1])
		}
		for _, u := range ExtractURLsFromText(c) {
			set.add(u)
		}
	}
	return set.out, nil
}

// htmlComments returns the text of every comment in body.
func htmlComments(body string) []string {
	var out []string
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return out
		case html.CommentToken:
			if c := strings.TrimSpace(string(z.Text())); c != "" {
				out = append(out, c)
			}
		}
	}
}

// ExtractURLsFromText returns the http(s) URLs embedded in text.
func ExtractURLsFromText(text string) []string {
	var urls []string
	for _, scheme := range []string{"https://", "http://"} {
		idx := 0
		for {
			pos := strings.Index(text[idx:], scheme)
			if pos == -1 {
				break
			}
			start := idx + pos
			end := start + len(scheme)
			for end < len(text) && !isURLTerminator(text[end]) {
				end++
			}
			candidate := strings.TrimRight(text[start:end], ".,;:!?")
			if len(candidate) > len(scheme) {
				if _, err := url.Parse(candidate); err == nil {
					urls = append(urls, candidate)
				}
			}
			idx = end
		}
	}
	return urls
}

func isURLTerminator(c byte) bool {
	return strings.IndexByte(" \t\n\r\"'<>()[]{}`\\", c) >= 0
}

// URLsFromJSON returns absolute URLs and root-relative paths found in a
// JSON body, resolved against the response URL.
func URLsFromJSON(body, responseURL string) []string {
	base, err := url.Parse(responseURL)
	if err != nil {
		return nil
	}
	set := &linkSet{base: base, seen: make(map[string]bool)}
	for _, u := range ExtractURLsFromText(strings.ReplaceAll(body, `\/`, "/")) {
		set.add(u)
	}
	for _, m := range jsonPath.FindAllStringSubmatch(body, -1) {
		if len(m[1]) > 1 && !strings.HasPrefix(m[1], "//") {
			set.add(m[1])
		}
	}
	return set.out
}
