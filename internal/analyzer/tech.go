package analyzer

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/PentesterFlow/ReconCrawler/internal/results"
)

type versionPattern struct {
	re       *regexp.Regexp
	name     string
	category string
}

func vp(pattern, name, category string) versionPattern {
	return versionPattern{re: regexp.MustCompile(`(?i)` + pattern), name: name, category: category}
}

var serverPatterns = []versionPattern{
	vp(`nginx/?(\d+\.[\d.]+)?`, "nginx", "web-server"),
	vp(`apache/?(\d+\.[\d.]+)?`, "Apache", "web-server"),
	vp(`microsoft-iis/?(\d+\.[\d.]+)?`, "Microsoft IIS", "web-server"),
	vp(`lighttpd/?(\d+\.[\d.]+)?`, "lighttpd", "web-server"),
	vp(`caddy/?(\d+\.[\d.]+)?`, "Caddy", "web-server"),
	vp(`openresty/?(\d+\.[\d.]+)?`, "OpenResty", "web-server"),
	vp(`litespeed`, "LiteSpeed", "web-server"),
	vp(`cloudflare`, "Cloudflare", "cdn"),
	vp(`gunicorn/?(\d+\.[\d.]+)?`, "Gunicorn", "web-server"),
	vp(`werkzeug/?(\d+\.[\d.]+)?`, "Werkzeug", "framework"),
	vp(`jetty/?(\d+\.[\d.]+)?`, "Jetty", "web-server"),
	vp(`tomcat/?(\d+\.[\d.]+)?`, "Apache Tomcat", "web-server"),
}

var poweredByPatterns = []versionPattern{
	vp(`php/?(\d+\.[\d.]+)?`, "PHP", "language"),
	vp(`asp\.net`, "ASP.NET", "framework"),
	vp(`express`, "Express", "framework"),
	vp(`next\.js/?(\d+\.[\d.]+)?`, "Next.js", "framework"),
	vp(`nuxt`, "Nuxt.js", "framework"),
	vp(`django/?(\d+\.[\d.]+)?`, "Django", "framework"),
	vp(`rails/?(\d+\.[\d.]+)?`, "Ruby on Rails", "framework"),
	vp(`laravel/?(\d+\.[\d.]+)?`, "Laravel", "framework"),
	vp(`spring/?(\d+\.[\d.]+)?`, "Spring", "framework"),
}

var cookieTechs = map[string]results.Technology{
	"PHPSESSID":         {Name: "PHP", Category: "language", Confidence: 100},
	"ASP.NET_SessionId": {Name: "ASP.NET", Category: "framework", Confidence: 100},
	"JSESSIONID":        {Name: "Java", Category: "language", Confidence: 100},
	"rack.session":      {Name: "Ruby", Category: "language", Confidence: 100},
	"csrftoken":         {Name: "Django", Category: "framework", Confidence: 80},
	"django_session":    {Name: "Django", Category: "framework", Confidence: 100},
	"laravel_session":   {Name: "Laravel", Category: "framework", Confidence: 100},
	"connect.sid":       {Name: "Express", Category: "framework", Confidence: 90},
	"__cf_bm":           {Name: "Cloudflare", Category: "cdn", Confidence: 100},
}

type htmlPattern struct {
	pattern    string
	re         *regexp.Regexp
	name       string
	category   string
	confidence int
}

func hp(pattern, name, category string, confidence int) htmlPattern {
	return htmlPattern{pattern: pattern, re: regexp.MustCompile(`(?i)` + pattern), name: name, category: category, confidence: confidence}
}

var htmlPatterns = []htmlPattern{
	hp(`data-reactroot`, "React", "javascript-framework", 100),
	hp(`__NEXT_DATA__`, "Next.js", "javascript-framework", 100),
	hp(`data-v-[0-9a-f]{6,}`, "Vue.js", "javascript-framework", 100),
	hp(`__NUXT__`, "Nuxt.js", "javascript-framework", 100),
	hp(`v-cloak`, "Vue.js", "javascript-framework", 100),
	hp(`ng-version=`, "Angular", "javascript-framework", 100),
	hp(`ng-app`, "AngularJS", "javascript-framework", 100),
	hp(`data-ember`, "Ember.js", "javascript-framework", 100),
	hp(`svelte-[a-z0-9]{5,}`, "Svelte", "javascript-framework", 80),
	hp(`jquery[.-]?[\d.]*(\.min)?\.js`, "jQuery", "javascript-library", 90),
	hp(`bootstrap(\.min)?\.css`, "Bootstrap", "css-framework", 100),
	hp(`wp-content|wp-includes`, "WordPress", "cms", 100),
	hp(`/sites/default/files`, "Drupal", "cms", 90),
	hp(`cdn\.shopify\.com`, "Shopify", "ecommerce", 100),
	hp(`woocommerce`, "WooCommerce", "ecommerce", 100),
	hp(`google-analytics\.com|gtag\(`, "Google Analytics", "analytics", 100),
	hp(`googletagmanager\.com`, "Google Tag Manager", "analytics", 100),
	hp(`js\.stripe\.com`, "Stripe", "payment", 100),
	hp(`recaptcha`, "reCAPTCHA", "security", 100),
	hp(`hcaptcha\.com`, "hCaptcha", "security", 100),
	hp(`challenges\.cloudflare\.com/turnstile`, "Cloudflare Turnstile", "security", 100),
}

// TechDetector fingerprints technologies from document headers, cookies,
// markup patterns, meta generator tags and script sources.
type TechDetector struct{}

// NewTechDetector creates a detector.
func NewTechDetector() *TechDetector { return &TechDetector{} }

// Name implements Analyzer.
func (d *TechDetector) Name() string { return "tech" }

// Analyze implements Analyzer.
func (d *TechDetector) Analyze(ctx context.Context, page *Page) (Findings, error) {
	c := newTechCollector()

	d.fromHeaders(page, c)
	d.fromHTML(page.HTML, c)
	if page.Doc != nil {
		d.fromDocument(page.Doc, c)
	}
	return Findings{Technologies: c.list()}, nil
}

func (d *TechDetector) fromHeaders(page *Page, c *techCollector) {
	if server := page.Header("Server"); server != "" {
		matchVersioned(serverPatterns, server, "Server header", c)
	}
	if powered := page.Header("X-Powered-By"); powered != "" {
		matchVersioned(poweredByPatterns, powered, "X-Powered-By header", c)
	}
	if v := page.Header("X-AspNet-Version"); v != "" {
		c.add(results.Technology{Name: "ASP.NET", Category: "framework", Version: v, Confidence: 100, Evidence: "X-AspNet-Version header"})
	}
	if gen := page.Header("X-Generator"); gen != "" {
		c.add(results.Technology{Name: gen, Category: "cms", Confidence: 90, Evidence: "X-Generator header"})
	}
	if page.Header("CF-Ray") != "" {
		c.add(results.Technology{Name: "Cloudflare", Category: "cdn", Confidence: 100, Evidence: "CF-Ray header"})
	}
	if strings.Contains(strings.ToLower(page.Header("X-Cache")), "cloudfront") {
		c.add(results.Technology{Name: "Amazon CloudFront", Category: "cdn", Confidence: 100, Evidence: "X-Cache header"})
	}
	if page.Header("X-Vercel-Id") != "" {
		c.add(results.Technology{Name: "Vercel", Category: "hosting", Confidence: 100, Evidence: "X-Vercel-Id header"})
	}

	for _, line := range strings.Split(page.Header("Set-Cookie"), "\n") {
		name, _, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		if tech, ok := cookieTechs[name]; ok {
			tech.Evidence = name + " cookie"
			c.add(tech)
		}
	}
}

func matchVersioned(patterns []versionPattern, value, evidence string, c *techCollector) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(value)
		if m == nil {
			continue
		}
		version := ""
		if len(m) > 1 {
			version = m[1]
		}
		c.add(results.Technology{Name: p.name, Category: p.category, Version: version, Confidence: 100, Evidence: evidence + ": " + value})
	}
}

func (d *TechDetector) fromHTML(html string, c *techCollector) {
	if html == "" {
		return
	}
	for _, p := range htmlPatterns {
		if p.re.MatchString(html) {
			c.add(results.Technology{Name: p.name, Category: p.category, Confidence: p.confidence, Evidence: "HTML pattern: " + p.pattern})
		}
	}
}

func (d *TechDetector) fromDocument(doc *goquery.Document, c *techCollector) {
	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		if name, _ := s.Attr("name"); !strings.EqualFold(name, "generator") {
			return
		}
		if gen, ok := s.Attr("content"); ok && strings.TrimSpace(gen) != "" {
			name, version := splitGenerator(gen)
			c.add(results.Technology{Name: name, Category: "cms", Version: version, Confidence: 100, Evidence: "Meta generator tag"})
		}
	})
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		src = strings.ToLower(src)
		switch {
		case strings.Contains(src, "/_next/"):
			c.add(results.Technology{Name: "Next.js", Category: "javascript-framework", Confidence: 100, Evidence: "script src: " + src})
		case strings.Contains(src, "/_nuxt/"):
			c.add(results.Technology{Name: "Nuxt.js", Category: "javascript-framework", Confidence: 100, Evidence: "script src: " + src})
		case strings.Contains(src, "angular"):
			c.add(results.Technology{Name: "Angular", Category: "javascript-framework", Confidence: 70, Evidence: "script src: " + src})
		}
	})
}

// splitGenerator splits "WordPress 6.4.2" into name and version.
func splitGenerator(gen string) (string, string) {
	gen = strings.TrimSpace(gen)
	i := strings.LastIndexByte(gen, ' ')
	if i > 0 && len(gen) > i+1 && gen[i+1] >= '0' && gen[i+1] <= '9' {
		return gen[:i], gen[i+1:]
	}
	return gen, ""
}

// techCollector keeps one entry per name, preferring higher confidence and
// then a known version.
type techCollector struct {
	order []string
	byKey map[string]results.Technology
}

func newTechCollector() *techCollector {
	return &techCollector{byKey: make(map[string]results.Technology)}
}

func (c *techCollector) add(t results.Technology) {
	key := strings.ToLower(t.Name)
	prev, ok := c.byKey[key]
	if !ok {
		c.order = append(c.order, key)
		c.byKey[key] = t
		return
	}
	if t.Confidence > prev.Confidence || (t.Confidence == prev.Confidence && prev.Version == "" && t.Version != "") {
		c.byKey[key] = t
	}
}

func (c *techCollector) list() []results.Technology {
	out := make([]results.Technology, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}
