// Package scope decides which URLs belong to a crawl and canonicalizes them.
package scope

import (
	"errors"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Checker validates URLs against scope rules. It is immutable after
// construction and safe for concurrent use.
type Checker struct {
	rules      Rules
	seedScheme string
	seedHost   string // lowercase, without port
	seedPort   string
	excludes   []*regexp.Regexp
	blocked    map[string]struct{}
}

// NewChecker creates a new scope checker for the given seed URL.
func NewChecker(seedURL string, rules Rules) (*Checker, error) {
	parsed, err := url.Parse(seedURL)
	if err != nil {
		return nil, err
	}

	c := &Checker{
		rules:      rules,
		seedScheme: strings.ToLower(parsed.Scheme),
		seedHost:   strings.ToLower(parsed.Hostname()),
		seedPort:   effectivePort(parsed),
		blocked:    make(map[string]struct{}, len(rules.BlockedExtensions)),
	}

	for _, ext := range rules.BlockedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.blocked[ext] = struct{}{}
	}

	for _, pattern := range rules.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		c.excludes = append(c.excludes, re)
	}

	return c, nil
}

// Host returns the seed host.
func (c *Checker) Host() string {
	return c.seedHost
}

// Allow reports whether rawURL passes the origin, extension and
// exclude-pattern filters.
func (c *Checker) Allow(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	if !c.originAllowed(parsed) {
		return false
	}
	if c.IsBlockedExtension(parsed.Path) {
		return false
	}
	for _, re := range c.excludes {
		if re.MatchString(rawURL) {
			return false
		}
	}
	return true
}

// IsBlockedExtension reports whether the URL path ends in a blocked extension.
func (c *Checker) IsBlockedExtension(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	_, ok := c.blocked[ext]
	return ok
}

func (c *Checker) originAllowed(u *url.URL) bool {
	if !c.rules.SameOrigin {
		return true
	}

	host := strings.ToLower(u.Hostname())
	if host == c.seedHost {
		return strings.ToLower(u.Scheme) == c.seedScheme && effectivePort(u) == c.seedPort
	}
	// Subdomains are matched on host alone; they often sit on another scheme.
	return c.rules.IncludeSubdomains && strings.HasSuffix(host, "."+c.seedHost)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// Canonicalize lowercases scheme and host, drops default ports and the
// fragment, and gives an empty path a "/".
func Canonicalize(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if (parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80")) ||
		(parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443")) {
		parsed.Host = parsed.Host[:strings.LastIndex(parsed.Host, ":")]
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	if parsed.Path == "" && parsed.Opaque == "" {
		parsed.Path = "/"
	}

	return parsed.String(), nil
}

// Resolve resolves ref against base and returns the canonical absolute URL.
// Non-HTTP schemes (javascript:, mailto:, data:) yield an empty string.
func Resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	out, err := Canonicalize(abs.String())
	if err != nil {
		return ""
	}
	return out
}

// StateKey derives a filesystem-safe key from the URL's host.
func StateKey(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(parsed.Host)
	if host == "" {
		return "", &url.Error{Op: "parse", URL: rawURL, Err: errMissingHost}
	}
	return strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(host), nil
}

var errMissingHost = errors.New("missing host")
