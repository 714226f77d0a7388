package analyzer

import (
	"context"
	"regexp"
	"strings"

	"github.com/PentesterFlow/ReconCrawler/internal/results"
)

type secretPattern struct {
	kind string
	re   *regexp.Regexp
}

// Patterns with a capture group report the group, others the whole match.
var secretPatterns = []secretPattern{
	{"aws_access_key", regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"aws_secret", regexp.MustCompile(`(?i)aws[_-]?secret[_-]?(?:access[_-]?)?key\s*[=:]\s*["']([a-zA-Z0-9/+=]{40})["']`)},
	{"google_api_key", regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`)},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[0-9A-Za-z]{36}\b`)},
	{"stripe_key", regexp.MustCompile(`\b(?:sk|rk)_(?:test|live)_[0-9a-zA-Z]{24,}\b`)},
	{"slack_webhook", regexp.MustCompile(`https://hooks\.slack\.com/services/[A-Z0-9]+/[A-Z0-9]+/[a-zA-Z0-9]+`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z-]{10,}`)},
	{"sendgrid_key", regexp.MustCompile(`\bSG\.[a-zA-Z0-9_-]{22}\.[a-zA-Z0-9_-]{43}\b`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)},
	{"firebase_key", regexp.MustCompile(`(?i)firebase[_-]?(?:api[_-]?)?key\s*[=:]\s*["']([a-zA-Z0-9_-]{20,})["']`)},
	{"api_key", regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)\s*["']?\s*[=:]\s*["']([a-zA-Z0-9_-]{16,})["']`)},
	{"client_secret", regexp.MustCompile(`(?i)client[_-]?secret\s*["']?\s*[=:]\s*["']([^"'\s]{10,})["']`)},
	{"access_token", regexp.MustCompile(`(?i)(?:access|auth)[_-]?token\s*["']?\s*[=:]\s*["']([a-zA-Z0-9_.-]{16,})["']`)},
	{"password", regexp.MustCompile(`(?i)\bpassw(?:or)?d\s*["']?\s*[=:]\s*["']([^"'\s]{6,})["']`)},
}

// placeholders are values that are never real credentials.
var placeholders = []string{"your_", "xxxx", "example", "placeholder", "changeme", "<", "process.env"}

// SecretScanner scans page markup and scripts for credentials.
type SecretScanner struct{}

// NewSecretScanner creates a scanner.
func NewSecretScanner() *SecretScanner { return &SecretScanner{} }

// Name implements Analyzer.
func (s *SecretScanner) Name() string { return "secrets" }

// Analyze implements Analyzer.
func (s *SecretScanner) Analyze(ctx context.Context, page *Page) (Findings, error) {
	seen := make(map[string]bool)
	var out []results.Secret

	scan := func(body, source string) {
		for _, sec := range ScanSecrets(body) {
			key := sec.Kind + "\x00" + sec.Value
			if seen[key] {
				continue
			}
			seen[key] = true
			sec.Source = source
			sec.PageURL = page.URL
			out = append(out, sec)
		}
	}

	scan(page.HTML, page.URL)
	for _, sc := range page.Scripts {
		if ctx.Err() != nil {
			return Findings{Secrets: out}, ctx.Err()
		}
		if sc.Inline {
			// Inline bodies are already part of the page HTML.
			continue
		}
		scan(sc.Body, sourceOf(sc))
	}
	return Findings{Secrets: out}, nil
}

// ScanSecrets returns every credential-like value in body. Source and
// PageURL are left empty.
func ScanSecrets(body string) []results.Secret {
	var out []results.Secret
	for _, p := range secretPatterns {
		for _, m := range p.re.FindAllStringSubmatch(body, -1) {
			value := m[0]
			if len(m) > 1 {
				value = m[1]
			}
			if isPlaceholder(value) {
				continue
			}
			out = append(out, results.Secret{Kind: p.kind, Value: value})
		}
	}
	return out
}

func isPlaceholder(v string) bool {
	lower := strings.ToLower(v)
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
