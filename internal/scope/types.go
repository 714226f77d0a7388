package scope

// Rules defines crawling scope rules.
type Rules struct {
	// SameOrigin restricts URLs to the seed's scheme, host and port.
	SameOrigin bool `json:"same_origin" yaml:"same_origin"`
	// IncludeSubdomains widens SameOrigin to subdomains of the seed host.
	IncludeSubdomains bool `json:"include_subdomains" yaml:"include_subdomains"`
	// BlockedExtensions are path suffixes never crawled or captured.
	BlockedExtensions []string `json:"blocked_extensions" yaml:"blocked_extensions"`
	// ExcludePatterns are regular expressions matched against the full URL.
	ExcludePatterns []string `json:"exclude_patterns,omitempty" yaml:"exclude_patterns,omitempty"`
}

// DefaultBlockedExtensions contains static asset suffixes.
var DefaultBlockedExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".ico", ".svg", ".webp", ".bmp",
	".css", ".woff", ".woff2", ".ttf", ".eot", ".otf",
	".pdf", ".zip", ".tar", ".gz", ".rar", ".7z", ".exe", ".dmg",
	".mp3", ".mp4", ".wav", ".avi", ".mov", ".webm",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
}

// DefaultRules returns same-origin rules with the default blocked extensions.
func DefaultRules() Rules {
	exts := make([]string, len(DefaultBlockedExtensions))
	copy(exts, DefaultBlockedExtensions)
	return Rules{
		SameOrigin:        true,
		BlockedExtensions: exts,
	}
}
