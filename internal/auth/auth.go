// Package auth establishes an authenticated session before a crawl and
// shares it with the browser and the script client.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
)

// Type represents the type of authentication.
type Type string

const (
	TypeNone      Type = "none"
	TypeSession   Type = "session"
	TypeJWT       Type = "jwt"
	TypeOAuth     Type = "oauth"
	TypeFormLogin Type = "form"
	TypeAPIKey    Type = "apikey"
	TypeBasic     Type = "basic"
)

// Credentials holds authentication settings.
type Credentials struct {
	Type     Type              `json:"type" yaml:"type"`
	Username string            `json:"username,omitempty" yaml:"username,omitempty"`
	Password string            `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string            `json:"token,omitempty" yaml:"token,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies  []Cookie          `json:"cookies,omitempty" yaml:"cookies,omitempty"`

	// Form login.
	LoginURL      string `json:"login_url,omitempty" yaml:"login_url,omitempty"`
	UsernameField string `json:"username_field,omitempty" yaml:"username_field,omitempty"`
	PasswordField string `json:"password_field,omitempty" yaml:"password_field,omitempty"`
	SubmitButton  string `json:"submit_button,omitempty" yaml:"submit_button,omitempty"`

	OAuth *OAuthConfig `json:"oauth,omitempty" yaml:"oauth,omitempty"`
}

// Cookie is a configured session cookie.
type Cookie struct {
	Name   string `json:"name" yaml:"name"`
	Value  string `json:"value" yaml:"value"`
	Domain string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

// OAuthConfig holds OAuth 2.0 client credentials.
type OAuthConfig struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	TokenURL     string   `json:"token_url" yaml:"token_url"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Enabled reports whether c asks for any authentication.
func (c Credentials) Enabled() bool {
	return c.Type != "" && c.Type != TypeNone
}

// ScopedTo returns a copy of c whose cookies without a domain are bound to
// host. The browser rejects cookies that name neither a domain nor a URL.
func (c Credentials) ScopedTo(host string) Credentials {
	if len(c.Cookies) == 0 {
		return c
	}
	cookies := make([]Cookie, len(c.Cookies))
	copy(cookies, c.Cookies)
	for i := range cookies {
		if cookies[i].Domain == "" {
			cookies[i].Domain = host
		}
	}
	c.Cookies = cookies
	return c
}

// Provider defines the interface for authentication providers.
type Provider interface {
	// Authenticate establishes the session. b is the crawl's browsing
	// context; only form login drives it.
	Authenticate(ctx context.Context, b browser.Browser) error

	// Headers returns headers to include in requests
	Headers() map[string]string

	// Cookies returns cookies to include in requests
	Cookies() []*http.Cookie

	// Type returns the authentication type
	Type() Type
}

// NewProvider creates an authentication provider based on credentials.
func NewProvider(creds Credentials) (Provider, error) {
	switch creds.Type {
	case TypeNone, "":
		return NoAuth{}, nil
	case TypeSession:
		if len(creds.Cookies) == 0 {
			return nil, fmt.Errorf("session auth requires at least one cookie")
		}
		return NewSessionAuth(httpCookies(creds.Cookies)), nil
	case TypeJWT:
		if creds.Token == "" {
			return nil, fmt.Errorf("jwt auth requires a token")
		}
		return NewJWTAuth(creds.Token), nil
	case TypeOAuth:
		if creds.OAuth == nil || creds.OAuth.TokenURL == "" {
			return nil, fmt.Errorf("oauth auth requires a token URL")
		}
		return NewOAuthAuth(*creds.OAuth), nil
	case TypeFormLogin:
		if creds.LoginURL == "" {
			return nil, fmt.Errorf("form auth requires a login URL")
		}
		return NewFormLoginAuth(creds), nil
	case TypeAPIKey:
		if len(creds.Headers) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one header")
		}
		return NewAPIKeyAuth(creds.Headers), nil
	case TypeBasic:
		if creds.Username == "" {
			return nil, fmt.Errorf("basic auth requires a username")
		}
		return NewBasicAuth(creds.Username, creds.Password), nil
	}
	return nil, fmt.Errorf("unknown auth type %q", creds.Type)
}

// Apply authenticates p and installs the resulting session in b.
func Apply(ctx context.Context, p Provider, b browser.Browser) (browser.Session, error) {
	if err := p.Authenticate(ctx, b); err != nil {
		return browser.Session{}, fmt.Errorf("%s authentication failed: %w", p.Type(), err)
	}
	s := browser.Session{Headers: p.Headers(), Cookies: p.Cookies()}
	if err := b.SetSession(ctx, s); err != nil {
		return browser.Session{}, err
	}
	return s, nil
}

// RequestHeaders flattens s for a plain HTTP client: the session headers
// plus a Cookie header.
func RequestHeaders(s browser.Session) map[string]string {
	out := make(map[string]string, len(s.Headers)+1)
	for k, v := range s.Headers {
		out[k] = v
	}
	if len(s.Cookies) > 0 {
		pairs := make([]string, 0, len(s.Cookies))
		for _, c := range s.Cookies {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
		sort.Strings(pairs)
		out["Cookie"] = strings.Join(pairs, "; ")
	}
	return out
}

func httpCookies(cookies []Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: path})
	}
	return out
}
