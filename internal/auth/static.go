package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
)

// NoAuth represents no authentication.
type NoAuth struct{}

func (NoAuth) Authenticate(context.Context, browser.Browser) error { return nil }
func (NoAuth) Headers() map[string]string                          { return nil }
func (NoAuth) Cookies() []*http.Cookie                             { return nil }
func (NoAuth) Type() Type                                          { return TypeNone }

// SessionAuth replays fixed session cookies.
type SessionAuth struct {
	cookies []*http.Cookie
}

// NewSessionAuth creates a new session authentication provider.
func NewSessionAuth(cookies []*http.Cookie) *SessionAuth {
	return &SessionAuth{cookies: cookies}
}

func (s *SessionAuth) Authenticate(context.Context, browser.Browser) error { return nil }
func (s *SessionAuth) Headers() map[string]string                          { return nil }
func (s *SessionAuth) Type() Type                                          { return TypeSession }

// Cookies returns the session cookies.
func (s *SessionAuth) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

// JWTAuth sends a bearer token.
type JWTAuth struct {
	token  string
	expiry time.Time
}

// NewJWTAuth creates a new JWT authentication provider.
func NewJWTAuth(token string) *JWTAuth {
	j := &JWTAuth{token: token}
	if exp, err := parseExpiry(token); err == nil {
		j.expiry = exp
	}
	return j
}

// Authenticate fails when the token has already expired.
func (j *JWTAuth) Authenticate(context.Context, browser.Browser) error {
	if !j.expiry.IsZero() && time.Now().After(j.expiry) {
		return fmt.Errorf("token expired at %s", j.expiry.Format(time.RFC3339))
	}
	return nil
}

// Headers returns the Authorization header.
func (j *JWTAuth) Headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + j.token}
}

func (j *JWTAuth) Cookies() []*http.Cookie { return nil }
func (j *JWTAuth) Type() Type              { return TypeJWT }

// Expiry returns the exp claim, or zero when the token has none.
func (j *JWTAuth) Expiry() time.Time { return j.expiry }

// parseExpiry extracts the expiration time from a JWT.
func parseExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid JWT format")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		payload, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return time.Time{}, err
		}
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("no exp claim")
	}
	return time.Unix(claims.Exp, 0), nil
}

// APIKeyAuth sends fixed headers.
type APIKeyAuth struct {
	headers map[string]string
}

// NewAPIKeyAuth creates an API key provider.
func NewAPIKeyAuth(headers map[string]string) *APIKeyAuth {
	return &APIKeyAuth{headers: headers}
}

func (a *APIKeyAuth) Authenticate(context.Context, browser.Browser) error { return nil }
func (a *APIKeyAuth) Cookies() []*http.Cookie                             { return nil }
func (a *APIKeyAuth) Type() Type                                          { return TypeAPIKey }

// Headers returns a copy of the configured headers.
func (a *APIKeyAuth) Headers() map[string]string {
	out := make(map[string]string, len(a.headers))
	for k, v := range a.headers {
		out[k] = v
	}
	return out
}

// BasicAuth sends HTTP basic credentials.
type BasicAuth struct {
	username string
	password string
}

// NewBasicAuth creates a basic auth provider.
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{username: username, password: password}
}

func (b *BasicAuth) Authenticate(context.Context, browser.Browser) error { return nil }
func (b *BasicAuth) Cookies() []*http.Cookie                             { return nil }
func (b *BasicAuth) Type() Type                                          { return TypeBasic }

// Headers returns the Authorization header.
func (b *BasicAuth) Headers() map[string]string {
	raw := base64.StdEncoding.EncodeToString([]byte(b.username + ":" + b.password))
	return map[string]string{"Authorization": "Basic " + raw}
}
