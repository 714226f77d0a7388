package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
)

// OAuthAuth obtains a bearer token with the client credentials grant.
type OAuthAuth struct {
	config OAuthConfig
	client *http.Client

	mu          sync.RWMutex
	accessToken string
	tokenType   string
	expiry      time.Time
}

// NewOAuthAuth creates a new OAuth authentication provider.
func NewOAuthAuth(config OAuthConfig) *OAuthAuth {
	return &OAuthAuth{
		config:    config,
		client:    &http.Client{Timeout: 10 * time.Second},
		tokenType: "Bearer",
	}
}

// Authenticate requests a token from the token endpoint.
func (o *OAuthAuth) Authenticate(ctx context.Context, _ browser.Browser) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", o.config.ClientID)
	form.Set("client_secret", o.config.ClientSecret)
	if len(o.config.Scopes) > 0 {
		form.Set("scope", strings.Join(o.config.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return fmt.Errorf("token response has no access_token")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.accessToken = result.AccessToken
	if result.TokenType != "" {
		o.tokenType = result.TokenType
	}
	if result.ExpiresIn > 0 {
		o.expiry = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	return nil
}

// Headers returns the Authorization header once a token is held.
func (o *OAuthAuth) Headers() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.accessToken == "" {
		return nil
	}
	return map[string]string{"Authorization": o.tokenType + " " + o.accessToken}
}

func (o *OAuthAuth) Cookies() []*http.Cookie { return nil }
func (o *OAuthAuth) Type() Type              { return TypeOAuth }

// Expiry returns when the token expires, or zero when unknown.
func (o *OAuthAuth) Expiry() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.expiry
}
