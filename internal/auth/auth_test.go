package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
	"github.com/PentesterFlow/ReconCrawler/internal/browser/browsertest"
)

func jwtWithExp(exp int64) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":"u1","exp":%d}`, exp)))
	return "eyJhbGciOiJIUzI1NiJ9." + payload + ".sig"
}

// =============================================================================
// NewProvider Tests
// =============================================================================

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		wantType Type
		wantErr  bool
	}{
		{"empty", Credentials{}, TypeNone, false},
		{"none", Credentials{Type: TypeNone}, TypeNone, false},
		{"session", Credentials{Type: TypeSession, Cookies: []Cookie{{Name: "sid", Value: "1"}}}, TypeSession, false},
		{"session without cookies", Credentials{Type: TypeSession}, "", true},
		{"jwt", Credentials{Type: TypeJWT, Token: "abc"}, TypeJWT, false},
		{"jwt without token", Credentials{Type: TypeJWT}, "", true},
		{"oauth", Credentials{Type: TypeOAuth, OAuth: &OAuthConfig{TokenURL: "https://idp/token"}}, TypeOAuth, false},
		{"oauth without config", Credentials{Type: TypeOAuth}, "", true},
		{"form", Credentials{Type: TypeFormLogin, LoginURL: "https://example.com/login"}, TypeFormLogin, false},
		{"form without url", Credentials{Type: TypeFormLogin}, "", true},
		{"apikey", Credentials{Type: TypeAPIKey, Headers: map[string]string{"X-API-Key": "k"}}, TypeAPIKey, false},
		{"apikey without headers", Credentials{Type: TypeAPIKey}, "", true},
		{"basic", Credentials{Type: TypeBasic, Username: "admin"}, TypeBasic, false},
		{"basic without user", Credentials{Type: TypeBasic}, "", true},
		{"unknown", Credentials{Type: "kerberos"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.creds)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, p.Type())
		})
	}
}

func TestCredentials_Enabled(t *testing.T) {
	assert.False(t, Credentials{}.Enabled())
	assert.False(t, Credentials{Type: TypeNone}.Enabled())
	assert.True(t, Credentials{Type: TypeJWT}.Enabled())
}

// =============================================================================
// Static Provider Tests
// =============================================================================

func TestSessionAuth_Cookies(t *testing.T) {
	p, err := NewProvider(Credentials{Type: TypeSession, Cookies: []Cookie{{Name: "sid", Value: "abc", Domain: "example.com"}}})
	require.NoError(t, err)

	cookies := p.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Equal(t, "/", cookies[0].Path)

	cookies[0] = nil
	assert.NotNil(t, p.Cookies()[0], "Cookies() should return a copy")
}

func TestCredentials_ScopedTo(t *testing.T) {
	creds := Credentials{Type: TypeSession, Cookies: []Cookie{
		{Name: "sid", Value: "abc"},
		{Name: "pref", Value: "dark", Domain: "cdn.example.com"},
	}}

	scoped := creds.ScopedTo("example.com")
	assert.Equal(t, "example.com", scoped.Cookies[0].Domain)
	assert.Equal(t, "cdn.example.com", scoped.Cookies[1].Domain)
	assert.Empty(t, creds.Cookies[0].Domain, "ScopedTo() must not modify the receiver")

	none := Credentials{Type: TypeJWT, Token: "t"}
	assert.Equal(t, none, none.ScopedTo("example.com"))
}

func TestJWTAuth(t *testing.T) {
	j := NewJWTAuth("plain-token")
	assert.Equal(t, map[string]string{"Authorization": "Bearer plain-token"}, j.Headers())
	assert.True(t, j.Expiry().IsZero())
	assert.NoError(t, j.Authenticate(context.Background(), nil))

	exp := time.Now().Add(time.Hour).Unix()
	valid := NewJWTAuth(jwtWithExp(exp))
	assert.Equal(t, exp, valid.Expiry().Unix())
	assert.NoError(t, valid.Authenticate(context.Background(), nil))

	expired := NewJWTAuth(jwtWithExp(time.Now().Add(-time.Hour).Unix()))
	assert.Error(t, expired.Authenticate(context.Background(), nil))
}

func TestParseExpiry(t *testing.T) {
	_, err := parseExpiry("not-a-jwt")
	assert.Error(t, err)

	noExp := "h." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"x"}`)) + ".s"
	_, err = parseExpiry(noExp)
	assert.Error(t, err)

	got, err := parseExpiry(jwtWithExp(1700000000))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got.Unix())
}

func TestAPIKeyAuth_Headers(t *testing.T) {
	headers := map[string]string{"X-API-Key": "secret"}
	a := NewAPIKeyAuth(headers)

	got := a.Headers()
	assert.Equal(t, headers, got)
	got["X-API-Key"] = "changed"
	assert.Equal(t, "secret", a.Headers()["X-API-Key"])
}

func TestBasicAuth_Headers(t *testing.T) {
	b := NewBasicAuth("admin", "hunter2")
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:hunter2"))
	assert.Equal(t, want, b.Headers()["Authorization"])
	assert.Nil(t, b.Cookies())
}

// =============================================================================
// Apply Tests
// =============================================================================

func TestApply_InstallsSession(t *testing.T) {
	b := &browsertest.Browser{}
	p := NewJWTAuth("tok")

	s, err := Apply(context.Background(), p, b)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", s.Headers["Authorization"])
	assert.Equal(t, s, b.Session)
}

func TestApply_AuthenticateFailure(t *testing.T) {
	b := &browsertest.Browser{}
	p := NewJWTAuth(jwtWithExp(time.Now().Add(-time.Minute).Unix()))

	_, err := Apply(context.Background(), p, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt authentication failed")
	assert.Empty(t, b.Session.Headers)
}

func TestRequestHeaders(t *testing.T) {
	s := browser.Session{
		Headers: map[string]string{"X-Team": "red"},
		Cookies: []*http.Cookie{{Name: "b", Value: "2"}, {Name: "a", Value: "1"}},
	}
	got := RequestHeaders(s)
	assert.Equal(t, "red", got["X-Team"])
	assert.Equal(t, "a=1; b=2", got["Cookie"])

	assert.Empty(t, RequestHeaders(browser.Session{}))
}

// =============================================================================
// OAuth Tests
// =============================================================================

func TestOAuthAuth_ClientCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "id" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "read write", r.Form.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`)
	}))
	defer server.Close()

	o := NewOAuthAuth(OAuthConfig{ClientID: "id", ClientSecret: "s", TokenURL: server.URL, Scopes: []string{"read", "write"}})
	assert.Nil(t, o.Headers())

	require.NoError(t, o.Authenticate(context.Background(), nil))
	assert.Equal(t, "Bearer at-1", o.Headers()["Authorization"])
	assert.WithinDuration(t, time.Now().Add(time.Hour), o.Expiry(), time.Minute)
}

func TestOAuthAuth_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"bad status", http.StatusUnauthorized, `{}`},
		{"bad json", http.StatusOK, `{`},
		{"no token", http.StatusOK, `{"token_type":"Bearer"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.payload)
			}))
			defer server.Close()

			o := NewOAuthAuth(OAuthConfig{TokenURL: server.URL})
			assert.Error(t, o.Authenticate(context.Background(), nil))
		})
	}
}

// =============================================================================
// Form Login Tests
// =============================================================================

func loginBrowser(outcome map[string]interface{}, after string, jar []*http.Cookie) *browsertest.Browser {
	return &browsertest.Browser{
		Jar: jar,
		NewPage: func(int) *browsertest.Page {
			p := browsertest.NewPage("")
			p.Handle(loginScript, func(args []interface{}) (interface{}, error) {
				if outcome["submitted"] == true {
					p.CurrentURL = after
				}
				return outcome, nil
			})
			return p
		},
	}
}

func newFormLogin() *FormLoginAuth {
	f := NewFormLoginAuth(Credentials{
		Type:     TypeFormLogin,
		LoginURL: "https://example.com/login",
		Username: "admin",
		Password: "hunter2",
	})
	f.settle = time.Millisecond
	return f
}

func TestFormLoginAuth_Success(t *testing.T) {
	jar := []*http.Cookie{{Name: "session", Value: "s1", Domain: "example.com", Path: "/"}}
	b := loginBrowser(map[string]interface{}{"username": true, "password": true, "submitted": true}, "https://example.com/dashboard", jar)
	f := newFormLogin()

	require.NoError(t, f.Authenticate(context.Background(), b))
	assert.Equal(t, jar, f.Cookies())
	assert.False(t, f.LastLogin().IsZero())

	pages := b.Pages()
	require.Len(t, pages, 1)
	assert.True(t, pages[0].Closed)
	assert.Equal(t, 1, pages[0].EvalCount(loginScript))
}

func TestFormLoginAuth_Defaults(t *testing.T) {
	f := NewFormLoginAuth(Credentials{LoginURL: "https://example.com/login"})
	assert.Equal(t, "username", f.usernameField)
	assert.Equal(t, "password", f.passwordField)

	f = NewFormLoginAuth(Credentials{LoginURL: "u", UsernameField: "email", PasswordField: "pw"})
	assert.Equal(t, "email", f.usernameField)
	assert.Equal(t, "pw", f.passwordField)
}

func TestFormLoginAuth_Failures(t *testing.T) {
	cookie := []*http.Cookie{{Name: "session", Value: "s1"}}

	tests := []struct {
		name    string
		outcome map[string]interface{}
		jar     []*http.Cookie
		wantErr string
	}{
		{
			name:    "no username field",
			outcome: map[string]interface{}{"username": false, "password": true},
			jar:     cookie,
			wantErr: "username field",
		},
		{
			name:    "no password field",
			outcome: map[string]interface{}{"username": true, "password": false},
			jar:     cookie,
			wantErr: "password field",
		},
		{
			name:    "not submitted",
			outcome: map[string]interface{}{"username": true, "password": true, "submitted": false},
			jar:     cookie,
			wantErr: "submit",
		},
		{
			name:    "no cookies",
			outcome: map[string]interface{}{"username": true, "password": true, "submitted": true},
			wantErr: "no cookies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := loginBrowser(tt.outcome, "https://example.com/home", tt.jar)
			err := newFormLogin().Authenticate(context.Background(), b)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFormLoginAuth_ErrorMessageOnLoginPage(t *testing.T) {
	b := &browsertest.Browser{
		Jar: []*http.Cookie{{Name: "tracking", Value: "1"}},
		NewPage: func(int) *browsertest.Page {
			p := browsertest.NewPage("")
			p.Returns(loginScript, map[string]interface{}{"username": true, "password": true, "submitted": true})
			p.Returns(loginErrorScript, true)
			return p
		},
	}

	err := newFormLogin().Authenticate(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestFormLoginAuth_OpenError(t *testing.T) {
	b := &browsertest.Browser{OpenErr: fmt.Errorf("no tabs")}
	assert.Error(t, newFormLogin().Authenticate(context.Background(), b))
}
