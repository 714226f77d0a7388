package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
)

const (
	loginNavigationTimeout = 30 * time.Second
	loginSettle            = 2 * time.Second
)

// loginScript fills the username and password fields with the property
// setter reactive frameworks observe, then submits. It reports which
// steps succeeded.
const loginScript = `(user, pass, userField, passField, submitSel) => {
	const first = (sels) => {
		for (const s of sels) {
			if (!s) continue;
			const el = document.querySelector(s);
			if (el) return el;
		}
		return null;
	};
	const set = (el, v) => {
		const proto = Object.getPrototypeOf(el);
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) desc.set.call(el, v); else el.value = v;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		el.blur();
	};
	const u = first([
		"input[name='" + userField + "']", "input#" + userField,
		"input[type='email']", "input[type='text'][name*='user']",
		"input[type='text'][name*='email']", "input#username", "input#email",
	]);
	const p = first([
		"input[name='" + passField + "']", "input#" + passField,
		"input[type='password']",
	]);
	const out = {username: !!u, password: !!p, submitted: false};
	if (!u || !p) return out;
	set(u, user);
	set(p, pass);
	const btn = first([submitSel, "button[type='submit']", "input[type='submit']"]);
	if (btn) {
		btn.click();
		out.submitted = true;
	} else if (p.form) {
		if (p.form.requestSubmit) p.form.requestSubmit(); else p.form.submit();
		out.submitted = true;
	}
	return out;
}`

// loginErrorScript reports whether a visible error message is on the page.
const loginErrorScript = `() => {
	const sels = ['.error', '.alert-danger', '.alert-error', "[class*='error']", "[class*='invalid']"];
	for (const s of sels) {
		for (const el of document.querySelectorAll(s)) {
			if (el.offsetParent !== null && el.textContent.trim() !== '') return true;
		}
	}
	return false;
}`

type loginOutcome struct {
	Username  bool `json:"username"`
	Password  bool `json:"password"`
	Submitted bool `json:"submitted"`
}

// FormLoginAuth logs in through the target's login form in the crawl's
// own browsing context and keeps the resulting cookies.
type FormLoginAuth struct {
	loginURL      string
	username      string
	password      string
	usernameField string
	passwordField string
	submitButton  string
	settle        time.Duration

	mu        sync.RWMutex
	cookies   []*http.Cookie
	lastLogin time.Time
}

// NewFormLoginAuth creates a new form login authentication provider.
func NewFormLoginAuth(creds Credentials) *FormLoginAuth {
	f := &FormLoginAuth{
		loginURL:      creds.LoginURL,
		username:      creds.Username,
		password:      creds.Password,
		usernameField: "username",
		passwordField: "password",
		submitButton:  creds.SubmitButton,
		settle:        loginSettle,
	}
	if creds.UsernameField != "" {
		f.usernameField = creds.UsernameField
	}
	if creds.PasswordField != "" {
		f.passwordField = creds.PasswordField
	}
	return f
}

// Authenticate performs form-based login.
func (f *FormLoginAuth) Authenticate(ctx context.Context, b browser.Browser) error {
	page, err := b.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, f.loginURL, loginNavigationTimeout); err != nil {
		return fmt.Errorf("failed to load login page: %w", err)
	}

	res, err := page.Evaluate(ctx, loginScript, f.username, f.password, f.usernameField, f.passwordField, f.submitButton)
	if err != nil {
		return fmt.Errorf("failed to fill login form: %w", err)
	}
	var out loginOutcome
	if err := browser.Decode(res, &out); err != nil {
		return fmt.Errorf("failed to fill login form: %w", err)
	}
	switch {
	case !out.Username:
		return fmt.Errorf("could not find username field")
	case !out.Password:
		return fmt.Errorf("could not find password field")
	case !out.Submitted:
		return fmt.Errorf("could not submit login form")
	}

	if err := page.WaitForTimeout(ctx, f.settle); err != nil {
		return err
	}

	if f.stillOnLogin(ctx, page) {
		return fmt.Errorf("login appears to have failed")
	}

	cookies, err := b.Cookies(ctx)
	if err != nil {
		return err
	}
	if len(cookies) == 0 {
		return fmt.Errorf("login set no cookies")
	}

	f.mu.Lock()
	f.cookies = cookies
	f.lastLogin = time.Now()
	f.mu.Unlock()
	return nil
}

// stillOnLogin reports a failed login: the page is still a login URL and
// shows an error message.
func (f *FormLoginAuth) stillOnLogin(ctx context.Context, page browser.Page) bool {
	current, err := page.URL(ctx)
	if err != nil {
		return false
	}
	lower := strings.ToLower(current)
	if !strings.Contains(lower, "login") && !strings.Contains(lower, "signin") {
		return false
	}
	res, err := page.Evaluate(ctx, loginErrorScript)
	if err != nil {
		return false
	}
	return res.Bool()
}

func (f *FormLoginAuth) Headers() map[string]string { return nil }
func (f *FormLoginAuth) Type() Type                 { return TypeFormLogin }

// Cookies returns the cookies captured after login.
func (f *FormLoginAuth) Cookies() []*http.Cookie {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*http.Cookie, len(f.cookies))
	copy(out, f.cookies)
	return out
}

// LastLogin returns when the last successful login finished.
func (f *FormLoginAuth) LastLogin() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastLogin
}
