package analyzer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
	"github.com/PentesterFlow/ReconCrawler/internal/logger"
)

const captchaScript = `() => {
	const probes = [
		["recaptcha", ".g-recaptcha, iframe[src*='recaptcha'], script[src*='recaptcha']"],
		["hcaptcha", ".h-captcha, iframe[src*='hcaptcha.com']"],
		["turnstile", ".cf-turnstile, iframe[src*='challenges.cloudflare.com']"],
	];
	for (const [provider, selector] of probes) {
		const el = document.querySelector(selector);
		if (el) {
			const holder = el.closest('[data-sitekey]') || document.querySelector('[data-sitekey]');
			return {provider, sitekey: holder ? holder.getAttribute('data-sitekey') : ''};
		}
	}
	return null;
}`

// Captcha describes a challenge widget found on a page.
type Captcha struct {
	Provider string `json:"provider"`
	SiteKey  string `json:"sitekey"`
}

// CaptchaDetector reports challenge widgets. It does not solve them; forms
// behind a challenge are still attempted and usually fail to confirm.
type CaptchaDetector struct {
	log  *logger.Logger
	seen atomic.Int64
}

// NewCaptchaDetector creates a detector.
func NewCaptchaDetector(log *logger.Logger) *CaptchaDetector {
	return &CaptchaDetector{log: logger.OrNop(log).WithComponent("captcha")}
}

// Name implements Handler.
func (d *CaptchaDetector) Name() string { return "captcha" }

// Handle implements Handler.
func (d *CaptchaDetector) Handle(ctx context.Context, page browser.Page) error {
	c, err := d.Detect(ctx, page)
	if err != nil {
		return err
	}
	if c != nil {
		d.seen.Add(1)
		u, _ := page.URL(ctx)
		d.log.WithURL(u).Warnf("%s challenge present (sitekey %q)", c.Provider, c.SiteKey)
	}
	return nil
}

// Detect returns the challenge on page, or nil.
func (d *CaptchaDetector) Detect(ctx context.Context, page browser.Page) (*Captcha, error) {
	j, err := page.Evaluate(ctx, captchaScript)
	if err != nil {
		return nil, fmt.Errorf("captcha probe: %w", err)
	}
	if j.Nil() {
		return nil, nil
	}
	var c Captcha
	if err := browser.Decode(j, &c); err != nil {
		return nil, err
	}
	if c.Provider == "" {
		return nil, nil
	}
	return &c, nil
}

// Seen returns how many pages carried a challenge.
func (d *CaptchaDetector) Seen() int64 {
	return d.seen.Load()
}
