package visitor

import (
	"context"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
)

// idleProbeScript resolves true once the document is complete and no new
// resources or tracked requests appeared for five consecutive 100ms ticks,
// or false when the timeout (ms) passes first.
const idleProbeScript = `(timeout) => new Promise(resolve => {
	const deadline = Date.now() + timeout;
	let last = -1, quiet = 0;
	const tick = () => {
		const n = performance.getEntriesByType('resource').length;
		const busy = (window.__rcPending || 0) > 0 || (window.jQuery && jQuery.active > 0);
		if (document.readyState === 'complete' && n === last && !busy) quiet++; else quiet = 0;
		last = n;
		if (quiet >= 5) return resolve(true);
		if (Date.now() > deadline) return resolve(false);
		setTimeout(tick, 100);
	};
	tick();
})`

// spaSignalsScript returns the names of the framework and router signals
// present on the page.
const spaSignalsScript = `() => {
	const found = [];
	const has = sel => { try { return !!document.querySelector(sel); } catch (e) { return false; } };
	if (window.React || window.__REACT_DEVTOOLS_GLOBAL_HOOK__ || has('[data-reactroot]')) found.push('react');
	if (window.Vue || window.__VUE__ || has('[data-v-app]')) found.push('vue');
	if (window.ng || window.getAllAngularRootElements || has('[ng-version]')) found.push('angular');
	if (window.angular || has('[ng-app], [data-ng-app]')) found.push('angularjs');
	if (window.Ember || window.Em) found.push('ember');
	if (window.__NEXT_DATA__ || has('#__next')) found.push('next');
	if (window.__NUXT__ || has('#__nuxt')) found.push('nuxt');
	if (has('#root, #app, #___gatsby')) found.push('root-mount');
	if (window.history && typeof window.history.pushState === 'function') found.push('history');
	if (has('a[href^="#/"], a[href^="#!"], [routerlink], [ui-sref], router-outlet, [data-router]')) found.push('routes');
	return found;
}`

// ajaxInstrumentScript counts in-flight XHR and fetch calls in
// window.__rcPending.
const ajaxInstrumentScript = `() => {
	if (window.__rcInstrumented) return true;
	window.__rcInstrumented = true;
	window.__rcPending = window.__rcPending || 0;
	const done = () => { window.__rcPending = Math.max(0, window.__rcPending - 1); };

	const origSend = XMLHttpRequest.prototype.send;
	XMLHttpRequest.prototype.send = function() {
		window.__rcPending++;
		this.addEventListener('loadend', done);
		return origSend.apply(this, arguments);
	};

	if (window.fetch) {
		const origFetch = window.fetch;
		window.fetch = function() {
			window.__rcPending++;
			return origFetch.apply(this, arguments).finally(done);
		};
	}
	return true;
}`

// loadMoreScript clicks likely content-loading controls that do not leave
// the page and returns how many were triggered.
const loadMoreScript = `(max) => {
	const sel = [
		'.load-more', '[data-load]', '[data-ajax]', '[data-ajax-url]',
		'[data-toggle="ajax"]', '[data-page]', '.pagination a[href^="#"]',
	].join(', ');
	let n = 0;
	for (const el of document.querySelectorAll(sel)) {
		if (n >= max) break;
		if (el.tagName === 'A' && el.getAttribute('href') && !el.getAttribute('href').startsWith('#')) continue;
		try { el.click(); n++; } catch (e) {}
	}
	window.scrollTo(0, document.body ? document.body.scrollHeight : 0);
	window.dispatchEvent(new Event('resize'));
	return n;
}`

// pendingScript returns the number of tracked in-flight requests.
const pendingScript = `() => (window.__rcPending || 0) + (window.jQuery && jQuery.active ? jQuery.active : 0)`

// stallPolls is how many consecutive unchanged polls end AJAX settling.
const stallPolls = 3

const maxLoadMore = 10

// detectSPA scores the page's framework and router signals against the
// configured threshold.
func (v *Visitor) detectSPA(ctx context.Context, page browser.Page) (bool, []string, error) {
	j, err := v.eval(ctx, page, spaSignalsScript)
	if err != nil {
		return false, nil, err
	}
	var signals []string
	if !j.Nil() {
		if err := browser.Decode(j, &signals); err != nil {
			return false, nil, err
		}
	}
	threshold := v.cfg.SPAThreshold
	if threshold < 1 {
		threshold = 1
	}
	return len(signals) >= threshold, signals, nil
}

// AJAX settle outcomes.
const (
	AJAXIdle    = "idle"
	AJAXStalled = "stalled"
	AJAXTimeout = "timeout"
)

// settleAJAX instruments request primitives, triggers load-more controls,
// then polls the in-flight counter until it is zero, stalls or the max
// wait passes.
func (v *Visitor) settleAJAX(ctx context.Context, page browser.Page) (string, error) {
	if _, err := v.eval(ctx, page, ajaxInstrumentScript); err != nil {
		return "", err
	}
	if _, err := v.eval(ctx, page, loadMoreScript, maxLoadMore); err != nil {
		return "", err
	}

	interval := v.cfg.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	deadline := time.Now().Add(v.cfg.AJAXMaxWait)
	last, unchanged := -1, 0

	for {
		j, err := v.eval(ctx, page, pendingScript)
		if err != nil {
			return "", err
		}
		n := j.Int()
		if n <= 0 {
			return AJAXIdle, nil
		}
		if n == last {
			unchanged++
			if unchanged >= stallPolls {
				return AJAXStalled, nil
			}
		} else {
			unchanged = 0
		}
		last = n

		if !time.Now().Before(deadline) {
			return AJAXTimeout, nil
		}
		if err := page.WaitForTimeout(ctx, interval); err != nil {
			return "", err
		}
	}
}
