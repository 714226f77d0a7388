package visitor

import (
	"context"
	"fmt"
	"time"

	"github.com/PentesterFlow/ReconCrawler/internal/browser"
)

// scrollScript scrolls to the bottom steps times, pausing between steps,
// then returns to the top.
const scrollScript = `(steps, pause) => new Promise(resolve => {
	let i = 0;
	const step = () => {
		window.scrollTo(0, document.body ? document.body.scrollHeight : 0);
		if (++i >= steps) {
			setTimeout(() => { window.scrollTo(0, 0); resolve(i); }, pause);
			return;
		}
		setTimeout(step, pause);
	};
	step();
})`

// markExpandScript tags up to max visible controls whose text reads like
// expand/more/next with data-rc-expand and returns how many were tagged.
// Links that leave the page are never tagged.
const markExpandScript = `(max) => {
	const vocab = /\b(show more|load more|view more|see more|read more|more|expand|show all|view all|next)\b/i;
	const els = document.querySelectorAll('button, [role="button"], summary, a:not([href]), a[href^="#"], a[href^="javascript:"]');
	let n = 0;
	for (const el of els) {
		if (n >= max) break;
		if (el.disabled || el.hasAttribute('data-rc-expand')) continue;
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		const text = (el.innerText || el.textContent || '').trim();
		if (!text || text.length > 40 || !vocab.test(text)) continue;
		el.setAttribute('data-rc-expand', String(n));
		n++;
	}
	return n;
}`

func expandSelector(i int) string {
	return fmt.Sprintf(`[data-rc-expand="%d"]`, i)
}

// interact scrolls for lazy content and clicks expand-like controls. A
// failed click is skipped; only script failures fail the stage.
func (v *Visitor) interact(ctx context.Context, page browser.Page) error {
	if v.cfg.Scroll {
		steps := v.cfg.ScrollSteps
		if steps < 1 {
			steps = 1
		}
		// The script itself waits (steps+1) pauses.
		sctx, cancel := v.bounded(ctx, time.Duration(steps+1)*v.cfg.ScrollPause)
		_, err := page.Evaluate(sctx, scrollScript, steps, v.cfg.ScrollPause.Milliseconds())
		cancel()
		if err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
	}
	if !v.cfg.ClickExpand || v.cfg.MaxClicks <= 0 {
		return nil
	}

	j, err := v.eval(ctx, page, markExpandScript, v.cfg.MaxClicks)
	if err != nil {
		return fmt.Errorf("mark expanders: %w", err)
	}
	n := j.Int()
	if n > v.cfg.MaxClicks {
		n = v.cfg.MaxClicks
	}
	clicked := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := page.Click(ctx, expandSelector(i), v.cfg.ClickTimeout); err != nil {
			v.log.WithError(err).Debugf("Expand click %d failed", i)
			continue
		}
		clicked++
	}
	if clicked > 0 {
		v.log.Debugf("Clicked %d expand controls", clicked)
	}
	return nil
}
