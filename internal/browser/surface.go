package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/chatrelay/chatrelay/internal/locator"
)

// opTimeout bounds every individual CDP operation so a wedged renderer
// cannot stall the detector's poll loop indefinitely.
const opTimeout = 15 * time.Second

// probeJS inspects the first element matching one strategy.
const probeJS = `(() => {
	const q = %s;
	const el = q.kind === 'css'
		? document.querySelector(q.query)
		: document.evaluate(q.query, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return {found: false, visible: false, enabled: false, text: ''};
	const style = window.getComputedStyle(el);
	const visible = style.display !== 'none' && style.visibility !== 'hidden' && el.getClientRects().length > 0;
	return {
		found: true,
		visible: visible,
		enabled: !el.disabled && el.getAttribute('aria-disabled') !== 'true',
		text: (el.innerText || el.textContent || '').trim()
	};
})()`

// clickJS activates the first element matching one strategy.
const clickJS = `(() => {
	const q = %s;
	const el = q.kind === 'css'
		? document.querySelector(q.query)
		: document.evaluate(q.query, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return false;
	el.click();
	return true;
})()`

// setTextJS fills the composer. React-controlled inputs need the native
// value setter plus a synthetic input event or the framework never sees
// the change; contenteditable composers get a paragraph node instead.
const setTextJS = `(() => {
	const q = %s;
	const text = %s;
	const el = q.kind === 'css'
		? document.querySelector(q.query)
		: document.evaluate(q.query, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return false;
	el.focus();
	const tag = el.tagName.toLowerCase();
	if (tag === 'textarea' || tag === 'input') {
		const proto = tag === 'textarea' ? window.HTMLTextAreaElement.prototype : window.HTMLInputElement.prototype;
		Object.getOwnPropertyDescriptor(proto, 'value').set.call(el, text);
		el.dispatchEvent(new Event('input', {bubbles: true}));
	} else {
		el.innerHTML = '';
		const p = document.createElement('p');
		p.textContent = text;
		el.appendChild(p);
		el.dispatchEvent(new InputEvent('input', {bubbles: true}));
	}
	return true;
})()`

// collectJS shares the multi-candidate element collection used by message
// counting and reading: the first candidate with any matches wins.
const collectJS = `
	const collect = (q) => {
		if (q.kind === 'css') return Array.from(document.querySelectorAll(q.query));
		const it = document.evaluate(q.query, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < it.snapshotLength; i++) out.push(it.snapshotItem(i));
		return out;
	};
	const pick = (candidates) => {
		for (const q of candidates) {
			const els = collect(q);
			if (els.length > 0) return els;
		}
		return [];
	};`

const countJS = `(() => {` + collectJS + `
	return pick(%s).length;
})()`

const messageTextJS = `(() => {` + collectJS + `
	const els = pick(%s);
	const i = %d;
	if (i < 0 || i >= els.length) return '';
	return (els[i].innerText || els[i].textContent || '').trim();
})()`

// probeResult mirrors probeJS's return shape.
type probeResult struct {
	Found   bool   `json:"found"`
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Text    string `json:"text"`
}

// surface drives one live tab. It is both the locator's prober and the
// relay core's observation surface.
type surface struct {
	tab      context.Context
	resolver *locator.Resolver
}

func newSurface(tab context.Context) *surface {
	s := &surface{tab: tab}
	s.resolver = locator.NewResolver(s)
	return s
}

// run executes chromedp actions against the tab, honoring the caller's
// cancellation and bounding each operation.
func (s *surface) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(s.tab, opTimeout)
	defer cancel()
	return chromedp.Run(tctx, actions...)
}

func strategyJSON(st locator.Strategy) (string, error) {
	data, err := json.Marshal(map[string]string{
		"kind":  string(st.Kind),
		"query": st.Query,
	})
	if err != nil {
		return "", fmt.Errorf("encode strategy: %w", err)
	}
	return string(data), nil
}

func (s *surface) candidatesJSON(role locator.Role) (string, error) {
	candidates := s.resolver.Candidates(role)
	list := make([]map[string]string, 0, len(candidates))
	for _, c := range candidates {
		list = append(list, map[string]string{"kind": string(c.Kind), "query": c.Query})
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode candidates: %w", err)
	}
	return string(data), nil
}

// Probe implements locator.Prober.
func (s *surface) Probe(ctx context.Context, st locator.Strategy) (locator.Probe, error) {
	q, err := strategyJSON(st)
	if err != nil {
		return locator.Probe{}, err
	}

	var res probeResult
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(probeJS, q), &res)); err != nil {
		return locator.Probe{}, fmt.Errorf("probe: %w", err)
	}
	return locator.Probe{
		Found:   res.Found,
		Visible: res.Visible,
		Enabled: res.Enabled,
		Text:    res.Text,
	}, nil
}

// Resolve locates a semantic role on the current page.
func (s *surface) Resolve(ctx context.Context, role locator.Role) (locator.Match, bool, error) {
	return s.resolver.Resolve(ctx, role)
}

// SetComposerText replaces the resolved composer's content.
func (s *surface) SetComposerText(ctx context.Context, m locator.Match, text string) error {
	q, err := strategyJSON(m.Strategy)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(text)
	if err != nil {
		return fmt.Errorf("encode prompt text: %w", err)
	}

	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(setTextJS, q, string(encoded)), &ok)); err != nil {
		return fmt.Errorf("set composer text: %w", err)
	}
	if !ok {
		return fmt.Errorf("composer element vanished before text could be set")
	}
	return nil
}

// Activate clicks the resolved element.
func (s *surface) Activate(ctx context.Context, m locator.Match) error {
	q, err := strategyJSON(m.Strategy)
	if err != nil {
		return err
	}

	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickJS, q), &ok)); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	if !ok {
		return fmt.Errorf("element vanished before it could be activated")
	}
	return nil
}

// KeySubmit issues an Enter keypress on the resolved composer.
func (s *surface) KeySubmit(ctx context.Context, m locator.Match) error {
	q, err := strategyJSON(m.Strategy)
	if err != nil {
		return err
	}

	// Re-focus first; the click that resolved the composer may have moved
	// focus elsewhere.
	var ok bool
	focusJS := fmt.Sprintf(clickJS, q)
	if err := s.run(ctx, chromedp.Evaluate(focusJS, &ok), chromedp.KeyEvent(kb.Enter)); err != nil {
		return fmt.Errorf("keyboard submit: %w", err)
	}
	if !ok {
		return fmt.Errorf("composer vanished before keyboard submit")
	}
	return nil
}

// MessageCount returns how many assistant messages are rendered.
func (s *surface) MessageCount(ctx context.Context) (int, error) {
	candidates, err := s.candidatesJSON(locator.RoleAssistantMessage)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(countJS, candidates), &count)); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// MessageText returns the text of the assistant message at index.
func (s *surface) MessageText(ctx context.Context, index int) (string, error) {
	candidates, err := s.candidatesJSON(locator.RoleAssistantMessage)
	if err != nil {
		return "", err
	}

	var text string
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(messageTextJS, candidates, index), &text)); err != nil {
		return "", fmt.Errorf("read message text: %w", err)
	}
	return text, nil
}

// Location returns the page's current URL.
func (s *surface) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}
