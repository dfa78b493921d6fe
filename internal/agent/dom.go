package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// domAnalysisScript summarizes the page in one pass: visible clickable
// elements with their geometry, iframes, canvas presence, and any uncaught
// script errors captured by the window error hook.
const domAnalysisScript = `
(function() {
    if (!window.__qaErrors) {
        window.__qaErrors = [];
        window.addEventListener('error', function(e) {
            window.__qaErrors.push(String(e.message || e.error || 'script error'));
        });
    }

    const clickables = [];
    const candidates = document.querySelectorAll(
        'button, a, input[type="button"], input[type="submit"], [role="button"], [onclick]');
    for (const el of candidates) {
        if (el.offsetParent === null) continue;
        const rect = el.getBoundingClientRect();
        if (rect.width <= 0 || rect.height <= 0) continue;
        const text = (el.textContent || el.value || '').trim().slice(0, 80);
        clickables.push({
            tag: el.tagName.toLowerCase(),
            text: text,
            x: rect.left, y: rect.top, w: rect.width, h: rect.height
        });
        if (clickables.length >= 40) break;
    }

    const iframes = [];
    document.querySelectorAll('iframe').forEach(function(frame, i) {
        const rect = frame.getBoundingClientRect();
        if (rect.width <= 0 || rect.height <= 0) return;
        let selector = 'iframe';
        if (frame.id) selector = 'iframe#' + frame.id;
        else if (frame.src) selector = 'iframe[src="' + frame.src + '"]';
        iframes.push({
            selector: selector,
            src: frame.src || '',
            x: rect.left, y: rect.top, w: rect.width, h: rect.height
        });
    });

    return JSON.stringify({
        title: document.title,
        url: window.location.href,
        ready_state: document.readyState,
        has_canvas: document.querySelector('canvas') !== null,
        clickables: clickables,
        iframes: iframes,
        body_text: (document.body ? document.body.innerText : '').slice(0, 500),
        fatal_errors: window.__qaErrors.slice(0, 10)
    });
})();
`

// AnalyzeDOM evaluates the page summary script and parses the result.
func (d *ChromeDriver) AnalyzeDOM(ctx context.Context) (*DOMAnalysis, error) {
	var raw string
	if err := d.run(ctx, chromedp.Evaluate(domAnalysisScript, &raw)); err != nil {
		return nil, NewDriverError("analyze dom", err)
	}

	var analysis DOMAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse dom analysis: %w", err)
	}

	// Exceptions seen on the CDP event stream include anything thrown
	// before the in-page hook installed.
	analysis.FatalErrors = append(analysis.FatalErrors, d.takeExceptions()...)

	d.logger.Debug("dom analyzed",
		zap.Int("clickables", len(analysis.Clickables)),
		zap.Int("iframes", len(analysis.Iframes)),
		zap.Bool("canvas", analysis.HasCanvas))
	return &analysis, nil
}

// SwitchFrame locates an iframe by selector and returns a handle with its
// viewport geometry, or nil when no visible frame matches. Click coordinates
// derived from the handle land inside the embedded document.
func (d *ChromeDriver) SwitchFrame(ctx context.Context, selector string) (*FrameHandle, error) {
	script := fmt.Sprintf(`
(function() {
    let frame = null;
    try { frame = document.querySelector(%q); } catch (e) { return "null"; }
    if (!frame) return "null";
    const rect = frame.getBoundingClientRect();
    if (rect.width <= 0 || rect.height <= 0) return "null";
    return JSON.stringify({
        src: frame.src || '',
        x: rect.left, y: rect.top, w: rect.width, h: rect.height
    });
})();
`, selector)

	var raw string
	if err := d.run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, NewDriverError(fmt.Sprintf("switch frame %s", selector), err)
	}
	if raw == "null" || strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var rect struct {
		Src string  `json:"src"`
		X   float64 `json:"x"`
		Y   float64 `json:"y"`
		W   float64 `json:"w"`
		H   float64 `json:"h"`
	}
	if err := json.Unmarshal([]byte(raw), &rect); err != nil {
		return nil, fmt.Errorf("failed to parse frame rect: %w", err)
	}

	return &FrameHandle{
		Selector: selector,
		Src:      rect.Src,
		X:        rect.X,
		Y:        rect.Y,
		Width:    rect.W,
		Height:   rect.H,
	}, nil
}

// Summary renders the analysis as compact text for the vision oracle prompt.
func (a *DOMAnalysis) Summary() string {
	if a == nil {
		return "no dom analysis available"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "title=%q ready=%s canvas=%v\n", a.Title, a.ReadyState, a.HasCanvas)
	if len(a.Clickables) > 0 {
		b.WriteString("clickable elements:\n")
		for i, el := range a.Clickables {
			if i >= 12 {
				fmt.Fprintf(&b, "  ... and %d more\n", len(a.Clickables)-i)
				break
			}
			cx, cy := el.Center()
			fmt.Fprintf(&b, "  %s %q at (%.0f,%.0f)\n", el.Tag, el.Text, cx, cy)
		}
	}
	if len(a.Iframes) > 0 {
		fmt.Fprintf(&b, "iframes: %d\n", len(a.Iframes))
	}
	if len(a.FatalErrors) > 0 {
		fmt.Fprintf(&b, "script errors: %s\n", strings.Join(a.FatalErrors, "; "))
	}
	return b.String()
}

// FindClickable returns the first visible clickable whose text contains the
// description, case-insensitively. Returns false when nothing matches.
func (a *DOMAnalysis) FindClickable(description string) (ClickableElement, bool) {
	if a == nil || description == "" {
		return ClickableElement{}, false
	}
	needle := strings.ToLower(strings.TrimSpace(description))
	for _, el := range a.Clickables {
		text := strings.ToLower(el.Text)
		if text == "" {
			continue
		}
		if strings.Contains(text, needle) || strings.Contains(needle, text) {
			return el, true
		}
	}
	return ClickableElement{}, false
}
