package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Default viewport used for captures and click coordinates.
const (
	ViewportWidth  = 1280
	ViewportHeight = 720
)

// ChromeDriver is the production Driver on top of chromedp. One driver owns
// one browser session; callers must Close it on every exit path.
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	retry       RetryConfig
	navTimeout  time.Duration

	mu         sync.Mutex
	exceptions []string
}

// ChromeOptions configures a new browser session.
type ChromeOptions struct {
	Headless    bool
	NavTimeout  time.Duration
	RetryConfig RetryConfig
	Logger      *zap.Logger
}

// NewChromeDriver launches a Chrome session with the flags we need for
// unattended game testing (ad-domain blocking, automation hiding).
func NewChromeDriver(parent context.Context, opts ChromeOptions) (*ChromeDriver, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 45 * time.Second
	}
	if opts.RetryConfig.MaxAttempts == 0 {
		opts.RetryConfig = DefaultRetryConfig()
	}

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		// Block common ad and tracking domains so they cannot cover the game
		chromedp.Flag("host-rules", "MAP *.doubleclick.net 127.0.0.1, MAP *.googlesyndication.com 127.0.0.1, MAP *.googleadservices.com 127.0.0.1, MAP *.google-analytics.com 127.0.0.1"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, execOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	d := &ChromeDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		logger:      opts.Logger.Named("driver"),
		retry:       opts.RetryConfig,
		navTimeout:  opts.NavTimeout,
	}

	// Uncaught exceptions arrive over CDP regardless of when they fire, so
	// this catches errors thrown before the in-page error hook installs.
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventExceptionThrown); ok {
			d.recordException(e.ExceptionDetails)
		}
	})

	return d, nil
}

func (d *ChromeDriver) recordException(details *runtime.ExceptionDetails) {
	if details == nil {
		return
	}
	msg := details.Text
	if details.Exception != nil && details.Exception.Description != "" {
		msg = details.Exception.Description
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.exceptions) < 20 {
		d.exceptions = append(d.exceptions, msg)
	}
}

// takeExceptions drains the CDP-captured exception buffer.
func (d *ChromeDriver) takeExceptions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.exceptions
	d.exceptions = nil
	return out
}

// Close shuts down the browser and releases the allocator.
func (d *ChromeDriver) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
}

// run executes chromedp actions against the session, bounded by ctx.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(d.ctx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Navigate loads the URL, waits for the body, then removes overlaying ads
// and accepts cookie consent so the game surface is reachable. Transient
// failures are retried with bounded exponential backoff.
func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	d.logger.Info("navigating", zap.String("url", url))

	err := Retry(ctx, d.retry, func() error {
		navCtx, cancel := context.WithTimeout(ctx, d.navTimeout)
		defer cancel()

		if err := d.run(navCtx,
			chromedp.EmulateViewport(ViewportWidth, ViewportHeight),
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
		); err != nil {
			return NewDriverError(fmt.Sprintf("navigate %s", url), err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := d.cleanPage(ctx); err != nil {
		// Cleanup failures are not fatal, the game may still be reachable.
		d.logger.Warn("page cleanup failed", zap.Error(err))
	}
	return nil
}

// Screenshot captures the viewport as PNG bytes.
func (d *ChromeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, NewDriverError("capture screenshot", err)
	}
	return buf, nil
}

// Click dispatches a left mouse click at viewport coordinates.
func (d *ChromeDriver) Click(ctx context.Context, x, y float64) error {
	d.logger.Debug("click", zap.Float64("x", x), zap.Float64("y", y))
	if err := d.run(ctx, chromedp.MouseClickXY(x, y)); err != nil {
		return NewDriverError(fmt.Sprintf("click (%.0f,%.0f)", x, y), err)
	}
	return nil
}

// Press sends a single key press to the page body.
func (d *ChromeDriver) Press(ctx context.Context, key string) error {
	code, err := keyToRune(key)
	if err != nil {
		return err
	}
	d.logger.Debug("keypress", zap.String("key", key))
	if err := d.run(ctx, chromedp.SendKeys("body", code, chromedp.ByQuery)); err != nil {
		return NewDriverError(fmt.Sprintf("press %s", key), err)
	}
	return nil
}

// Reload reloads the page and waits for the body to be ready again.
func (d *ChromeDriver) Reload(ctx context.Context) error {
	d.logger.Info("reloading page")
	if err := d.run(ctx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return NewDriverError("reload", err)
	}
	return nil
}

// keyToRune maps key names to the chromedp key input strings.
func keyToRune(key string) (string, error) {
	switch key {
	case "ArrowUp", "Up":
		return "\ue013", nil // Unicode for ArrowUp
	case "ArrowDown", "Down":
		return "\ue015", nil // Unicode for ArrowDown
	case "ArrowLeft", "Left":
		return "\ue012", nil // Unicode for ArrowLeft
	case "ArrowRight", "Right":
		return "\ue014", nil // Unicode for ArrowRight
	case "Space", " ":
		return " ", nil
	case "Enter", "Return":
		return "\r", nil
	case "Escape", "Esc":
		return "\ue00c", nil // Unicode for Escape
	case "Tab":
		return "\t", nil
	default:
		if len(key) == 1 {
			return key, nil
		}
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// cleanPage removes ad containers and clicks cookie-consent accept buttons.
// Best effort: games behind stubborn overlays still get the unstick pass.
func (d *ChromeDriver) cleanPage(ctx context.Context) error {
	script := `
(function() {
    const adSelectors = [
        '[id*="ad-"]', '[id*="ads-"]', '[class*="ad-"]', '[class*="ads-"]',
        '[id*="banner"]', '[class*="banner"]', '[id*="sponsor"]', '[class*="sponsor"]',
        'iframe[src*="doubleclick"]', 'iframe[src*="googlesyndication"]',
        'iframe[src*="advertising"]', 'iframe[src*="/ads/"]',
        '.adsbygoogle', '#aswift', '[id^="google_ads"]',
    ];
    let removed = 0;
    adSelectors.forEach(sel => {
        try {
            document.querySelectorAll(sel).forEach(el => {
                if (!el.querySelector('canvas') && !el.closest('[id*="game"]') && !el.closest('[class*="game"]')) {
                    el.remove();
                    removed++;
                }
            });
        } catch (e) {}
    });

    let cookieHandled = false;
    const containers = document.querySelectorAll('[id*="cookie"], [class*="cookie"], [id*="consent"], [class*="consent"], [id*="gdpr"], [class*="gdpr"]');
    outer:
    for (const container of containers) {
        for (const btn of container.querySelectorAll('button, a[role="button"]')) {
            const text = btn.textContent.toLowerCase().trim();
            const accept = (text.includes('accept all') || text.includes('allow all') ||
                text.includes('agree') || text === 'accept' || text === 'ok') &&
                !text.includes('play') && !text.includes('game') && !text.includes('start');
            if (accept && btn.offsetParent !== null) {
                btn.click();
                cookieHandled = true;
                break outer;
            }
        }
    }
    return JSON.stringify({ adsRemoved: removed, cookieHandled: cookieHandled });
})();
`
	var result string
	if err := d.run(ctx, chromedp.Evaluate(script, &result)); err != nil {
		return NewDriverError("clean page", err)
	}
	d.logger.Debug("page cleaned", zap.String("result", result))
	return nil
}
