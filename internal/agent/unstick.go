package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// UnstickAttempt records one recovery strategy execution, with screenshot
// hashes from before and after so the effect is auditable.
type UnstickAttempt struct {
	Strategy   string `json:"strategy"`
	Success    bool   `json:"success"`
	Changed    bool   `json:"changed"`
	Action     string `json:"action,omitempty"`
	BeforeHash string `json:"before_hash,omitempty"`
	AfterHash  string `json:"after_hash,omitempty"`
	Error      string `json:"error,omitempty"`
}

// UnstickContext carries the state a strategy needs beyond the driver.
type UnstickContext struct {
	DOM         *DOMAnalysis
	InputHint   string
	Oracle      VisionOracle
	Evidence    EvidenceSink
	SettleDelay time.Duration
}

func (u UnstickContext) settle() time.Duration {
	if u.SettleDelay <= 0 {
		return 1500 * time.Millisecond
	}
	return u.SettleDelay
}

// UnstickStrategy is one recovery tactic for a stuck page.
type UnstickStrategy interface {
	Name() string
	Execute(ctx context.Context, driver Driver, uctx UnstickContext) UnstickAttempt
}

// UnstickCoordinator runs recovery strategies in a fixed order, cheapest
// and least destructive first, stopping at the first one that visibly
// changes the page.
type UnstickCoordinator struct {
	strategies []UnstickStrategy
	logger     *zap.Logger
}

// NewUnstickCoordinator builds the coordinator with the standard strategy
// chain: iframe detection, DOM button finder, vision-guided click, keyboard
// mash, then page refresh.
func NewUnstickCoordinator(logger *zap.Logger) *UnstickCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UnstickCoordinator{
		strategies: []UnstickStrategy{
			&IframeDetection{},
			&DOMButtonFinder{},
			&VisionGuidedClick{},
			&KeyboardMash{},
			&PageRefresh{},
		},
		logger: logger.Named("unstick"),
	}
}

// SetStrategies replaces the chain, mainly for tests.
func (c *UnstickCoordinator) SetStrategies(strategies []UnstickStrategy) {
	c.strategies = strategies
}

// ExecuteAll runs the chain in order and returns every attempt made,
// preserving order. Recovery succeeded when the last attempt has
// Changed=true; remaining strategies are not consulted after that. Every
// attempt gets a before and after screenshot persisted through the
// evidence sink so the recovery log is auditable even when nothing worked.
func (c *UnstickCoordinator) ExecuteAll(ctx context.Context, driver Driver, uctx UnstickContext) []UnstickAttempt {
	attempts := make([]UnstickAttempt, 0, len(c.strategies))
	for _, s := range c.strategies {
		c.captureAttempt(ctx, driver, uctx, "unstick_"+s.Name()+"_before")
		attempt := s.Execute(ctx, driver, uctx)
		attempt.Strategy = s.Name()
		c.captureAttempt(ctx, driver, uctx, "unstick_"+s.Name()+"_after")
		attempts = append(attempts, attempt)
		c.logger.Info("unstick strategy executed",
			zap.String("strategy", attempt.Strategy),
			zap.Bool("changed", attempt.Changed),
			zap.String("error", attempt.Error))
		if uctx.Evidence != nil {
			uctx.Evidence.AppendLog(fmt.Sprintf("unstick %s changed=%t error=%q", attempt.Strategy, attempt.Changed, attempt.Error))
		}
		if attempt.Changed {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return attempts
}

// captureAttempt persists the current page through the evidence sink.
func (c *UnstickCoordinator) captureAttempt(ctx context.Context, driver Driver, uctx UnstickContext, label string) {
	if uctx.Evidence == nil {
		return
	}
	shot, err := driver.Screenshot(ctx)
	if err != nil {
		return
	}
	if _, err := uctx.Evidence.CaptureScreenshot(shot, label); err != nil {
		c.logger.Warn("unstick screenshot not saved", zap.Error(err), zap.String("label", label))
	}
}

// captureHash screenshots the page and fingerprints it. Failures come back
// as an empty hash so strategies can degrade instead of aborting.
func captureHash(ctx context.Context, driver Driver) string {
	shot, err := driver.Screenshot(ctx)
	if err != nil {
		return ""
	}
	return Fingerprint(shot)
}

// changedSince re-screenshots after a settle delay and reports whether the
// page differs from the before hash.
func changedSince(ctx context.Context, driver Driver, before string, settle time.Duration) (bool, string) {
	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return false, ""
	}
	after := captureHash(ctx, driver)
	return after != "" && after != before, after
}

// IframeDetection looks for a game iframe and clicks its center to hand it
// focus. Many embedded games ignore input until the frame is focused.
type IframeDetection struct{}

func (s *IframeDetection) Name() string { return "iframe_detection" }

func (s *IframeDetection) Execute(ctx context.Context, driver Driver, uctx UnstickContext) UnstickAttempt {
	attempt := UnstickAttempt{BeforeHash: captureHash(ctx, driver)}

	dom := uctx.DOM
	if dom == nil || len(dom.Iframes) == 0 {
		fresh, err := driver.AnalyzeDOM(ctx)
		if err != nil {
			attempt.Error = fmt.Sprintf("dom analysis: %v", err)
			return attempt
		}
		dom = fresh
	}
	if len(dom.Iframes) == 0 {
		attempt.Error = "no iframes on page"
		return attempt
	}

	frame, err := driver.SwitchFrame(ctx, dom.Iframes[0].Selector)
	if err != nil {
		attempt.Error = fmt.Sprintf("switch frame: %v", err)
		return attempt
	}
	if frame == nil {
		attempt.Error = "iframe not visible"
		return attempt
	}

	x, y := frame.Center()
	if err := driver.Click(ctx, x, y); err != nil {
		attempt.Error = fmt.Sprintf("click frame center: %v", err)
		return attempt
	}
	attempt.Success = true
	attempt.Action = fmt.Sprintf("clicked iframe %s at (%.0f,%.0f)", frame.Selector, x, y)
	attempt.Changed, attempt.AfterHash = changedSince(ctx, driver, attempt.BeforeHash, uctx.settle())
	return attempt
}

// DOMButtonFinder re-reads the DOM and clicks the first control whose text
// matches the start lexicon.
type DOMButtonFinder struct{}

func (s *DOMButtonFinder) Name() string { return "dom_button_finder" }

func (s *DOMButtonFinder) Execute(ctx context.Context, driver Driver, uctx UnstickContext) UnstickAttempt {
	attempt := UnstickAttempt{BeforeHash: captureHash(ctx, driver)}

	dom, err := driver.AnalyzeDOM(ctx)
	if err != nil {
		attempt.Error = fmt.Sprintf("dom analysis: %v", err)
		return attempt
	}
	for _, el := range dom.Clickables {
		if !MatchesStartLexicon(el.Text) {
			continue
		}
		x, y := el.Center()
		if err := driver.Click(ctx, x, y); err != nil {
			attempt.Error = fmt.Sprintf("click %q: %v", el.Text, err)
			return attempt
		}
		attempt.Success = true
		attempt.Action = fmt.Sprintf("clicked %q at (%.0f,%.0f)", el.Text, x, y)
		attempt.Changed, attempt.AfterHash = changedSince(ctx, driver, attempt.BeforeHash, uctx.settle())
		return attempt
	}
	attempt.Error = "no start-like control found"
	return attempt
}

// VisionGuidedClick asks the oracle where to click on the current frame.
type VisionGuidedClick struct{}

func (s *VisionGuidedClick) Name() string { return "vision_guided_click" }

func (s *VisionGuidedClick) Execute(ctx context.Context, driver Driver, uctx UnstickContext) UnstickAttempt {
	var attempt UnstickAttempt
	if uctx.Oracle == nil {
		attempt.Error = "no vision oracle configured"
		return attempt
	}

	shot, err := driver.Screenshot(ctx)
	if err != nil {
		attempt.Error = fmt.Sprintf("screenshot: %v", err)
		return attempt
	}
	attempt.BeforeHash = Fingerprint(shot)

	analysis, err := uctx.Oracle.Analyze(ctx, shot, VisionContext{
		PreviousAction: "stuck, seeking recovery click",
		InputHint:      uctx.InputHint,
		ControlHints:   PatternFor(DetectArchetype(uctx.DOM, uctx.InputHint)).ControlHints,
		DOMSummary:     uctx.DOM.Summary(),
	})
	if err != nil {
		attempt.Error = fmt.Sprintf("vision analysis: %v", err)
		return attempt
	}

	switch analysis.ActionType {
	case ActionClick:
		x, y := analysis.X, analysis.Y
		if x == 0 && y == 0 {
			x, y = ViewportWidth/2, ViewportHeight/2
		}
		if err := driver.Click(ctx, x, y); err != nil {
			attempt.Error = fmt.Sprintf("click: %v", err)
			return attempt
		}
		attempt.Action = fmt.Sprintf("vision click at (%.0f,%.0f): %s", x, y, analysis.Reasoning)
	case ActionKeyboard:
		if analysis.Key == "" {
			attempt.Error = "vision returned keyboard action without a key"
			return attempt
		}
		if err := driver.Press(ctx, analysis.Key); err != nil {
			attempt.Error = fmt.Sprintf("press %s: %v", analysis.Key, err)
			return attempt
		}
		attempt.Action = fmt.Sprintf("vision key %s: %s", analysis.Key, analysis.Reasoning)
	default:
		attempt.Error = fmt.Sprintf("vision suggested %s, not actionable for recovery", analysis.ActionType)
		return attempt
	}

	attempt.Success = true
	attempt.Changed, attempt.AfterHash = changedSince(ctx, driver, attempt.BeforeHash, uctx.settle())
	return attempt
}

// mashKeys is the brute-force input sweep, common game controls first.
var mashKeys = []string{
	"Space", "Enter", "Escape",
	"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight",
	"w", "a", "s", "d",
}

// KeyboardMash presses each common game key in turn, re-checking the page
// after every press so it stops at the first key that does anything.
type KeyboardMash struct{}

func (s *KeyboardMash) Name() string { return "keyboard_mash" }

func (s *KeyboardMash) Execute(ctx context.Context, driver Driver, uctx UnstickContext) UnstickAttempt {
	attempt := UnstickAttempt{BeforeHash: captureHash(ctx, driver)}

	for _, key := range mashKeys {
		if ctx.Err() != nil {
			attempt.Error = ctx.Err().Error()
			return attempt
		}
		if err := driver.Press(ctx, key); err != nil {
			continue
		}
		changed, after := changedSince(ctx, driver, attempt.BeforeHash, 500*time.Millisecond)
		if changed {
			attempt.Success = true
			attempt.Changed = true
			attempt.AfterHash = after
			attempt.Action = fmt.Sprintf("key %s changed the page", key)
			return attempt
		}
	}
	attempt.Success = true
	attempt.Action = fmt.Sprintf("pressed %d keys, no visible change", len(mashKeys))
	return attempt
}

// PageRefresh reloads the page. A reload always produces a fresh page, so
// it reports Changed=true unconditionally.
type PageRefresh struct{}

func (s *PageRefresh) Name() string { return "page_refresh" }

func (s *PageRefresh) Execute(ctx context.Context, driver Driver, uctx UnstickContext) UnstickAttempt {
	attempt := UnstickAttempt{BeforeHash: captureHash(ctx, driver)}

	if err := driver.Reload(ctx); err != nil {
		attempt.Error = fmt.Sprintf("reload: %v", err)
		attempt.Changed = true
		return attempt
	}
	select {
	case <-time.After(uctx.settle()):
	case <-ctx.Done():
	}
	attempt.Success = true
	attempt.Changed = true
	attempt.Action = "page reloaded"
	attempt.AfterHash = captureHash(ctx, driver)
	return attempt
}
