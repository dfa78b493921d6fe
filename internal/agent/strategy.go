package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Thresholds are the tunable confidence cutoffs governing escalation. Their
// relative order matters more than the absolute values:
// HeuristicBypass > VisionBypass > EscalationFloor > AttemptFloor.
type Thresholds struct {
	// HeuristicBypass short-circuits the vision call when the heuristic
	// layer is this confident.
	HeuristicBypass int
	// VisionBypass accepts the oracle verdict without consulting further
	// layers.
	VisionBypass int
	// AttemptFloor is the minimum confidence at which an uncertain action
	// is still worth trying.
	AttemptFloor int
	// EscalationFloor is the confidence below which an unknown candidate
	// signals that recovery should take over. Kept above AttemptFloor so
	// marginal guesses are attempted before recovery kicks in.
	EscalationFloor int
}

// DefaultThresholds returns the calibration the agent ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeuristicBypass: 80,
		VisionBypass:    70,
		AttemptFloor:    30,
		EscalationFloor: 40,
	}
}

// DecisionContext is the per-cycle input to the strategy engine.
type DecisionContext struct {
	PreviousAction string
	Attempt        int
	InputHint      string
	FirstAction    bool
}

// LearnedPatternStore looks up previously successful fixes for similar
// visual states. A fix is only promoted to this store after at least 3
// prior successes at 95% confidence or higher; until a backing store
// exists, implementations defer by returning false.
type LearnedPatternStore interface {
	Lookup(screenshotHash string) (ActionCandidate, bool)
}

// noopLearnedStore always defers to the other layers.
type noopLearnedStore struct{}

func (noopLearnedStore) Lookup(string) (ActionCandidate, bool) {
	return ActionCandidate{}, false
}

// ActionStrategyEngine escalates through heuristic, vision, and learned
// pattern layers to pick the next input. It never fails: an exhausted
// decision is a low-confidence unknown candidate, and interpreting that as
// a recovery trigger is the run loop's job.
type ActionStrategyEngine struct {
	oracle     VisionOracle
	learned    LearnedPatternStore
	thresholds Thresholds
	logger     *zap.Logger
}

// NewActionStrategyEngine wires an engine. oracle may be nil, in which case
// the vision layer is skipped entirely.
func NewActionStrategyEngine(oracle VisionOracle, thresholds Thresholds, logger *zap.Logger) *ActionStrategyEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionStrategyEngine{
		oracle:     oracle,
		learned:    noopLearnedStore{},
		thresholds: thresholds,
		logger:     logger.Named("strategy"),
	}
}

// SetLearnedStore swaps the learned-pattern layer, mainly for tests.
func (e *ActionStrategyEngine) SetLearnedStore(store LearnedPatternStore) {
	if store != nil {
		e.learned = store
	}
}

// Decide picks the next action candidate for the current screen.
func (e *ActionStrategyEngine) Decide(ctx context.Context, screenshot []byte, dom *DOMAnalysis, dctx DecisionContext) ActionCandidate {
	// Layer 1: heuristics from the archetype pattern library.
	best := e.heuristicDecide(dom, dctx)
	if best.Confidence > e.thresholds.HeuristicBypass {
		e.logger.Debug("heuristic decision accepted",
			zap.String("action", string(best.Type)),
			zap.Int("confidence", best.Confidence))
		return best
	}

	// Layer 2: vision oracle.
	if e.oracle != nil {
		candidate, ok := e.visionDecide(ctx, screenshot, dom, dctx)
		if ok {
			if candidate.Confidence > e.thresholds.VisionBypass {
				return candidate
			}
			if candidate.Confidence >= best.Confidence {
				best = candidate
			}
		}
	}

	// Layer 3: learned patterns. The store defers until a real backing
	// implementation exists.
	if candidate, ok := e.learned.Lookup(Fingerprint(screenshot)); ok {
		return candidate
	}

	if best.Confidence <= 0 {
		best = ActionCandidate{
			Type:       ActionUnknown,
			Confidence: 10,
			Reasoning:  "no decision layer produced a usable action",
			Source:     "exhausted",
		}
	}
	return best
}

// heuristicDecide computes a candidate from the page structure and the
// archetype pattern library without any external call.
func (e *ActionStrategyEngine) heuristicDecide(dom *DOMAnalysis, dctx DecisionContext) ActionCandidate {
	// A page that has not finished loading is a wait, not a failure.
	if dom != nil && dom.ReadyState != "complete" {
		return ActionCandidate{
			Type:       ActionWait,
			WaitMs:     2000,
			Confidence: 85,
			Reasoning:  "document not ready, wait for load",
			Source:     "heuristic",
		}
	}

	// Bare first frame: no canvas and nothing clickable usually means the
	// game is still booting.
	if dctx.FirstAction && dom != nil && !dom.HasCanvas && len(dom.Clickables) == 0 {
		return ActionCandidate{
			Type:       ActionWait,
			WaitMs:     2000,
			Confidence: 85,
			Reasoning:  "no interactive surface yet, likely loading",
			Source:     "heuristic",
		}
	}

	// Visible start/play control beats everything.
	if dom != nil {
		for _, el := range dom.Clickables {
			if MatchesStartLexicon(el.Text) {
				x, y := el.Center()
				return ActionCandidate{
					Type:       ActionClick,
					Target:     el.Text,
					X:          x,
					Y:          y,
					Confidence: 90,
					Reasoning:  fmt.Sprintf("visible %q control", el.Text),
					Source:     "heuristic",
				}
			}
		}
	}

	// A completed page with no canvas, no clickables, and no input hint
	// gives the pattern cycle nothing to act on.
	if dom != nil && !dom.HasCanvas && len(dom.Clickables) == 0 && dctx.InputHint == "" {
		return ActionCandidate{
			Type:       ActionUnknown,
			Confidence: 10,
			Reasoning:  "page complete but no interactive surface",
			Source:     "heuristic",
		}
	}

	// Otherwise cycle through the archetype's input scheme at moderate
	// confidence so the vision layer still gets consulted.
	pattern := PatternFor(DetectArchetype(dom, dctx.InputHint))
	if len(pattern.Keys) > 0 {
		key := pattern.Keys[dctx.Attempt%len(pattern.Keys)]
		return ActionCandidate{
			Type:       ActionKeyboard,
			Key:        key,
			Confidence: 60,
			Reasoning:  fmt.Sprintf("%s archetype key cycle", pattern.Archetype),
			Source:     "heuristic",
		}
	}
	if len(pattern.ClickPoints) > 0 {
		p := pattern.ClickPoints[dctx.Attempt%len(pattern.ClickPoints)]
		return ActionCandidate{
			Type:       ActionClick,
			X:          p[0] * ViewportWidth,
			Y:          p[1] * ViewportHeight,
			Confidence: 60,
			Reasoning:  fmt.Sprintf("%s archetype click cycle", pattern.Archetype),
			Source:     "heuristic",
		}
	}

	return ActionCandidate{
		Type:       ActionUnknown,
		Confidence: 10,
		Reasoning:  "no heuristic matched",
		Source:     "heuristic",
	}
}

// visionDecide asks the oracle and converts its analysis into a candidate.
// Oracle failures downgrade to a zero-confidence result and never abort the
// decision cycle.
func (e *ActionStrategyEngine) visionDecide(ctx context.Context, screenshot []byte, dom *DOMAnalysis, dctx DecisionContext) (ActionCandidate, bool) {
	pattern := PatternFor(DetectArchetype(dom, dctx.InputHint))
	analysis, err := e.oracle.Analyze(ctx, screenshot, VisionContext{
		PreviousAction: dctx.PreviousAction,
		Attempt:        dctx.Attempt,
		InputHint:      dctx.InputHint,
		ControlHints:   pattern.ControlHints,
		DOMSummary:     dom.Summary(),
	})
	if err != nil {
		e.logger.Warn("vision oracle failed, falling through", zap.Error(err))
		return ActionCandidate{}, false
	}

	candidate := ActionCandidate{
		Type:       analysis.ActionType,
		Target:     analysis.Target,
		X:          analysis.X,
		Y:          analysis.Y,
		Key:        analysis.Key,
		Confidence: clampConfidence(analysis.Confidence),
		Reasoning:  analysis.Reasoning,
		Source:     "vision",
	}
	if !candidate.Type.Valid() {
		candidate.Type = ActionUnknown
	}
	if candidate.Type == ActionWait && candidate.WaitMs == 0 {
		candidate.WaitMs = 2000
	}

	// Ground a described click in the DOM when the model gave no usable
	// coordinates.
	if candidate.Type == ActionClick && candidate.X == 0 && candidate.Y == 0 {
		if el, ok := dom.FindClickable(candidate.Target); ok {
			candidate.X, candidate.Y = el.Center()
		} else {
			candidate.X, candidate.Y = ViewportWidth/2, ViewportHeight/2
		}
	}
	return candidate, true
}

// Thresholds exposes the engine's calibration to the run loop.
func (e *ActionStrategyEngine) Thresholds() Thresholds {
	return e.thresholds
}
