package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TestState is a phase of a playability run.
type TestState string

const (
	StateInitializing TestState = "initializing"
	StateLoading      TestState = "loading"
	StateExploring    TestState = "exploring"
	StateStuck        TestState = "stuck"
	StateRecovering   TestState = "recovering"
	StateCompleted    TestState = "completed"
	StateCrashed      TestState = "crashed"
	StateTimedOut     TestState = "timed_out"
)

// Terminal reports whether s ends the run.
func (s TestState) Terminal() bool {
	switch s {
	case StateCompleted, StateCrashed, StateTimedOut:
		return true
	}
	return false
}

// RunConfig controls a single playability run.
type RunConfig struct {
	GameURL        string
	MaxActions     int
	MaxDuration    time.Duration
	InputHint      string
	StuckThreshold int
	// RecoveryBudget is how many stuck episodes a run survives before it
	// is declared crashed.
	RecoveryBudget int
	SettleDelay    time.Duration
	Thresholds     Thresholds
}

func (c *RunConfig) applyDefaults() {
	if c.MaxActions <= 0 {
		c.MaxActions = 30
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 5 * time.Minute
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = DefaultStuckThreshold
	}
	if c.RecoveryBudget <= 0 {
		c.RecoveryBudget = 3
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 1500 * time.Millisecond
	}
	zero := Thresholds{}
	if c.Thresholds == zero {
		c.Thresholds = DefaultThresholds()
	}
}

// StateTransition is one entry in the run's state log. Seq is monotonic
// across the run.
type StateTransition struct {
	Seq       int       `json:"seq"`
	From      TestState `json:"from"`
	To        TestState `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RunResult is the complete outcome of a run. It is always fully populated,
// whatever went wrong along the way.
type RunResult struct {
	RunID               string            `json:"run_id"`
	GameURL             string            `json:"game_url"`
	StartedAt           time.Time         `json:"started_at"`
	FinishedAt          time.Time         `json:"finished_at"`
	TerminalState       TestState         `json:"terminal_state"`
	Actions             []ActionRecord    `json:"actions"`
	Transitions         []StateTransition `json:"transitions"`
	UnstickLog          []UnstickAttempt  `json:"unstick_log,omitempty"`
	Progress            ProgressMetrics   `json:"progress"`
	FinalScreenshotPath string            `json:"final_screenshot_path,omitempty"`
	Error               string            `json:"error,omitempty"`
}

// Duration is the wall-clock length of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TestRunLoop drives one game through load, exploration, and recovery until
// it reaches a terminal state.
type TestRunLoop struct {
	driver   Driver
	engine   *ActionStrategyEngine
	unstick  *UnstickCoordinator
	tracker  *ProgressTracker
	evidence EvidenceSink
	oracle   VisionOracle
	logger   *zap.Logger

	state       TestState
	transitions []StateTransition
	seq         int
}

// NewTestRunLoop wires a run loop. evidence and oracle may be nil.
func NewTestRunLoop(driver Driver, engine *ActionStrategyEngine, unstick *UnstickCoordinator, evidence EvidenceSink, oracle VisionOracle, logger *zap.Logger) *TestRunLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TestRunLoop{
		driver:   driver,
		engine:   engine,
		unstick:  unstick,
		tracker:  NewProgressTracker(),
		evidence: evidence,
		oracle:   oracle,
		logger:   logger.Named("runloop"),
		state:    StateInitializing,
	}
}

func (l *TestRunLoop) transition(to TestState, reason string) {
	l.seq++
	l.transitions = append(l.transitions, StateTransition{
		Seq:       l.seq,
		From:      l.state,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	l.logger.Info("state transition",
		zap.String("from", string(l.state)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	l.state = to
}

// Run executes the playability test. It never returns an error: every
// failure mode terminates the state machine and is reported inside the
// result.
func (l *TestRunLoop) Run(ctx context.Context, config RunConfig) *RunResult {
	// When the config leaves thresholds unset, the loop escalates with the
	// same calibration the engine decides with.
	if (config.Thresholds == Thresholds{}) && l.engine != nil {
		config.Thresholds = l.engine.Thresholds()
	}
	config.applyDefaults()

	result := &RunResult{
		RunID:     uuid.New().String(),
		GameURL:   config.GameURL,
		StartedAt: time.Now(),
	}
	deadline := result.StartedAt.Add(config.MaxDuration)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	l.state = StateInitializing
	l.transitions = nil
	l.seq = 0
	l.tracker.Reset()

	defer func() {
		result.FinishedAt = time.Now()
		result.TerminalState = l.state
		result.Transitions = l.transitions
		result.Progress = l.tracker.Metrics()
		l.captureFinal(result)
	}()

	if err := l.driver.Navigate(ctx, config.GameURL); err != nil {
		result.Error = fmt.Sprintf("navigate: %v", err)
		l.transition(StateCrashed, "navigation failed")
		return result
	}
	l.transition(StateLoading, "navigation complete")

	recoveries := 0
	previousAction := ""
	for {
		if time.Now().After(deadline) || ctx.Err() != nil {
			l.transition(StateTimedOut, "run budget exhausted")
			return result
		}
		if len(result.Actions) >= config.MaxActions {
			l.transition(StateCompleted, fmt.Sprintf("action budget of %d reached", config.MaxActions))
			return result
		}

		shot, err := l.driver.Screenshot(ctx)
		if err != nil {
			result.Error = fmt.Sprintf("screenshot: %v", err)
			l.transition(StateCrashed, "screenshot pipeline failed")
			return result
		}

		dom, err := l.driver.AnalyzeDOM(ctx)
		if err != nil {
			l.logger.Warn("dom analysis failed, deciding from screenshot alone", zap.Error(err))
			dom = nil
		}
		if dom != nil && len(dom.FatalErrors) > 0 {
			result.Error = fmt.Sprintf("page error: %s", dom.FatalErrors[0])
			l.transition(StateCrashed, "fatal page error detected")
			return result
		}

		candidate := l.engine.Decide(ctx, shot, dom, DecisionContext{
			PreviousAction: previousAction,
			Attempt:        len(result.Actions),
			InputHint:      config.InputHint,
			FirstAction:    len(result.Actions) == 0,
		})

		// An unknown verdict below the escalation floor only matters
		// once the game is interactive; during loading we keep probing.
		if l.state == StateExploring && candidate.Type == ActionUnknown && candidate.Confidence < config.Thresholds.EscalationFloor {
			l.transition(StateStuck, fmt.Sprintf("decision confidence %d below escalation floor", candidate.Confidence))
			if !l.recover(ctx, result, dom, config, &recoveries) {
				return result
			}
			continue
		}
		if candidate.Confidence < config.Thresholds.AttemptFloor {
			l.logger.Debug("skipping low-confidence candidate",
				zap.String("action", string(candidate.Type)),
				zap.Int("confidence", candidate.Confidence))
			candidate = ActionCandidate{
				Type:       ActionWait,
				WaitMs:     1000,
				Confidence: candidate.Confidence,
				Reasoning:  "below attempt floor, waiting instead",
				Source:     candidate.Source,
			}
		}

		record := l.execute(ctx, candidate, config.SettleDelay)
		record.Sequence = len(result.Actions) + 1
		result.Actions = append(result.Actions, record)
		previousAction = candidate.Label()

		if l.state == StateLoading && record.Error == "" {
			l.transition(StateExploring, "first input delivered")
		}

		// Waiting for a load is expected stalling, not stuckness.
		if l.state == StateExploring && candidate.Type != ActionWait && l.tracker.IsStuck(config.StuckThreshold) {
			l.transition(StateStuck, fmt.Sprintf("%d consecutive identical screenshots", l.tracker.Metrics().ConsecutiveIdentical))
			if !l.recover(ctx, result, dom, config, &recoveries) {
				return result
			}
		}
	}
}

// execute performs one candidate against the driver and records the outcome,
// including whether the page visibly changed afterward.
func (l *TestRunLoop) execute(ctx context.Context, candidate ActionCandidate, settle time.Duration) ActionRecord {
	started := time.Now()
	record := ActionRecord{
		Action:     candidate.Type,
		Target:     candidate.Target,
		Key:        candidate.Key,
		Confidence: candidate.Confidence,
		Source:     candidate.Source,
		Reasoning:  candidate.Reasoning,
		Timestamp:  started,
	}

	var err error
	switch candidate.Type {
	case ActionClick:
		err = l.driver.Click(ctx, candidate.X, candidate.Y)
	case ActionKeyboard:
		err = l.driver.Press(ctx, candidate.Key)
	case ActionWait:
		wait := time.Duration(candidate.WaitMs) * time.Millisecond
		if wait <= 0 {
			wait = 2 * time.Second
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			err = ctx.Err()
		}
	case ActionScreenshot:
		// The post-action screenshot below is the capture.
	default:
		// Unknown but above the attempt floor: give the page a moment
		// rather than guessing an input.
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	if err != nil {
		record.Error = err.Error()
	}

	if candidate.Type == ActionClick || candidate.Type == ActionKeyboard {
		select {
		case <-time.After(settle):
		case <-ctx.Done():
		}
	}

	if shot, serr := l.driver.Screenshot(ctx); serr == nil {
		record.Changed = l.tracker.RecordScreenshot(shot, candidate.Label())
		if l.evidence != nil && record.Changed {
			if _, werr := l.evidence.CaptureScreenshot(shot, string(candidate.Type)); werr != nil {
				l.logger.Warn("evidence capture failed", zap.Error(werr))
			}
		}
	}
	record.Elapsed = time.Since(started)

	if l.evidence != nil {
		l.evidence.AppendLog(fmt.Sprintf("action %s conf=%d changed=%v err=%q",
			candidate.Label(), candidate.Confidence, record.Changed, record.Error))
	}
	return record
}

// recover runs the unstick chain. It returns false when the run is over
// (recovery budget exhausted, which terminates in Crashed).
func (l *TestRunLoop) recover(ctx context.Context, result *RunResult, dom *DOMAnalysis, config RunConfig, recoveries *int) bool {
	l.transition(StateRecovering, "starting recovery chain")

	*recoveries++
	if *recoveries > config.RecoveryBudget {
		result.Error = fmt.Sprintf("recovery budget of %d exhausted", config.RecoveryBudget)
		l.transition(StateCrashed, "recovery budget exhausted")
		return false
	}

	attempts := l.unstick.ExecuteAll(ctx, l.driver, UnstickContext{
		DOM:         dom,
		InputHint:   config.InputHint,
		Oracle:      l.oracle,
		Evidence:    l.evidence,
		SettleDelay: config.SettleDelay,
	})
	result.UnstickLog = append(result.UnstickLog, attempts...)

	recovered := len(attempts) > 0 && attempts[len(attempts)-1].Changed
	if !recovered {
		result.Error = "no recovery strategy changed the page"
		l.transition(StateCrashed, "recovery chain exhausted without change")
		return false
	}

	// Seed the tracker with the recovered page so the identical-streak
	// count restarts from the new state.
	if shot, err := l.driver.Screenshot(ctx); err == nil {
		l.tracker.RecordScreenshot(shot, "recovery")
	}
	l.transition(StateExploring, fmt.Sprintf("recovered via %s", attempts[len(attempts)-1].Strategy))
	return true
}

func (l *TestRunLoop) captureFinal(result *RunResult) {
	if l.evidence == nil {
		return
	}
	// Detached context: the run context may already be past its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shot, err := l.driver.Screenshot(ctx)
	if err != nil {
		return
	}
	if path, err := l.evidence.CaptureScreenshot(shot, "final"); err == nil {
		result.FinalScreenshotPath = path
	}
}
