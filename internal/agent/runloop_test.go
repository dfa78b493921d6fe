package agent_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playprobe/qa-agent/internal/agent"
)

func fastConfig(url string) agent.RunConfig {
	return agent.RunConfig{
		GameURL:     url,
		MaxActions:  5,
		MaxDuration: 30 * time.Second,
		SettleDelay: time.Millisecond,
	}
}

// changingDriver serves a fresh frame on every screenshot and a page with a
// visible start button, so the heuristic layer stays confident throughout.
func changingDriver() *fakeDriver {
	n := 0
	return &fakeDriver{
		screenshotFn: func(context.Context) ([]byte, error) {
			n++
			return []byte(fmt.Sprintf("frame-%d", n)), nil
		},
		analyzeFn: func(context.Context) (*agent.DOMAnalysis, error) {
			return &agent.DOMAnalysis{
				ReadyState: "complete",
				HasCanvas:  true,
				Clickables: []agent.ClickableElement{
					{Tag: "button", Text: "Play", X: 600, Y: 340, W: 80, H: 40},
				},
			}, nil
		},
	}
}

func TestRunCompletesAtActionBudgetWithoutOracle(t *testing.T) {
	driver := changingDriver()
	oracle := &fakeOracle{}
	engine := agent.NewActionStrategyEngine(oracle, agent.DefaultThresholds(), nil)
	loop := agent.NewTestRunLoop(driver, engine, agent.NewUnstickCoordinator(nil), nil, oracle, nil)

	result := loop.Run(context.Background(), fastConfig("https://games.example/responsive"))

	require.NotNil(t, result)
	assert.Equal(t, agent.StateCompleted, result.TerminalState)
	assert.Len(t, result.Actions, 5)
	assert.Zero(t, oracle.calls, "confident heuristics should never reach the oracle")
	assert.Empty(t, result.Error)
	assert.Equal(t, []string{"https://games.example/responsive"}, driver.navigations)
	assert.Greater(t, result.Progress.ProgressScore, 50)
}

func TestRunTransitionLogIsMonotonic(t *testing.T) {
	driver := changingDriver()
	engine := agent.NewActionStrategyEngine(nil, agent.DefaultThresholds(), nil)
	loop := agent.NewTestRunLoop(driver, engine, agent.NewUnstickCoordinator(nil), nil, nil, nil)

	result := loop.Run(context.Background(), fastConfig("https://games.example/responsive"))

	require.NotEmpty(t, result.Transitions)
	assert.Equal(t, agent.StateInitializing, result.Transitions[0].From)
	assert.Equal(t, agent.StateLoading, result.Transitions[0].To)
	last := result.Transitions[len(result.Transitions)-1]
	assert.Equal(t, agent.StateCompleted, last.To)
	for i, tr := range result.Transitions {
		assert.Equal(t, i+1, tr.Seq)
		if i > 0 {
			assert.Equal(t, result.Transitions[i-1].To, tr.From)
		}
	}
}

func TestRunCrashesWhenNavigationFails(t *testing.T) {
	driver := &fakeDriver{
		navigateFn: func(ctx context.Context, url string) error {
			return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED")
		},
	}
	engine := agent.NewActionStrategyEngine(nil, agent.DefaultThresholds(), nil)
	loop := agent.NewTestRunLoop(driver, engine, agent.NewUnstickCoordinator(nil), nil, nil, nil)

	result := loop.Run(context.Background(), fastConfig("https://games.example/gone"))

	assert.Equal(t, agent.StateCrashed, result.TerminalState)
	assert.Contains(t, result.Error, "navigate")
	assert.Empty(t, result.Actions)
}

func TestRunCrashesOnFatalPageError(t *testing.T) {
	driver := changingDriver()
	driver.analyzeFn = func(context.Context) (*agent.DOMAnalysis, error) {
		return &agent.DOMAnalysis{
			ReadyState:  "complete",
			FatalErrors: []string{"Uncaught TypeError: game.init is not a function"},
		}, nil
	}
	engine := agent.NewActionStrategyEngine(nil, agent.DefaultThresholds(), nil)
	loop := agent.NewTestRunLoop(driver, engine, agent.NewUnstickCoordinator(nil), nil, nil, nil)

	result := loop.Run(context.Background(), fastConfig("https://games.example/broken"))

	assert.Equal(t, agent.StateCrashed, result.TerminalState)
	assert.Contains(t, result.Error, "TypeError")
	assert.Empty(t, result.Actions)
}

func TestRunTimesOutAtDeadline(t *testing.T) {
	driver := &fakeDriver{
		analyzeFn: func(context.Context) (*agent.DOMAnalysis, error) {
			return &agent.DOMAnalysis{ReadyState: "loading"}, nil
		},
	}
	engine := agent.NewActionStrategyEngine(nil, agent.DefaultThresholds(), nil)
	loop := agent.NewTestRunLoop(driver, engine, agent.NewUnstickCoordinator(nil), nil, nil, nil)

	config := fastConfig("https://games.example/slow")
	config.MaxDuration = 100 * time.Millisecond
	config.MaxActions = 50

	started := time.Now()
	result := loop.Run(context.Background(), config)

	assert.Equal(t, agent.StateTimedOut, result.TerminalState)
	assert.Less(t, len(result.Actions), 50)
	assert.Less(t, time.Since(started), 5*time.Second)
	assert.GreaterOrEqual(t, result.Duration(), 100*time.Millisecond)
}

func TestRunCrashesWhenRecoveryExhausted(t *testing.T) {
	// Every frame identical: the tracker's identical streak grows until
	// the stuck threshold trips.
	driver := &fakeDriver{
		screenshotFn: func(context.Context) ([]byte, error) {
			return []byte("frozen"), nil
		},
		analyzeFn: func(context.Context) (*agent.DOMAnalysis, error) {
			return &agent.DOMAnalysis{ReadyState: "complete", HasCanvas: true}, nil
		},
	}
	engine := agent.NewActionStrategyEngine(nil, agent.DefaultThresholds(), nil)

	hopeless := &stubStrategy{name: "hopeless"}
	coordinator := agent.NewUnstickCoordinator(nil)
	coordinator.SetStrategies([]agent.UnstickStrategy{hopeless})

	loop := agent.NewTestRunLoop(driver, engine, coordinator, nil, nil, nil)

	config := fastConfig("https://games.example/frozen")
	config.MaxActions = 20
	config.StuckThreshold = 2
	config.RecoveryBudget = 2

	result := loop.Run(context.Background(), config)

	assert.Equal(t, agent.StateCrashed, result.TerminalState)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 1, hopeless.calls)
	require.NotEmpty(t, result.UnstickLog)
	assert.Equal(t, "hopeless", result.UnstickLog[0].Strategy)
}

func TestRunRecoversAndContinuesExploring(t *testing.T) {
	// Frames repeat until recovery, then change again.
	frozen := true
	n := 0
	driver := &fakeDriver{
		screenshotFn: func(context.Context) ([]byte, error) {
			if frozen {
				return []byte("frozen"), nil
			}
			n++
			return []byte(fmt.Sprintf("alive-%d", n)), nil
		},
		analyzeFn: func(context.Context) (*agent.DOMAnalysis, error) {
			return &agent.DOMAnalysis{ReadyState: "complete", HasCanvas: true}, nil
		},
	}
	engine := agent.NewActionStrategyEngine(nil, agent.DefaultThresholds(), nil)

	// The recovery strategy unfreezes the page, simulating a fix that
	// actually worked.
	fixer := &stubStrategy{name: "fixer", changed: true}
	coordinator := agent.NewUnstickCoordinator(nil)
	coordinator.SetStrategies([]agent.UnstickStrategy{
		&unfreezingStrategy{inner: fixer, unfreeze: func() { frozen = false }},
	})

	loop := agent.NewTestRunLoop(driver, engine, coordinator, nil, nil, nil)

	config := fastConfig("https://games.example/sticky")
	config.MaxActions = 6
	config.StuckThreshold = 2

	result := loop.Run(context.Background(), config)

	assert.Equal(t, agent.StateCompleted, result.TerminalState)
	assert.Len(t, result.Actions, 6)
	assert.Equal(t, 1, fixer.calls)

	var sawStuck, sawRecovering, backToExploring bool
	for _, tr := range result.Transitions {
		switch {
		case tr.To == agent.StateStuck:
			sawStuck = true
		case tr.To == agent.StateRecovering:
			sawRecovering = true
		case tr.From == agent.StateRecovering && tr.To == agent.StateExploring:
			backToExploring = true
		}
	}
	assert.True(t, sawStuck)
	assert.True(t, sawRecovering)
	assert.True(t, backToExploring)
}

// deadPageDriver serves a start control whose click fails, then a completed
// page with no interactive surface, so the engine ends up relying on the
// oracle's verdict.
func deadPageDriver() *fakeDriver {
	domCalls := 0
	return &fakeDriver{
		clickFn: func(context.Context, float64, float64) error {
			return fmt.Errorf("click dispatch failed")
		},
		analyzeFn: func(context.Context) (*agent.DOMAnalysis, error) {
			domCalls++
			if domCalls == 1 {
				return &agent.DOMAnalysis{
					ReadyState: "complete",
					Clickables: []agent.ClickableElement{
						{Tag: "button", Text: "Play", X: 600, Y: 340, W: 80, H: 40},
					},
				}, nil
			}
			return &agent.DOMAnalysis{ReadyState: "complete"}, nil
		},
	}
}

func uncertainOracle() *fakeOracle {
	return &fakeOracle{
		analyzeFn: func(context.Context, []byte, agent.VisionContext) (*agent.VisionAnalysis, error) {
			return &agent.VisionAnalysis{
				ActionType: agent.ActionUnknown,
				Confidence: 35,
				Reasoning:  "nothing actionable on screen",
			}, nil
		},
	}
}

func TestRunEscalatesLowConfidenceUnknownOnlyWhileExploring(t *testing.T) {
	driver := deadPageDriver()
	oracle := uncertainOracle()
	engine := agent.NewActionStrategyEngine(oracle, agent.DefaultThresholds(), nil)

	fixer := &stubStrategy{name: "fixer", changed: true}
	coordinator := agent.NewUnstickCoordinator(nil)
	coordinator.SetStrategies([]agent.UnstickStrategy{fixer})
	loop := agent.NewTestRunLoop(driver, engine, coordinator, nil, oracle, nil)

	config := fastConfig("https://games.example/barren")
	config.MaxActions = 3
	config.RecoveryBudget = 1

	result := loop.Run(context.Background(), config)

	// The same unknown@35 verdict is tolerated while the page loads and
	// escalates once exploration has begun.
	for _, tr := range result.Transitions {
		if tr.From == agent.StateLoading {
			assert.NotEqual(t, agent.StateStuck, tr.To,
				"low-confidence unknown must not escalate while loading")
		}
	}
	require.GreaterOrEqual(t, len(result.Transitions), 3)
	assert.Equal(t, agent.StateLoading, result.Transitions[1].From)
	assert.Equal(t, agent.StateExploring, result.Transitions[1].To)

	var firstStuck *agent.StateTransition
	for i := range result.Transitions {
		if result.Transitions[i].To == agent.StateStuck {
			firstStuck = &result.Transitions[i]
			break
		}
	}
	require.NotNil(t, firstStuck, "the unknown verdict must escalate once exploring")
	assert.Equal(t, agent.StateExploring, firstStuck.From)
	assert.Contains(t, firstStuck.Reason, "escalation floor")
	assert.GreaterOrEqual(t, oracle.calls, 2)
}

func TestRunUsesEngineThresholdsWhenConfigUnset(t *testing.T) {
	driver := deadPageDriver()
	oracle := uncertainOracle()
	calibration := agent.DefaultThresholds()
	calibration.EscalationFloor = 10
	engine := agent.NewActionStrategyEngine(oracle, calibration, nil)
	loop := agent.NewTestRunLoop(driver, engine, agent.NewUnstickCoordinator(nil), nil, oracle, nil)

	config := fastConfig("https://games.example/barren")
	config.MaxActions = 3

	result := loop.Run(context.Background(), config)

	// unknown@35 clears the engine's lowered escalation floor, so the run
	// keeps exploring instead of entering recovery.
	assert.Equal(t, agent.StateCompleted, result.TerminalState)
	assert.Len(t, result.Actions, 3)
	for _, tr := range result.Transitions {
		assert.NotEqual(t, agent.StateStuck, tr.To)
	}
}

// unfreezingStrategy wraps a stub and flips the driver's page state when it
// runs, simulating a recovery that actually worked.
type unfreezingStrategy struct {
	inner    *stubStrategy
	unfreeze func()
}

func (s *unfreezingStrategy) Name() string { return s.inner.Name() }

func (s *unfreezingStrategy) Execute(ctx context.Context, driver agent.Driver, uctx agent.UnstickContext) agent.UnstickAttempt {
	s.unfreeze()
	return s.inner.Execute(ctx, driver, uctx)
}
