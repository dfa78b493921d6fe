package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playprobe/qa-agent/internal/agent"
)

type stubStrategy struct {
	name    string
	changed bool
	calls   int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Execute(ctx context.Context, driver agent.Driver, uctx agent.UnstickContext) agent.UnstickAttempt {
	s.calls++
	return agent.UnstickAttempt{Success: s.changed, Changed: s.changed}
}

func TestCoordinatorStopsAtFirstChange(t *testing.T) {
	first := &stubStrategy{name: "first"}
	second := &stubStrategy{name: "second"}
	third := &stubStrategy{name: "third", changed: true}
	fourth := &stubStrategy{name: "fourth"}
	fifth := &stubStrategy{name: "fifth"}

	c := agent.NewUnstickCoordinator(nil)
	c.SetStrategies([]agent.UnstickStrategy{first, second, third, fourth, fifth})

	attempts := c.ExecuteAll(context.Background(), &fakeDriver{}, agent.UnstickContext{})

	require.Len(t, attempts, 3)
	assert.Equal(t, "first", attempts[0].Strategy)
	assert.Equal(t, "second", attempts[1].Strategy)
	assert.Equal(t, "third", attempts[2].Strategy)
	assert.False(t, attempts[0].Changed)
	assert.False(t, attempts[1].Changed)
	assert.True(t, attempts[2].Changed)
	assert.Zero(t, fourth.calls, "later strategies must not run after a change")
	assert.Zero(t, fifth.calls)
}

func TestCoordinatorRunsFullChainWhenNothingChanges(t *testing.T) {
	strategies := []agent.UnstickStrategy{
		&stubStrategy{name: "a"},
		&stubStrategy{name: "b"},
		&stubStrategy{name: "c"},
	}
	c := agent.NewUnstickCoordinator(nil)
	c.SetStrategies(strategies)

	attempts := c.ExecuteAll(context.Background(), &fakeDriver{}, agent.UnstickContext{})

	require.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.False(t, a.Changed)
	}
}

func TestExecuteAllPersistsEvidencePerAttempt(t *testing.T) {
	strategies := []agent.UnstickStrategy{
		&stubStrategy{name: "a"},
		&stubStrategy{name: "b"},
		&stubStrategy{name: "c"},
	}
	c := agent.NewUnstickCoordinator(nil)
	c.SetStrategies(strategies)
	sink := &fakeSink{}

	attempts := c.ExecuteAll(context.Background(), &fakeDriver{}, agent.UnstickContext{Evidence: sink})

	require.Len(t, attempts, 3)
	require.Len(t, sink.labels, 6, "every attempt persists a before and an after capture")
	assert.Equal(t, []string{
		"unstick_a_before", "unstick_a_after",
		"unstick_b_before", "unstick_b_after",
		"unstick_c_before", "unstick_c_after",
	}, sink.labels)
	assert.Len(t, sink.logs, 3)
}

func TestExecuteAllCapturesEvidenceAcrossDefaultChain(t *testing.T) {
	if testing.Short() {
		t.Skip("default chain mashes keys with real settle delays")
	}
	// Static page: nothing to click, no iframes, no oracle. Every strategy
	// fails until the refresh, and each one still leaves evidence behind.
	driver := &fakeDriver{
		analyzeFn: func(ctx context.Context) (*agent.DOMAnalysis, error) {
			return &agent.DOMAnalysis{ReadyState: "complete"}, nil
		},
	}
	sink := &fakeSink{}

	c := agent.NewUnstickCoordinator(nil)
	attempts := c.ExecuteAll(context.Background(), driver, agent.UnstickContext{
		Evidence:    sink,
		SettleDelay: 10 * time.Millisecond,
	})

	require.Len(t, attempts, 5)
	assert.True(t, attempts[4].Changed, "page refresh ends the chain")
	require.Len(t, sink.labels, 10)
	assert.Equal(t, "unstick_iframe_detection_before", sink.labels[0])
	assert.Equal(t, "unstick_iframe_detection_after", sink.labels[1])
	assert.Equal(t, "unstick_page_refresh_before", sink.labels[8])
	assert.Equal(t, "unstick_page_refresh_after", sink.labels[9])
	assert.Len(t, sink.logs, 5)
}

func TestIframeDetectionClicksFrameCenter(t *testing.T) {
	driver := &fakeDriver{
		screenshotFn: frameSequence([]byte("before"), []byte("after")),
		switchFrameFn: func(ctx context.Context, selector string) (*agent.FrameHandle, error) {
			return &agent.FrameHandle{Selector: selector, X: 100, Y: 50, Width: 400, Height: 300}, nil
		},
	}
	dom := &agent.DOMAnalysis{
		Iframes: []agent.IframeInfo{{Selector: "iframe#game", Src: "https://cdn.example/game"}},
	}

	s := &agent.IframeDetection{}
	attempt := s.Execute(context.Background(), driver, agent.UnstickContext{DOM: dom, SettleDelay: 10 * time.Millisecond})

	require.True(t, attempt.Success, attempt.Error)
	assert.True(t, attempt.Changed)
	require.Len(t, driver.clicks, 1)
	assert.Equal(t, [2]float64{300, 200}, driver.clicks[0])
	assert.NotEqual(t, attempt.BeforeHash, attempt.AfterHash)
}

func TestIframeDetectionFailsWithoutIframes(t *testing.T) {
	driver := &fakeDriver{
		analyzeFn: func(ctx context.Context) (*agent.DOMAnalysis, error) {
			return &agent.DOMAnalysis{ReadyState: "complete"}, nil
		},
	}

	s := &agent.IframeDetection{}
	attempt := s.Execute(context.Background(), driver, agent.UnstickContext{})

	assert.False(t, attempt.Success)
	assert.False(t, attempt.Changed)
	assert.NotEmpty(t, attempt.Error)
	assert.Empty(t, driver.clicks)
}

func TestDOMButtonFinderClicksStartControl(t *testing.T) {
	driver := &fakeDriver{
		screenshotFn: frameSequence([]byte("menu"), []byte("game")),
		analyzeFn: func(ctx context.Context) (*agent.DOMAnalysis, error) {
			return &agent.DOMAnalysis{
				ReadyState: "complete",
				Clickables: []agent.ClickableElement{
					{Tag: "a", Text: "About", X: 10, Y: 10, W: 50, H: 20},
					{Tag: "button", Text: "START", X: 590, Y: 330, W: 100, H: 60},
				},
			}, nil
		},
	}

	s := &agent.DOMButtonFinder{}
	attempt := s.Execute(context.Background(), driver, agent.UnstickContext{SettleDelay: 10 * time.Millisecond})

	require.True(t, attempt.Success, attempt.Error)
	assert.True(t, attempt.Changed)
	require.Len(t, driver.clicks, 1)
	assert.Equal(t, [2]float64{640, 360}, driver.clicks[0])
}

func TestDOMButtonFinderFailsWithoutStartControl(t *testing.T) {
	driver := &fakeDriver{
		analyzeFn: func(ctx context.Context) (*agent.DOMAnalysis, error) {
			return &agent.DOMAnalysis{
				Clickables: []agent.ClickableElement{{Tag: "a", Text: "Privacy Policy"}},
			}, nil
		},
	}

	s := &agent.DOMButtonFinder{}
	attempt := s.Execute(context.Background(), driver, agent.UnstickContext{})

	assert.False(t, attempt.Success)
	assert.Empty(t, driver.clicks)
}

func TestVisionGuidedClickFollowsOracle(t *testing.T) {
	driver := &fakeDriver{
		screenshotFn: frameSequence([]byte("stuck"), []byte("moving")),
	}
	oracle := &fakeOracle{
		analyzeFn: func(ctx context.Context, shot []byte, vctx agent.VisionContext) (*agent.VisionAnalysis, error) {
			return &agent.VisionAnalysis{
				ActionType: agent.ActionClick,
				X:          420,
				Y:          360,
				Confidence: 80,
				Reasoning:  "resume button",
			}, nil
		},
	}

	s := &agent.VisionGuidedClick{}
	attempt := s.Execute(context.Background(), driver, agent.UnstickContext{
		Oracle:      oracle,
		SettleDelay: 10 * time.Millisecond,
	})

	require.True(t, attempt.Success, attempt.Error)
	assert.True(t, attempt.Changed)
	require.Len(t, driver.clicks, 1)
	assert.Equal(t, [2]float64{420, 360}, driver.clicks[0])
}

func TestVisionGuidedClickFailsWithoutOracle(t *testing.T) {
	s := &agent.VisionGuidedClick{}
	attempt := s.Execute(context.Background(), &fakeDriver{}, agent.UnstickContext{})

	assert.False(t, attempt.Success)
	assert.NotEmpty(t, attempt.Error)
}

func TestKeyboardMashStopsAtFirstEffectiveKey(t *testing.T) {
	driver := &fakeDriver{
		screenshotFn: frameSequence([]byte("frozen"), []byte("reacted")),
	}

	s := &agent.KeyboardMash{}
	attempt := s.Execute(context.Background(), driver, agent.UnstickContext{SettleDelay: 10 * time.Millisecond})

	require.True(t, attempt.Success)
	assert.True(t, attempt.Changed)
	require.Len(t, driver.presses, 1)
	assert.Equal(t, "Space", driver.presses[0])
}

func TestPageRefreshAlwaysReportsChange(t *testing.T) {
	driver := &fakeDriver{}

	s := &agent.PageRefresh{}
	attempt := s.Execute(context.Background(), driver, agent.UnstickContext{SettleDelay: 10 * time.Millisecond})

	assert.True(t, attempt.Changed)
	assert.Equal(t, 1, driver.reloads)
}
