package evaluator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playprobe/qa-agent/internal/agent"
	"github.com/playprobe/qa-agent/internal/evaluator"
)

func resultWith(state agent.TestState, progress agent.ProgressMetrics) *agent.RunResult {
	now := time.Now()
	return &agent.RunResult{
		RunID:         "run-1",
		GameURL:       "https://games.example/demo",
		StartedAt:     now.Add(-time.Minute),
		FinishedAt:    now,
		TerminalState: state,
		Progress:      progress,
	}
}

func TestDeterministicScoreCompletedRun(t *testing.T) {
	result := resultWith(agent.StateCompleted, agent.ProgressMetrics{
		InputsAttempted:  10,
		InputsSuccessful: 9,
		UniqueStateCount: 8,
		ProgressScore:    100,
	})

	score := evaluator.DeterministicScore(result)

	assert.Equal(t, 100, score.OverallScore)
	assert.True(t, score.LoadsCorrectly)
	assert.True(t, score.DeterministicOnly)
	assert.Empty(t, score.Issues)
}

func TestDeterministicScoreCrashedRun(t *testing.T) {
	result := resultWith(agent.StateCrashed, agent.ProgressMetrics{
		InputsAttempted:  3,
		InputsSuccessful: 1,
		UniqueStateCount: 1,
		ProgressScore:    38,
	})
	result.Error = "page error: Uncaught TypeError"

	score := evaluator.DeterministicScore(result)

	assert.Equal(t, 0, score.OverallScore)
	assert.False(t, score.LoadsCorrectly)
	assert.Greater(t, score.ErrorSeverity, 50)
	assert.Contains(t, score.Issues, "page error: Uncaught TypeError")
}

func TestDeterministicScoreTimedOutKeepsPartialCredit(t *testing.T) {
	result := resultWith(agent.StateTimedOut, agent.ProgressMetrics{
		InputsAttempted:  8,
		InputsSuccessful: 6,
		UniqueStateCount: 5,
		ProgressScore:    80,
	})

	score := evaluator.DeterministicScore(result)

	assert.Equal(t, 60, score.OverallScore)
	assert.True(t, score.LoadsCorrectly)
	assert.NotEmpty(t, score.Issues)
}

func TestDeterministicScoreFrozenGameFlagged(t *testing.T) {
	result := resultWith(agent.StateCompleted, agent.ProgressMetrics{
		InputsAttempted:  10,
		InputsSuccessful: 0,
		UniqueStateCount: 0,
		ProgressScore:    0,
	})

	score := evaluator.DeterministicScore(result)

	assert.Equal(t, 0, score.OverallScore)
	assert.False(t, score.LoadsCorrectly)
	assert.Contains(t, score.Issues, "no input produced any visible change")
}

func TestDeterministicScoreNilResult(t *testing.T) {
	score := evaluator.DeterministicScore(nil)
	require.NotNil(t, score)
	assert.Equal(t, 0, score.OverallScore)
	assert.True(t, score.DeterministicOnly)
}

func TestEvaluateWithoutClientFallsBack(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	ge := evaluator.NewGameEvaluator("", nil)

	result := resultWith(agent.StateCompleted, agent.ProgressMetrics{
		InputsAttempted:  4,
		InputsSuccessful: 4,
		UniqueStateCount: 4,
		ProgressScore:    100,
	})

	score := ge.Evaluate(t.Context(), result, []byte("final"))
	require.NotNil(t, score)
	assert.True(t, score.DeterministicOnly)
	assert.Equal(t, 100, score.OverallScore)
}
