package evaluator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/playprobe/qa-agent/internal/agent"
)

// PlayabilityScore is the verdict on a completed run.
type PlayabilityScore struct {
	// OverallScore is the overall playability score (0-100)
	OverallScore int `json:"overall_score"`
	// LoadsCorrectly indicates whether the game reached an interactive state
	LoadsCorrectly bool `json:"loads_correctly"`
	// InteractivityScore rates how responsive the game was to inputs (0-100)
	InteractivityScore int `json:"interactivity_score"`
	// ErrorSeverity rates the severity of errors found (0-100, 0=none)
	ErrorSeverity int `json:"error_severity"`
	// Reasoning explains the evaluation rationale
	Reasoning string `json:"reasoning"`
	// Issues lists specific problems found during the run
	Issues []string `json:"issues"`
	// DeterministicOnly is set when the LLM pass was skipped or failed and
	// the score came from run metrics alone
	DeterministicOnly bool `json:"deterministic_only"`
}

// GameEvaluator scores completed runs, using an LLM pass over the final
// screenshot when a client is available and run metrics alone otherwise.
type GameEvaluator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewGameEvaluator creates an evaluator. With an empty API key and no
// OPENAI_API_KEY in the environment it still works, falling back to the
// deterministic score.
func NewGameEvaluator(apiKey string, logger *zap.Logger) *GameEvaluator {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ge := &GameEvaluator{
		model:  openai.GPT4o,
		logger: logger.Named("evaluator"),
	}
	if apiKey != "" {
		ge.client = openai.NewClient(apiKey)
	}
	return ge
}

// SetModel overrides the evaluation model.
func (ge *GameEvaluator) SetModel(model string) {
	ge.model = model
}

// Evaluate scores the run. finalScreenshot may be nil; LLM failures degrade
// to the deterministic score instead of failing the evaluation.
func (ge *GameEvaluator) Evaluate(ctx context.Context, result *agent.RunResult, finalScreenshot []byte) *PlayabilityScore {
	base := DeterministicScore(result)
	if ge.client == nil || len(finalScreenshot) == 0 {
		return base
	}

	llm, err := ge.evaluateWithLLM(ctx, result, finalScreenshot)
	if err != nil {
		ge.logger.Warn("llm evaluation failed, keeping deterministic score", zap.Error(err))
		return base
	}

	// Blend: the deterministic signal anchors interactivity, the LLM
	// judges what the final frame actually shows.
	llm.DeterministicOnly = false
	llm.InteractivityScore = (llm.InteractivityScore + base.InteractivityScore) / 2
	llm.OverallScore = (llm.OverallScore + base.OverallScore) / 2
	return llm
}

// DeterministicScore derives a playability score purely from run metrics,
// with no external calls.
func DeterministicScore(result *agent.RunResult) *PlayabilityScore {
	score := &PlayabilityScore{DeterministicOnly: true}
	if result == nil {
		score.Issues = []string{"no run result available"}
		score.Reasoning = "nothing to evaluate"
		return score
	}

	m := result.Progress
	score.InteractivityScore = m.ProgressScore
	score.LoadsCorrectly = result.TerminalState != agent.StateCrashed && m.UniqueStateCount > 0

	switch result.TerminalState {
	case agent.StateCompleted:
		score.OverallScore = m.ProgressScore
		score.Reasoning = fmt.Sprintf("run completed its action budget with progress score %d", m.ProgressScore)
	case agent.StateTimedOut:
		// A timeout with real progress is a slow game, not a broken one.
		score.OverallScore = m.ProgressScore * 3 / 4
		score.ErrorSeverity = 20
		score.Issues = append(score.Issues, "run hit the wall-clock budget before finishing")
		score.Reasoning = "run timed out; scored from partial progress"
	case agent.StateCrashed:
		score.OverallScore = 0
		score.ErrorSeverity = 90
		score.Issues = append(score.Issues, "run ended in a crash state")
		if result.Error != "" {
			score.Issues = append(score.Issues, result.Error)
		}
		score.Reasoning = "crash terminal state overrides progress"
	default:
		score.OverallScore = m.ProgressScore / 2
		score.Reasoning = fmt.Sprintf("run ended in unexpected state %s", result.TerminalState)
	}

	if m.InputsAttempted > 0 && m.InputsSuccessful == 0 {
		score.Issues = append(score.Issues, "no input produced any visible change")
	}
	for _, u := range result.UnstickLog {
		if u.Error != "" {
			score.Issues = append(score.Issues, fmt.Sprintf("recovery %s: %s", u.Strategy, u.Error))
		}
	}
	return score
}

func (ge *GameEvaluator) evaluateWithLLM(ctx context.Context, result *agent.RunResult, finalScreenshot []byte) (*PlayabilityScore, error) {
	prompt := buildEvaluationPrompt(result)

	req := openai.ChatCompletionRequest{
		Model: ge.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(finalScreenshot)),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		MaxTokens:   800,
		Temperature: 0.3,
	}

	resp, err := ge.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	text := stripMarkdownCodeFence(resp.Choices[0].Message.Content)
	var score PlayabilityScore
	if err := json.Unmarshal([]byte(text), &score); err != nil {
		return nil, fmt.Errorf("parse evaluation response: %w", err)
	}
	return &score, nil
}

// buildEvaluationPrompt summarizes the run for the evaluation model.
func buildEvaluationPrompt(result *agent.RunResult) string {
	var b strings.Builder
	b.WriteString(`You are a QA expert judging whether a web game is playable. You get the final screenshot of an automated test run plus the run's telemetry.

Run telemetry:
`)
	fmt.Fprintf(&b, "- terminal state: %s\n", result.TerminalState)
	fmt.Fprintf(&b, "- actions executed: %d\n", len(result.Actions))
	fmt.Fprintf(&b, "- inputs that changed the screen: %d of %d\n",
		result.Progress.InputsSuccessful, result.Progress.InputsAttempted)
	fmt.Fprintf(&b, "- distinct visual states seen: %d\n", result.Progress.UniqueStateCount)
	fmt.Fprintf(&b, "- recovery attempts: %d\n", len(result.UnstickLog))
	if result.Error != "" {
		fmt.Fprintf(&b, "- run error: %s\n", result.Error)
	}

	b.WriteString(`
Respond with ONLY a JSON object:
{
  "overall_score": <0-100>,
  "loads_correctly": <true/false>,
  "interactivity_score": <0-100>,
  "error_severity": <0-100, 0=no errors>,
  "reasoning": "<explanation>",
  "issues": ["<issue>"]
}`)
	return b.String()
}

// stripMarkdownCodeFence removes ```json wrappers the model sometimes adds.
func stripMarkdownCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx != -1 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// SaveScoreToFile writes the score as indented JSON.
func SaveScoreToFile(score *PlayabilityScore, path string) error {
	data, err := json.MarshalIndent(score, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal score: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write score to %s: %w", path, err)
	}
	return nil
}
