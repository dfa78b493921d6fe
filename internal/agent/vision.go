package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// VisionContext carries what the oracle needs to reason about a screenshot
// beyond the pixels themselves.
type VisionContext struct {
	PreviousAction string
	Attempt        int
	InputHint      string
	ControlHints   []string
	DOMSummary     string
}

// VisionAnalysis is the oracle's structured verdict on what to try next.
type VisionAnalysis struct {
	ActionType ActionType `json:"action_type"`
	Target     string     `json:"target,omitempty"`
	X          float64    `json:"x,omitempty"`
	Y          float64    `json:"y,omitempty"`
	Key        string     `json:"key,omitempty"`
	Confidence int        `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
}

// VisionOracle is the vision/language model collaborator. Implementations
// must return an error rather than panic; callers downgrade confidence to 0
// on failure and fall through to the next decision layer.
type VisionOracle interface {
	Analyze(ctx context.Context, screenshot []byte, vctx VisionContext) (*VisionAnalysis, error)
}

// OpenAIVision is the production oracle on the OpenAI chat completions API
// with multimodal input.
type OpenAIVision struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAIVision creates an oracle. The model defaults to GPT-4o-mini,
// which is fast enough for a per-action decision loop.
func NewOpenAIVision(apiKey string, logger *zap.Logger) (*OpenAIVision, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for the vision oracle")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIVision{
		client:  openai.NewClient(apiKey),
		model:   openai.GPT4oMini,
		timeout: 30 * time.Second,
		logger:  logger.Named("vision"),
	}, nil
}

// SetModel overrides the model, useful for tests and evaluation runs.
func (v *OpenAIVision) SetModel(model string) {
	v.model = model
}

// Analyze sends the screenshot and context to the model and parses the
// structured response into a VisionAnalysis.
func (v *OpenAIVision) Analyze(ctx context.Context, screenshot []byte, vctx VisionContext) (*VisionAnalysis, error) {
	imageBase64 := base64.StdEncoding.EncodeToString(screenshot)
	prompt := buildDecisionPrompt(vctx)

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: v.model,
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
							URL:    fmt.Sprintf("data:image/png;base64,%s", imageBase64),
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, NewOracleError("vision API call failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewOracleError("vision API returned no choices", nil)
	}

	content := stripMarkdownFence(resp.Choices[0].Message.Content)

	var result struct {
		ActionType string  `json:"action_type"`
		Target     string  `json:"target"`
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
		Key        string  `json:"key"`
		Confidence int     `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, NewOracleError(fmt.Sprintf("failed to parse vision response: %s", content), err)
	}

	analysis := &VisionAnalysis{
		ActionType: normalizeActionType(result.ActionType),
		Target:     result.Target,
		X:          result.X,
		Y:          result.Y,
		Key:        result.Key,
		Confidence: clampConfidence(result.Confidence),
		Reasoning:  result.Reasoning,
	}

	v.logger.Debug("vision verdict",
		zap.String("action", string(analysis.ActionType)),
		zap.Int("confidence", analysis.Confidence),
		zap.String("reasoning", analysis.Reasoning))
	return analysis, nil
}

func buildDecisionPrompt(vctx VisionContext) string {
	var b strings.Builder
	b.WriteString(`You are testing whether a browser game responds to input. Analyze the screenshot and decide the single next input to try. The viewport is 1280x720 with origin (0,0) at the TOP-LEFT.

Return ONLY a JSON object:
{
  "action_type": "click" | "keyboard" | "wait" | "unknown",
  "target": "text of the element to click, if any",
  "x": click x coordinate, "y": click y coordinate,
  "key": "key name for keyboard actions (ArrowUp, Space, w, ...)",
  "confidence": 0-100,
  "reasoning": "one sentence"
}

Guidance:
- A loading screen means "wait", not a failure.
- Prefer clicking visible start/play/continue buttons.
- For active gameplay with no buttons, suggest a plausible gameplay key.
- Use "unknown" with low confidence only when nothing looks actionable.
`)
	fmt.Fprintf(&b, "\nPrevious action: %s\nAttempt number: %d\n", orNone(vctx.PreviousAction), vctx.Attempt)
	if vctx.InputHint != "" {
		fmt.Fprintf(&b, "Control hint from the game's listing: %s\n", vctx.InputHint)
	}
	if len(vctx.ControlHints) > 0 {
		fmt.Fprintf(&b, "Likely controls for this kind of game: %s\n", strings.Join(vctx.ControlHints, "; "))
	}
	if vctx.DOMSummary != "" {
		fmt.Fprintf(&b, "\nDOM summary:\n%s\n", vctx.DOMSummary)
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// normalizeActionType maps free-form model output onto the closed enum.
func normalizeActionType(s string) ActionType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "click", "mouse", "tap":
		return ActionClick
	case "keyboard", "key", "keypress":
		return ActionKeyboard
	case "wait", "loading":
		return ActionWait
	case "screenshot", "observe":
		return ActionScreenshot
	default:
		return ActionUnknown
	}
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// stripMarkdownFence removes ```json wrappers the model sometimes adds.
func stripMarkdownFence(text string) string {
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
