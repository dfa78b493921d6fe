package agent

import "time"

// ActionType is the closed set of inputs the agent can try against a game.
type ActionType string

const (
	// ActionClick performs a mouse click at a point
	ActionClick ActionType = "click"
	// ActionKeyboard simulates a keyboard key press
	ActionKeyboard ActionType = "keyboard"
	// ActionWait pauses to let the game load or settle
	ActionWait ActionType = "wait"
	// ActionScreenshot captures a screenshot without touching the game
	ActionScreenshot ActionType = "screenshot"
	// ActionUnknown means no decision layer produced a usable action
	ActionUnknown ActionType = "unknown"
)

// Valid reports whether t is one of the defined action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionClick, ActionKeyboard, ActionWait, ActionScreenshot, ActionUnknown:
		return true
	}
	return false
}

// ActionCandidate is a single proposed input, produced fresh each decision
// cycle and never persisted. Confidence is 0-100.
type ActionCandidate struct {
	Type       ActionType
	Target     string
	X          float64
	Y          float64
	Key        string
	WaitMs     int
	Confidence int
	Reasoning  string
	Source     string
}

// Label returns a short identifier for the candidate, used as the action
// label on recorded screenshot fingerprints.
func (c ActionCandidate) Label() string {
	switch c.Type {
	case ActionKeyboard:
		return string(c.Type) + ":" + c.Key
	case ActionClick:
		if c.Target != "" {
			return string(c.Type) + ":" + c.Target
		}
	}
	return string(c.Type)
}

// ActionRecord is one executed action in the run's evidence trail.
type ActionRecord struct {
	Sequence   int           `json:"sequence"`
	Action     ActionType    `json:"action"`
	Target     string        `json:"target,omitempty"`
	Key        string        `json:"key,omitempty"`
	Confidence int           `json:"confidence"`
	Source     string        `json:"source"`
	Reasoning  string        `json:"reasoning,omitempty"`
	Changed    bool          `json:"changed"`
	Error      string        `json:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ms"`
	Timestamp  time.Time     `json:"timestamp"`
}
