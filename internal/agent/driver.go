package agent

import "context"

// FrameHandle describes an embedded frame after a successful context switch.
// Coordinates are in main-viewport pixels.
type FrameHandle struct {
	Selector string
	Src      string
	X        float64
	Y        float64
	Width    float64
	Height   float64
}

// Center returns the midpoint of the frame in viewport coordinates.
func (f *FrameHandle) Center() (float64, float64) {
	return f.X + f.Width/2, f.Y + f.Height/2
}

// ClickableElement is a visible element the DOM analysis considers clickable.
type ClickableElement struct {
	Tag  string  `json:"tag"`
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

// Center returns the element's geometric center.
func (e ClickableElement) Center() (float64, float64) {
	return e.X + e.W/2, e.Y + e.H/2
}

// IframeInfo describes an iframe found during DOM analysis.
type IframeInfo struct {
	Selector string  `json:"selector"`
	Src      string  `json:"src"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
}

// DOMAnalysis is a precomputed summary of the page used by the decision
// layers and the recovery strategies.
type DOMAnalysis struct {
	Title       string             `json:"title"`
	URL         string             `json:"url"`
	ReadyState  string             `json:"ready_state"`
	HasCanvas   bool               `json:"has_canvas"`
	Clickables  []ClickableElement `json:"clickables"`
	Iframes     []IframeInfo       `json:"iframes"`
	BodyText    string             `json:"body_text"`
	FatalErrors []string           `json:"fatal_errors"`
}

// Driver is the browser-automation transport the core consumes. The
// production implementation lives in browser.go on top of chromedp; tests
// substitute fakes. Transient navigation and network failures are retried
// inside the implementation, not by callers.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Click(ctx context.Context, x, y float64) error
	Press(ctx context.Context, key string) error
	AnalyzeDOM(ctx context.Context) (*DOMAnalysis, error)
	SwitchFrame(ctx context.Context, selector string) (*FrameHandle, error)
	Reload(ctx context.Context) error
}

// EvidenceSink receives the artifacts a run produces. It is exclusively
// owned by one run loop instance.
type EvidenceSink interface {
	CaptureScreenshot(data []byte, label string) (string, error)
	AppendLog(line string)
}
