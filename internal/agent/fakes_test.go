package agent_test

import (
	"context"
	"fmt"

	"github.com/playprobe/qa-agent/internal/agent"
)

// fakeDriver implements agent.Driver with overridable behavior and call
// recording. The zero value serves a static blank page.
type fakeDriver struct {
	navigateFn    func(ctx context.Context, url string) error
	screenshotFn  func(ctx context.Context) ([]byte, error)
	clickFn       func(ctx context.Context, x, y float64) error
	pressFn       func(ctx context.Context, key string) error
	analyzeFn     func(ctx context.Context) (*agent.DOMAnalysis, error)
	switchFrameFn func(ctx context.Context, selector string) (*agent.FrameHandle, error)
	reloadFn      func(ctx context.Context) error

	navigations []string
	screenshots int
	clicks      [][2]float64
	presses     []string
	reloads     int
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.navigations = append(d.navigations, url)
	if d.navigateFn != nil {
		return d.navigateFn(ctx, url)
	}
	return nil
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	d.screenshots++
	if d.screenshotFn != nil {
		return d.screenshotFn(ctx)
	}
	return []byte("blank"), nil
}

func (d *fakeDriver) Click(ctx context.Context, x, y float64) error {
	d.clicks = append(d.clicks, [2]float64{x, y})
	if d.clickFn != nil {
		return d.clickFn(ctx, x, y)
	}
	return nil
}

func (d *fakeDriver) Press(ctx context.Context, key string) error {
	d.presses = append(d.presses, key)
	if d.pressFn != nil {
		return d.pressFn(ctx, key)
	}
	return nil
}

func (d *fakeDriver) AnalyzeDOM(ctx context.Context) (*agent.DOMAnalysis, error) {
	if d.analyzeFn != nil {
		return d.analyzeFn(ctx)
	}
	return &agent.DOMAnalysis{ReadyState: "complete", HasCanvas: true}, nil
}

func (d *fakeDriver) SwitchFrame(ctx context.Context, selector string) (*agent.FrameHandle, error) {
	if d.switchFrameFn != nil {
		return d.switchFrameFn(ctx, selector)
	}
	return nil, nil
}

func (d *fakeDriver) Reload(ctx context.Context) error {
	d.reloads++
	if d.reloadFn != nil {
		return d.reloadFn(ctx)
	}
	return nil
}

// fakeOracle implements agent.VisionOracle and counts calls.
type fakeOracle struct {
	analyzeFn func(ctx context.Context, screenshot []byte, vctx agent.VisionContext) (*agent.VisionAnalysis, error)
	calls     int
}

func (o *fakeOracle) Analyze(ctx context.Context, screenshot []byte, vctx agent.VisionContext) (*agent.VisionAnalysis, error) {
	o.calls++
	if o.analyzeFn != nil {
		return o.analyzeFn(ctx, screenshot, vctx)
	}
	return nil, fmt.Errorf("fake oracle: no behavior configured")
}

// fakeSink implements agent.EvidenceSink in memory, recording capture
// labels and log lines.
type fakeSink struct {
	labels []string
	logs   []string
}

func (s *fakeSink) CaptureScreenshot(data []byte, label string) (string, error) {
	s.labels = append(s.labels, label)
	return "/evidence/" + label + ".png", nil
}

func (s *fakeSink) AppendLog(line string) {
	s.logs = append(s.logs, line)
}

// frameSequence returns a Screenshot function that serves each frame once
// and then repeats the last one forever.
func frameSequence(frames ...[]byte) func(ctx context.Context) ([]byte, error) {
	i := 0
	return func(context.Context) ([]byte, error) {
		if i < len(frames) {
			f := frames[i]
			i++
			return f, nil
		}
		return frames[len(frames)-1], nil
	}
}
