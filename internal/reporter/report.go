package reporter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/playprobe/qa-agent/internal/agent"
	"github.com/playprobe/qa-agent/internal/evaluator"
)

// Report is the shippable artifact for one playability run.
type Report struct {
	// ReportID matches the run ID it was built from
	ReportID string `json:"report_id"`
	// GameURL is the URL of the tested game
	GameURL string `json:"game_url"`
	// Timestamp is when the run started
	Timestamp time.Time `json:"timestamp"`
	// Duration is the wall-clock length of the run
	Duration time.Duration `json:"duration_ms"`
	// TerminalState is how the run ended
	TerminalState agent.TestState `json:"terminal_state"`
	// Score is the playability evaluation
	Score *evaluator.PlayabilityScore `json:"score,omitempty"`
	// Evidence contains the run's artifacts
	Evidence *Evidence `json:"evidence"`
	// Summary is the high-level verdict
	Summary *Summary `json:"summary"`
	// Metadata carries extra key-value context
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Evidence groups everything the run recorded.
type Evidence struct {
	// Actions is the full executed-action trail
	Actions []agent.ActionRecord `json:"actions"`
	// Transitions is the state-machine log
	Transitions []agent.StateTransition `json:"transitions"`
	// UnstickLog lists every recovery strategy attempt
	UnstickLog []agent.UnstickAttempt `json:"unstick_log,omitempty"`
	// Progress is the final tracker snapshot
	Progress agent.ProgressMetrics `json:"progress"`
	// FinalScreenshotPath is the local path of the last capture
	FinalScreenshotPath string `json:"final_screenshot_path,omitempty"`
	// FinalScreenshotURL is set after an S3 upload
	FinalScreenshotURL string `json:"final_screenshot_url,omitempty"`
}

// Summary is the pass/fail rollup.
type Summary struct {
	// Status is passed, passed_with_warnings, or failed
	Status string `json:"status"`
	// PassedChecks lists what went right
	PassedChecks []string `json:"passed_checks"`
	// FailedChecks lists what went wrong
	FailedChecks []string `json:"failed_checks"`
	// CriticalIssues are blocking problems
	CriticalIssues []string `json:"critical_issues"`
}

// BuildReport assembles a report from a run result and its evaluation.
// score may be nil when evaluation was skipped.
func BuildReport(result *agent.RunResult, score *evaluator.PlayabilityScore, metadata map[string]string) *Report {
	report := &Report{
		ReportID:      result.RunID,
		GameURL:       result.GameURL,
		Timestamp:     result.StartedAt,
		Duration:      result.Duration(),
		TerminalState: result.TerminalState,
		Score:         score,
		Evidence: &Evidence{
			Actions:             result.Actions,
			Transitions:         result.Transitions,
			UnstickLog:          result.UnstickLog,
			Progress:            result.Progress,
			FinalScreenshotPath: result.FinalScreenshotPath,
		},
		Metadata: metadata,
	}
	report.Summary = buildSummary(result, score)
	return report
}

func buildSummary(result *agent.RunResult, score *evaluator.PlayabilityScore) *Summary {
	s := &Summary{
		PassedChecks:   make([]string, 0),
		FailedChecks:   make([]string, 0),
		CriticalIssues: make([]string, 0),
	}

	switch result.TerminalState {
	case agent.StateCompleted:
		s.PassedChecks = append(s.PassedChecks, "Run completed its action budget")
	case agent.StateTimedOut:
		s.FailedChecks = append(s.FailedChecks, "Run hit the wall-clock budget")
	case agent.StateCrashed:
		s.CriticalIssues = append(s.CriticalIssues, "Run ended in a crash state")
		if result.Error != "" {
			s.CriticalIssues = append(s.CriticalIssues, result.Error)
		}
	}

	m := result.Progress
	if m.InputsAttempted > 0 {
		if m.InputsSuccessful > 0 {
			s.PassedChecks = append(s.PassedChecks, "Game responded to input")
		} else {
			s.FailedChecks = append(s.FailedChecks, "No input produced a visible change")
		}
	}
	if m.UniqueStateCount >= 3 {
		s.PassedChecks = append(s.PassedChecks, fmt.Sprintf("%d distinct visual states reached", m.UniqueStateCount))
	}
	if recoveries := len(result.UnstickLog); recoveries > 0 {
		s.FailedChecks = append(s.FailedChecks, fmt.Sprintf("%d recovery attempts were needed", recoveries))
	}

	if score != nil {
		if score.LoadsCorrectly {
			s.PassedChecks = append(s.PassedChecks, "Game loads successfully")
		} else {
			s.CriticalIssues = append(s.CriticalIssues, "Game does not load correctly")
		}
		if score.OverallScore < 50 {
			s.FailedChecks = append(s.FailedChecks, "Overall quality below acceptable threshold")
		}
		if score.ErrorSeverity > 50 {
			s.CriticalIssues = append(s.CriticalIssues, "High severity errors detected")
		}
		s.CriticalIssues = append(s.CriticalIssues, score.Issues...)
	}

	if len(s.CriticalIssues) > 0 {
		s.Status = "failed"
	} else if len(s.FailedChecks) > 0 {
		s.Status = "passed_with_warnings"
	} else {
		s.Status = "passed"
	}
	return s
}

// SaveToFile writes the report as indented JSON.
func (r *Report) SaveToFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// SaveToTemp writes the report to the system temp directory and returns the
// path.
func (r *Report) SaveToTemp() (string, error) {
	id := r.ReportID
	if len(id) > 8 {
		id = id[:8]
	}
	filename := fmt.Sprintf("qa_report_%s_%s.json",
		time.Now().Format("20060102_150405"), id)

	path := filepath.Join(os.TempDir(), filename)
	if err := r.SaveToFile(path); err != nil {
		return "", err
	}
	return path, nil
}
