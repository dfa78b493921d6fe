// Package runner wires the browser driver, decision engine, and reporting
// layers into a single run invocation shared by the CLI, the Lambda handler,
// and the server.
package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/playprobe/qa-agent/internal/agent"
	"github.com/playprobe/qa-agent/internal/evaluator"
	"github.com/playprobe/qa-agent/internal/reporter"
)

// Options configures one playability run.
type Options struct {
	GameURL      string
	OutputDir    string
	Headless     bool
	MaxActions   int
	MaxDuration  time.Duration
	InputHint    string
	OpenAIKey    string
	UploadToS3   bool
	S3Bucket     string
	S3Region     string
	SkipEvaluate bool
	Logger       *zap.Logger
}

// Outcome bundles everything a run produced.
type Outcome struct {
	Result    *agent.RunResult
	Score     *evaluator.PlayabilityScore
	Report    *reporter.Report
	ReportURL string
}

// Execute performs a full run: browser session, test loop, evaluation,
// report assembly, and optional S3 upload.
func Execute(ctx context.Context, opts Options) (*Outcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.GameURL == "" {
		return nil, fmt.Errorf("game URL is required")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "./qa-results"
	}

	driver, err := agent.NewChromeDriver(ctx, agent.ChromeOptions{
		Headless: opts.Headless,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer driver.Close()

	evidence, err := agent.NewFileEvidenceSink(opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create evidence sink: %w", err)
	}
	defer evidence.Close()

	apiKey := opts.OpenAIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	var oracle agent.VisionOracle
	if apiKey != "" {
		v, err := agent.NewOpenAIVision(apiKey, logger)
		if err != nil {
			return nil, fmt.Errorf("create vision oracle: %w", err)
		}
		oracle = v
	} else {
		logger.Warn("no OpenAI API key, running on heuristics alone")
	}

	engine := agent.NewActionStrategyEngine(oracle, agent.DefaultThresholds(), logger)
	coordinator := agent.NewUnstickCoordinator(logger)
	loop := agent.NewTestRunLoop(driver, engine, coordinator, evidence, oracle, logger)

	result := loop.Run(ctx, agent.RunConfig{
		GameURL:     opts.GameURL,
		MaxActions:  opts.MaxActions,
		MaxDuration: opts.MaxDuration,
		InputHint:   opts.InputHint,
	})

	var score *evaluator.PlayabilityScore
	if opts.SkipEvaluate {
		score = evaluator.DeterministicScore(result)
	} else {
		ge := evaluator.NewGameEvaluator(apiKey, logger)
		var finalShot []byte
		if result.FinalScreenshotPath != "" {
			finalShot, _ = os.ReadFile(result.FinalScreenshotPath)
		}
		score = ge.Evaluate(ctx, result, finalShot)
	}

	report := reporter.BuildReport(result, score, map[string]string{
		"evidence_dir": evidence.Dir(),
	})

	outcome := &Outcome{Result: result, Score: score, Report: report}

	if opts.UploadToS3 {
		uploader, err := reporter.NewS3Uploader(opts.S3Bucket, opts.S3Region)
		if err != nil {
			return outcome, fmt.Errorf("create S3 uploader: %w", err)
		}
		if err := uploader.UploadReportWithArtifacts(ctx, report); err != nil {
			return outcome, fmt.Errorf("upload artifacts: %w", err)
		}
		outcome.ReportURL = uploader.GetReportURL(report.ReportID)
		logger.Info("report uploaded", zap.String("url", outcome.ReportURL))
	}

	return outcome, nil
}
