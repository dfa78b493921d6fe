package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/playprobe/qa-agent/internal/runner"
)

var (
	testURL     string
	outputDir   string
	headless    bool
	maxActions  int
	maxDuration int
	inputHint   string
	uploadS3    bool
	verbose     bool
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run a playability test on a game URL",
	Long: `Execute a playability test session against a game URL.
The agent launches a browser, plays the game with heuristic and
vision-guided inputs, recovers from stuck states, and writes a JSON
report with the full action and state-transition evidence.`,
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVarP(&testURL, "url", "u", "", "Game URL to test (required)")
	testCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for run artifacts")
	testCmd.Flags().BoolVar(&headless, "headless", true, "Run browser in headless mode")
	testCmd.Flags().IntVarP(&maxActions, "max-actions", "a", 0, "Action budget for the run")
	testCmd.Flags().IntVarP(&maxDuration, "max-duration", "d", 0, "Wall-clock budget in seconds")
	testCmd.Flags().StringVar(&inputHint, "input-hint", "", "Game genre hint (platformer, puzzle, clicker)")
	testCmd.Flags().BoolVar(&uploadS3, "upload", false, "Upload the report and artifacts to S3")
	testCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Debug-level logging")

	testCmd.MarkFlagRequired("url")
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

func runTest(cmd *cobra.Command, args []string) error {
	config, err := LoadConfig()
	if err != nil {
		return err
	}
	if outputDir == "" {
		outputDir = config.DefaultOutputDir
	}
	if maxActions == 0 {
		maxActions = config.DefaultMaxActions
	}
	if maxDuration == 0 {
		maxDuration = config.DefaultMaxDuration
	}
	if err := EnsureOutputDir(outputDir); err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting playability test",
		zap.String("url", testURL),
		zap.Int("max_actions", maxActions),
		zap.Int("max_duration_s", maxDuration))

	outcome, err := runner.Execute(context.Background(), runner.Options{
		GameURL:     testURL,
		OutputDir:   outputDir,
		Headless:    headless,
		MaxActions:  maxActions,
		MaxDuration: time.Duration(maxDuration) * time.Second,
		InputHint:   inputHint,
		UploadToS3:  uploadS3,
		S3Bucket:    config.S3Bucket,
		S3Region:    config.S3Region,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	reportPath := filepath.Join(outputDir, fmt.Sprintf("report_%s.json", outcome.Report.ReportID))
	if err := outcome.Report.SaveToFile(reportPath); err != nil {
		return err
	}

	fmt.Printf("Terminal state: %s\n", outcome.Result.TerminalState)
	fmt.Printf("Actions executed: %d\n", len(outcome.Result.Actions))
	fmt.Printf("Progress score: %d\n", outcome.Result.Progress.ProgressScore)
	if outcome.Score != nil {
		fmt.Printf("Playability: %d (%s)\n", outcome.Score.OverallScore, outcome.Report.Summary.Status)
	}
	fmt.Printf("Report: %s\n", reportPath)
	if outcome.ReportURL != "" {
		fmt.Printf("Report URL: %s\n", outcome.ReportURL)
	}
	return nil
}
