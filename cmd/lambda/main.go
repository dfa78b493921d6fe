package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/playprobe/qa-agent/internal/runner"
)

// Request is one playability test invocation.
type Request struct {
	GameURL            string `json:"game_url"`
	MaxActions         int    `json:"max_actions,omitempty"`
	MaxDurationSeconds int    `json:"max_duration_seconds,omitempty"`
	InputHint          string `json:"input_hint,omitempty"`
	Upload             bool   `json:"upload,omitempty"`
}

// Response summarizes the run for the caller; the full report lives in S3
// when upload was requested.
type Response struct {
	RunID         string `json:"run_id"`
	TerminalState string `json:"terminal_state"`
	Status        string `json:"status"`
	ProgressScore int    `json:"progress_score"`
	OverallScore  int    `json:"overall_score"`
	ActionCount   int    `json:"action_count"`
	DurationMs    int64  `json:"duration_ms"`
	ReportURL     string `json:"report_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

var logger *zap.Logger

func handler(ctx context.Context, req Request) (Response, error) {
	if req.GameURL == "" {
		return Response{}, fmt.Errorf("game_url is required")
	}
	if req.MaxDurationSeconds <= 0 {
		// Leave headroom below the Lambda timeout for evaluation and upload.
		req.MaxDurationSeconds = 240
	}

	outcome, err := runner.Execute(ctx, runner.Options{
		GameURL:     req.GameURL,
		OutputDir:   "/tmp/qa-results",
		Headless:    true,
		MaxActions:  req.MaxActions,
		MaxDuration: time.Duration(req.MaxDurationSeconds) * time.Second,
		InputHint:   req.InputHint,
		UploadToS3:  req.Upload,
		S3Bucket:    os.Getenv("S3_BUCKET_NAME"),
		S3Region:    os.Getenv("AWS_REGION"),
		Logger:      logger,
	})
	if err != nil {
		return Response{Error: err.Error()}, err
	}

	resp := Response{
		RunID:         outcome.Result.RunID,
		TerminalState: string(outcome.Result.TerminalState),
		Status:        outcome.Report.Summary.Status,
		ProgressScore: outcome.Result.Progress.ProgressScore,
		ActionCount:   len(outcome.Result.Actions),
		DurationMs:    outcome.Result.Duration().Milliseconds(),
		ReportURL:     outcome.ReportURL,
	}
	if outcome.Score != nil {
		resp.OverallScore = outcome.Score.OverallScore
	}
	if outcome.Result.Error != "" {
		resp.Error = outcome.Result.Error
	}
	return resp, nil
}

func main() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	lambda.Start(handler)
}
