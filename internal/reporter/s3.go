package reporter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Uploader ships run artifacts to an S3 bucket.
type S3Uploader struct {
	client     *s3.Client
	bucketName string
	region     string
}

// NewS3Uploader creates an uploader. Empty arguments fall back to the
// S3_BUCKET_NAME and AWS_REGION environment variables.
func NewS3Uploader(bucketName, region string) (*S3Uploader, error) {
	if bucketName == "" {
		bucketName = os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			bucketName = "playprobe-qa-artifacts"
		}
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Uploader{
		client:     s3.NewFromConfig(cfg),
		bucketName: bucketName,
		region:     region,
	}, nil
}

// UploadFile uploads a local file and returns its public URL.
func (u *S3Uploader) UploadFile(ctx context.Context, path, s3Key string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucketName),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(path)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return u.objectURL(s3Key), nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".txt", ".log":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func (u *S3Uploader) objectURL(s3Key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucketName, u.region, s3Key)
}

// UploadReport uploads a report JSON under reports/<id>/report.json.
func (u *S3Uploader) UploadReport(ctx context.Context, reportPath, reportID string) (string, error) {
	s3Key := fmt.Sprintf("reports/%s/report.json", reportID)
	return u.UploadFile(ctx, reportPath, s3Key)
}

// UploadReportWithArtifacts uploads the final screenshot and the report
// itself, rewriting the report's screenshot URL first.
func (u *S3Uploader) UploadReportWithArtifacts(ctx context.Context, report *Report) error {
	if report.Evidence != nil && report.Evidence.FinalScreenshotPath != "" {
		s3Key := fmt.Sprintf("reports/%s/final_screenshot.png", report.ReportID)
		url, err := u.UploadFile(ctx, report.Evidence.FinalScreenshotPath, s3Key)
		if err != nil {
			return fmt.Errorf("failed to upload final screenshot: %w", err)
		}
		report.Evidence.FinalScreenshotURL = url
	}

	reportPath, err := report.SaveToTemp()
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	defer os.Remove(reportPath)

	if _, err := u.UploadReport(ctx, reportPath, report.ReportID); err != nil {
		return fmt.Errorf("failed to upload report: %w", err)
	}
	return nil
}

// GetReportURL returns the S3 URL a report will live at.
func (u *S3Uploader) GetReportURL(reportID string) string {
	return u.objectURL(fmt.Sprintf("reports/%s/report.json", reportID))
}
