package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileEvidenceSink writes run artifacts to a local directory: one PNG per
// captured screenshot plus an append-only run log.
type FileEvidenceSink struct {
	dir     string
	runID   string
	mu      sync.Mutex
	logFile *os.File
}

// NewFileEvidenceSink creates the output directory and opens the run log.
func NewFileEvidenceSink(dir string) (*FileEvidenceSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory %s: %w", dir, err)
	}

	runID := uuid.New().String()[:8]
	logPath := filepath.Join(dir, fmt.Sprintf("run_%s.log", runID))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %s: %w", logPath, err)
	}

	return &FileEvidenceSink{dir: dir, runID: runID, logFile: logFile}, nil
}

// CaptureScreenshot writes the PNG bytes under a label-derived unique name
// and returns the path.
func (s *FileEvidenceSink) CaptureScreenshot(data []byte, label string) (string, error) {
	filename := fmt.Sprintf("screenshot_%s_%s_%s.png",
		sanitizeLabel(label),
		time.Now().Format("20060102_150405"),
		uuid.New().String()[:8],
	)
	path := filepath.Join(s.dir, filename)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save screenshot to %s: %w", path, err)
	}
	return path, nil
}

// AppendLog appends a timestamped line to the run log. Write failures are
// swallowed: evidence logging must never break the run.
func (s *FileEvidenceSink) AppendLog(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.logFile, "%s %s\n", time.Now().Format(time.RFC3339), line)
}

// Close flushes and closes the run log.
func (s *FileEvidenceSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logFile.Close()
}

// Dir returns the evidence directory.
func (s *FileEvidenceSink) Dir() string {
	return s.dir
}

func sanitizeLabel(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
		if len(out) >= 32 {
			break
		}
	}
	if len(out) == 0 {
		return "capture"
	}
	return string(out)
}
