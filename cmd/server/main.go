package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/playprobe/qa-agent/internal/db"
	"github.com/playprobe/qa-agent/internal/reporter"
	"github.com/playprobe/qa-agent/internal/runner"
)

const version = "0.1.0"

// RunRequest is a playability run submission.
type RunRequest struct {
	URL         string `json:"url"`
	MaxActions  int    `json:"maxActions,omitempty"`
	MaxDuration int    `json:"maxDuration,omitempty"`
	InputHint   string `json:"inputHint,omitempty"`
	Headless    bool   `json:"headless"`
}

// RunStatus is the live view of a run job.
type RunStatus struct {
	RunID     string    `json:"runId"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type runJob struct {
	ID        string
	Request   RunRequest
	Status    string
	Message   string
	Report    *reporter.Report
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Server exposes run submission and history over HTTP. In-flight jobs live
// in memory; finished runs are persisted to sqlite.
type Server struct {
	jobs      map[string]*runJob
	mu        sync.RWMutex
	store     *db.Database
	outputDir string
	logger    *zap.Logger
}

func NewServer(store *db.Database, outputDir string, logger *zap.Logger) *Server {
	return &Server{
		jobs:      make(map[string]*runJob),
		store:     store,
		outputDir: outputDir,
		logger:    logger,
	}
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"version": version,
		"time":    time.Now(),
	})
}

func (s *Server) handleRunSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "URL is required", http.StatusBadRequest)
		return
	}
	if req.MaxDuration == 0 {
		req.MaxDuration = 300
	}

	runID := uuid.New().String()
	job := &runJob{
		ID:        runID,
		Request:   req,
		Status:    db.StatusRunning,
		Message:   "Run queued",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	s.mu.Lock()
	s.jobs[runID] = job
	s.mu.Unlock()

	if err := s.store.CreateRun(runID, req.URL); err != nil {
		s.logger.Error("failed to persist run", zap.Error(err))
	}

	go s.executeRun(job)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RunStatus{
		RunID:     runID,
		Status:    job.Status,
		Message:   job.Message,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if runID == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	job, exists := s.jobs[runID]
	s.mu.RUnlock()

	if exists {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RunStatus{
			RunID:     job.ID,
			Status:    job.Status,
			Message:   job.Message,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		})
		return
	}

	// Fall back to run history for completed runs of past processes.
	record, err := s.store.GetRun(runID)
	if err != nil {
		http.Error(w, "Lookup failed", http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	runs, err := s.store.ListRuns(status, limit, offset)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		http.Error(w, "Lookup failed", http.StatusInternalServerError)
		return
	}
	total, err := s.store.CountRuns(status)
	if err != nil {
		http.Error(w, "Lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  runs,
		"total": total,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if runID == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	job, exists := s.jobs[runID]
	s.mu.RUnlock()

	if exists && job.Report != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job.Report)
		return
	}

	record, err := s.store.GetRun(runID)
	if err != nil || record == nil || record.ReportData == "" {
		http.Error(w, "Report not ready", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(record.ReportData))
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	filename := strings.TrimPrefix(r.URL.Path, "/api/screenshots/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || !strings.HasPrefix(filename, "screenshot_") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	data, err := os.ReadFile(filepath.Join(s.outputDir, filename))
	if err != nil {
		http.Error(w, "Screenshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

func (s *Server) executeRun(job *runJob) {
	defer func() {
		if r := recover(); r != nil {
			s.updateJob(job.ID, db.StatusFailed, fmt.Sprintf("Panic: %v", r))
		}
	}()

	s.logger.Info("starting run",
		zap.String("run_id", job.ID),
		zap.String("url", job.Request.URL))
	s.updateJob(job.ID, db.StatusRunning, "Running playability test")

	outcome, err := runner.Execute(context.Background(), runner.Options{
		GameURL:     job.Request.URL,
		OutputDir:   s.outputDir,
		Headless:    job.Request.Headless,
		MaxActions:  job.Request.MaxActions,
		MaxDuration: time.Duration(job.Request.MaxDuration) * time.Second,
		InputHint:   job.Request.InputHint,
		Logger:      s.logger,
	})
	if err != nil {
		s.updateJob(job.ID, db.StatusFailed, err.Error())
		if dberr := s.store.CompleteRun(job.ID, db.StatusFailed, "", 0, 0, 0, 0, "", nil); dberr != nil {
			s.logger.Error("failed to persist run outcome", zap.Error(dberr))
		}
		return
	}

	result := outcome.Result
	overall := 0
	if outcome.Score != nil {
		overall = outcome.Score.OverallScore
	}
	if err := s.store.CompleteRun(job.ID, db.StatusFinished, string(result.TerminalState),
		result.Progress.ProgressScore, overall, len(result.Actions),
		result.Duration(), outcome.ReportURL, outcome.Report); err != nil {
		s.logger.Error("failed to persist run outcome", zap.Error(err))
	}

	s.mu.Lock()
	if j, ok := s.jobs[job.ID]; ok {
		j.Report = outcome.Report
		j.Status = db.StatusFinished
		j.Message = fmt.Sprintf("Run %s, playability %d/100", result.TerminalState, overall)
		j.UpdatedAt = time.Now()
	}
	s.mu.Unlock()

	s.logger.Info("run finished",
		zap.String("run_id", job.ID),
		zap.String("terminal_state", string(result.TerminalState)),
		zap.Int("overall_score", overall))
}

func (s *Server) updateJob(id, status, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.Status = status
		job.Message = message
		job.UpdatedAt = time.Now()
	}
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	outputDir := os.Getenv("OUTPUT_DIR")
	if outputDir == "" {
		outputDir = "./qa-results"
	}
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./playprobe.db"
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		logger.Fatal("failed to create output dir", zap.Error(err))
	}
	store, err := db.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open run history", zap.Error(err))
	}
	defer store.Close()

	server := NewServer(store, outputDir, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.corsMiddleware(server.handleHealth))
	mux.HandleFunc("/api/runs", server.corsMiddleware(server.handleRunSubmit))
	mux.HandleFunc("/api/runs/", server.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		runID := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if runID == "" || runID == "list" {
			server.handleRunList(w, r)
		} else {
			server.handleRunStatus(w, r)
		}
	}))
	mux.HandleFunc("/api/reports/", server.corsMiddleware(server.handleReport))
	mux.HandleFunc("/api/screenshots/", server.corsMiddleware(server.handleScreenshot))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("shutdown failed", zap.Error(err))
	}
}
