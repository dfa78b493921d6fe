package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQLite run-history store.
type Database struct {
	db *sql.DB
}

// RunRecord is one playability run as persisted.
type RunRecord struct {
	ID            string     `json:"id"`
	GameURL       string     `json:"gameUrl"`
	Status        string     `json:"status"`
	TerminalState string     `json:"terminalState"`
	ProgressScore int        `json:"progressScore"`
	OverallScore  int        `json:"overallScore"`
	ActionCount   int        `json:"actionCount"`
	DurationMs    int64      `json:"durationMs"`
	ReportURL     string     `json:"reportUrl,omitempty"`
	ReportData    string     `json:"reportData,omitempty"` // JSON blob
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Run status values.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// New opens the database at path and initializes the schema.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Database{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		game_url TEXT NOT NULL,
		status TEXT NOT NULL,
		terminal_state TEXT,
		progress_score INTEGER DEFAULT 0,
		overall_score INTEGER DEFAULT 0,
		action_count INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		report_url TEXT,
		report_data TEXT,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_game_url ON runs(game_url);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// CreateRun inserts a new run in the running state.
func (d *Database) CreateRun(id, gameURL string) error {
	query := `
		INSERT INTO runs (id, game_url, status, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := d.db.Exec(query, id, gameURL, StatusRunning, time.Now())
	return err
}

// CompleteRun records the outcome of a finished run. reportData is stored as
// a JSON blob.
func (d *Database) CompleteRun(id, status, terminalState string, progressScore, overallScore, actionCount int, duration time.Duration, reportURL string, reportData interface{}) error {
	reportJSON, err := json.Marshal(reportData)
	if err != nil {
		return fmt.Errorf("failed to marshal report data: %w", err)
	}

	query := `
		UPDATE runs
		SET status = ?, terminal_state = ?, progress_score = ?, overall_score = ?,
		    action_count = ?, duration_ms = ?, report_url = ?, report_data = ?, completed_at = ?
		WHERE id = ?
	`
	_, err = d.db.Exec(query, status, terminalState, progressScore, overallScore,
		actionCount, duration.Milliseconds(), reportURL, string(reportJSON), time.Now(), id)
	return err
}

const runColumns = `id, game_url, status, terminal_state, progress_score, overall_score,
	action_count, duration_ms, report_url, report_data, created_at, completed_at`

func scanRun(scan func(dest ...interface{}) error) (*RunRecord, error) {
	var run RunRecord
	var terminalState, reportURL, reportData sql.NullString
	var completedAt sql.NullTime

	err := scan(
		&run.ID,
		&run.GameURL,
		&run.Status,
		&terminalState,
		&run.ProgressScore,
		&run.OverallScore,
		&run.ActionCount,
		&run.DurationMs,
		&reportURL,
		&reportData,
		&run.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.TerminalState = terminalState.String
	run.ReportURL = reportURL.String
	run.ReportData = reportData.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID, returning nil when it does not exist.
func (d *Database) GetRun(id string) (*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	run, err := scanRun(d.db.QueryRow(query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns runs newest first, optionally filtered by status.
func (d *Database) ListRuns(status string, limit, offset int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []interface{}{}

	if status != "" && status != "all" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CountRuns returns the number of runs, optionally filtered by status.
func (d *Database) CountRuns(status string) (int, error) {
	query := `SELECT COUNT(*) FROM runs WHERE 1=1`
	args := []interface{}{}

	if status != "" && status != "all" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	var count int
	err := d.db.QueryRow(query, args...).Scan(&count)
	return count, err
}
