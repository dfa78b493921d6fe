package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playprobe/qa-agent/internal/db"
)

func openTestDB(t *testing.T) *db.Database {
	t.Helper()
	store, err := db.New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetRun(t *testing.T) {
	store := openTestDB(t)

	require.NoError(t, store.CreateRun("run-1", "https://games.example/demo"))

	run, err := store.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "https://games.example/demo", run.GameURL)
	assert.Equal(t, db.StatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)
}

func TestGetRunMissingReturnsNil(t *testing.T) {
	store := openTestDB(t)

	run, err := store.GetRun("nope")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestCompleteRun(t *testing.T) {
	store := openTestDB(t)
	require.NoError(t, store.CreateRun("run-1", "https://games.example/demo"))

	report := map[string]string{"summary": "playable"}
	err := store.CompleteRun("run-1", db.StatusFinished, "completed",
		80, 75, 12, 45*time.Second, "https://bucket/report.json", report)
	require.NoError(t, err)

	run, err := store.GetRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, db.StatusFinished, run.Status)
	assert.Equal(t, "completed", run.TerminalState)
	assert.Equal(t, 80, run.ProgressScore)
	assert.Equal(t, 75, run.OverallScore)
	assert.Equal(t, 12, run.ActionCount)
	assert.Equal(t, int64(45000), run.DurationMs)
	assert.Contains(t, run.ReportData, "playable")
	require.NotNil(t, run.CompletedAt)
}

func TestListRunsFiltersByStatus(t *testing.T) {
	store := openTestDB(t)
	require.NoError(t, store.CreateRun("run-a", "https://games.example/a"))
	require.NoError(t, store.CreateRun("run-b", "https://games.example/b"))
	require.NoError(t, store.CompleteRun("run-b", db.StatusFinished, "completed", 50, 50, 5, time.Second, "", nil))

	running, err := store.ListRuns(db.StatusRunning, 10, 0)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "run-a", running[0].ID)

	all, err := store.ListRuns("all", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	count, err := store.CountRuns(db.StatusFinished)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
