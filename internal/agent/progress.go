package agent

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes the content hash used to compare screenshots between
// frames. Byte-identical captures always produce identical fingerprints.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ScreenshotFingerprint is one entry in the tracker's append-only history.
type ScreenshotFingerprint struct {
	Hash        string `json:"hash"`
	Sequence    int    `json:"sequence"`
	ActionLabel string `json:"action_label"`
}

// ProgressMetrics summarizes how much the game responded to our inputs.
// ProgressScore is a pure function of the other counters and stays in [0,100].
type ProgressMetrics struct {
	ScreenshotsChanged   int             `json:"screenshots_changed"`
	ScreenshotsIdentical int             `json:"screenshots_identical"`
	ConsecutiveIdentical int             `json:"consecutive_identical"`
	UniqueStates         map[string]bool `json:"-"`
	UniqueStateCount     int             `json:"unique_states"`
	InputsAttempted      int             `json:"inputs_attempted"`
	InputsSuccessful     int             `json:"inputs_successful"`
	ProgressScore        int             `json:"progress_score"`
}

// ProgressTracker watches screenshot fingerprints to decide whether the game
// is actually responding. It is exclusively owned by a single run loop and
// never accessed concurrently.
type ProgressTracker struct {
	history []ScreenshotFingerprint
	metrics ProgressMetrics
	last    string
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	t := &ProgressTracker{}
	t.Reset()
	return t
}

// RecordScreenshot hashes the capture and updates the counters. The first
// call is the bootstrap and always reports a change. Returns whether the
// screen differs from the previous recording.
func (t *ProgressTracker) RecordScreenshot(data []byte, actionLabel string) bool {
	hash := Fingerprint(data)
	t.history = append(t.history, ScreenshotFingerprint{
		Hash:        hash,
		Sequence:    len(t.history),
		ActionLabel: actionLabel,
	})

	t.metrics.InputsAttempted++

	changed := t.last == "" || hash != t.last
	if changed {
		t.metrics.ScreenshotsChanged++
		t.metrics.ConsecutiveIdentical = 0
		t.metrics.InputsSuccessful++
		if !t.metrics.UniqueStates[hash] {
			t.metrics.UniqueStates[hash] = true
		}
	} else {
		t.metrics.ScreenshotsIdentical++
		t.metrics.ConsecutiveIdentical++
	}

	t.last = hash
	t.metrics.UniqueStateCount = len(t.metrics.UniqueStates)
	t.metrics.ProgressScore = computeProgressScore(t.metrics)
	return changed
}

// DefaultStuckThreshold is the number of consecutive identical recordings
// after which the run is considered stuck.
const DefaultStuckThreshold = 5

// IsStuck reports whether the last threshold recordings were all identical.
func (t *ProgressTracker) IsStuck(threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	return t.metrics.ConsecutiveIdentical >= threshold
}

// LastHash returns the most recent fingerprint, or "" before any recording.
func (t *ProgressTracker) LastHash() string {
	return t.last
}

// History returns a copy of the fingerprint trail.
func (t *ProgressTracker) History() []ScreenshotFingerprint {
	out := make([]ScreenshotFingerprint, len(t.history))
	copy(out, t.history)
	return out
}

// Metrics returns an immutable snapshot with a deep copy of the unique-state
// set.
func (t *ProgressTracker) Metrics() ProgressMetrics {
	snap := t.metrics
	snap.UniqueStates = make(map[string]bool, len(t.metrics.UniqueStates))
	for h := range t.metrics.UniqueStates {
		snap.UniqueStates[h] = true
	}
	return snap
}

// Reset clears all tracker state.
func (t *ProgressTracker) Reset() {
	t.history = nil
	t.last = ""
	t.metrics = ProgressMetrics{UniqueStates: make(map[string]bool)}
}

// computeProgressScore blends input success rate with a capped bonus for
// distinct visual states: min(100, successRate*100 + min(unique*5, 20)).
func computeProgressScore(m ProgressMetrics) int {
	if m.InputsAttempted == 0 {
		return 0
	}
	score := float64(m.InputsSuccessful) / float64(m.InputsAttempted) * 100
	bonus := len(m.UniqueStates) * 5
	if bonus > 20 {
		bonus = 20
	}
	score += float64(bonus)
	if score > 100 {
		score = 100
	}
	return int(score)
}
