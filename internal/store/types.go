package store

import (
	"time"

	"github.com/cwbudde/bctune/internal/memory"
	"github.com/cwbudde/bctune/internal/param"
)

// HistoryEntry is one logged evaluation.
type HistoryEntry struct {
	Evaluation int       `json:"evaluation"`
	Iteration  int       `json:"iteration"`
	Param      string    `json:"parameter"`
	Value      int       `json:"value"`
	Score      float64   `json:"score"`
	Timestamp  time.Time `json:"timestamp"`
}

// Progress is the running state of a search, rewritten on every evaluation.
type Progress struct {
	Iteration   int `json:"iteration"`
	Evaluations int `json:"evaluations"`
	// BestScore is nil until the first successful evaluation.
	BestScore  *float64            `json:"best_score"`
	BestConfig param.Configuration `json:"best_config"`
	LastUpdate time.Time           `json:"last_update"`
}

// Checkpoint is a self-contained snapshot, sufficient to report on a run
// after a crash. It does not capture enough to continue the search itself.
type Checkpoint struct {
	Number      int                 `json:"number"`
	Iteration   int                 `json:"iteration"`
	Evaluations int                 `json:"evaluations"`
	BestScore   *float64            `json:"best_score"`
	BestConfig  param.Configuration `json:"best_config"`
	History     []HistoryEntry      `json:"history"`
	// Memory is only present for strategies that keep an adaptive memory.
	Memory    *memory.Snapshot `json:"memory,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckpointInfo contains checkpoint metadata without history or memory.
type CheckpointInfo struct {
	Number      int       `json:"number"`
	Iteration   int       `json:"iteration"`
	Evaluations int       `json:"evaluations"`
	BestScore   *float64  `json:"best_score"`
	Timestamp   time.Time `json:"timestamp"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
}

// ToInfo converts a full Checkpoint to CheckpointInfo.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		Number:      c.Number,
		Iteration:   c.Iteration,
		Evaluations: c.Evaluations,
		BestScore:   c.BestScore,
		Timestamp:   c.Timestamp,
	}
}

// Validate checks a checkpoint before it is written.
func (c *Checkpoint) Validate() error {
	if c.Number <= 0 {
		return &ValidationError{Field: "Number", Reason: "must be positive"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Evaluations != len(c.History) {
		return &ValidationError{Field: "History", Reason: "length must equal Evaluations"}
	}
	if c.BestScore != nil && (*c.BestScore < 0 || *c.BestScore > 100) {
		return &ValidationError{Field: "BestScore", Reason: "must be within [0, 100]"}
	}
	if c.BestScore != nil && c.BestConfig.IsZero() {
		return &ValidationError{Field: "BestConfig", Reason: "required when BestScore is set"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents an invalid record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
