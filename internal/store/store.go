// Package store persists the externally readable state of a search run.
package store

import "github.com/cwbudde/bctune/internal/param"

// Store defines the persistence operations of one run's output directory.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the requested record doesn't exist
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveProgress atomically replaces the progress record.
	SaveProgress(p *Progress) error

	// LoadProgress returns the last saved progress record.
	LoadProgress() (*Progress, error)

	// SaveBest atomically replaces the best configuration record.
	// Readers never observe a partially written file.
	SaveBest(cfg param.Configuration) error

	// LoadBest returns the best configuration. It is not validated.
	LoadBest() (param.Configuration, error)

	// SaveCheckpoint writes a numbered checkpoint. Existing numbers are overwritten.
	SaveCheckpoint(c *Checkpoint) error

	// LoadCheckpoint retrieves checkpoint n.
	LoadCheckpoint(n int) (*Checkpoint, error)

	// ListCheckpoints returns metadata for every checkpoint, ordered by number.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes checkpoint n.
	DeleteCheckpoint(n int) error
}

// ErrNotFound is returned when a requested record does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing record.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	if e.What != "" {
		return "not found: " + e.What
	}
	return "not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
