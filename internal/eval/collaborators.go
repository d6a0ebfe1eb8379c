package eval

import (
	"context"

	"github.com/cwbudde/bctune/internal/param"
)

// Materializer turns a configuration into a runnable artifact named targetID,
// derived from the sourceID template artifact. Concurrent calls with distinct
// target ids must not interfere.
type Materializer interface {
	Materialize(ctx context.Context, sourceID, targetID string, cfg param.Configuration) error
}

// MatchRunner plays one scenario between two artifacts.
// Calls are serialized process-wide by the Gate.
type MatchRunner interface {
	RunMatch(ctx context.Context, first, second, scenario string) (MatchResult, error)
}

// Remover deletes an artifact and its parameter file.
// Removing a target that does not exist is not an error.
type Remover interface {
	Remove(ctx context.Context, targetID string) error
}

// Winner identifies which side of a match won.
type Winner int

const (
	First Winner = iota + 1
	Second
)

func (w Winner) String() string {
	switch w {
	case First:
		return "first"
	case Second:
		return "second"
	default:
		return "unknown"
	}
}

// MatchResult is the outcome of one match.
type MatchResult struct {
	Winner Winner
	// Reason is the win condition reported by the runner, if any.
	Reason string
}
