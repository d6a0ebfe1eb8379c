package eval

import (
	"errors"
	"fmt"
)

var (
	// ErrNoScenarios is returned when an evaluation would run zero scenarios.
	// A score is undefined in that case.
	ErrNoScenarios = errors.New("no scenarios to evaluate")

	// ErrNoWinner is returned by a MatchRunner whose transcript has no winner marker.
	ErrNoWinner = errors.New("no winner found in match output")
)

// MaterializeError reports a failed artifact materialization.
type MaterializeError struct {
	TargetID string
	Err      error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("materialize %s: %v", e.TargetID, e.Err)
}

func (e *MaterializeError) Unwrap() error {
	return e.Err
}

// MatchError reports a match that could not produce a result.
type MatchError struct {
	Scenario Scenario
	Err      error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("match on %s: %v", e.Scenario, e.Err)
}

func (e *MatchError) Unwrap() error {
	return e.Err
}
