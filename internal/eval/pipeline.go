// Package eval scores configurations by playing materialized artifacts against
// a reference artifact, and schedules many such evaluations concurrently.
package eval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/bctune/internal/param"
)

// DefaultTimeout bounds the scenario phase of one evaluation.
const DefaultTimeout = time.Hour

// DefaultMaterializeTimeout bounds building one artifact.
const DefaultMaterializeTimeout = 10 * time.Minute

// ScenarioOutcome records one played scenario.
type ScenarioOutcome struct {
	Scenario Scenario `json:"scenario"`
	Won      bool     `json:"won"`
	Reason   string   `json:"reason,omitempty"`
}

// Result is the outcome of one evaluation.
type Result struct {
	Score    float64           `json:"score"`
	Wins     int               `json:"wins"`
	Total    int               `json:"total"`
	TimedOut bool              `json:"timed_out,omitempty"`
	Outcomes []ScenarioOutcome `json:"outcomes,omitempty"`
}

// Pipeline evaluates one candidate against a reference.
type Pipeline struct {
	Materializer Materializer
	Runner       MatchRunner
	Remover      Remover
	// Gate serializes match-runner calls across every pipeline sharing it.
	Gate *Gate
	// Source is the template artifact both sides are derived from.
	Source string
	// Timeout bounds the scenario phase, gate waits included.
	// Zero means DefaultTimeout.
	Timeout time.Duration
	// MaterializeTimeout bounds each artifact build. Exceeding it is a
	// materialization failure, not a zero score. Zero means
	// DefaultMaterializeTimeout.
	MaterializeTimeout time.Duration
	// NewID allocates artifact identifiers. Defaults to NewArtifactID.
	NewID  func() string
	Logger *slog.Logger

	gateOnce sync.Once
}

// NewArtifactID returns a fresh "tmp"-prefixed identifier.
// Removers refuse to delete anything without the prefix.
func NewArtifactID() string {
	return "tmp" + uuid.NewString()[:8]
}

// Evaluate materializes cfg and reference, plays every map in both
// orientations and returns the percentage of scenarios cfg won.
//
// Materialization and match failures abort the evaluation with an error.
// Exceeding the timeout yields a zero score with TimedOut set. Both artifacts
// are removed before Evaluate returns, whatever the outcome.
func (p *Pipeline) Evaluate(ctx context.Context, cfg, reference param.Configuration, maps []string) (Result, error) {
	scenarios := Expand(maps)
	if len(scenarios) == 0 {
		return Result{}, ErrNoScenarios
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	logger := p.logger()

	candidateID, err := p.materialize(ctx, cfg)
	if candidateID != "" {
		defer p.remove(ctx, candidateID)
	}
	if err != nil {
		return Result{}, err
	}

	referenceID, err := p.materialize(ctx, reference)
	if referenceID != "" {
		defer p.remove(ctx, referenceID)
	}
	if err != nil {
		return Result{}, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := Result{Outcomes: make([]ScenarioOutcome, 0, len(scenarios))}
	for _, sc := range scenarios {
		outcome, err := p.play(runCtx, candidateID, referenceID, sc)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				logger.Warn("evaluation timed out",
					"candidate", candidateID,
					"scenario", sc.String(),
					"timeout", timeout)
				return Result{TimedOut: true, Total: len(scenarios)}, nil
			}
			return Result{}, &MatchError{Scenario: sc, Err: err}
		}
		res.Outcomes = append(res.Outcomes, outcome)
		res.Total++
		if outcome.Won {
			res.Wins++
		}
	}

	res.Score = 100 * float64(res.Wins) / float64(res.Total)
	logger.Debug("evaluation complete",
		"candidate", candidateID,
		"wins", res.Wins,
		"total", res.Total,
		"score", res.Score)
	return res, nil
}

func (p *Pipeline) play(ctx context.Context, candidateID, referenceID string, sc Scenario) (ScenarioOutcome, error) {
	first, second, want := candidateID, referenceID, First
	if sc.Reversed {
		first, second, want = referenceID, candidateID, Second
	}

	var mr MatchResult
	err := p.gate().Do(ctx, func() error {
		var err error
		mr, err = p.Runner.RunMatch(ctx, first, second, sc.Map)
		return err
	})
	if err != nil {
		return ScenarioOutcome{}, err
	}
	if mr.Winner != First && mr.Winner != Second {
		return ScenarioOutcome{}, ErrNoWinner
	}
	return ScenarioOutcome{Scenario: sc, Won: mr.Winner == want, Reason: mr.Reason}, nil
}

// materialize allocates an id and builds the artifact. The id is returned even
// on failure so the caller can clean up partial output.
func (p *Pipeline) materialize(ctx context.Context, cfg param.Configuration) (string, error) {
	newID := p.NewID
	if newID == nil {
		newID = NewArtifactID
	}
	id := newID()

	timeout := p.MaterializeTimeout
	if timeout <= 0 {
		timeout = DefaultMaterializeTimeout
	}
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.Materializer.Materialize(buildCtx, p.Source, id, cfg); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			p.logger().Warn("materialization timed out", "target", id, "timeout", timeout)
		}
		return id, &MaterializeError{TargetID: id, Err: err}
	}
	return id, nil
}

// remove runs on a context detached from cancellation so a stopped search
// still deletes its artifacts.
func (p *Pipeline) remove(ctx context.Context, id string) {
	if err := p.Remover.Remove(context.WithoutCancel(ctx), id); err != nil {
		p.logger().Warn("failed to remove artifact", "target", id, "error", err)
	}
}

func (p *Pipeline) gate() *Gate {
	p.gateOnce.Do(func() {
		if p.Gate == nil {
			p.Gate = NewGate()
		}
	})
	return p.Gate
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
