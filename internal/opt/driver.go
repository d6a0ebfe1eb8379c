// Package opt contains the search drivers and their building blocks.
package opt

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/bctune/internal/eval"
	"github.com/cwbudde/bctune/internal/memory"
	"github.com/cwbudde/bctune/internal/param"
)

// ErrNoSolution is returned when a run finishes without a single successful evaluation.
var ErrNoSolution = errors.New("no successful evaluation")

// Budget bounds a search run.
type Budget struct {
	// Iterations is the outer iteration budget.
	Iterations int
}

// Driver runs one search strategy to completion.
type Driver interface {
	Run(ctx context.Context, space *param.Space, reference param.Configuration, budget Budget) (param.Solution, error)
}

// Batcher runs evaluation jobs and streams their outcomes. *eval.Scheduler implements it.
type Batcher interface {
	Run(ctx context.Context, jobs []eval.Job) <-chan eval.Outcome
}

// Recorder receives the search's progress. *progress.Tracker implements it.
type Recorder interface {
	StartIteration(iteration int)
	LogEvaluation(paramName string, value int, score float64, cfg param.Configuration) bool
	ParameterUpdated(name string, from, to int, score float64)
	IterationComplete(iteration int)
	SaveCheckpoint(mem *memory.Snapshot)
}

// Engine holds what every driver needs to evaluate candidates.
type Engine struct {
	Scheduler Batcher
	Recorder  Recorder
	Rand      *rand.Rand
	Logger    *slog.Logger

	reference param.Configuration
	best      param.Solution
	hasBest   bool
	seq       int
}

// scored is a successful evaluation.
type scored struct {
	job   eval.Job
	score float64
}

func (e *Engine) reset(reference param.Configuration) {
	e.reference = reference
	e.best = param.Solution{}
	e.hasBest = false
	e.seq = 0
	if e.Rand == nil {
		e.Rand = rand.New(rand.NewSource(1))
	}
	if e.Recorder == nil {
		e.Recorder = nopRecorder{}
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) job(cfg param.Configuration, name string, value int) eval.Job {
	e.seq++
	return eval.Job{Seq: e.seq, Candidate: cfg, Reference: e.reference, Param: name, Value: value}
}

// evaluate runs jobs and folds every successful outcome into the recorder.
// It is the only place outcomes are consumed, so callers never share state
// with the workers. Failed jobs are logged and dropped.
func (e *Engine) evaluate(ctx context.Context, jobs []eval.Job) []scored {
	results := make([]scored, 0, len(jobs))
	for o := range e.Scheduler.Run(ctx, jobs) {
		if o.Err != nil {
			if ctx.Err() == nil {
				e.logger().Warn("candidate failed",
					"param", o.Job.Param,
					"value", o.Job.Value,
					"error", o.Err)
			}
			continue
		}

		score := o.Result.Score
		improved := e.Recorder.LogEvaluation(o.Job.Param, o.Job.Value, score, o.Job.Candidate)
		if !e.hasBest || score > e.best.Score {
			e.best = param.Solution{Config: o.Job.Candidate, Score: score}
			e.hasBest = true
		}
		e.logger().Info("candidate evaluated",
			"param", o.Job.Param,
			"value", o.Job.Value,
			"score", score,
			"timed_out", o.Result.TimedOut,
			"improved", improved)
		results = append(results, scored{job: o.Job, score: score})
	}
	return results
}

// evaluateOne evaluates a single configuration.
func (e *Engine) evaluateOne(ctx context.Context, cfg param.Configuration, label string) (float64, bool) {
	res := e.evaluate(ctx, []eval.Job{e.job(cfg, label, 0)})
	if len(res) == 0 {
		return 0, false
	}
	return res[0].score, true
}

func (e *Engine) result(ctx context.Context) (param.Solution, error) {
	if err := ctx.Err(); err != nil {
		return e.best, err
	}
	if !e.hasBest {
		return param.Solution{}, ErrNoSolution
	}
	return e.best, nil
}

type nopRecorder struct{}

func (nopRecorder) StartIteration(int) {}
func (nopRecorder) LogEvaluation(string, int, float64, param.Configuration) bool {
	return false
}
func (nopRecorder) ParameterUpdated(string, int, int, float64) {}
func (nopRecorder) IterationComplete(int) {}
func (nopRecorder) SaveCheckpoint(*memory.Snapshot) {}
