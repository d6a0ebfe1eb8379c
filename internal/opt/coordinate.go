package opt

import (
	"context"
	"slices"
	"sort"

	"github.com/cwbudde/bctune/internal/eval"
	"github.com/cwbudde/bctune/internal/param"
)

const (
	DefaultStepDivisor = 5
	DefaultStallLimit  = 3
	DefaultIterations  = 10
)

// CoordinateDescent tunes one parameter at a time, trying the current value
// and one step either side of it.
//
// On a score tie the driver moves to a value different from the current one.
// A parameter only counts as updated when its value changes, so the stall
// counter resets only on real moves.
type CoordinateDescent struct {
	Engine

	// StepDivisor sets step = max(1, (max-min)/StepDivisor).
	StepDivisor int
	// StallLimit stops the run after that many iterations without an update.
	StallLimit int
	// Start overrides the start point. By default it is the bound midpoint,
	// or the reference when SkipInitialEval is set.
	Start param.Configuration
	// SkipInitialEval skips scoring the start point.
	SkipInitialEval bool
}

// Run implements Driver.
func (cd *CoordinateDescent) Run(ctx context.Context, space *param.Space, reference param.Configuration, budget Budget) (param.Solution, error) {
	cd.reset(reference)
	logger := cd.logger()

	divisor := cd.StepDivisor
	if divisor <= 0 {
		divisor = DefaultStepDivisor
	}
	stallLimit := cd.StallLimit
	if stallLimit <= 0 {
		stallLimit = DefaultStallLimit
	}
	iterations := budget.Iterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	current := cd.Start
	switch {
	case !current.IsZero():
	case cd.SkipInitialEval:
		current = reference
	default:
		current = space.Midpoint()
	}
	if err := current.Validate(space); err != nil {
		return param.Solution{}, err
	}

	if !cd.SkipInitialEval {
		if score, ok := cd.evaluateOne(ctx, current, "initial"); ok {
			logger.Info("initial configuration evaluated", "score", score)
		}
		if err := ctx.Err(); err != nil {
			return cd.result(ctx)
		}
	}

	stalled := 0
	for iter := 1; iter <= iterations; iter++ {
		cd.Recorder.StartIteration(iter)
		logger.Info("starting iteration", "iteration", iter, "max_iterations", iterations)

		specs := space.Specs()
		cd.Rand.Shuffle(len(specs), func(i, j int) { specs[i], specs[j] = specs[j], specs[i] })

		updated := false
		for _, spec := range specs {
			if ctx.Err() != nil {
				break
			}

			cur := current.Value(spec.Name)
			step := Step(spec, divisor)
			var jobs []eval.Job
			for _, v := range NeighborValues(spec, cur, step, cd.Rand) {
				cfg, err := current.With(spec.Name, v)
				if err != nil {
					return param.Solution{}, err
				}
				jobs = append(jobs, cd.job(cfg, spec.Name, v))
			}

			results := cd.evaluate(ctx, jobs)
			next, score, ok := pickValue(results, cur)
			if !ok || next == cur {
				continue
			}

			cfg, err := current.With(spec.Name, next)
			if err != nil {
				return param.Solution{}, err
			}
			current = cfg
			updated = true
			logger.Info("parameter updated", "param", spec.Name, "from", cur, "to", next, "score", score)
			cd.Recorder.ParameterUpdated(spec.Name, cur, next, score)
		}

		cd.Recorder.SaveCheckpoint(nil)
		cd.Recorder.IterationComplete(iter)
		if ctx.Err() != nil {
			break
		}

		if updated {
			stalled = 0
			continue
		}
		stalled++
		logger.Info("no parameter changed", "iteration", iter, "stalled", stalled)
		if stalled >= stallLimit {
			logger.Info("converged", "iteration", iter)
			break
		}
	}

	return cd.result(ctx)
}

// Step returns max(1, range/divisor).
func Step(spec param.Spec, divisor int) int {
	return max(1, spec.Range()/divisor)
}

// NeighborValues returns up to three distinct candidate values: cur-step,
// cur and cur+step, clamped to bounds. Missing values are backfilled with
// min (in front), max (at the back), then uniform random values. Ranges with
// fewer than three integers yield every integer in range.
func NeighborValues(spec param.Spec, cur, step int, rng interface{ Intn(int) int }) []int {
	var vals []int
	if v := spec.Clamp(cur - step); v != cur {
		vals = append(vals, v)
	}
	vals = append(vals, cur)
	if v := spec.Clamp(cur + step); v != cur && !slices.Contains(vals, v) {
		vals = append(vals, v)
	}

	want := min(3, spec.Range()+1)
	for len(vals) < want {
		switch {
		case !slices.Contains(vals, spec.Min):
			vals = append([]int{spec.Min}, vals...)
		case !slices.Contains(vals, spec.Max):
			vals = append(vals, spec.Max)
		default:
			if v := spec.Min + rng.Intn(spec.Range()+1); !slices.Contains(vals, v) {
				vals = append(vals, v)
			}
		}
	}
	return vals
}

// pickValue returns the best-scoring value. Among equal top scores a value
// different from cur wins, earliest in candidate order, even when cur itself
// comes first, so a tie moves the parameter whenever another value shares it.
func pickValue(results []scored, cur int) (int, float64, bool) {
	if len(results) == 0 {
		return 0, 0, false
	}
	// Outcomes arrive in completion order; restore candidate order.
	ordered := make([]scored, len(results))
	copy(ordered, results)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].job.Seq < ordered[j].job.Seq })

	best := ordered[0]
	for _, r := range ordered[1:] {
		switch {
		case r.score > best.score:
			best = r
		case r.score == best.score && best.job.Value == cur && r.job.Value != cur:
			best = r
		}
	}
	return best.job.Value, best.score, true
}
