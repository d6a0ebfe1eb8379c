package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/bctune/internal/param"
)

// DefaultLocalSearchSteps is the step budget of one local search.
const DefaultLocalSearchSteps = 3

const perturbFraction = 0.15

// EvalFunc scores one configuration. ok is false when the evaluation failed.
type EvalFunc func(ctx context.Context, cfg param.Configuration) (score float64, ok bool)

// LocalSearch is a first-improvement hill climber.
type LocalSearch struct {
	Rand *rand.Rand
}

// Improve evaluates cfg, then for maxSteps rounds perturbs a random subset of
// one to three parameters and keeps the result if it strictly beats the best
// score so far. The whole budget is always spent; failed evaluations only
// consume their step.
func (ls LocalSearch) Improve(ctx context.Context, space *param.Space, cfg param.Configuration, evaluate EvalFunc, maxSteps int) (param.Solution, error) {
	score, ok := evaluate(ctx, cfg)
	if !ok {
		if err := ctx.Err(); err != nil {
			return param.Solution{}, err
		}
		return param.Solution{}, fmt.Errorf("local search: initial evaluation failed")
	}
	best := param.Solution{Config: cfg, Score: score}

	specs := space.Specs()
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return best, err
		}

		candidate, err := ls.perturb(best.Config, specs)
		if err != nil {
			return best, err
		}
		s, ok := evaluate(ctx, candidate)
		if ok && s > best.Score {
			best = param.Solution{Config: candidate, Score: s}
		}
	}
	return best, nil
}

func (ls LocalSearch) perturb(cfg param.Configuration, specs []param.Spec) (param.Configuration, error) {
	k := 1 + ls.Rand.Intn(min(3, len(specs)))
	next := cfg
	for _, i := range ls.Rand.Perm(len(specs))[:k] {
		spec := specs[i]
		delta := int(math.Round(ls.Rand.NormFloat64() * perturbFraction * float64(spec.Range())))
		var err error
		next, err = next.With(spec.Name, spec.Clamp(next.Value(spec.Name)+delta))
		if err != nil {
			return param.Configuration{}, err
		}
	}
	return next, nil
}
