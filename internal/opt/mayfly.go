package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/bctune/internal/param"
)

// DefaultMayflyPopulation is the smallest population the mayfly library accepts.
const DefaultMayflyPopulation = 20

// worstCost is reported for evaluations that failed.
const worstCost = 100

// Mayfly searches the parameter cube relaxed to [0, 1]^n with the mayfly
// algorithm. Positions decode to min + round(x*(max-min)); cost is 100-score.
type Mayfly struct {
	Engine

	PopSize int
	Seed    int64
}

// Run implements Driver. Budget.Iterations maps to mayfly iterations.
func (m *Mayfly) Run(ctx context.Context, space *param.Space, reference param.Configuration, budget Budget) (param.Solution, error) {
	m.reset(reference)

	specs := space.Specs()
	cache := make(map[string]float64)

	objective := func(x []float64) float64 {
		if ctx.Err() != nil {
			return worstCost
		}
		cfg, err := Decode(space, specs, x)
		if err != nil {
			return worstCost
		}
		key := cfg.Key()
		if cost, ok := cache[key]; ok {
			return cost
		}
		score, ok := m.evaluateOne(ctx, cfg, "mayfly")
		if !ok {
			return worstCost
		}
		cost := worstCost - score
		cache[key] = cost
		return cost
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = objective
	config.ProblemSize = len(specs)
	config.MaxIterations = budget.Iterations
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultIterations
	}
	config.NPop = m.PopSize
	if config.NPop < DefaultMayflyPopulation {
		config.NPop = DefaultMayflyPopulation
	}
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.Seed))

	m.logger().Info("starting mayfly search",
		"dimensions", len(specs),
		"population", config.NPop,
		"iterations", config.MaxIterations)

	result, err := mayfly.Optimize(config)
	if err != nil {
		return param.Solution{}, fmt.Errorf("mayfly optimization: %w", err)
	}
	m.logger().Info("mayfly search finished",
		"best_cost", result.GlobalBest.Cost,
		"distinct_configs", len(cache))

	return m.result(ctx)
}

// Decode maps a point of the unit cube to a configuration. Coordinates
// outside [0, 1] are clamped first.
func Decode(space *param.Space, specs []param.Spec, x []float64) (param.Configuration, error) {
	if len(x) != len(specs) {
		return param.Configuration{}, fmt.Errorf("position has %d dimensions, want %d", len(x), len(specs))
	}
	values := make(map[string]int, len(specs))
	for i, spec := range specs {
		u := math.Min(1, math.Max(0, x[i]))
		if math.IsNaN(u) {
			u = 0
		}
		values[spec.Name] = spec.Min + int(math.Round(u*float64(spec.Range())))
	}
	return space.Build(values)
}
