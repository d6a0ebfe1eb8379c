package opt

import (
	"context"
	"fmt"

	"github.com/cwbudde/bctune/internal/eval"
	"github.com/cwbudde/bctune/internal/memory"
	"github.com/cwbudde/bctune/internal/param"
)

// GRASP modes.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// GRASP defaults.
const (
	DefaultGRASPIterations = 5
	DefaultAlphaStart      = 0.5
	DefaultAlphaEnd        = 0.1
	DefaultSaveEvery       = 2
	DefaultBatchSize       = 2
)

// GRASP alternates randomized construction from adaptive memory with local
// improvement for a fixed number of iterations.
//
// In sequential mode each iteration constructs one candidate and hill-climbs
// it. In parallel mode each iteration constructs BatchSize candidates and
// evaluates them concurrently without local search.
type GRASP struct {
	Engine

	Memory           *memory.Memory
	Mode             string
	BatchSize        int
	LocalSearchSteps int
	AlphaStart       float64
	AlphaEnd         float64
	SaveEvery        int
}

// Run implements Driver.
func (g *GRASP) Run(ctx context.Context, space *param.Space, reference param.Configuration, budget Budget) (param.Solution, error) {
	g.reset(reference)
	logger := g.logger()

	if g.Memory == nil {
		g.Memory = memory.New(memory.DefaultCapacity, memory.DefaultHistoryLimit, g.Rand)
	}
	mode := g.Mode
	if mode == "" {
		mode = ModeSequential
	}
	if mode != ModeSequential && mode != ModeParallel {
		return param.Solution{}, fmt.Errorf("unknown GRASP mode %q", mode)
	}
	iterations := budget.Iterations
	if iterations <= 0 {
		iterations = DefaultGRASPIterations
	}
	saveEvery := g.SaveEvery
	if saveEvery <= 0 {
		saveEvery = DefaultSaveEvery
	}

	gen := Generator{Memory: g.Memory}
	for iter := 0; iter < iterations; iter++ {
		if ctx.Err() != nil {
			break
		}
		g.Recorder.StartIteration(iter + 1)
		alpha := Anneal(g.AlphaStart, g.AlphaEnd, iter, iterations)
		logger.Info("starting iteration", "iteration", iter+1, "max_iterations", iterations, "alpha", alpha)

		var err error
		if mode == ModeParallel {
			err = g.parallelStep(ctx, space, gen, alpha)
		} else {
			err = g.sequentialStep(ctx, space, gen, alpha)
		}
		if err != nil {
			return param.Solution{}, err
		}

		if (iter+1)%saveEvery == 0 || iter == iterations-1 {
			snap := g.Memory.Snapshot()
			g.Recorder.SaveCheckpoint(&snap)
		}
		g.Recorder.IterationComplete(iter + 1)
	}

	return g.result(ctx)
}

func (g *GRASP) sequentialStep(ctx context.Context, space *param.Space, gen Generator, alpha float64) error {
	candidate, err := gen.Generate(space, alpha)
	if err != nil {
		return err
	}

	steps := g.LocalSearchSteps
	if steps <= 0 {
		steps = DefaultLocalSearchSteps
	}
	ls := LocalSearch{Rand: g.Rand}
	evaluate := func(ctx context.Context, cfg param.Configuration) (float64, bool) {
		return g.evaluateOne(ctx, cfg, "grasp")
	}

	sol, err := ls.Improve(ctx, space, candidate, evaluate, steps)
	if err != nil {
		if ctx.Err() == nil {
			g.logger().Warn("construction discarded", "error", err)
		}
		return nil
	}
	g.Memory.AddSolution(sol.Config, sol.Score)
	return nil
}

func (g *GRASP) parallelStep(ctx context.Context, space *param.Space, gen Generator, alpha float64) error {
	batch := g.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	jobs := make([]eval.Job, 0, batch)
	for i := 0; i < batch; i++ {
		cfg, err := gen.Generate(space, alpha)
		if err != nil {
			return err
		}
		jobs = append(jobs, g.job(cfg, "grasp", 0))
	}

	for _, r := range g.evaluate(ctx, jobs) {
		g.Memory.AddSolution(r.job.Candidate, r.score)
	}
	return nil
}
