package eval

import (
	"context"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"github.com/cwbudde/bctune/internal/param"
)

// Evaluator scores one configuration against a reference over the given maps.
// *Pipeline implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, cfg, reference param.Configuration, maps []string) (Result, error)
}

// Job is one unit of scheduled work.
type Job struct {
	// Seq is assigned by the caller and echoed in the Outcome.
	Seq       int
	Candidate param.Configuration
	Reference param.Configuration
	// Maps overrides the scheduler policy when non-empty.
	Maps []string
	// Param and Value label coordinate-descent candidates; both are optional.
	Param string
	Value int
}

// Outcome pairs a job with its evaluation result.
type Outcome struct {
	Job    Job
	Result Result
	Err    error
}

// Scheduler fans jobs out to a bounded worker pool.
type Scheduler struct {
	Evaluator Evaluator
	Policy    Policy
	// Workers bounds concurrency. Zero means runtime.GOMAXPROCS(0);
	// one runs jobs sequentially on a single goroutine.
	Workers int
}

// DefaultWorkers is the available parallelism.
func DefaultWorkers() int {
	return runtime.GOMAXPROCS(0)
}

// Run evaluates every job and delivers outcomes in completion order.
// The channel is closed once all jobs have finished. Jobs that have not
// started when ctx is cancelled report ctx.Err().
func (s *Scheduler) Run(ctx context.Context, jobs []Job) <-chan Outcome {
	out := make(chan Outcome, len(jobs))

	workers := s.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}

	if workers == 1 || len(jobs) <= 1 {
		go func() {
			defer close(out)
			for _, job := range jobs {
				out <- s.run(ctx, job)
			}
		}()
		return out
	}

	// Go blocks once every worker is busy, so submission happens off the
	// caller's goroutine.
	go func() {
		defer close(out)
		p := pool.New().WithMaxGoroutines(workers)
		for _, job := range jobs {
			job := job
			p.Go(func() {
				out <- s.run(ctx, job)
			})
		}
		p.Wait()
	}()
	return out
}

// RunBatch runs jobs and collects every outcome, in completion order.
func (s *Scheduler) RunBatch(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, 0, len(jobs))
	for o := range s.Run(ctx, jobs) {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (s *Scheduler) run(ctx context.Context, job Job) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Job: job, Err: err}
	}
	maps := job.Maps
	if len(maps) == 0 {
		maps = s.Policy.Resolve(job.Candidate)
	}
	res, err := s.Evaluator.Evaluate(ctx, job.Candidate, job.Reference, maps)
	return Outcome{Job: job, Result: res, Err: err}
}
