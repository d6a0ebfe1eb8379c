package opt

import (
	"context"
	"testing"

	"github.com/cwbudde/bctune/internal/eval"
	"github.com/cwbudde/bctune/internal/memory"
	"github.com/cwbudde/bctune/internal/param"
)

// funcBatcher scores jobs with fn and emits outcomes in reverse submission
// order, imitating out-of-order completion.
type funcBatcher struct {
	fn   func(cfg param.Configuration) (float64, error)
	jobs []eval.Job
}

func (b *funcBatcher) Run(ctx context.Context, jobs []eval.Job) <-chan eval.Outcome {
	out := make(chan eval.Outcome, len(jobs))
	for i := len(jobs) - 1; i >= 0; i-- {
		job := jobs[i]
		b.jobs = append(b.jobs, job)
		if err := ctx.Err(); err != nil {
			out <- eval.Outcome{Job: job, Err: err}
			continue
		}
		score, err := b.fn(job.Candidate)
		out <- eval.Outcome{Job: job, Result: eval.Result{Score: score, Total: 2}, Err: err}
	}
	close(out)
	return out
}

type recordingRecorder struct {
	iterations  []int
	evaluations []float64
	updates     []string
	completed   []int
	checkpoints int
	memorySnaps int
}

func (r *recordingRecorder) StartIteration(i int) { r.iterations = append(r.iterations, i) }
func (r *recordingRecorder) LogEvaluation(name string, value int, score float64, cfg param.Configuration) bool {
	r.evaluations = append(r.evaluations, score)
	return false
}
func (r *recordingRecorder) ParameterUpdated(name string, from, to int, score float64) {
	r.updates = append(r.updates, name)
}
func (r *recordingRecorder) IterationComplete(i int) { r.completed = append(r.completed, i) }
func (r *recordingRecorder) SaveCheckpoint(m *memory.Snapshot) {
	r.checkpoints++
	if m != nil {
		r.memorySnaps++
	}
}

func newSpace(t *testing.T, specs ...param.Spec) *param.Space {
	t.Helper()
	space, err := param.NewSpace(specs)
	if err != nil {
		t.Fatalf("NewSpace failed: %v", err)
	}
	return space
}

func build(t *testing.T, space *param.Space, values map[string]int) param.Configuration {
	t.Helper()
	cfg, err := space.Build(values)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return cfg
}
