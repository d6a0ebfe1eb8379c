package opt

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"github.com/cwbudde/bctune/internal/eval"
	"github.com/cwbudde/bctune/internal/param"
)

func TestNeighborValues(t *testing.T) {
	spec := param.Spec{Name: "P", Min: 0, Max: 100}
	rng := rand.New(rand.NewSource(1))

	tests := []struct {
		name string
		spec param.Spec
		cur  int
		step int
		want []int
	}{
		{"interior", spec, 50, 10, []int{40, 50, 60}},
		{"at min", spec, 0, 10, []int{0, 10, 100}},
		{"at max", spec, 100, 10, []int{0, 90, 100}},
		{"clamped low", spec, 5, 10, []int{0, 5, 15}},
		{"two values", param.Spec{Name: "B", Min: 0, Max: 1}, 0, 1, []int{0, 1}},
		{"fixed", param.Spec{Name: "F", Min: 7, Max: 7}, 7, 1, []int{7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NeighborValues(tt.spec, tt.cur, tt.step, rng)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NeighborValues() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeighborValuesRandomBackfill(t *testing.T) {
	spec := param.Spec{Name: "P", Min: 0, Max: 2}
	got := NeighborValues(spec, 0, 2, rand.New(rand.NewSource(3)))
	// cur=0, cur+step=2, then min and max are present so 1 is drawn.
	if !reflect.DeepEqual(got, []int{0, 2, 1}) {
		t.Errorf("Expected random backfill, got %v", got)
	}
}

func TestStep(t *testing.T) {
	if got := Step(param.Spec{Min: 0, Max: 100}, 5); got != 20 {
		t.Errorf("Step = %d, want 20", got)
	}
	if got := Step(param.Spec{Min: 0, Max: 3}, 5); got != 1 {
		t.Errorf("Step = %d, want 1", got)
	}
}

func TestPickValuePrefersNewValueOnTie(t *testing.T) {
	results := []scored{
		{job: eval.Job{Seq: 3, Value: 60}, score: 50},
		{job: eval.Job{Seq: 2, Value: 50}, score: 50},
		{job: eval.Job{Seq: 1, Value: 40}, score: 50},
	}
	v, _, ok := pickValue(results, 50)
	if !ok || v != 40 {
		t.Errorf("Expected 40 (first differing value in candidate order), got %d", v)
	}

	results[1].score = 80
	if v, _, _ := pickValue(results, 50); v != 50 {
		t.Errorf("Expected current value to win outright, got %d", v)
	}
}

func TestPickValueMovesOffCurrentEvenWhenCurrentIsFirst(t *testing.T) {
	results := []scored{
		{job: eval.Job{Seq: 1, Value: 50}, score: 70},
		{job: eval.Job{Seq: 2, Value: 60}, score: 70},
		{job: eval.Job{Seq: 3, Value: 40}, score: 70},
	}
	v, score, ok := pickValue(results, 50)
	if !ok || v != 60 || score != 70 {
		t.Errorf("Expected 60 at 70, got %d at %v", v, score)
	}
}

func TestCoordinateDescentThresholdExample(t *testing.T) {
	space := newSpace(t, param.Spec{Name: "P", Min: 0, Max: 100})
	reference := build(t, space, map[string]int{"P": 50})
	batcher := &funcBatcher{fn: func(cfg param.Configuration) (float64, error) {
		if cfg.Value("P") > 50 {
			return 100, nil
		}
		return 0, nil
	}}
	rec := &recordingRecorder{}

	cd := &CoordinateDescent{
		Engine:          Engine{Scheduler: batcher, Recorder: rec, Rand: rand.New(rand.NewSource(1))},
		StepDivisor:     10,
		SkipInitialEval: true,
	}

	best, err := cd.Run(context.Background(), space, reference, Budget{Iterations: 2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if best.Score != 100 || best.Config.Value("P") <= 50 {
		t.Fatalf("Expected P > 50 with score 100, got P=%d score=%v", best.Config.Value("P"), best.Score)
	}
	if len(rec.updates) == 0 {
		t.Error("Expected at least one parameter update")
	}
	if rec.checkpoints != len(rec.completed) {
		t.Errorf("Expected one checkpoint per iteration, got %d for %d", rec.checkpoints, len(rec.completed))
	}
}

func TestCoordinateDescentConvergesNearOptimum(t *testing.T) {
	const optimum = 73
	space := newSpace(t,
		param.Spec{Name: "P", Min: 0, Max: 100},
		param.Spec{Name: "Q", Min: 0, Max: 10},
	)
	reference := space.Midpoint()
	batcher := &funcBatcher{fn: func(cfg param.Configuration) (float64, error) {
		d := cfg.Value("P") - optimum
		if d < 0 {
			d = -d
		}
		// Q is flat; only P matters.
		return float64(100 - d), nil
	}}

	cd := &CoordinateDescent{Engine: Engine{Scheduler: batcher, Rand: rand.New(rand.NewSource(9))}}
	best, err := cd.Run(context.Background(), space, reference, Budget{Iterations: 20})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	step := Step(param.Spec{Min: 0, Max: 100}, DefaultStepDivisor)
	p := best.Config.Value("P")
	if p < optimum-step || p > optimum+step {
		t.Errorf("P = %d, want within %d of %d", p, step, optimum)
	}
}

func TestCoordinateDescentSkipsFailedEvaluations(t *testing.T) {
	space := newSpace(t, param.Spec{Name: "P", Min: 0, Max: 100})
	batcher := &funcBatcher{fn: func(cfg param.Configuration) (float64, error) {
		if cfg.Value("P") == 70 {
			return 0, errors.New("render failed")
		}
		return float64(cfg.Value("P")), nil
	}}
	rec := &recordingRecorder{}

	cd := &CoordinateDescent{
		Engine:     Engine{Scheduler: batcher, Recorder: rec, Rand: rand.New(rand.NewSource(2))},
		StallLimit: 1,
	}
	best, err := cd.Run(context.Background(), space, space.Midpoint(), Budget{Iterations: 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Initial 50, then 30/50/70 with 70 failing.
	if len(rec.evaluations) != 3 {
		t.Errorf("Expected 3 recorded evaluations, got %v", rec.evaluations)
	}
	if best.Config.Value("P") != 50 || best.Score != 50 {
		t.Errorf("Unexpected best: P=%d score=%v", best.Config.Value("P"), best.Score)
	}
}

func TestCoordinateDescentStallLimit(t *testing.T) {
	space := newSpace(t, param.Spec{Name: "P", Min: 0, Max: 100})
	batcher := &funcBatcher{fn: func(cfg param.Configuration) (float64, error) {
		if cfg.Value("P") == 50 {
			return 90, nil
		}
		return 10, nil
	}}
	rec := &recordingRecorder{}

	cd := &CoordinateDescent{Engine: Engine{Scheduler: batcher, Recorder: rec, Rand: rand.New(rand.NewSource(4))}}
	if _, err := cd.Run(context.Background(), space, space.Midpoint(), Budget{Iterations: 50}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rec.completed) != DefaultStallLimit {
		t.Errorf("Expected to stop after %d stalled iterations, ran %d", DefaultStallLimit, len(rec.completed))
	}
}

func TestCoordinateDescentNoSolution(t *testing.T) {
	space := newSpace(t, param.Spec{Name: "P", Min: 0, Max: 10})
	batcher := &funcBatcher{fn: func(param.Configuration) (float64, error) {
		return 0, errors.New("broken toolchain")
	}}

	cd := &CoordinateDescent{Engine: Engine{Scheduler: batcher}}
	_, err := cd.Run(context.Background(), space, space.Midpoint(), Budget{Iterations: 5})
	if !errors.Is(err, ErrNoSolution) {
		t.Fatalf("Expected ErrNoSolution, got %v", err)
	}
}

func TestCoordinateDescentCancelled(t *testing.T) {
	space := newSpace(t, param.Spec{Name: "P", Min: 0, Max: 10})
	ctx, cancel := context.WithCancel(context.Background())
	batcher := &funcBatcher{fn: func(param.Configuration) (float64, error) {
		cancel()
		return 40, nil
	}}

	cd := &CoordinateDescent{Engine: Engine{Scheduler: batcher}}
	best, err := cd.Run(ctx, space, space.Midpoint(), Budget{Iterations: 5})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if best.Score != 40 {
		t.Errorf("Expected best so far to be returned, got %+v", best)
	}
}
