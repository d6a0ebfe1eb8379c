package eval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwbudde/bctune/internal/param"
)

// fakeToolchain is an in-memory materializer, runner and remover.
// The runner decides matches with winFn, given the configuration behind each side.
type fakeToolchain struct {
	mu        sync.Mutex
	artifacts map[string]param.Configuration
	removed   []string
	matches   []string

	failOn   int // materialize call number (1-based) that fails; 0 never
	calls    int
	winFn    func(first, second param.Configuration) Winner
	runDelay time.Duration
	block    bool // runner waits for ctx
	hang     bool // materializer waits for ctx

	active    int32
	maxActive int32
}

func newFakeToolchain() *fakeToolchain {
	return &fakeToolchain{artifacts: make(map[string]param.Configuration)}
}

func (f *fakeToolchain) Materialize(ctx context.Context, sourceID, targetID string, cfg param.Configuration) error {
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn == f.calls {
		return errors.New("render failed")
	}
	f.artifacts[targetID] = cfg
	return nil
}

func (f *fakeToolchain) RunMatch(ctx context.Context, first, second, scenario string) (MatchResult, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxActive, m, n) {
			break
		}
	}

	if f.block {
		<-ctx.Done()
		return MatchResult{}, ctx.Err()
	}
	if f.runDelay > 0 {
		time.Sleep(f.runDelay)
	}

	f.mu.Lock()
	f.matches = append(f.matches, fmt.Sprintf("%s:%s:%s", first, second, scenario))
	a, b := f.artifacts[first], f.artifacts[second]
	f.mu.Unlock()

	if f.winFn == nil {
		return MatchResult{}, nil
	}
	return MatchResult{Winner: f.winFn(a, b)}, nil
}

func (f *fakeToolchain) Remove(ctx context.Context, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, targetID)
	delete(f.artifacts, targetID)
	return nil
}

func (f *fakeToolchain) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.artifacts)
}

func (f *fakeToolchain) pipeline() *Pipeline {
	var n int32
	return &Pipeline{
		Materializer: f,
		Runner:       f,
		Remover:      f,
		Gate:         NewGate(),
		Source:       "base",
		NewID: func() string {
			return fmt.Sprintf("tmp%04d", atomic.AddInt32(&n, 1))
		},
	}
}

// higherWins lets the artifact with the larger P value win.
func higherWins(first, second param.Configuration) Winner {
	if first.Value("P") > second.Value("P") {
		return First
	}
	return Second
}

func testConfig(t *testing.T, v int) param.Configuration {
	t.Helper()
	space, err := param.NewSpace([]param.Spec{{Name: "P", Min: 0, Max: 100}})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := space.Build(map[string]int{"P": v})
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}
