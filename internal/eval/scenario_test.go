package eval

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/cwbudde/bctune/internal/param"
)

func configNamed(t *testing.T, names ...string) param.Configuration {
	t.Helper()
	var specs []param.Spec
	for _, n := range names {
		specs = append(specs, param.Spec{Name: n, Min: 0, Max: 1})
	}
	space, err := param.NewSpace(specs)
	if err != nil {
		t.Fatal(err)
	}
	return space.Midpoint()
}

func TestExpandBothOrientations(t *testing.T) {
	got := Expand([]string{"arrows"})
	if len(got) != 2 || got[0].Reversed || !got[1].Reversed {
		t.Fatalf("Unexpected scenarios: %+v", got)
	}
}

func TestDefaultCatalogAll(t *testing.T) {
	all := DefaultCatalog().All()
	if len(all) != 21 {
		t.Fatalf("Expected 21 maps, got %d", len(all))
	}
	if !sort.StringsAreSorted(all) {
		t.Error("ALL should be sorted")
	}
}

func TestPolicyResolve(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		cfg    param.Configuration
		want   int
	}{
		{"explicit", Policy{Explicit: []string{"x"}}, configNamed(t, "MAP_SMALL_RUSH"), 1},
		{"detected small", Policy{}, configNamed(t, "MAP_SMALL_RUSH", "OTHER"), 6},
		{"detected small and large", Policy{}, configNamed(t, "MAP_SMALL_RUSH", "MAP_LARGE_RUSH"), 13},
		{"fallback", Policy{}, configNamed(t, "RUSH"), 21},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Resolve(tt.cfg)
			if len(got) != tt.want {
				t.Errorf("Resolve() returned %d maps, want %d: %v", len(got), tt.want, got)
			}
		})
	}
}

func TestGateWaitHonorsContext(t *testing.T) {
	g := NewGate()
	release := make(chan struct{})
	go g.Do(context.Background(), func() error {
		<-release
		return nil
	})
	defer close(release)

	// Let the goroutine take the gate.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Do(ctx, func() error {
		t.Error("fn must not run without the gate")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}
}
