package opt

import (
	"github.com/cwbudde/bctune/internal/memory"
	"github.com/cwbudde/bctune/internal/param"
)

// Generator constructs candidates by sampling every parameter independently
// from the adaptive memory. Joint structure between parameters is not modelled.
type Generator struct {
	Memory *memory.Memory
}

// Generate builds one configuration. alpha is the exploration probability.
func (g Generator) Generate(space *param.Space, alpha float64) (param.Configuration, error) {
	values := make(map[string]int, space.Len())
	for _, spec := range space.Specs() {
		values[spec.Name] = g.Memory.SampleValue(spec.Name, spec.Min, spec.Max, alpha)
	}
	return space.Build(values)
}

// Anneal interpolates linearly from start (iteration 0) to end (iteration total-1).
func Anneal(start, end float64, iteration, total int) float64 {
	if total <= 1 {
		return start
	}
	return start + (end-start)*float64(iteration)/float64(total-1)
}
