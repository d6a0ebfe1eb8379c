package param

import (
	"fmt"
	"sort"
)

// Spec describes the bounds of one tunable parameter.
type Spec struct {
	Name string `json:"name"`
	Min  int    `json:"min"`
	Max  int    `json:"max"`
}

// Range returns max - min.
func (s Spec) Range() int {
	return s.Max - s.Min
}

// Contains reports whether v lies within [Min, Max].
func (s Spec) Contains(v int) bool {
	return v >= s.Min && v <= s.Max
}

// Clamp forces v into [Min, Max].
func (s Spec) Clamp(v int) int {
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Midpoint returns (Min+Max)/2 rounded toward Min.
func (s Spec) Midpoint() int {
	return s.Min + (s.Max-s.Min)/2
}

// Space is the static, immutable description of every tunable parameter.
// Specs are kept sorted by name so iteration order is reproducible.
type Space struct {
	specs []Spec
	index map[string]int
}

// NewSpace validates the specs and builds a Space.
// Names must be non-empty and unique, and every spec must satisfy Min <= Max.
func NewSpace(specs []Spec) (*Space, error) {
	if len(specs) == 0 {
		return nil, &ValidationError{Reason: "parameter space cannot be empty"}
	}

	sorted := make([]Spec, len(specs))
	copy(sorted, specs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	index := make(map[string]int, len(sorted))
	for i, s := range sorted {
		if s.Name == "" {
			return nil, &ValidationError{Reason: "parameter name cannot be empty"}
		}
		if _, dup := index[s.Name]; dup {
			return nil, &ValidationError{Param: s.Name, Reason: "duplicate parameter name"}
		}
		if s.Min > s.Max {
			return nil, &ValidationError{
				Param:  s.Name,
				Reason: fmt.Sprintf("min %d is greater than max %d", s.Min, s.Max),
			}
		}
		index[s.Name] = i
	}

	return &Space{specs: sorted, index: index}, nil
}

// Len returns the number of parameters.
func (s *Space) Len() int {
	return len(s.specs)
}

// Specs returns a copy of the specs, sorted by name.
func (s *Space) Specs() []Spec {
	out := make([]Spec, len(s.specs))
	copy(out, s.specs)
	return out
}

// Names returns the parameter names, sorted.
func (s *Space) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// Lookup returns the spec for name.
func (s *Space) Lookup(name string) (Spec, bool) {
	i, ok := s.index[name]
	if !ok {
		return Spec{}, false
	}
	return s.specs[i], true
}

// Midpoint returns the configuration with every parameter at its bound midpoint.
func (s *Space) Midpoint() Configuration {
	entries := make(map[string]Entry, len(s.specs))
	for _, spec := range s.specs {
		entries[spec.Name] = Entry{Value: spec.Midpoint(), Min: spec.Min, Max: spec.Max}
	}
	return Configuration{entries: entries}
}

// Build creates a configuration from plain values.
// Every parameter of the space must be present and within bounds.
func (s *Space) Build(values map[string]int) (Configuration, error) {
	entries := make(map[string]Entry, len(values))
	for name, v := range values {
		spec, ok := s.Lookup(name)
		if !ok {
			return Configuration{}, &ValidationError{Param: name, Reason: "not part of the parameter space"}
		}
		entries[name] = Entry{Value: v, Min: spec.Min, Max: spec.Max}
	}
	cfg := Configuration{entries: entries}
	if err := cfg.Validate(s); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}
