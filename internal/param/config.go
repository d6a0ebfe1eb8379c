package param

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Entry is one bound parameter value.
type Entry struct {
	Value int `json:"value"`
	Min   int `json:"min"`
	Max   int `json:"max"`
}

// Configuration maps parameter names to bound values.
//
// Configurations are values: every mutation returns a new Configuration and the
// receiver is never modified, so a Configuration held by the adaptive memory or a
// checkpoint can be shared freely.
type Configuration struct {
	entries map[string]Entry
}

// Len returns the number of parameters.
func (c Configuration) Len() int {
	return len(c.entries)
}

// IsZero reports whether the configuration holds no parameters.
func (c Configuration) IsZero() bool {
	return len(c.entries) == 0
}

// Get returns the entry for name.
func (c Configuration) Get(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// Value returns the value of name, or 0 if it is absent.
func (c Configuration) Value(name string) int {
	return c.entries[name].Value
}

// Names returns the parameter names, sorted.
func (c Configuration) Names() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns a name -> value copy.
func (c Configuration) Values() map[string]int {
	out := make(map[string]int, len(c.entries))
	for name, e := range c.entries {
		out[name] = e.Value
	}
	return out
}

// With returns a copy of c with name set to value.
func (c Configuration) With(name string, value int) (Configuration, error) {
	e, ok := c.entries[name]
	if !ok {
		return Configuration{}, &ValidationError{Param: name, Reason: "unknown parameter"}
	}
	if value < e.Min || value > e.Max {
		return Configuration{}, &ValidationError{
			Param:  name,
			Reason: fmt.Sprintf("value %d outside [%d, %d]", value, e.Min, e.Max),
		}
	}

	entries := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		entries[k] = v
	}
	e.Value = value
	entries[name] = e
	return Configuration{entries: entries}, nil
}

// Equal reports whether both configurations bind the same values and bounds.
func (c Configuration) Equal(other Configuration) bool {
	if len(c.entries) != len(other.entries) {
		return false
	}
	for name, e := range c.entries {
		if o, ok := other.entries[name]; !ok || o != e {
			return false
		}
	}
	return true
}

// Key returns a canonical string form, usable as a map key.
func (c Configuration) Key() string {
	var b strings.Builder
	for i, name := range c.Names() {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%d", name, c.entries[name].Value)
	}
	return b.String()
}

// Validate checks c against the space: the name sets must be equal, bounds must
// match the declared specs and every value must lie within them.
func (c Configuration) Validate(space *Space) error {
	if space == nil {
		return &ValidationError{Reason: "parameter space is required"}
	}
	for _, spec := range space.specs {
		e, ok := c.entries[spec.Name]
		if !ok {
			return &ValidationError{Param: spec.Name, Reason: "missing from configuration"}
		}
		if e.Min != spec.Min || e.Max != spec.Max {
			return &ValidationError{
				Param:  spec.Name,
				Reason: fmt.Sprintf("bounds [%d, %d] do not match declared [%d, %d]", e.Min, e.Max, spec.Min, spec.Max),
			}
		}
		if !spec.Contains(e.Value) {
			return &ValidationError{
				Param:  spec.Name,
				Reason: fmt.Sprintf("value %d outside [%d, %d]", e.Value, spec.Min, spec.Max),
			}
		}
	}
	if len(c.entries) != space.Len() {
		for name := range c.entries {
			if _, ok := space.Lookup(name); !ok {
				return &ValidationError{Param: name, Reason: "not part of the parameter space"}
			}
		}
	}
	return nil
}

// MarshalJSON encodes the {NAME: {value, min, max}} layout read by the materializer.
func (c Configuration) MarshalJSON() ([]byte, error) {
	if c.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.entries)
}

// UnmarshalJSON decodes the {NAME: {value, min, max}} layout.
// Decoding does not validate; call Validate against a Space.
func (c *Configuration) UnmarshalJSON(data []byte) error {
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	c.entries = entries
	return nil
}

// Solution is a configuration paired with its evaluated score in [0, 100].
type Solution struct {
	Config Configuration `json:"config"`
	Score  float64       `json:"score"`
}
