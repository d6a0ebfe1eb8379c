package param

import (
	"encoding/json"
	"fmt"
	"os"
)

// ParseTemplate decodes a template document. The template declares the bounds
// of every parameter and carries its current values.
func ParseTemplate(data []byte) (*Space, Configuration, error) {
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, Configuration{}, fmt.Errorf("failed to decode template: %w", err)
	}

	specs := make([]Spec, 0, len(entries))
	for name, e := range entries {
		specs = append(specs, Spec{Name: name, Min: e.Min, Max: e.Max})
	}
	space, err := NewSpace(specs)
	if err != nil {
		return nil, Configuration{}, err
	}

	cfg := Configuration{entries: entries}
	if err := cfg.Validate(space); err != nil {
		return nil, Configuration{}, err
	}
	return space, cfg, nil
}

// LoadTemplate reads and parses a template file.
func LoadTemplate(path string) (*Space, Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Configuration{}, fmt.Errorf("failed to read template %s: %w", path, err)
	}
	space, cfg, err := ParseTemplate(data)
	if err != nil {
		return nil, Configuration{}, fmt.Errorf("invalid template %s: %w", path, err)
	}
	return space, cfg, nil
}

// ParseConfiguration decodes a configuration and validates it against space.
func ParseConfiguration(data []byte, space *Space) (Configuration, error) {
	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(space); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// LoadConfiguration reads a configuration file and validates it against space.
func LoadConfiguration(path string, space *Space) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}
	cfg, err := ParseConfiguration(data, space)
	if err != nil {
		return Configuration{}, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}
