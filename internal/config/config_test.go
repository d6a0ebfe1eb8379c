package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	doc := `
template: bots/template.json
strategy: grasp
workers: 4
timeout: 30m
maps: [arrows, rift]
history_backend: sqlite
grasp:
  mode: parallel
  batch_size: 6
toolchain:
  match: ["./run-match", "{{.First}}", "{{.Second}}", "{{.Map}}"]
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Strategy != StrategyGRASP || cfg.Workers != 4 || cfg.Timeout != 30*time.Minute {
		t.Errorf("Unexpected top-level values: %+v", cfg)
	}
	if cfg.GRASP.Mode != "parallel" || cfg.GRASP.BatchSize != 6 {
		t.Errorf("Unexpected grasp config: %+v", cfg.GRASP)
	}
	// Untouched nested defaults survive.
	if cfg.GRASP.AlphaStart != 0.5 || cfg.GRASP.SaveEvery != 2 || cfg.Coordinate.StallLimit != 3 {
		t.Errorf("Defaults were lost: %+v %+v", cfg.GRASP, cfg.Coordinate)
	}
	if len(cfg.MatchCommand()) != 4 || len(cfg.MaterializeSteps()) != 3 {
		t.Errorf("Unexpected toolchain commands")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"strategy":            "strategy: annealing",
		"mode":                "grasp: {mode: swarm}",
		"alpha":               "grasp: {alpha_start: 1.5}",
		"population":          "mayfly: {population: 5}",
		"workers":             "workers: -1",
		"history":             "history_backend: csv",
		"materialize timeout": "toolchain: {materialize_timeout: 0s}",
		"yaml":                "strategy: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Errorf("Expected error for %q", doc)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bctune.yaml")
	if err := os.WriteFile(path, []byte("source: mybot\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source != "mybot" {
		t.Errorf("Expected source mybot, got %q", cfg.Source)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("Expected read error, got %v", err)
	}
}

func TestScenarioCatalogOverride(t *testing.T) {
	cfg := Default()
	if len(cfg.ScenarioCatalog().All()) != 21 {
		t.Error("Expected default catalog")
	}

	cfg.Catalog = map[string][]string{"MAP_TINY": {"b", "a"}}
	all := cfg.ScenarioCatalog().All()
	if len(all) != 2 || all[0] != "a" {
		t.Errorf("Unexpected override catalog: %v", all)
	}
}
