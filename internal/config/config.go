// Package config loads the YAML run configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/bctune/internal/eval"
	"github.com/cwbudde/bctune/internal/memory"
	"github.com/cwbudde/bctune/internal/notify"
	"github.com/cwbudde/bctune/internal/opt"
	"github.com/cwbudde/bctune/internal/toolchain"
)

// Strategies.
const (
	StrategyCoordinate = "coordinate"
	StrategyGRASP      = "grasp"
	StrategyMayfly     = "mayfly"
)

// Config is a complete run configuration.
type Config struct {
	// Template declares the parameter space and is the materialization input.
	Template string `yaml:"template"`
	// Reference is the opponent configuration; the template values when empty.
	Reference string `yaml:"reference"`
	// Source is the bot every artifact is copied from.
	Source    string `yaml:"source"`
	OutputDir string `yaml:"output_dir"`
	Strategy  string `yaml:"strategy"`
	// Workers bounds concurrent evaluations; 0 uses the available parallelism.
	Workers int           `yaml:"workers"`
	Seed    int64         `yaml:"seed"`
	Timeout time.Duration `yaml:"timeout"`
	// Maps, when set, replaces category detection.
	Maps    []string            `yaml:"maps"`
	Catalog map[string][]string `yaml:"catalog"`
	History string              `yaml:"history_backend"`
	Listen  string              `yaml:"listen"`

	// Overwrite allows an output directory that already holds a run; its
	// files are removed before the search starts.
	Overwrite bool `yaml:"overwrite"`

	Webhook    WebhookConfig    `yaml:"webhook"`
	Toolchain  ToolchainConfig  `yaml:"toolchain"`
	Coordinate CoordinateConfig `yaml:"coordinate"`
	GRASP      GRASPConfig      `yaml:"grasp"`
	Mayfly     MayflyConfig     `yaml:"mayfly"`
}

type WebhookConfig struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
}

type ToolchainConfig struct {
	// Dir is the working directory of every external command.
	Dir string `yaml:"dir"`
	// ArtifactDir holds materialized bots, relative to Dir.
	ArtifactDir string     `yaml:"artifact_dir"`
	Materialize [][]string `yaml:"materialize"`
	Match       []string   `yaml:"match"`
	// MaterializeTimeout bounds each artifact build.
	MaterializeTimeout time.Duration `yaml:"materialize_timeout"`
}

type CoordinateConfig struct {
	Iterations      int  `yaml:"iterations"`
	StepDivisor     int  `yaml:"step_divisor"`
	StallLimit      int  `yaml:"stall_limit"`
	SkipInitialEval bool `yaml:"skip_initial_eval"`
}

type GRASPConfig struct {
	Iterations       int     `yaml:"iterations"`
	Mode             string  `yaml:"mode"`
	BatchSize        int     `yaml:"batch_size"`
	LocalSearchSteps int     `yaml:"local_search_steps"`
	AlphaStart       float64 `yaml:"alpha_start"`
	AlphaEnd         float64 `yaml:"alpha_end"`
	SaveEvery        int     `yaml:"save_every"`
	MemorySize       int     `yaml:"memory_size"`
	HistorySize      int     `yaml:"history_size"`
}

type MayflyConfig struct {
	Iterations int `yaml:"iterations"`
	Population int `yaml:"population"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Template:  "src/template.json",
		Source:    "base",
		OutputDir: "opt_results",
		Strategy:  StrategyCoordinate,
		Seed:      1,
		Timeout:   eval.DefaultTimeout,
		History:   "jsonl",
		Webhook:   WebhookConfig{Interval: notify.DefaultInterval},
		Toolchain: ToolchainConfig{
			Dir:                ".",
			ArtifactDir:        "src",
			MaterializeTimeout: eval.DefaultMaterializeTimeout,
		},
		Coordinate: CoordinateConfig{
			Iterations:  opt.DefaultIterations,
			StepDivisor: opt.DefaultStepDivisor,
			StallLimit:  opt.DefaultStallLimit,
		},
		GRASP: GRASPConfig{
			Iterations:       opt.DefaultGRASPIterations,
			Mode:             opt.ModeSequential,
			BatchSize:        opt.DefaultBatchSize,
			LocalSearchSteps: opt.DefaultLocalSearchSteps,
			AlphaStart:       opt.DefaultAlphaStart,
			AlphaEnd:         opt.DefaultAlphaEnd,
			SaveEvery:        opt.DefaultSaveEvery,
			MemorySize:       memory.DefaultCapacity,
			HistorySize:      memory.DefaultHistoryLimit,
		},
		Mayfly: MayflyConfig{
			Iterations: opt.DefaultIterations,
			Population: opt.DefaultMayflyPopulation,
		},
	}
}

// Load reads path on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Template == "" {
		return fmt.Errorf("template is required")
	}
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	switch c.Strategy {
	case StrategyCoordinate, StrategyGRASP, StrategyMayfly:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	switch c.History {
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown history_backend %q", c.History)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Toolchain.MaterializeTimeout <= 0 {
		return fmt.Errorf("toolchain.materialize_timeout must be positive")
	}
	for i, step := range c.Toolchain.Materialize {
		if len(step) == 0 {
			return fmt.Errorf("toolchain.materialize[%d] is empty", i)
		}
	}

	cd := c.Coordinate
	if cd.Iterations <= 0 || cd.StepDivisor <= 0 || cd.StallLimit <= 0 {
		return fmt.Errorf("coordinate iterations, step_divisor and stall_limit must be positive")
	}

	g := c.GRASP
	if g.Mode != opt.ModeSequential && g.Mode != opt.ModeParallel {
		return fmt.Errorf("unknown grasp mode %q", g.Mode)
	}
	if g.Iterations <= 0 || g.BatchSize <= 0 || g.LocalSearchSteps <= 0 || g.SaveEvery <= 0 {
		return fmt.Errorf("grasp iterations, batch_size, local_search_steps and save_every must be positive")
	}
	if g.AlphaStart < 0 || g.AlphaStart > 1 || g.AlphaEnd < 0 || g.AlphaEnd > 1 {
		return fmt.Errorf("grasp alpha must be within [0, 1]")
	}
	if g.MemorySize <= 0 || g.HistorySize <= 0 {
		return fmt.Errorf("grasp memory_size and history_size must be positive")
	}

	if c.Mayfly.Iterations <= 0 {
		return fmt.Errorf("mayfly iterations must be positive")
	}
	if c.Mayfly.Population < opt.DefaultMayflyPopulation {
		return fmt.Errorf("mayfly population must be at least %d", opt.DefaultMayflyPopulation)
	}
	return nil
}

// ScenarioCatalog returns the configured catalog, or the default one.
func (c *Config) ScenarioCatalog() eval.Catalog {
	if len(c.Catalog) == 0 {
		return eval.DefaultCatalog()
	}
	catalog := eval.Catalog(c.Catalog)
	if _, ok := catalog[eval.AllCategory]; !ok {
		catalog[eval.AllCategory] = catalog.All()
	}
	return catalog
}

// MaterializeSteps converts the configured steps, or returns the defaults.
func (c *Config) MaterializeSteps() []toolchain.Command {
	if len(c.Toolchain.Materialize) == 0 {
		return toolchain.DefaultMaterializeSteps()
	}
	steps := make([]toolchain.Command, len(c.Toolchain.Materialize))
	for i, s := range c.Toolchain.Materialize {
		steps[i] = toolchain.Command(s)
	}
	return steps
}

// MatchCommand returns the configured match command, or the default one.
func (c *Config) MatchCommand() toolchain.Command {
	if len(c.Toolchain.Match) == 0 {
		return toolchain.DefaultMatchCommand()
	}
	return toolchain.Command(c.Toolchain.Match)
}
