package toolchain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cwbudde/bctune/internal/param"
)

// DefaultMaterializeSteps copies the source bot, imports the parameters and
// renders the production sources.
func DefaultMaterializeSteps() []Command {
	return []Command{
		{"python3", "src/copybot.py", "{{.Source}}", "{{.Target}}"},
		{"python3", "src/params.py", "{{.Target}}", "--import", "{{.ParamFile}}"},
		{"python3", "src/jinja.py", "src/{{.Target}}", "--prod", "--params", "{{.ParamFile}}"},
	}
}

// StepData is the template data of a materialize step.
type StepData struct {
	Source    string
	Target    string
	ParamFile string
}

// Materializer writes a parameter file and runs the build steps in order.
// Any failing step aborts the materialization.
type Materializer struct {
	// Dir is the working directory of every step.
	Dir string
	// ParamDir receives <target>.json parameter files.
	ParamDir string
	Steps    []Command
	Logger   *slog.Logger
}

// ParamFile returns the parameter file path of target.
func (m *Materializer) ParamFile(target string) string {
	return filepath.Join(m.ParamDir, target+".json")
}

// Materialize implements eval.Materializer.
func (m *Materializer) Materialize(ctx context.Context, sourceID, targetID string, cfg param.Configuration) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	if err := os.MkdirAll(m.ParamDir, 0755); err != nil {
		return fmt.Errorf("create parameter directory: %w", err)
	}
	paramFile, err := filepath.Abs(m.ParamFile(targetID))
	if err != nil {
		return err
	}
	if err := os.WriteFile(paramFile, data, 0644); err != nil {
		return fmt.Errorf("write parameter file: %w", err)
	}

	steps := m.Steps
	if len(steps) == 0 {
		steps = DefaultMaterializeSteps()
	}
	sd := StepData{Source: sourceID, Target: targetID, ParamFile: paramFile}
	for _, step := range steps {
		tmpls, err := step.compile()
		if err != nil {
			return err
		}
		argv, err := render(tmpls, sd)
		if err != nil {
			return err
		}
		if _, err := run(ctx, m.Dir, argv); err != nil {
			return err
		}
	}

	m.logger().Debug("artifact materialized", "source", sourceID, "target", targetID)
	return nil
}

func (m *Materializer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
