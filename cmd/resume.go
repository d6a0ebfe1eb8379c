package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cwbudde/bctune/internal/config"
	"github.com/cwbudde/bctune/internal/param"
	"github.com/cwbudde/bctune/internal/store"
)

var resumeOpts runFlags

var resumeCmd = &cobra.Command{
	Use:   "resume <previous-output-dir>",
	Short: "Start a new search from a previous run's best configuration",
	Long: `Starts a new search seeded from a previous output directory.
Coordinate descent starts from its best_config.json. GRASP seeds its adaptive
memory from the latest checkpoint, or from the best configuration when no
checkpoint carries a memory snapshot. Results go to a new output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := runConfig(cmd, &resumeOpts)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("out") && configPath == "" {
			cfg.OutputDir = filepath.Clean(args[0]) + "_resumed"
		}
		state, err := loadResumeState(cfg, args[0])
		if err != nil {
			return err
		}
		return execute(cmd.Context(), cfg, state, os.Stdout)
	},
}

func init() {
	addRunFlags(resumeCmd, &resumeOpts)
	rootCmd.AddCommand(resumeCmd)
}

// loadResumeState reads the seed of a resumed search from prevDir.
func loadResumeState(cfg *config.Config, prevDir string) (*resumeState, error) {
	if cfg.Strategy == config.StrategyMayfly {
		return nil, fmt.Errorf("resume supports the %s and %s strategies", config.StrategyCoordinate, config.StrategyGRASP)
	}
	if err := distinctDirs(prevDir, cfg.OutputDir); err != nil {
		return nil, err
	}

	prev, err := store.OpenFSStore(prevDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open previous run: %w", err)
	}
	space, _, err := param.LoadTemplate(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	best, err := prev.LoadBest()
	if err != nil {
		return nil, fmt.Errorf("failed to load best configuration: %w", err)
	}
	if err := best.Validate(space); err != nil {
		return nil, fmt.Errorf("best configuration does not match template: %w", err)
	}

	state := &resumeState{Start: best}
	if cfg.Strategy != config.StrategyGRASP {
		return state, nil
	}

	archive, err := latestArchive(prev, space)
	if err != nil {
		return nil, err
	}
	if len(archive) == 0 {
		p, err := prev.LoadProgress()
		if err == nil && p.BestScore != nil {
			archive = []param.Solution{{Config: best, Score: *p.BestScore}}
		}
	}
	state.Archive = archive
	slog.Info("Seeding adaptive memory", "solutions", len(archive), "from", prevDir)
	return state, nil
}

// latestArchive returns the memory archive of the newest checkpoint that has
// one. Solutions that no longer fit the template are dropped.
func latestArchive(st *store.FSStore, space *param.Space) ([]param.Solution, error) {
	infos, err := st.ListCheckpoints()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	for i := len(infos) - 1; i >= 0; i-- {
		c, err := st.LoadCheckpoint(infos[i].Number)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load checkpoint %d: %w", infos[i].Number, err)
		}
		if c.Memory == nil || len(c.Memory.Archive) == 0 {
			continue
		}
		var archive []param.Solution
		for _, s := range c.Memory.Archive {
			if s.Config.Validate(space) == nil {
				archive = append(archive, s)
			}
		}
		return archive, nil
	}
	return nil, nil
}

func distinctDirs(a, b string) error {
	absA, err := filepath.Abs(a)
	if err != nil {
		return err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return err
	}
	if absA == absB {
		return fmt.Errorf("resume output directory must differ from %s", a)
	}
	return nil
}
