package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/bctune/internal/config"
	"github.com/cwbudde/bctune/internal/eval"
	"github.com/cwbudde/bctune/internal/memory"
	"github.com/cwbudde/bctune/internal/notify"
	"github.com/cwbudde/bctune/internal/opt"
	"github.com/cwbudde/bctune/internal/param"
	"github.com/cwbudde/bctune/internal/progress"
	"github.com/cwbudde/bctune/internal/server"
	"github.com/cwbudde/bctune/internal/store"
	"github.com/cwbudde/bctune/internal/toolchain"
)

// runFlags are the search options shared by run and resume.
type runFlags struct {
	strategy        string
	template        string
	reference       string
	source          string
	out             string
	workers         int
	seed            int64
	iterations      int
	maps            []string
	listen          string
	webhook         string
	skipInitialEval bool
	history         string
	timeout         time.Duration
	overwrite       bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a parameter search",
	Long: `Runs a parameter search against the reference configuration and writes
best_config.json, progress.json, the evaluation history and numbered
checkpoints to the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := runConfig(cmd, &runOpts)
		if err != nil {
			return err
		}
		return execute(cmd.Context(), cfg, nil, os.Stdout)
	},
}

func init() {
	addRunFlags(runCmd, &runOpts)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	d := config.Default()
	cmd.Flags().StringVar(&f.strategy, "strategy", d.Strategy, "Search strategy: coordinate, grasp, mayfly")
	cmd.Flags().StringVar(&f.template, "template", d.Template, "Parameter template JSON")
	cmd.Flags().StringVar(&f.reference, "reference", "", "Reference configuration JSON (default: template values)")
	cmd.Flags().StringVar(&f.source, "source", d.Source, "Source bot every artifact is derived from")
	cmd.Flags().StringVar(&f.out, "out", d.OutputDir, "Output directory")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Concurrent evaluations (0 = available CPUs)")
	cmd.Flags().Int64Var(&f.seed, "seed", d.Seed, "Random seed")
	cmd.Flags().IntVar(&f.iterations, "iterations", 0, "Iterations of the selected strategy")
	cmd.Flags().StringSliceVar(&f.maps, "maps", nil, "Explicit map list (default: detected from parameter names)")
	cmd.Flags().StringVar(&f.listen, "listen", "", "Serve the status API on this address, e.g. :8080")
	cmd.Flags().StringVar(&f.webhook, "webhook", "", "Webhook URL for progress notifications")
	cmd.Flags().BoolVar(&f.skipInitialEval, "skip-initial-eval", false, "Start coordinate descent from the reference without scoring it")
	cmd.Flags().StringVar(&f.history, "history-backend", d.History, "Evaluation history backend: jsonl, sqlite")
	cmd.Flags().DurationVar(&f.timeout, "timeout", d.Timeout, "Per-evaluation timeout of the match phase")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "Replace a previous run in the output directory")
}

// runConfig loads --config and applies every explicitly set flag on top.
func runConfig(cmd *cobra.Command, f *runFlags) (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("strategy") {
		cfg.Strategy = f.strategy
	}
	if flags.Changed("template") {
		cfg.Template = f.template
	}
	if flags.Changed("reference") {
		cfg.Reference = f.reference
	}
	if flags.Changed("source") {
		cfg.Source = f.source
	}
	if flags.Changed("out") {
		cfg.OutputDir = f.out
	}
	if flags.Changed("workers") {
		cfg.Workers = f.workers
	}
	if flags.Changed("seed") {
		cfg.Seed = f.seed
	}
	if flags.Changed("maps") {
		cfg.Maps = f.maps
	}
	if flags.Changed("listen") {
		cfg.Listen = f.listen
	}
	if flags.Changed("webhook") {
		cfg.Webhook.URL = f.webhook
	}
	if flags.Changed("skip-initial-eval") {
		cfg.Coordinate.SkipInitialEval = f.skipInitialEval
	}
	if flags.Changed("history-backend") {
		cfg.History = f.history
	}
	if flags.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if flags.Changed("overwrite") {
		cfg.Overwrite = f.overwrite
	}
	if flags.Changed("iterations") {
		switch cfg.Strategy {
		case config.StrategyCoordinate:
			cfg.Coordinate.Iterations = f.iterations
		case config.StrategyGRASP:
			cfg.GRASP.Iterations = f.iterations
		case config.StrategyMayfly:
			cfg.Mayfly.Iterations = f.iterations
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resumeState seeds a search from a previous run.
type resumeState struct {
	Start   param.Configuration
	Archive []param.Solution
}

// execute runs one search to completion and prints its summary to w.
func execute(ctx context.Context, cfg *config.Config, resume *resumeState, w io.Writer) error {
	space, reference, err := loadProblem(cfg)
	if err != nil {
		return err
	}

	st, err := store.NewFSStore(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := claimOutputDir(st, cfg.Overwrite); err != nil {
		return err
	}
	history, err := store.OpenHistory(cfg.History, cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer history.Close()

	tracker := progress.New(st, history, logger)

	if cfg.Webhook.URL != "" {
		wh := notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Interval, logger)
		defer wh.Close()
		tracker.AddObserver(wh)
	}

	if cfg.Listen != "" {
		srv := server.NewServer(cfg.Listen, tracker)
		tracker.AddObserver(srv.Broadcaster())
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	pipeline, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	sched := &eval.Scheduler{
		Evaluator: pipeline,
		Policy:    eval.Policy{Explicit: cfg.Maps, Catalog: cfg.ScenarioCatalog()},
		Workers:   cfg.Workers,
	}
	engine := opt.Engine{
		Scheduler: sched,
		Recorder:  tracker,
		Rand:      rand.New(rand.NewSource(cfg.Seed)),
		Logger:    logger,
	}
	driver, budget := newDriver(cfg, engine, resume)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := cfg.Workers
	if workers == 0 {
		workers = eval.DefaultWorkers()
	}
	slog.Info("Starting search",
		"strategy", cfg.Strategy,
		"parameters", space.Len(),
		"iterations", budget.Iterations,
		"workers", workers,
		"output", cfg.OutputDir,
	)

	tracker.Start(cfg.Strategy)
	start := time.Now()
	_, runErr := driver.Run(ctx, space, reference, budget)
	tracker.Finish(runErr)

	printSummary(w, tracker, st, time.Since(start))

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, context.Canceled):
		return fmt.Errorf("search interrupted: %w", runErr)
	default:
		return fmt.Errorf("search failed: %w", runErr)
	}
}

// claimOutputDir refuses a directory holding an earlier run unless overwrite
// is set, in which case that run's files are removed.
func claimOutputDir(st *store.FSStore, overwrite bool) error {
	found := st.PreviousRun()
	if len(found) == 0 {
		return nil
	}
	if !overwrite {
		return fmt.Errorf("output directory %s already holds a run (%s); use --overwrite or choose another --out",
			st.Dir(), strings.Join(found, ", "))
	}
	slog.Warn("Overwriting previous run", "dir", st.Dir(), "files", len(found))
	return st.Clear()
}

// loadProblem reads the template and the reference configuration.
func loadProblem(cfg *config.Config) (*param.Space, param.Configuration, error) {
	space, values, err := param.LoadTemplate(cfg.Template)
	if err != nil {
		return nil, param.Configuration{}, fmt.Errorf("failed to load template: %w", err)
	}
	if cfg.Reference == "" {
		return space, values, nil
	}
	reference, err := param.LoadConfiguration(cfg.Reference, space)
	if err != nil {
		return nil, param.Configuration{}, fmt.Errorf("failed to load reference: %w", err)
	}
	return space, reference, nil
}

func newPipeline(cfg *config.Config) (*eval.Pipeline, error) {
	paramDir, err := filepath.Abs(filepath.Join(cfg.OutputDir, store.TempConfigDir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve parameter directory: %w", err)
	}
	return &eval.Pipeline{
		Materializer: &toolchain.Materializer{
			Dir:      cfg.Toolchain.Dir,
			ParamDir: paramDir,
			Steps:    cfg.MaterializeSteps(),
			Logger:   logger,
		},
		Runner: &toolchain.MatchRunner{
			Dir:     cfg.Toolchain.Dir,
			Command: cfg.MatchCommand(),
			Logger:  logger,
		},
		Remover: &toolchain.Remover{
			ArtifactDir: filepath.Join(cfg.Toolchain.Dir, cfg.Toolchain.ArtifactDir),
			ParamDir:    paramDir,
		},
		Gate:               eval.NewGate(),
		Source:             cfg.Source,
		Timeout:            cfg.Timeout,
		MaterializeTimeout: cfg.Toolchain.MaterializeTimeout,
		Logger:             logger,
	}, nil
}

func newDriver(cfg *config.Config, engine opt.Engine, resume *resumeState) (opt.Driver, opt.Budget) {
	switch cfg.Strategy {
	case config.StrategyGRASP:
		g := cfg.GRASP
		mem := memory.New(g.MemorySize, g.HistorySize, rand.New(rand.NewSource(cfg.Seed+1)))
		if resume != nil {
			for _, s := range resume.Archive {
				mem.AddSolution(s.Config, s.Score)
			}
		}
		return &opt.GRASP{
			Engine:           engine,
			Memory:           mem,
			Mode:             g.Mode,
			BatchSize:        g.BatchSize,
			LocalSearchSteps: g.LocalSearchSteps,
			AlphaStart:       g.AlphaStart,
			AlphaEnd:         g.AlphaEnd,
			SaveEvery:        g.SaveEvery,
		}, opt.Budget{Iterations: g.Iterations}

	case config.StrategyMayfly:
		return &opt.Mayfly{
			Engine:  engine,
			PopSize: cfg.Mayfly.Population,
			Seed:    cfg.Seed,
		}, opt.Budget{Iterations: cfg.Mayfly.Iterations}

	default:
		c := cfg.Coordinate
		cd := &opt.CoordinateDescent{
			Engine:          engine,
			StepDivisor:     c.StepDivisor,
			StallLimit:      c.StallLimit,
			SkipInitialEval: c.SkipInitialEval,
		}
		if resume != nil {
			cd.Start = resume.Start
		}
		return cd, opt.Budget{Iterations: c.Iterations}
	}
}

func printSummary(w io.Writer, tracker *progress.Tracker, st *store.FSStore, elapsed time.Duration) {
	p := tracker.Snapshot()
	fmt.Fprintf(w, "\nSearch finished after %d evaluation(s) in %s\n", p.Evaluations, elapsed.Round(time.Second))

	best, ok := tracker.Best()
	if !ok {
		fmt.Fprintln(w, "No successful evaluation, no best configuration written.")
		return
	}
	fmt.Fprintf(w, "Best score: %.2f%%\n", best.Score)
	for _, name := range best.Config.Names() {
		fmt.Fprintf(w, "  %s = %d\n", name, best.Config.Value(name))
	}
	fmt.Fprintf(w, "Best configuration: %s\n", st.BestPath())
}
