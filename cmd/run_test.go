package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/bctune/internal/config"
	"github.com/cwbudde/bctune/internal/memory"
	"github.com/cwbudde/bctune/internal/param"
	"github.com/cwbudde/bctune/internal/store"
)

func writeTemplate(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "template.json")
	data := `{"AGGRESSION": {"value": 3, "min": 0, "max": 10}, "MAP_SMALL_RUSH": {"value": 1, "min": 0, "max": 4}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write template: %v", err)
	}
	return path
}

func newFlagCommand(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	addRunFlags(cmd, f)
	return cmd
}

func TestRunConfig_FlagsOverrideDefaults(t *testing.T) {
	var f runFlags
	cmd := newFlagCommand(&f)
	for name, value := range map[string]string{
		"strategy":   "grasp",
		"iterations": "7",
		"workers":    "3",
		"maps":       "a,b",
		"timeout":    "90s",
	} {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("Set(%s): %v", name, err)
		}
	}

	cfg, err := runConfig(cmd, &f)
	if err != nil {
		t.Fatalf("runConfig failed: %v", err)
	}
	if cfg.Strategy != config.StrategyGRASP || cfg.GRASP.Iterations != 7 {
		t.Errorf("Expected grasp with 7 iterations, got %s/%d", cfg.Strategy, cfg.GRASP.Iterations)
	}
	if cfg.Coordinate.Iterations != config.Default().Coordinate.Iterations {
		t.Error("Iterations flag leaked into coordinate settings")
	}
	if cfg.Workers != 3 || len(cfg.Maps) != 2 || cfg.Timeout != 90*time.Second {
		t.Errorf("Unexpected overrides: %+v", cfg)
	}
}

func TestRunConfig_UnchangedFlagsKeepFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bctune.yaml")
	if err := os.WriteFile(path, []byte("strategy: mayfly\nworkers: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	original := configPath
	configPath = path
	defer func() { configPath = original }()

	var f runFlags
	cmd := newFlagCommand(&f)
	cfg, err := runConfig(cmd, &f)
	if err != nil {
		t.Fatalf("runConfig failed: %v", err)
	}
	if cfg.Strategy != config.StrategyMayfly || cfg.Workers != 2 {
		t.Errorf("Expected file values, got %s/%d", cfg.Strategy, cfg.Workers)
	}
}

func TestRunConfig_Invalid(t *testing.T) {
	var f runFlags
	cmd := newFlagCommand(&f)
	cmd.Flags().Set("strategy", "annealing")
	if _, err := runConfig(cmd, &f); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestNewLogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(newLogHandler(&buf, "warn", "json"))
	l.Info("hidden")
	l.Warn("shown", "param", "AGGRESSION")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("Info record passed a warn handler")
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("Expected one JSON record, got %q", buf.String())
	}
	if rec["param"] != "AGGRESSION" {
		t.Errorf("Unexpected record: %v", rec)
	}

	buf.Reset()
	slog.New(newLogHandler(&buf, "info", "text")).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("Expected text record, got %q", buf.String())
	}
}

// shellConfig runs the search with sh standing in for the toolchain.
func shellConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	cfg := config.Default()
	cfg.Template = writeTemplate(t, dir)
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.Workers = 1
	cfg.Maps = []string{"shrine"}
	cfg.Coordinate.Iterations = 1
	cfg.Toolchain.Dir = dir
	cfg.Toolchain.Materialize = [][]string{{"sh", "-c", "test -f {{.ParamFile}}"}}
	// The first mover always wins, so every candidate takes one of two scenarios.
	cfg.Toolchain.Match = []string{"sh", "-c", "echo '{{.First}} (A) wins (round 200)'"}
	return cfg
}

func TestExecute_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := shellConfig(t, dir)

	var out bytes.Buffer
	if err := execute(context.Background(), cfg, nil, &out); err != nil {
		t.Fatalf("execute failed: %v\n%s", err, out.String())
	}

	if !strings.Contains(out.String(), "Best score: 50.00%") {
		t.Errorf("Unexpected summary:\n%s", out.String())
	}

	st, err := store.OpenFSStore(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	space, _, err := param.LoadTemplate(cfg.Template)
	if err != nil {
		t.Fatal(err)
	}
	best, err := st.LoadBest()
	if err != nil {
		t.Fatalf("Expected best_config.json: %v", err)
	}
	if err := best.Validate(space); err != nil {
		t.Errorf("Best configuration does not fit the template: %v", err)
	}

	p, err := st.LoadProgress()
	if err != nil {
		t.Fatal(err)
	}
	if p.Evaluations == 0 || p.BestScore == nil {
		t.Errorf("Unexpected progress: %+v", p)
	}

	entries, err := store.ReadJSONLHistory(filepath.Join(cfg.OutputDir, "history.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != p.Evaluations {
		t.Errorf("Expected %d history entries, got %d", p.Evaluations, len(entries))
	}

	left, _ := os.ReadDir(filepath.Join(cfg.OutputDir, store.TempConfigDir))
	if len(left) != 0 {
		t.Errorf("Expected parameter files to be removed, found %d", len(left))
	}
}

func TestExecute_KeepsPreviousRunUnlessOverwrite(t *testing.T) {
	dir := t.TempDir()
	cfg := shellConfig(t, dir)
	cfg.History = "sqlite"

	var out bytes.Buffer
	if err := execute(context.Background(), cfg, nil, &out); err != nil {
		t.Fatalf("First run failed: %v\n%s", err, out.String())
	}

	// Plant a better best than the second run can reach.
	st, err := store.OpenFSStore(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	space, _, err := param.LoadTemplate(cfg.Template)
	if err != nil {
		t.Fatal(err)
	}
	planted, err := space.Build(map[string]int{"AGGRESSION": 10, "MAP_SMALL_RUSH": 4})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveBest(planted); err != nil {
		t.Fatal(err)
	}
	history, err := store.DetectHistory(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	before, err := history.Entries()
	history.Close()
	if err != nil {
		t.Fatal(err)
	}

	err = execute(context.Background(), cfg, nil, &out)
	if err == nil || !strings.Contains(err.Error(), "--overwrite") {
		t.Fatalf("Expected the second run to be refused, got %v", err)
	}
	best, err := st.LoadBest()
	if err != nil || !best.Equal(planted) {
		t.Errorf("Refused run touched best_config.json: %v", err)
	}
	history, err = store.DetectHistory(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	after, err := history.Entries()
	history.Close()
	if err != nil || len(after) != len(before) {
		t.Errorf("Refused run touched the history: %d -> %d entries (%v)", len(before), len(after), err)
	}

	cfg.Overwrite = true
	if err := execute(context.Background(), cfg, nil, &out); err != nil {
		t.Fatalf("Overwrite run failed: %v", err)
	}
	best, err = st.LoadBest()
	if err != nil || best.Equal(planted) {
		t.Errorf("Expected best_config.json from the new run, got %+v (%v)", best, err)
	}
	p, err := st.LoadProgress()
	if err != nil {
		t.Fatal(err)
	}
	history, err = store.DetectHistory(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()
	entries, err := history.Entries()
	if err != nil || len(entries) != p.Evaluations {
		t.Errorf("Expected %d fresh history entries, got %d (%v)", p.Evaluations, len(entries), err)
	}
}

func TestLoadResumeState(t *testing.T) {
	dir := t.TempDir()
	templatePath := writeTemplate(t, dir)
	space, _, err := param.LoadTemplate(templatePath)
	if err != nil {
		t.Fatal(err)
	}

	prevDir := filepath.Join(dir, "prev")
	prev, err := store.NewFSStore(prevDir)
	if err != nil {
		t.Fatal(err)
	}
	best, err := space.Build(map[string]int{"AGGRESSION": 8, "MAP_SMALL_RUSH": 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := prev.SaveBest(best); err != nil {
		t.Fatal(err)
	}
	score := 75.0
	c := &store.Checkpoint{
		Number:     1,
		BestScore:  &score,
		BestConfig: best,
		Memory:     &memory.Snapshot{Archive: []param.Solution{{Config: best, Score: 75}, {Config: space.Midpoint(), Score: 40}}},
		Timestamp:  time.Now(),
	}
	if err := prev.SaveCheckpoint(c); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Template = templatePath
	cfg.OutputDir = filepath.Join(dir, "next")

	cfg.Strategy = config.StrategyCoordinate
	state, err := loadResumeState(cfg, prevDir)
	if err != nil {
		t.Fatalf("loadResumeState failed: %v", err)
	}
	if !state.Start.Equal(best) || len(state.Archive) != 0 {
		t.Errorf("Unexpected coordinate state: %+v", state)
	}

	cfg.Strategy = config.StrategyGRASP
	state, err = loadResumeState(cfg, prevDir)
	if err != nil {
		t.Fatalf("loadResumeState failed: %v", err)
	}
	if len(state.Archive) != 2 || state.Archive[0].Score != 75 {
		t.Errorf("Expected archive from checkpoint, got %+v", state.Archive)
	}

	cfg.OutputDir = prevDir
	if _, err := loadResumeState(cfg, prevDir); err == nil {
		t.Error("Expected error when resuming into the previous directory")
	}

	cfg.OutputDir = filepath.Join(dir, "next")
	cfg.Strategy = config.StrategyMayfly
	if _, err := loadResumeState(cfg, prevDir); err == nil {
		t.Error("Expected error for mayfly resume")
	}
}

func TestFetchProgress(t *testing.T) {
	score := 55.0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/progress" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(store.Progress{Iteration: 3, Evaluations: 12, BestScore: &score})
	}))
	defer ts.Close()

	p, err := fetchProgress(ts.Client(), ts.URL+"/")
	if err != nil {
		t.Fatalf("fetchProgress failed: %v", err)
	}
	if p.Evaluations != 12 || p.BestScore == nil || *p.BestScore != 55 {
		t.Errorf("Unexpected progress: %+v", p)
	}

	var buf bytes.Buffer
	printProgress(&buf, p, time.Now())
	if !strings.Contains(buf.String(), "Best score:  55.00%") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}
}

func TestHistorySummary(t *testing.T) {
	dir := t.TempDir()
	if _, err := historySummary(dir); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound without history, got %v", err)
	}

	for _, kind := range []string{"jsonl", "sqlite"} {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()
			h, err := store.OpenHistory(kind, dir)
			if err != nil {
				t.Fatal(err)
			}
			for i := 1; i <= 2; i++ {
				if err := h.Append(store.HistoryEntry{Evaluation: i, Param: "AGGRESSION", Value: 4 + i, Score: 50, Timestamp: time.Now()}); err != nil {
					t.Fatal(err)
				}
			}
			h.Close()

			summary, err := historySummary(dir)
			if err != nil {
				t.Fatalf("historySummary failed: %v", err)
			}
			if !strings.Contains(summary, "2 entries") || !strings.Contains(summary, "#2 AGGRESSION=6") {
				t.Errorf("Unexpected summary:\n%s", summary)
			}
		})
	}
}
