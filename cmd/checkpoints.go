package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/bctune/internal/config"
	"github.com/cwbudde/bctune/internal/store"
)

var (
	checkpointDataDir string
	keepLast          int
	olderThanDays     int
	forceClean        bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage search checkpoints",
	Long: `Inspect and prune the numbered checkpoints of an output directory.
Checkpoints are snapshots for reporting after a crash; use resume to start a
new search from a previous run.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available checkpoints",
	Long:  `Display all checkpoints with iteration, evaluation count, best score, timestamp and file size.`,
	RunE:  runListCheckpoints,
}

var showCheckpointCmd = &cobra.Command{
	Use:   "show <number>",
	Short: "Show one checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowCheckpoint,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old checkpoints",
	Long: `Delete old checkpoints based on retention policy.
You can keep only the newest N checkpoints or delete checkpoints older than N days.`,
	RunE: runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)

	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(showCheckpointCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointDataDir, "dir", config.Default().OutputDir, "Output directory of the search")

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openCheckpointStore() (*store.FSStore, error) {
	st, err := store.OpenFSStore(checkpointDataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open output directory: %w", err)
	}
	return st, nil
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	st, err := openCheckpointStore()
	if err != nil {
		return err
	}

	infos, err := st.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	writeCheckpointTable(os.Stdout, infos)
	fmt.Printf("\nTotal checkpoints: %d\n", len(infos))
	return nil
}

func writeCheckpointTable(out io.Writer, infos []store.CheckpointInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tITERATION\tEVALUATIONS\tBEST SCORE\tTIMESTAMP\tSIZE")
	fmt.Fprintln(w, "------\t---------\t-----------\t----------\t---------\t----")

	for _, info := range infos {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n",
			info.Number,
			info.Iteration,
			info.Evaluations,
			formatScore(info.BestScore),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			formatBytes(info.Size),
		)
	}
	w.Flush()
}

func runShowCheckpoint(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid checkpoint number %q", args[0])
	}

	st, err := openCheckpointStore()
	if err != nil {
		return err
	}
	c, err := st.LoadCheckpoint(n)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	writeCheckpoint(os.Stdout, c)
	return nil
}

func writeCheckpoint(out io.Writer, c *store.Checkpoint) {
	fmt.Fprintf(out, "Checkpoint %d\n", c.Number)
	fmt.Fprintf(out, "  Timestamp:   %s\n", c.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "  Iteration:   %d\n", c.Iteration)
	fmt.Fprintf(out, "  Evaluations: %d\n", c.Evaluations)
	fmt.Fprintf(out, "  Best score:  %s\n", formatScore(c.BestScore))

	if c.BestConfig.Len() > 0 {
		fmt.Fprintln(out, "\nBest configuration:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, name := range c.BestConfig.Names() {
			e, _ := c.BestConfig.Get(name)
			fmt.Fprintf(w, "  %s\t%d\t[%d, %d]\n", name, e.Value, e.Min, e.Max)
		}
		w.Flush()
	}

	if c.Memory != nil {
		fmt.Fprintf(out, "\nAdaptive memory: %d archived solution(s)\n", len(c.Memory.Archive))
	}
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := openCheckpointStore()
	if err != nil {
		return err
	}

	infos, err := st.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No checkpoints to clean.")
		return nil
	}

	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Println("No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - #%d (iteration %d, %s)\n",
			info.Number,
			info.Iteration,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := st.DeleteCheckpoint(info.Number); err != nil {
			slog.Error("Failed to delete checkpoint", "number", info.Number, "error", err)
			failed++
		} else {
			slog.Info("Deleted checkpoint", "number", info.Number)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}

// selectCheckpointsForDeletion applies the retention policy. A checkpoint is
// selected when it is older than olderThanDays or outside the newest keepLast.
// The result is ordered by checkpoint number.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast, olderThanDays int, now time.Time) []store.CheckpointInfo {
	selected := make(map[int]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				selected[info.Number] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.CheckpointInfo, len(infos))
		copy(sorted, infos)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
		for _, info := range sorted[:len(sorted)-keepLast] {
			selected[info.Number] = true
		}
	}

	var toDelete []store.CheckpointInfo
	for _, info := range infos {
		if selected[info.Number] {
			toDelete = append(toDelete, info)
		}
	}
	sort.Slice(toDelete, func(i, j int) bool { return toDelete[i].Number < toDelete[j].Number })
	return toDelete
}

func formatScore(score *float64) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *score)
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
