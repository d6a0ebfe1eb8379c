package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/bctune/internal/store"
)

var (
	serverURL string
	statusDir string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress of a search",
	Long: `Queries the status API of a running search (run --listen) for its progress.
With --dir, reads progress.json and the evaluation history from an output
directory instead.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	statusCmd.Flags().StringVar(&statusDir, "dir", "", "Read progress.json from this output directory")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var (
		p   *store.Progress
		err error
	)
	if statusDir != "" {
		p, err = localProgress(statusDir)
	} else {
		p, err = fetchProgress(http.DefaultClient, serverURL)
	}
	if err != nil {
		return err
	}
	printProgress(os.Stdout, p, time.Now())

	if statusDir != "" {
		summary, err := historySummary(statusDir)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		default:
			fmt.Print(summary)
		}
	}
	return nil
}

// historySummary describes the evaluation history in dir, whichever backend
// wrote it.
func historySummary(dir string) (string, error) {
	h, err := store.DetectHistory(dir)
	if err != nil {
		return "", err
	}
	defer h.Close()

	entries, err := h.Entries()
	if err != nil {
		return "", fmt.Errorf("failed to read history: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\nHistory:     %d entries (%s)\n", len(entries), filepath.Base(h.Path()))
	if n := len(entries); n > 0 {
		last := entries[n-1]
		fmt.Fprintf(&b, "Last:        #%d %s=%d scored %.2f%%\n", last.Evaluation, last.Param, last.Value, last.Score)
	}
	return b.String(), nil
}

func localProgress(dir string) (*store.Progress, error) {
	st, err := store.OpenFSStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open output directory: %w", err)
	}
	p, err := st.LoadProgress()
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	return p, nil
}

func fetchProgress(client *http.Client, baseURL string) (*store.Progress, error) {
	url := strings.TrimRight(baseURL, "/") + "/api/v1/progress"
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}

	var p store.Progress
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &p, nil
}

func printProgress(w io.Writer, p *store.Progress, now time.Time) {
	fmt.Fprintf(w, "Iteration:   %d\n", p.Iteration)
	fmt.Fprintf(w, "Evaluations: %d\n", p.Evaluations)
	fmt.Fprintf(w, "Best score:  %s\n", formatScore(p.BestScore))
	if !p.LastUpdate.IsZero() {
		fmt.Fprintf(w, "Last update: %s (%s ago)\n",
			p.LastUpdate.Format("2006-01-02 15:04:05"),
			now.Sub(p.LastUpdate).Round(time.Second))
	}

	if p.BestConfig.Len() > 0 {
		fmt.Fprintln(w, "\nBest configuration:")
		for _, name := range p.BestConfig.Names() {
			fmt.Fprintf(w, "  %s = %d\n", name, p.BestConfig.Value(name))
		}
	}
}
