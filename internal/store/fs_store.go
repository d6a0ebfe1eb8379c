package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/cwbudde/bctune/internal/param"
)

const (
	progressFile  = "progress.json"
	bestFile      = "best_config.json"
	checkpointDir = "checkpoints"
	// TempConfigDir holds the parameter files of in-flight artifacts.
	TempConfigDir = "temp_configs"
)

var checkpointName = regexp.MustCompile(`^checkpoint_(\d+)\.json$`)

// FSStore implements Store on an output directory:
//
//	<dir>/best_config.json
//	<dir>/progress.json
//	<dir>/checkpoints/checkpoint_NNNN.json
//
// Every write goes to a temp file in the target directory and is renamed into
// place, so concurrent readers see either the old or the new document.
type FSStore struct {
	dir string
}

// NewFSStore creates the output directory layout.
func NewFSStore(dir string) (*FSStore, error) {
	for _, d := range []string{dir, filepath.Join(dir, checkpointDir), filepath.Join(dir, TempConfigDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return &FSStore{dir: dir}, nil
}

// OpenFSStore opens an existing output directory without creating anything.
func OpenFSStore(dir string) (*FSStore, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{What: dir}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat output directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &FSStore{dir: dir}, nil
}

// Dir returns the output directory.
func (fs *FSStore) Dir() string {
	return fs.dir
}

// BestPath returns the path of the best configuration file.
func (fs *FSStore) BestPath() string {
	return filepath.Join(fs.dir, bestFile)
}

func (fs *FSStore) progressPath() string {
	return filepath.Join(fs.dir, progressFile)
}

func (fs *FSStore) checkpointPath(n int) string {
	return filepath.Join(fs.dir, checkpointDir, fmt.Sprintf("checkpoint_%04d.json", n))
}

// PreviousRun lists the files of an earlier run found in the directory:
// best config, progress, history and checkpoints.
func (fs *FSStore) PreviousRun() []string {
	var found []string
	for _, name := range []string{bestFile, progressFile, jsonlHistoryFile, sqliteHistoryFile} {
		if _, err := os.Stat(filepath.Join(fs.dir, name)); err == nil {
			found = append(found, name)
		}
	}
	entries, _ := os.ReadDir(filepath.Join(fs.dir, checkpointDir))
	for _, entry := range entries {
		if !entry.IsDir() && checkpointName.MatchString(entry.Name()) {
			found = append(found, filepath.Join(checkpointDir, entry.Name()))
		}
	}
	return found
}

// Clear removes every file PreviousRun reports.
func (fs *FSStore) Clear() error {
	for _, name := range fs.PreviousRun() {
		if err := os.Remove(filepath.Join(fs.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	slog.Debug("Previous run cleared", "dir", fs.dir)
	return nil
}

// SaveProgress atomically replaces progress.json.
func (fs *FSStore) SaveProgress(p *Progress) error {
	if p == nil {
		return fmt.Errorf("progress cannot be nil")
	}
	return writeJSONAtomic(fs.progressPath(), p)
}

// LoadProgress reads progress.json.
func (fs *FSStore) LoadProgress() (*Progress, error) {
	var p Progress
	if err := readJSON(fs.progressPath(), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveBest atomically replaces best_config.json. The file uses the template
// layout so it can be fed back as a reference or resume point.
func (fs *FSStore) SaveBest(cfg param.Configuration) error {
	if cfg.IsZero() {
		return fmt.Errorf("best configuration cannot be empty")
	}
	if err := writeJSONAtomic(fs.BestPath(), cfg); err != nil {
		return err
	}
	slog.Debug("Best configuration saved", "path", fs.BestPath())
	return nil
}

// LoadBest reads best_config.json.
func (fs *FSStore) LoadBest() (param.Configuration, error) {
	var cfg param.Configuration
	if err := readJSON(fs.BestPath(), &cfg); err != nil {
		return param.Configuration{}, err
	}
	return cfg, nil
}

// SaveCheckpoint validates and writes checkpoints/checkpoint_NNNN.json.
func (fs *FSStore) SaveCheckpoint(c *Checkpoint) error {
	if c == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	path := fs.checkpointPath(c.Number)
	if err := writeJSONAtomic(path, c); err != nil {
		return err
	}
	slog.Debug("Checkpoint saved", "number", c.Number, "path", path)
	return nil
}

// LoadCheckpoint reads checkpoint n.
func (fs *FSStore) LoadCheckpoint(n int) (*Checkpoint, error) {
	var c Checkpoint
	if err := readJSON(fs.checkpointPath(n), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCheckpoints returns checkpoint metadata ordered by number.
// Unreadable checkpoints are logged and skipped.
func (fs *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	dir := filepath.Join(fs.dir, checkpointDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []CheckpointInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		m := checkpointName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])

		c, err := fs.LoadCheckpoint(n)
		if err != nil {
			slog.Warn("Failed to load checkpoint for listing", "number", n, "error", err)
			continue
		}
		info := c.ToInfo()
		info.Number = n
		info.Path = filepath.Join(dir, entry.Name())
		if st, err := entry.Info(); err == nil {
			info.Size = st.Size()
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Number < infos[j].Number })
	slog.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes checkpoint n.
func (fs *FSStore) DeleteCheckpoint(n int) error {
	path := fs.checkpointPath(n)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{What: filepath.Base(path)}
		}
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	slog.Debug("Checkpoint deleted", "number", n, "path", path)
	return nil
}

// writeJSONAtomic writes v as indented JSON to a temp file beside path,
// syncs it and renames it over path.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &NotFoundError{What: filepath.Base(path)}
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to deserialize %s: %w", filepath.Base(path), err)
	}
	return nil
}
