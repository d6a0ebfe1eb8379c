package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArtifactPrefix marks identifiers that are safe to delete.
const ArtifactPrefix = "tmp"

// Remover deletes materialized artifacts and their parameter files.
type Remover struct {
	// ArtifactDir contains one directory per artifact.
	ArtifactDir string
	// ParamDir contains <target>.json parameter files.
	ParamDir string
}

// Remove implements eval.Remover. Missing targets are not an error.
// Identifiers without ArtifactPrefix are refused so a bad id can never
// delete a hand-written bot.
func (r *Remover) Remove(_ context.Context, targetID string) error {
	if !strings.HasPrefix(targetID, ArtifactPrefix) || strings.ContainsAny(targetID, `/\`) || targetID == ArtifactPrefix {
		return fmt.Errorf("refusing to remove %q: not a temporary artifact", targetID)
	}
	if err := os.RemoveAll(filepath.Join(r.ArtifactDir, targetID)); err != nil {
		return fmt.Errorf("remove artifact %s: %w", targetID, err)
	}
	if err := os.Remove(filepath.Join(r.ParamDir, targetID+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove parameter file %s: %w", targetID, err)
	}
	return nil
}
