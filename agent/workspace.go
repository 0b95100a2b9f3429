package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// Workspace is the per-job checkout directory.
type Workspace struct {
	Dir string
}

// NewWorkspace creates "${root}/job-<id>", clearing any leftover directory
// from a crashed prior attempt on this id first.
func NewWorkspace(root string, jobID int64) (*Workspace, error) {
	dir := filepath.Join(root, fmt.Sprintf("job-%d", jobID))
	if err := os.RemoveAll(dir); err != nil {
		return nil, contracts.Wrap(contracts.KindFatal, err, "clearing stale workspace %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, contracts.Wrap(contracts.KindFatal, err, "creating workspace %s", dir)
	}
	return &Workspace{Dir: dir}, nil
}

// Cleanup removes the workspace directory. Called on every exit path.
func (w *Workspace) Cleanup() {
	os.RemoveAll(w.Dir)
}

// ManifestPath is the conventional location of foundry.toml within the
// workspace.
func (w *Workspace) ManifestPath() string {
	return filepath.Join(w.Dir, "foundry.toml")
}
