package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkspaceCreatesJobScopedDirectory(t *testing.T) {
	root := t.TempDir()

	w, err := NewWorkspace(root, 42)
	require.NoError(t, err)
	defer w.Cleanup()

	assert.Equal(t, filepath.Join(root, "job-42"), w.Dir)
	info, err := os.Stat(w.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewWorkspaceClearsLeftoverDirectoryFromCrashedAttempt(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "job-7")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stale := filepath.Join(dir, "leftover.txt")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	w, err := NewWorkspace(root, 7)
	require.NoError(t, err)
	defer w.Cleanup()

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "a stale file from a crashed prior attempt must not survive")
}

func TestWorkspaceManifestPathIsRootedAtDir(t *testing.T) {
	w := &Workspace{Dir: "/var/lib/foundry/workspaces/job-3"}
	assert.Equal(t, "/var/lib/foundry/workspaces/job-3/foundry.toml", w.ManifestPath())
}

func TestWorkspaceCleanupRemovesDirectory(t *testing.T) {
	root := t.TempDir()
	w, err := NewWorkspace(root, 1)
	require.NoError(t, err)

	w.Cleanup()

	_, err = os.Stat(w.Dir)
	assert.True(t, os.IsNotExist(err))
}
