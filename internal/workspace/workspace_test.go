package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapequeue/internal/task"
)

// TestDirNameModes checks both naming modes strip separators and colons.
func TestDirNameModes(t *testing.T) {
	t.Parallel()

	item := task.WorkItem{Index: 4, Identifier: "https://example.com//shop/item?id=7"}
	assert.Equal(t, "5", DirName(item, true))

	name := DirName(item, false)
	assert.NotEmpty(t, name)
	assert.Contains(t, name, "example")
	assert.Contains(t, name, "shop")
	assert.NotContains(t, name, "/")
	assert.NotContains(t, name, ":")
	assert.NotContains(t, name, `\`)
}

// TestDirNameFallsBackToOrdinal covers identifiers that sanitize to nothing.
func TestDirNameFallsBackToOrdinal(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1", DirName(task.WorkItem{Index: 0, Identifier: "://"}, false))
	assert.Equal(t, "3", DirName(task.WorkItem{Index: 2, Identifier: ".."}, false))
}

// TestDirNameTruncates keeps names within filesystem limits.
func TestDirNameTruncates(t *testing.T) {
	t.Parallel()

	long := "https://example.com/" + strings.Repeat("a", 500)
	assert.LessOrEqual(t, len(DirName(task.WorkItem{Identifier: long}, false)), maxNameBytes)
}

// TestAcquireUniqueNames verifies duplicates in the queue get distinct directories.
func TestAcquireUniqueNames(t *testing.T) {
	t.Parallel()

	for _, numeric := range []bool{false, true} {
		mgr, err := NewManager(Config{Root: t.TempDir(), Numeric: numeric})
		require.NoError(t, err)

		items := []task.WorkItem{
			{Index: 0, Identifier: "http://a.com/x"},
			{Index: 1, Identifier: "http://a.com/x"},
			{Index: 2, Identifier: "http://a.com//x"},
			{Index: 3, Identifier: "http://b.com"},
		}
		seen := map[string]bool{}
		for _, item := range items {
			ws, err := mgr.Acquire(item)
			require.NoError(t, err)
			require.False(t, seen[ws.Name()], "duplicate name %s", ws.Name())
			seen[ws.Name()] = true
			assert.NotContains(t, ws.Name(), "/")
			assert.NotContains(t, ws.Name(), ":")
			assert.DirExists(t, ws.Path())
			assert.Equal(t, filepath.Join(mgr.Root(), ws.Name()), ws.Path())
			ws.Release()
		}
		require.Len(t, seen, len(items))
	}
}

// TestAcquireIsExclusive allows only one outstanding lease.
func TestAcquireIsExclusive(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(Config{Root: t.TempDir(), Numeric: true})
	require.NoError(t, err)

	first, err := mgr.Acquire(task.WorkItem{Index: 0, Identifier: "http://a"})
	require.NoError(t, err)
	require.True(t, mgr.Active())

	_, err = mgr.Acquire(task.WorkItem{Index: 1, Identifier: "http://b"})
	require.ErrorIs(t, err, ErrWorkspaceBusy)

	first.Release()
	first.Release()
	require.False(t, mgr.Active())

	second, err := mgr.Acquire(task.WorkItem{Index: 1, Identifier: "http://b"})
	require.NoError(t, err)
	require.Equal(t, "2", second.Name())
	second.Release()
}

// TestAcquireIdempotentDirectory reuses an existing directory on disk.
func TestAcquireIdempotentDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "1"), 0o750))
	mgr, err := NewManager(Config{Root: root, Numeric: true})
	require.NoError(t, err)

	ws, err := mgr.Acquire(task.WorkItem{Index: 0, Identifier: "http://a"})
	require.NoError(t, err)
	defer ws.Release()
	require.Equal(t, "1", ws.Name())
}

// TestPutWritesInsideWorkspace checks writes land in the task directory.
func TestPutWritesInsideWorkspace(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(Config{Root: t.TempDir(), Numeric: true})
	require.NoError(t, err)
	ws, err := mgr.Acquire(task.WorkItem{Index: 0, Identifier: "http://a"})
	require.NoError(t, err)
	defer ws.Release()

	path, err := ws.Put(context.Background(), "result.json", "application/json", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(ws.Path(), "result.json"), path)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{}", string(data))

	_, err = ws.Put(context.Background(), "../outside.json", "application/json", []byte(`{}`))
	require.Error(t, err)
}
