package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = w.Stop() })

	go func() { _ = w.Start(ctx, root) }()
	// Let the initial recursive watch registration settle.
	time.Sleep(100 * time.Millisecond)
	return w
}

func waitForBatch(t *testing.T, w *Watcher) []FileEvent {
	t.Helper()
	select {
	case batch := <-w.Events():
		return batch
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for events")
		return nil
	}
}

func TestWatcherDetectsPythonFileChange(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.py"), []byte("x = 1\n"), 0o644))

	batch := waitForBatch(t, w)
	require.NotEmpty(t, batch)
	assert.Equal(t, "calc.py", batch[0].Path)
}

func TestWatcherIgnoresNonPythonFiles(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.py"), []byte("x = 1\n"), 0o644))

	batch := waitForBatch(t, w)
	for _, e := range batch {
		assert.Equal(t, "calc.py", e.Path, "only python files emit events")
	}
}

func TestWatcherIgnoresWorkDirectories(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{".coverquery", "__pycache__"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".coverquery", "state.py"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "__pycache__", "calc.py"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "calc.py"), []byte("x = 1\n"), 0o644))

	batch := waitForBatch(t, w)
	for _, e := range batch {
		assert.Equal(t, "calc.py", e.Path)
	}
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	sub := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "calc.py"), []byte("x = 1\n"), 0o644))

	batch := waitForBatch(t, w)
	found := false
	for _, e := range batch {
		if e.Path == filepath.Join("src", "calc.py") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestShouldIgnore(t *testing.T) {
	w, err := New(Options{}, nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.shouldIgnore(".git/HEAD"))
	assert.True(t, w.shouldIgnore(".coverquery/runs/x"))
	assert.True(t, w.shouldIgnore("src/__pycache__/calc.py"))
	assert.True(t, w.shouldIgnore("src/calc.py~"))
	assert.True(t, w.shouldIgnore("src/.calc.py.swp"))
	assert.False(t, w.shouldIgnore("src/calc.py"))
}
