package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverquery/coverquery/internal/config"
	"github.com/coverquery/coverquery/internal/runner"
)

// chdir moves into dir for the test and restores the old directory after.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestInitCreatesConfig(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	out, err := executeCommand(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")

	cfg, err := config.Load(filepath.Join(dir, config.DefaultConfigName), dir)
	require.NoError(t, err)
	assert.Contains(t, cfg.Store.Index, "-coverage")

	gitignore := filepath.Join(dir, runner.WorkDirName, ".gitignore")
	data, err := os.ReadFile(gitignore)
	require.NoError(t, err)
	assert.Equal(t, "*\n", string(data))
}

func TestInitRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	_, err := executeCommand(t, "init")
	require.NoError(t, err)

	out, err := executeCommand(t, "init")
	require.Error(t, err)
	assert.Contains(t, out, "--force")

	_, err = executeCommand(t, "init", "--force")
	require.NoError(t, err)
}

func TestInitCustomIndexName(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	_, err := executeCommand(t, "init", "--index", "myproj-cov")
	require.NoError(t, err)

	cfg, err := config.Load(filepath.Join(dir, config.DefaultConfigName), dir)
	require.NoError(t, err)
	assert.Equal(t, "myproj-cov", cfg.Store.Index)
}

func TestSanitizeIndexName(t *testing.T) {
	assert.Equal(t, "my-project", sanitizeIndexName("My Project"))
	assert.Equal(t, "proj_2", sanitizeIndexName("proj_2"))
	assert.Equal(t, "project", sanitizeIndexName(""))
}
