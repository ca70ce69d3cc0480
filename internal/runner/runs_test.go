package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cqerrors "github.com/coverquery/coverquery/internal/errors"
)

const testReport = `<coverage><packages><package><classes>
  <class filename="src/calc.py"><lines>
    <line number="1" hits="1"/>
    <line number="2" hits="1"/>
  </lines></class>
</classes></package></packages></coverage>`

func writeTestDir(t *testing.T, runDir, name, nodeid, xml string) {
	t.Helper()
	dir := filepath.Join(runDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if nodeid != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "nodeid"), []byte(nodeid+"\n"), 0o644))
	}
	if xml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "coverage.xml"), []byte(xml), 0o644))
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{
		Timestamp:     "2026-08-31T10:00:00Z",
		TestFramework: "pytest",
		TestsCommand:  "pytest",
		ReturnCode:    1,
		Tests: []TestResult{
			{TestID: "tests/test_a.py::test_x", Dir: "00000_tests_test_a.py__test_x", ReturnCode: 0},
			{TestID: "tests/test_a.py::test_y", Dir: "00001_tests_test_a.py__test_y", ReturnCode: 1},
		},
	}
	require.NoError(t, m.Write(dir))

	got, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestReadManifestMissing(t *testing.T) {
	_, err := ReadManifest(t.TempDir())
	require.Error(t, err)
	assert.True(t, cqerrors.HasCode(err, cqerrors.ErrCodeRunMissing))
}

func TestFindRunsAndLatest(t *testing.T) {
	runsDir := t.TempDir()
	for _, name := range []string{"20260831T110000Z", "20260831T100000Z", "20260831T120000Z"} {
		require.NoError(t, os.MkdirAll(filepath.Join(runsDir, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(runsDir, "stray.txt"), []byte("x"), 0o644))

	runs, err := FindRuns(runsDir)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, filepath.Join(runsDir, "20260831T100000Z"), runs[0], "oldest first")

	latest, err := LatestRun(runsDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(runsDir, "20260831T120000Z"), latest)
}

func TestLatestRunEmpty(t *testing.T) {
	_, err := LatestRun(t.TempDir())
	require.Error(t, err)
	assert.True(t, cqerrors.HasCode(err, cqerrors.ErrCodeRunMissing))

	_, err = LatestRun(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestLoadReports(t *testing.T) {
	runDir := t.TempDir()
	writeTestDir(t, runDir, "00000_a", "tests/test_a.py::test_x", testReport)
	writeTestDir(t, runDir, "00001_b", "tests/test_a.py::test_y", testReport)

	reports, err := LoadReports(runDir, nil)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	byID := make(map[string]int)
	for _, r := range reports {
		byID[r.TestID] = len(r.Files)
	}
	assert.Equal(t, 1, byID["tests/test_a.py::test_x"])
	assert.Equal(t, 1, byID["tests/test_a.py::test_y"])
}

func TestLoadReportsSkipsMalformed(t *testing.T) {
	runDir := t.TempDir()
	writeTestDir(t, runDir, "00000_good", "tests/test_a.py::test_x", testReport)
	writeTestDir(t, runDir, "00001_bad", "tests/test_a.py::test_y", "<coverage><pack")
	writeTestDir(t, runDir, "00002_missing", "tests/test_a.py::test_z", "")

	reports, err := LoadReports(runDir, nil)
	require.NoError(t, err, "bad test dirs are skipped, not fatal")
	require.Len(t, reports, 1)
	assert.Equal(t, "tests/test_a.py::test_x", reports[0].TestID)
}

func TestLoadReportsNodeIDFallback(t *testing.T) {
	runDir := t.TempDir()
	writeTestDir(t, runDir, "00000_no_nodeid", "", testReport)

	reports, err := LoadReports(runDir, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "00000_no_nodeid", reports[0].TestID, "directory name stands in for a lost nodeid")
}

func TestRunLock(t *testing.T) {
	root := t.TempDir()

	lock, err := AcquireRunLock(root)
	require.NoError(t, err)

	_, err = AcquireRunLock(root)
	require.Error(t, err, "second acquisition in the same process fails")

	require.NoError(t, lock.Release())

	lock2, err := AcquireRunLock(root)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}
