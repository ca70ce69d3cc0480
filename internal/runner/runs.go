package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/coverquery/coverquery/internal/coverage"
	cqerrors "github.com/coverquery/coverquery/internal/errors"
)

// ManifestName is the run manifest file written at the run directory root.
const ManifestName = "run.json"

// Manifest records what a run executed and how it went.
type Manifest struct {
	Timestamp     string       `json:"timestamp"`
	TestFramework string       `json:"test_framework"`
	TestsCommand  string       `json:"tests_command"`
	ReturnCode    int          `json:"return_code"`
	Tests         []TestResult `json:"tests"`
}

// TestResult is one test's entry in the manifest.
type TestResult struct {
	TestID     string `json:"test_id"`
	Dir        string `json:"dir"`
	ReturnCode int    `json:"return_code"`
	Error      string `json:"error,omitempty"`
}

// Write persists the manifest into runDir.
func (m *Manifest) Write(runDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return cqerrors.Wrap(cqerrors.ErrCodeInternal, err)
	}
	if err := os.WriteFile(filepath.Join(runDir, ManifestName), append(data, '\n'), 0o644); err != nil {
		return cqerrors.Wrap(cqerrors.ErrCodeInternal, err)
	}
	return nil
}

// ReadManifest loads the manifest from runDir.
func ReadManifest(runDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(runDir, ManifestName))
	if err != nil {
		return nil, cqerrors.New(cqerrors.ErrCodeRunMissing,
			fmt.Sprintf("no run manifest in %s", runDir), err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, cqerrors.New(cqerrors.ErrCodeRunMissing,
			fmt.Sprintf("unreadable run manifest in %s: %v", runDir, err), err)
	}
	return &m, nil
}

// FindRuns lists the run directories under runsDir, oldest first. The
// timestamped names make lexical order chronological.
func FindRuns(runsDir string) ([]string, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cqerrors.Wrap(cqerrors.ErrCodeRunMissing, err)
	}
	runs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, filepath.Join(runsDir, e.Name()))
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// LatestRun returns the newest run directory under runsDir.
func LatestRun(runsDir string) (string, error) {
	runs, err := FindRuns(runsDir)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", cqerrors.New(cqerrors.ErrCodeRunMissing,
			fmt.Sprintf("no coverage runs found under %s", runsDir), nil)
	}
	return runs[len(runs)-1], nil
}

// LoadReports parses every per-test coverage report in runDir into
// coverage reports, in parallel. A malformed or missing report skips that
// test with a warning rather than failing the whole run. The test ID comes
// from the nodeid file, falling back to the directory name.
func LoadReports(runDir string, logger *slog.Logger) ([]coverage.Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return nil, cqerrors.New(cqerrors.ErrCodeRunMissing,
			fmt.Sprintf("cannot read run directory %s", runDir), err)
	}

	loaders := make([]coverage.Loader, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(runDir, e.Name())
		loaders = append(loaders, func() (coverage.Report, error) {
			files, err := coverage.ParseReportFile(filepath.Join(dir, "coverage.xml"))
			if err != nil {
				logger.Warn("skipping unreadable test report", "dir", dir, "error", err)
				return coverage.Report{}, nil
			}
			return coverage.Report{TestID: readTestID(dir), Files: files}, nil
		})
	}

	results := make([]coverage.Report, len(loaders))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, load := range loaders {
		g.Go(func() error {
			r, err := load()
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reports := make([]coverage.Report, 0, len(results))
	for _, r := range results {
		if r.TestID != "" {
			reports = append(reports, r)
		}
	}
	return reports, nil
}

// readTestID returns the test ID recorded in dir's nodeid file, or the
// directory name when the file is absent.
func readTestID(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "nodeid"))
	if err != nil {
		return filepath.Base(dir)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return filepath.Base(dir)
	}
	return id
}
