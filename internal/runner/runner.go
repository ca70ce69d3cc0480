// Package runner executes the test suite one test at a time under coverage
// instrumentation and lays the results out on disk for indexing.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	cqerrors "github.com/coverquery/coverquery/internal/errors"
)

// WorkDirName is the per-project directory holding runs, logs, and the
// run lock.
const WorkDirName = ".coverquery"

// Runner drives per-test coverage runs for one project.
type Runner struct {
	// ProjectRoot is the directory tests run in.
	ProjectRoot string

	// Framework names the test runner integration. Only pytest is
	// implemented.
	Framework string

	// TestsCommand is recorded in the run manifest.
	TestsCommand string

	// Python is the interpreter used for pytest and coverage. Defaults
	// to "python3".
	Python string

	logger *slog.Logger
}

// NewRunner creates a Runner rooted at projectRoot. The logger may be nil.
func NewRunner(projectRoot, framework, testsCommand string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		ProjectRoot:  projectRoot,
		Framework:    framework,
		TestsCommand: testsCommand,
		Python:       "python3",
		logger:       logger,
	}
}

// RunsDir returns the directory run results are written under.
func (r *Runner) RunsDir() string {
	return filepath.Join(r.ProjectRoot, WorkDirName, "runs")
}

// Discover collects the test IDs of the suite without running it, via
// pytest's quiet collect-only output.
func (r *Runner) Discover(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, r.Python, "-m", "pytest", "--collect-only", "-q")
	cmd.Dir = r.ProjectRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	// pytest exits 5 when no tests are collected; that is an empty suite,
	// not a failure.
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 5 {
			return nil, cqerrors.New(cqerrors.ErrCodeRunMissing,
				fmt.Sprintf("test discovery failed: %v\n%s", err, out.String()), err)
		}
	}
	return parseCollectOutput(out.String()), nil
}

// parseCollectOutput extracts test node IDs from `pytest --collect-only -q`
// output. Node IDs are the lines before the blank separator; summary and
// warning lines are dropped.
func parseCollectOutput(out string) []string {
	ids := make([]string, 0)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if !strings.Contains(line, "::") {
			continue
		}
		ids = append(ids, line)
	}
	return ids
}

// RunAll discovers the suite and runs every test under coverage, writing
// one result directory per test plus a run manifest. A test failure is
// recorded in the manifest, not returned as an error: failed tests still
// produce usable coverage.
func (r *Runner) RunAll(ctx context.Context) (*Manifest, string, error) {
	tests, err := r.Discover(ctx)
	if err != nil {
		return nil, "", err
	}
	return r.RunTests(ctx, tests)
}

// RunTests runs the given test IDs under coverage.
func (r *Runner) RunTests(ctx context.Context, tests []string) (*Manifest, string, error) {
	runDir := filepath.Join(r.RunsDir(), time.Now().UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, "", cqerrors.Wrap(cqerrors.ErrCodeInternal, err)
	}

	manifest := &Manifest{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TestFramework: r.Framework,
		TestsCommand:  r.TestsCommand,
	}

	for i, testID := range tests {
		result := r.runOne(ctx, runDir, i, testID)
		manifest.Tests = append(manifest.Tests, result)
		if result.ReturnCode != 0 {
			manifest.ReturnCode = 1
		}
		r.logger.Info("test run complete",
			"test", testID, "return_code", result.ReturnCode, "dir", result.Dir)
	}

	if err := manifest.Write(runDir); err != nil {
		return nil, "", err
	}
	return manifest, runDir, nil
}

// runOne executes a single test under coverage in its own result
// directory and converts the raw coverage data to Cobertura XML.
func (r *Runner) runOne(ctx context.Context, runDir string, seq int, testID string) TestResult {
	dir := filepath.Join(runDir, TestDirName(seq, testID))
	result := TestResult{TestID: testID, Dir: filepath.Base(dir)}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.ReturnCode = -1
		result.Error = err.Error()
		return result
	}
	if err := os.WriteFile(filepath.Join(dir, "nodeid"), []byte(testID+"\n"), 0o644); err != nil {
		result.ReturnCode = -1
		result.Error = err.Error()
		return result
	}

	covFile := filepath.Join(dir, ".coverage")
	run := exec.CommandContext(ctx, r.Python, "-m", "coverage", "run", "-m", "pytest", "-q", testID)
	run.Dir = r.ProjectRoot
	run.Env = append(os.Environ(), "COVERAGE_FILE="+covFile)
	var out bytes.Buffer
	run.Stdout = &out
	run.Stderr = &out
	if err := run.Run(); err != nil {
		result.ReturnCode = exitCode(err)
	}

	xml := exec.CommandContext(ctx, r.Python, "-m", "coverage", "xml",
		"-o", filepath.Join(dir, "coverage.xml"))
	xml.Dir = r.ProjectRoot
	xml.Env = append(os.Environ(), "COVERAGE_FILE="+covFile)
	if err := xml.Run(); err != nil {
		result.Error = fmt.Sprintf("coverage xml failed: %v", err)
	}
	return result
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// TestDirName builds the per-test result directory name: a zero-padded
// sequence number plus the sanitized test ID, truncated to stay within
// filesystem name limits.
func TestDirName(seq int, testID string) string {
	sanitized := sanitizeTestID(testID)
	if len(sanitized) > 120 {
		sanitized = sanitized[:120]
	}
	return fmt.Sprintf("%05d_%s", seq, sanitized)
}

// sanitizeTestID maps a test node ID to a filesystem-safe name.
func sanitizeTestID(testID string) string {
	var b strings.Builder
	for _, c := range testID {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
