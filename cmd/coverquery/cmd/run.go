package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/coverquery/coverquery/internal/config"
	"github.com/coverquery/coverquery/internal/coverage"
	"github.com/coverquery/coverquery/internal/index"
	"github.com/coverquery/coverquery/internal/revision"
	"github.com/coverquery/coverquery/internal/runner"
)

// newRunCmd creates the run command.
func newRunCmd() *cobra.Command {
	var skipIndex bool

	cmd := &cobra.Command{
		Use:   "run [test-id...]",
		Short: "Run tests under coverage and index the results",
		Long: `Run the test suite one test at a time under coverage
instrumentation, then index the per-test results into the store.

Without arguments the whole suite is discovered and run. Passing test
node IDs restricts the run to those tests.

Examples:
  coverquery run
  coverquery run tests/test_calc.py::test_add
  coverquery run --skip-index`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}
			return runAndIndex(cmd, cfg, args, skipIndex)
		},
	}

	cmd.Flags().BoolVar(&skipIndex, "skip-index", false, "Run tests but do not write to the store")

	return cmd
}

func runAndIndex(cmd *cobra.Command, cfg *config.Config, tests []string, skipIndex bool) error {
	ctx := cmd.Context()

	lock, err := runner.AcquireRunLock(cfg.ProjectRoot)
	if err != nil {
		errorf(cmd, "%v", err)
		return err
	}
	defer lock.Release()

	r := runner.NewRunner(cfg.ProjectRoot, cfg.TestFramework, cfg.TestsCommand, slog.Default())

	var manifest *runner.Manifest
	var runDir string
	if len(tests) > 0 {
		manifest, runDir, err = r.RunTests(ctx, tests)
	} else {
		manifest, runDir, err = r.RunAll(ctx)
	}
	if err != nil {
		errorf(cmd, "%v", err)
		return err
	}

	failed := 0
	for _, t := range manifest.Tests {
		if t.ReturnCode != 0 {
			failed++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ran %d tests (%d failed), results in %s\n",
		len(manifest.Tests), failed, runDir)

	if skipIndex {
		return nil
	}
	return indexRun(ctx, cmd, cfg, runDir)
}

// indexRun aggregates one run directory and writes it to the store.
func indexRun(ctx context.Context, cmd *cobra.Command, cfg *config.Config, runDir string) error {
	reports, err := runner.LoadReports(runDir, slog.Default())
	if err != nil {
		errorf(cmd, "%v", err)
		return err
	}
	agg := coverage.Aggregate(reports)

	client, err := newStoreClient(cfg)
	if err != nil {
		errorf(cmd, "%v", err)
		return err
	}
	writer := index.NewWriter(client, slog.Default())

	rev := revision.Detect(ctx, cfg.ProjectRoot)
	written, err := writer.Index(ctx, agg, index.RunMeta{
		Revision:      rev,
		RunLabel:      runLabel(runDir),
		TestFramework: cfg.TestFramework,
	})
	if err != nil {
		errorf(cmd, "%v", err)
		return err
	}

	if written == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No coverage observed; index left untouched")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d line documents at revision %s\n", written, rev)
	return nil
}
