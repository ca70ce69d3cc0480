package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coverquery/coverquery/internal/runner"
)

// newIndexCmd creates the index command.
func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [run-dir]",
		Short: "Index an existing coverage run without re-running tests",
		Long: `Aggregate the per-test coverage reports of a run directory and
write them to the store. Without an argument the latest run under
.coverquery/runs is indexed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}

			var runDir string
			if len(args) == 1 {
				runDir = args[0]
			} else {
				runsDir := filepath.Join(cfg.ProjectRoot, runner.WorkDirName, "runs")
				runDir, err = runner.LatestRun(runsDir)
				if err != nil {
					errorf(cmd, "%v", err)
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Indexing run %s\n", runDir)
			return indexRun(cmd.Context(), cmd, cfg, runDir)
		},
	}
	return cmd
}

// runLabel derives the run label stored on documents from a run directory.
func runLabel(runDir string) string {
	return filepath.Base(runDir)
}
