package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coverquery/coverquery/internal/config"
	"github.com/coverquery/coverquery/internal/runner"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	var force bool
	var indexName string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a coverquery.yaml in the current directory",
		Long: `Create a coverquery.yaml config file and the .coverquery work
directory. The index name defaults to "<directory>-coverage".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root := projectRoot()
			path := filepath.Join(root, config.DefaultConfigName)

			if _, err := os.Stat(path); err == nil && !force {
				errorf(cmd, "%s already exists (use --force to overwrite)", path)
				return fmt.Errorf("config exists")
			}

			if indexName == "" {
				abs, err := filepath.Abs(root)
				if err != nil {
					abs = root
				}
				indexName = sanitizeIndexName(filepath.Base(abs)) + "-coverage"
			}

			if err := os.WriteFile(path, []byte(config.DefaultYAML(indexName)), 0o644); err != nil {
				return err
			}

			workDir := filepath.Join(root, runner.WorkDirName)
			if err := os.MkdirAll(workDir, 0o755); err != nil {
				return err
			}
			// The work directory holds run output and locks; keep it out of
			// version control.
			gitignore := filepath.Join(workDir, ".gitignore")
			if _, err := os.Stat(gitignore); os.IsNotExist(err) {
				if err := os.WriteFile(gitignore, []byte("*\n"), 0o644); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (index: %s)\n", path, indexName)
			fmt.Fprintln(cmd.OutOrStdout(), "Next: review the store settings, then run 'coverquery run'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&indexName, "index", "", "Index name (default: <directory>-coverage)")

	return cmd
}

// sanitizeIndexName maps a directory name to a valid index name: lower
// case, no characters the store rejects.
func sanitizeIndexName(name string) string {
	out := make([]rune, 0, len(name))
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "project"
	}
	return string(out)
}
