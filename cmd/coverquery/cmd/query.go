package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/coverquery/coverquery/internal/query"
	"github.com/coverquery/coverquery/internal/revision"
)

// queryOptions holds CLI flags shared by the query subcommands.
type queryOptions struct {
	revision string
	format   string // "table", "json"
}

// newQueryCmd creates the query command and its subcommands.
func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the coverage index",
		Long: `Query the coverage index. All subcommands default to the current
working revision: the git HEAD commit when the tree is clean, the
special "working" revision otherwise.

Examples:
  coverquery query line src/calc.py 42
  coverquery query file src/calc.py
  coverquery query test tests/test_calc.py::test_add
  coverquery query uncovered src/calc.py 120
  coverquery query pattern 'src/**/*.py'
  coverquery query files
  coverquery query tests`,
	}

	cmd.PersistentFlags().StringVarP(&opts.revision, "revision", "r", "", "Revision to query (default: detected from git)")
	cmd.PersistentFlags().StringVarP(&opts.format, "format", "f", "", "Output format: table, json (default: table on a terminal)")

	cmd.AddCommand(newQueryLineCmd(&opts))
	cmd.AddCommand(newQueryFileCmd(&opts))
	cmd.AddCommand(newQueryStatsCmd(&opts))
	cmd.AddCommand(newQueryTestCmd(&opts))
	cmd.AddCommand(newQueryUncoveredCmd(&opts))
	cmd.AddCommand(newQueryPatternCmd(&opts))
	cmd.AddCommand(newQueryFilesCmd(&opts))
	cmd.AddCommand(newQueryTestsCmd(&opts))

	return cmd
}

// newQueryEngine loads config and builds the engine plus the resolved
// revision for one query invocation.
func newQueryEngine(ctx context.Context, cmd *cobra.Command, opts *queryOptions) (*query.Engine, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		errorf(cmd, "%v", err)
		return nil, "", err
	}
	client, err := newStoreClient(cfg)
	if err != nil {
		errorf(cmd, "%v", err)
		return nil, "", err
	}
	rev := opts.revision
	if rev == "" {
		rev = revision.Detect(ctx, cfg.ProjectRoot)
	}
	return query.NewEngine(client, nil), rev, nil
}

// useJSON decides the output format: explicit flag wins, otherwise JSON
// when stdout is not a terminal.
func useJSON(opts *queryOptions) bool {
	switch opts.format {
	case "json":
		return true
	case "table":
		return false
	}
	return !isatty.IsTerminal(os.Stdout.Fd())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func newQueryLineCmd(opts *queryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "line <file> <line>",
		Short: "Show which tests cover one line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := strconv.Atoi(args[1])
			if err != nil || line < 1 {
				errorf(cmd, "line must be a positive integer, got %q", args[1])
				return fmt.Errorf("invalid line")
			}

			engine, rev, err := newQueryEngine(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			res, err := engine.LineCoverage(cmd.Context(), args[0], line, rev)
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}

			if useJSON(opts) {
				if res == nil {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"filename": args[0], "line": line, "revision": rev,
						"covered": false, "tests": []string{},
					})
				}
				return printJSON(cmd.OutOrStdout(), res)
			}

			if res == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%d is not covered at revision %s\n", args[0], line, rev)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%d is covered by %d tests:\n", args[0], line, len(res.Tests))
			for _, t := range res.Tests {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", t)
			}
			return nil
		},
	}
}

func newQueryFileCmd(opts *queryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "file <file>",
		Short: "Show every covered line of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, rev, err := newQueryEngine(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			lines, err := engine.FileCoverage(cmd.Context(), args[0], rev)
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}

			if useJSON(opts) {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"filename": args[0], "revision": rev, "lines": lines,
				})
			}

			if len(lines) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No coverage for %s at revision %s\n", args[0], rev)
				return nil
			}
			table := newTable(cmd.OutOrStdout(), "Line", "Tests")
			for _, ln := range lines {
				table.Append([]string{strconv.Itoa(ln.Line), strings.Join(ln.Tests, ", ")})
			}
			table.Render()
			return nil
		},
	}
}

func newQueryStatsCmd(opts *queryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file>",
		Short: "Summarize a file's coverage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, rev, err := newQueryEngine(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			stats, err := engine.FileStatsFor(cmd.Context(), args[0], rev)
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}

			if useJSON(opts) {
				if stats == nil {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"filename": args[0], "revision": rev, "covered": false,
					})
				}
				return printJSON(cmd.OutOrStdout(), stats)
			}

			if stats == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No coverage for %s at revision %s\n", args[0], rev)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s at revision %s: %d covered lines, %d tests\n",
				stats.Filename, rev, stats.CoveredLines, stats.TestCount)
			for _, t := range stats.Tests {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", t)
			}
			return nil
		},
	}
}

func newQueryTestCmd(opts *queryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <test-id>",
		Short: "Show every line one test covers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, rev, err := newQueryEngine(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			cov, err := engine.TestCoverageFor(cmd.Context(), args[0], rev)
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}

			if useJSON(opts) {
				return printJSON(cmd.OutOrStdout(), cov)
			}

			if len(cov.Files) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No coverage recorded for %s at revision %s\n", args[0], rev)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s covers %d lines:\n", cov.TestID, cov.TotalLines)
			table := newTable(cmd.OutOrStdout(), "File", "Lines")
			for _, file := range sortedKeys(cov.Files) {
				table.Append([]string{file, formatLineRanges(cov.Files[file])})
			}
			table.Render()
			return nil
		},
	}
}

func newQueryUncoveredCmd(opts *queryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uncovered <file> <total-lines>",
		Short: "Show the lines of a file no test executes",
		Long: `Show uncovered lines. The file's total line count must be given:
the index only records covered lines, so the uncovered set is computed
against the stated file length.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := strconv.Atoi(args[1])
			if err != nil || total < 0 {
				errorf(cmd, "total-lines must be a non-negative integer, got %q", args[1])
				return fmt.Errorf("invalid total-lines")
			}

			engine, rev, err := newQueryEngine(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			uncovered, err := engine.UncoveredLines(cmd.Context(), args[0], rev, total)
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}

			if useJSON(opts) {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"filename": args[0], "revision": rev, "uncovered_lines": uncovered,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d lines uncovered: %s\n",
				len(uncovered), total, formatLineRanges(uncovered))
			return nil
		},
	}
}

func newQueryPatternCmd(opts *queryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pattern <glob>",
		Short: "Per-file coverage stats for files matching a path glob",
		Long: `Per-file coverage stats for files matching a glob. * matches
within a path segment, ** crosses segments, ? matches one character.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, rev, err := newQueryEngine(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			stats, err := engine.FilesByPattern(cmd.Context(), args[0], rev)
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}

			if useJSON(opts) {
				return printJSON(cmd.OutOrStdout(), stats)
			}

			if len(stats) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No covered files match %q at revision %s\n", args[0], rev)
				return nil
			}
			table := newTable(cmd.OutOrStdout(), "File", "Covered Lines", "Tests")
			for _, s := range stats {
				table.Append([]string{s.Filename, strconv.Itoa(s.CoveredLines), strconv.Itoa(s.TestCount)})
			}
			table.Render()
			return nil
		},
	}
}

func newQueryFilesCmd(opts *queryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List every covered file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, rev, err := newQueryEngine(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			files, err := engine.ListFiles(cmd.Context(), rev)
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}
			if useJSON(opts) {
				return printJSON(cmd.OutOrStdout(), map[string]any{"revision": rev, "files": files})
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}

func newQueryTestsCmd(opts *queryOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tests",
		Short: "List every indexed test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, rev, err := newQueryEngine(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			tests, err := engine.ListTests(cmd.Context(), rev)
			if err != nil {
				errorf(cmd, "%v", err)
				return err
			}
			if useJSON(opts) {
				return printJSON(cmd.OutOrStdout(), map[string]any{"revision": rev, "tests": tests})
			}
			for _, t := range tests {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatLineRanges renders sorted line numbers as compact ranges, e.g.
// "1-3, 7, 9-12".
func formatLineRanges(lines []int) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	start, prev := lines[0], lines[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		if start == prev {
			fmt.Fprintf(&b, "%d", start)
		} else {
			fmt.Fprintf(&b, "%d-%d", start, prev)
		}
	}
	for _, n := range lines[1:] {
		if n == prev+1 {
			prev = n
			continue
		}
		flush()
		start, prev = n, n
	}
	flush()
	return b.String()
}
