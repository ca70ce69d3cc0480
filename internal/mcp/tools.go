package mcp

import "github.com/coverquery/coverquery/internal/query"

// TestsForLineInput defines the input schema for the query_tests_for_line tool.
type TestsForLineInput struct {
	Filename string `json:"filename" jsonschema:"source file path relative to the project root"`
	Line     int    `json:"line" jsonschema:"1-based line number"`
	Revision string `json:"revision,omitempty" jsonschema:"revision to query, defaults to the current working revision"`
}

// TestsForLineOutput defines the output schema for the query_tests_for_line tool.
type TestsForLineOutput struct {
	Filename string   `json:"filename"`
	Line     int      `json:"line"`
	Revision string   `json:"revision"`
	Covered  bool     `json:"covered" jsonschema:"false when no test covers this line"`
	Tests    []string `json:"tests" jsonschema:"test IDs that executed this line"`
}

// LinesForTestInput defines the input schema for the query_lines_for_test tool.
type LinesForTestInput struct {
	TestID   string `json:"test_id" jsonschema:"test node ID, e.g. tests/test_calc.py::test_add"`
	Revision string `json:"revision,omitempty" jsonschema:"revision to query, defaults to the current working revision"`
}

// LinesForTestOutput defines the output schema for the query_lines_for_test tool.
type LinesForTestOutput struct {
	TestID     string           `json:"test_id"`
	Revision   string           `json:"revision"`
	Files      map[string][]int `json:"files" jsonschema:"covered line numbers per file"`
	TotalLines int              `json:"total_lines"`
}

// FileCoverageInput defines the input schema for the query_file_coverage tool.
type FileCoverageInput struct {
	Filename string `json:"filename" jsonschema:"source file path relative to the project root"`
	Revision string `json:"revision,omitempty" jsonschema:"revision to query, defaults to the current working revision"`
}

// FileCoverageOutput defines the output schema for the query_file_coverage tool.
type FileCoverageOutput struct {
	Filename     string           `json:"filename"`
	Revision     string           `json:"revision"`
	CoveredLines int              `json:"covered_lines"`
	TestCount    int              `json:"test_count"`
	Lines        []query.FileLine `json:"lines" jsonschema:"covered lines with the tests that cover each"`
}

// UncoveredLinesInput defines the input schema for the query_uncovered_lines tool.
type UncoveredLinesInput struct {
	Filename   string `json:"filename" jsonschema:"source file path relative to the project root"`
	TotalLines int    `json:"total_lines" jsonschema:"total line count of the file; the index only knows covered lines"`
	Revision   string `json:"revision,omitempty" jsonschema:"revision to query, defaults to the current working revision"`
}

// UncoveredLinesOutput defines the output schema for the query_uncovered_lines tool.
type UncoveredLinesOutput struct {
	Filename       string `json:"filename"`
	Revision       string `json:"revision"`
	UncoveredLines []int  `json:"uncovered_lines"`
}

// ListFilesInput defines the input schema for the list_covered_files tool.
type ListFilesInput struct {
	Revision string `json:"revision,omitempty" jsonschema:"revision to query, defaults to the current working revision"`
}

// ListFilesOutput defines the output schema for the list_covered_files tool.
type ListFilesOutput struct {
	Revision string   `json:"revision"`
	Files    []string `json:"files" jsonschema:"files with at least one covered line, sorted"`
}

// ListTestsInput defines the input schema for the list_indexed_tests tool.
type ListTestsInput struct {
	Revision string `json:"revision,omitempty" jsonschema:"revision to query, defaults to the current working revision"`
}

// ListTestsOutput defines the output schema for the list_indexed_tests tool.
type ListTestsOutput struct {
	Revision string   `json:"revision"`
	Tests    []string `json:"tests" jsonschema:"indexed test IDs, sorted"`
}

// FilesByPatternInput defines the input schema for the query_files_by_pattern tool.
type FilesByPatternInput struct {
	Pattern  string `json:"pattern" jsonschema:"path glob; * matches within a segment, ** across segments, ? one character"`
	Revision string `json:"revision,omitempty" jsonschema:"revision to query, defaults to the current working revision"`
}

// FilesByPatternOutput defines the output schema for the query_files_by_pattern tool.
type FilesByPatternOutput struct {
	Pattern  string            `json:"pattern"`
	Revision string            `json:"revision"`
	Files    []query.FileStats `json:"files" jsonschema:"per-file coverage stats for matching files"`
}

// RunTestsInput defines the input schema for the run_tests_with_coverage tool.
type RunTestsInput struct {
	Tests []string `json:"tests,omitempty" jsonschema:"test node IDs to run; empty runs the whole suite"`
}

// RunTestsOutput defines the output schema for the run_tests_with_coverage tool.
type RunTestsOutput struct {
	Revision         string `json:"revision"`
	RunDir           string `json:"run_dir"`
	TestsRun         int    `json:"tests_run"`
	TestsFailed      int    `json:"tests_failed"`
	DocumentsWritten int    `json:"documents_written"`
}

// IndexRunInput defines the input schema for the index_coverage_run tool.
type IndexRunInput struct {
	RunDir string `json:"run_dir,omitempty" jsonschema:"run directory to index; empty indexes the latest run"`
}

// IndexRunOutput defines the output schema for the index_coverage_run tool.
type IndexRunOutput struct {
	Revision         string `json:"revision"`
	RunDir           string `json:"run_dir"`
	ReportsLoaded    int    `json:"reports_loaded"`
	DocumentsWritten int    `json:"documents_written"`
}
