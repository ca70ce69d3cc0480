package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/coverquery/coverquery/internal/config"
	"github.com/coverquery/coverquery/internal/coverage"
	"github.com/coverquery/coverquery/internal/index"
	"github.com/coverquery/coverquery/internal/query"
	"github.com/coverquery/coverquery/internal/revision"
	"github.com/coverquery/coverquery/internal/runner"
	"github.com/coverquery/coverquery/pkg/version"
)

// Server is the MCP server for CoverQuery. It exposes the coverage index
// to AI clients over JSON-RPC.
type Server struct {
	mcp    *mcp.Server
	engine *query.Engine
	writer *index.Writer
	runner *runner.Runner
	config *config.Config
	logger *slog.Logger
}

// NewServer creates a new MCP server.
func NewServer(engine *query.Engine, writer *index.Writer, run *runner.Runner, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("query engine is required")
	}
	if writer == nil {
		return nil, errors.New("index writer is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine: engine,
		writer: writer,
		runner: run,
		config: cfg,
		logger: logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "CoverQuery",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server, for transport wiring.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_tests_for_line",
		Description: "Find which tests execute a specific line of a source file. Use this to know what to re-run after editing a line, or to check whether a line is tested at all.",
	}, s.testsForLineHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_lines_for_test",
		Description: "Find every file and line a single test executes. Use this to understand a test's footprint before changing the code it touches.",
	}, s.linesForTestHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_file_coverage",
		Description: "List every covered line of a file with the tests covering each line. Use this for a per-file coverage picture.",
	}, s.fileCoverageHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_uncovered_lines",
		Description: "List the lines of a file no test executes. Requires the file's total line count, since the index only records covered lines.",
	}, s.uncoveredLinesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_covered_files",
		Description: "List every source file with at least one covered line at a revision.",
	}, s.listFilesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_indexed_tests",
		Description: "List every test ID present in the coverage index at a revision.",
	}, s.listTestsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_files_by_pattern",
		Description: "Per-file coverage stats for files matching a path glob (* within a segment, ** across segments, ? one character).",
	}, s.filesByPatternHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "run_tests_with_coverage",
		Description: "Run the test suite (or selected tests) one test at a time under coverage instrumentation, then index the results. Slow for large suites; prefer selected tests when iterating.",
	}, s.runTestsHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_coverage_run",
		Description: "Index an existing coverage run directory without re-running tests. Defaults to the latest run.",
	}, s.indexRunHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", 9))
}

// resolveRevision fills a defaulted revision from the project's git state.
func (s *Server) resolveRevision(ctx context.Context, rev string) string {
	if rev != "" {
		return rev
	}
	return revision.Detect(ctx, s.config.ProjectRoot)
}

func (s *Server) testsForLineHandler(ctx context.Context, _ *mcp.CallToolRequest, input TestsForLineInput) (
	*mcp.CallToolResult,
	TestsForLineOutput,
	error,
) {
	if input.Filename == "" {
		return nil, TestsForLineOutput{}, NewInvalidParamsError("filename parameter is required")
	}
	if input.Line < 1 {
		return nil, TestsForLineOutput{}, NewInvalidParamsError("line must be a positive 1-based line number")
	}

	rev := s.resolveRevision(ctx, input.Revision)
	res, err := s.engine.LineCoverage(ctx, input.Filename, input.Line, rev)
	if err != nil {
		return nil, TestsForLineOutput{}, MapError(err)
	}

	output := TestsForLineOutput{
		Filename: input.Filename,
		Line:     input.Line,
		Revision: rev,
		Tests:    []string{},
	}
	if res != nil {
		output.Covered = true
		output.Tests = res.Tests
	}
	return nil, output, nil
}

func (s *Server) linesForTestHandler(ctx context.Context, _ *mcp.CallToolRequest, input LinesForTestInput) (
	*mcp.CallToolResult,
	LinesForTestOutput,
	error,
) {
	if input.TestID == "" {
		return nil, LinesForTestOutput{}, NewInvalidParamsError("test_id parameter is required")
	}

	rev := s.resolveRevision(ctx, input.Revision)
	cov, err := s.engine.TestCoverageFor(ctx, input.TestID, rev)
	if err != nil {
		return nil, LinesForTestOutput{}, MapError(err)
	}
	return nil, LinesForTestOutput{
		TestID:     cov.TestID,
		Revision:   rev,
		Files:      cov.Files,
		TotalLines: cov.TotalLines,
	}, nil
}

func (s *Server) fileCoverageHandler(ctx context.Context, _ *mcp.CallToolRequest, input FileCoverageInput) (
	*mcp.CallToolResult,
	FileCoverageOutput,
	error,
) {
	if input.Filename == "" {
		return nil, FileCoverageOutput{}, NewInvalidParamsError("filename parameter is required")
	}

	rev := s.resolveRevision(ctx, input.Revision)
	lines, err := s.engine.FileCoverage(ctx, input.Filename, rev)
	if err != nil {
		return nil, FileCoverageOutput{}, MapError(err)
	}

	testSet := make(map[string]struct{})
	for _, ln := range lines {
		for _, t := range ln.Tests {
			testSet[t] = struct{}{}
		}
	}
	return nil, FileCoverageOutput{
		Filename:     input.Filename,
		Revision:     rev,
		CoveredLines: len(lines),
		TestCount:    len(testSet),
		Lines:        lines,
	}, nil
}

func (s *Server) uncoveredLinesHandler(ctx context.Context, _ *mcp.CallToolRequest, input UncoveredLinesInput) (
	*mcp.CallToolResult,
	UncoveredLinesOutput,
	error,
) {
	if input.Filename == "" {
		return nil, UncoveredLinesOutput{}, NewInvalidParamsError("filename parameter is required")
	}
	if input.TotalLines < 0 {
		return nil, UncoveredLinesOutput{}, NewInvalidParamsError("total_lines must not be negative")
	}

	rev := s.resolveRevision(ctx, input.Revision)
	uncovered, err := s.engine.UncoveredLines(ctx, input.Filename, rev, input.TotalLines)
	if err != nil {
		return nil, UncoveredLinesOutput{}, MapError(err)
	}
	return nil, UncoveredLinesOutput{
		Filename:       input.Filename,
		Revision:       rev,
		UncoveredLines: uncovered,
	}, nil
}

func (s *Server) listFilesHandler(ctx context.Context, _ *mcp.CallToolRequest, input ListFilesInput) (
	*mcp.CallToolResult,
	ListFilesOutput,
	error,
) {
	rev := s.resolveRevision(ctx, input.Revision)
	files, err := s.engine.ListFiles(ctx, rev)
	if err != nil {
		return nil, ListFilesOutput{}, MapError(err)
	}
	return nil, ListFilesOutput{Revision: rev, Files: files}, nil
}

func (s *Server) listTestsHandler(ctx context.Context, _ *mcp.CallToolRequest, input ListTestsInput) (
	*mcp.CallToolResult,
	ListTestsOutput,
	error,
) {
	rev := s.resolveRevision(ctx, input.Revision)
	tests, err := s.engine.ListTests(ctx, rev)
	if err != nil {
		return nil, ListTestsOutput{}, MapError(err)
	}
	return nil, ListTestsOutput{Revision: rev, Tests: tests}, nil
}

func (s *Server) filesByPatternHandler(ctx context.Context, _ *mcp.CallToolRequest, input FilesByPatternInput) (
	*mcp.CallToolResult,
	FilesByPatternOutput,
	error,
) {
	if input.Pattern == "" {
		return nil, FilesByPatternOutput{}, NewInvalidParamsError("pattern parameter is required")
	}

	rev := s.resolveRevision(ctx, input.Revision)
	stats, err := s.engine.FilesByPattern(ctx, input.Pattern, rev)
	if err != nil {
		return nil, FilesByPatternOutput{}, MapError(err)
	}
	return nil, FilesByPatternOutput{Pattern: input.Pattern, Revision: rev, Files: stats}, nil
}

func (s *Server) runTestsHandler(ctx context.Context, _ *mcp.CallToolRequest, input RunTestsInput) (
	*mcp.CallToolResult,
	RunTestsOutput,
	error,
) {
	if s.runner == nil {
		return nil, RunTestsOutput{}, &MCPError{
			Code:    ErrCodeRunFailed,
			Message: "test runner is not configured for this server",
		}
	}

	lock, err := runner.AcquireRunLock(s.config.ProjectRoot)
	if err != nil {
		return nil, RunTestsOutput{}, MapError(err)
	}
	defer lock.Release()

	var manifest *runner.Manifest
	var runDir string
	if len(input.Tests) > 0 {
		manifest, runDir, err = s.runner.RunTests(ctx, input.Tests)
	} else {
		manifest, runDir, err = s.runner.RunAll(ctx)
	}
	if err != nil {
		return nil, RunTestsOutput{}, MapError(err)
	}

	rev, _, written, err := s.indexRunDir(ctx, runDir)
	if err != nil {
		return nil, RunTestsOutput{}, MapError(err)
	}

	failed := 0
	for _, t := range manifest.Tests {
		if t.ReturnCode != 0 {
			failed++
		}
	}
	return nil, RunTestsOutput{
		Revision:         rev,
		RunDir:           runDir,
		TestsRun:         len(manifest.Tests),
		TestsFailed:      failed,
		DocumentsWritten: written,
	}, nil
}

func (s *Server) indexRunHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexRunInput) (
	*mcp.CallToolResult,
	IndexRunOutput,
	error,
) {
	runDir := input.RunDir
	if runDir == "" {
		latest, err := runner.LatestRun(filepath.Join(s.config.ProjectRoot, runner.WorkDirName, "runs"))
		if err != nil {
			return nil, IndexRunOutput{}, MapError(err)
		}
		runDir = latest
	}

	rev, loaded, written, err := s.indexRunDir(ctx, runDir)
	if err != nil {
		return nil, IndexRunOutput{}, MapError(err)
	}
	return nil, IndexRunOutput{
		Revision:         rev,
		RunDir:           runDir,
		ReportsLoaded:    loaded,
		DocumentsWritten: written,
	}, nil
}

// indexRunDir aggregates a run directory and writes it to the store,
// returning the revision indexed under, the report count, and the
// document count.
func (s *Server) indexRunDir(ctx context.Context, runDir string) (string, int, int, error) {
	reports, err := runner.LoadReports(runDir, s.logger)
	if err != nil {
		return "", 0, 0, err
	}
	agg := coverage.Aggregate(reports)

	rev := revision.Detect(ctx, s.config.ProjectRoot)
	meta := index.RunMeta{
		Revision:      rev,
		RunLabel:      filepath.Base(runDir),
		TestFramework: s.config.TestFramework,
	}
	written, err := s.writer.Index(ctx, agg, meta)
	return rev, len(reports), written, err
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
