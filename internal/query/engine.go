// Package query answers coverage questions against the document store.
package query

import (
	"context"
	"log/slog"
	"sort"

	"github.com/coverquery/coverquery/internal/store"
)

// maxDocs caps the documents fetched per search. Results beyond the cap
// are silently absent, matching the store's own aggregation behavior.
const maxDocs = 10000

// maxTermValues caps the distinct values returned by list queries.
const maxTermValues = 10000

// Engine runs coverage queries against one index of the store.
type Engine struct {
	store  *store.Client
	logger *slog.Logger
}

// NewEngine creates a query engine. The logger may be nil.
func NewEngine(client *store.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: client, logger: logger}
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func boolMust(clauses ...map[string]any) map[string]any {
	return map[string]any{"bool": map[string]any{"must": clauses}}
}

// LineResult is the coverage of one line.
type LineResult struct {
	Filename      string   `json:"filename"`
	Line          int      `json:"line"`
	Tests         []string `json:"tests"`
	RunLabel      string   `json:"run_label,omitempty"`
	TestFramework string   `json:"test_framework,omitempty"`
}

// LineCoverage returns the tests covering one line, or nil when the line
// has no coverage at the given revision.
func (e *Engine) LineCoverage(ctx context.Context, filename string, line int, rev string) (*LineResult, error) {
	docs, err := e.store.Search(ctx, boolMust(
		term("filename", filename),
		term("line", line),
		term("revision", rev),
	), 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	d := docs[0]
	return &LineResult{
		Filename:      d.Filename,
		Line:          d.Line,
		Tests:         d.Tests,
		RunLabel:      d.RunLabel,
		TestFramework: d.TestFramework,
	}, nil
}

// FileLine pairs a line number with the tests covering it.
type FileLine struct {
	Line  int      `json:"line"`
	Tests []string `json:"tests"`
}

// FileCoverage returns every covered line of a file at a revision, in
// ascending line order. An unknown file yields an empty slice.
func (e *Engine) FileCoverage(ctx context.Context, filename, rev string) ([]FileLine, error) {
	docs, err := e.store.Search(ctx, boolMust(
		term("filename", filename),
		term("revision", rev),
	), maxDocs)
	if err != nil {
		return nil, err
	}
	lines := make([]FileLine, 0, len(docs))
	for _, d := range docs {
		lines = append(lines, FileLine{Line: d.Line, Tests: d.Tests})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Line < lines[j].Line })
	return lines, nil
}

// FileStats summarizes a file's coverage.
type FileStats struct {
	Filename     string   `json:"filename"`
	CoveredLines int      `json:"covered_lines"`
	TestCount    int      `json:"test_count"`
	Tests        []string `json:"tests"`
}

// FileStatsFor returns covered-line and distinct-test counts for a file,
// or nil when the file has no covered lines at the given revision.
func (e *Engine) FileStatsFor(ctx context.Context, filename, rev string) (*FileStats, error) {
	lines, err := e.FileCoverage(ctx, filename, rev)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	stats := statsFromLines(filename, lines)
	return &stats, nil
}

func statsFromLines(filename string, lines []FileLine) FileStats {
	testSet := make(map[string]struct{})
	for _, ln := range lines {
		for _, t := range ln.Tests {
			testSet[t] = struct{}{}
		}
	}
	tests := make([]string, 0, len(testSet))
	for t := range testSet {
		tests = append(tests, t)
	}
	sort.Strings(tests)
	return FileStats{
		Filename:     filename,
		CoveredLines: len(lines),
		TestCount:    len(tests),
		Tests:        tests,
	}
}

// TestCoverage is everything one test covers at a revision.
type TestCoverage struct {
	TestID     string           `json:"test_id"`
	Files      map[string][]int `json:"files"`
	TotalLines int              `json:"total_lines"`
}

// TestCoverageFor returns the files and lines covered by one test. An
// unknown test yields an empty Files map rather than an error.
func (e *Engine) TestCoverageFor(ctx context.Context, testID, rev string) (TestCoverage, error) {
	docs, err := e.store.Search(ctx, boolMust(
		term("tests", testID),
		term("revision", rev),
	), maxDocs)
	if err != nil {
		return TestCoverage{}, err
	}

	files := make(map[string][]int)
	total := 0
	for _, d := range docs {
		files[d.Filename] = append(files[d.Filename], d.Line)
		total++
	}
	for name := range files {
		sort.Ints(files[name])
	}
	return TestCoverage{TestID: testID, Files: files, TotalLines: total}, nil
}

// ListFiles returns the distinct covered files at a revision, sorted.
// The list is capped; files beyond the cap are silently absent.
func (e *Engine) ListFiles(ctx context.Context, rev string) ([]string, error) {
	files, err := e.store.TermValues(ctx, "filename", rev, maxTermValues)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ListTests returns the distinct indexed test IDs at a revision, sorted.
// The list is capped; tests beyond the cap are silently absent.
func (e *Engine) ListTests(ctx context.Context, rev string) ([]string, error) {
	tests, err := e.store.TermValues(ctx, "tests", rev, maxTermValues)
	if err != nil {
		return nil, err
	}
	sort.Strings(tests)
	return tests, nil
}

// UncoveredLines returns the lines of [1, totalLines] with no coverage at
// the revision. The caller supplies the file's total line count; the index
// only knows covered lines. A zero totalLines yields an empty result.
func (e *Engine) UncoveredLines(ctx context.Context, filename, rev string, totalLines int) ([]int, error) {
	if totalLines <= 0 {
		return []int{}, nil
	}
	lines, err := e.FileCoverage(ctx, filename, rev)
	if err != nil {
		return nil, err
	}
	covered := make(map[int]struct{}, len(lines))
	for _, ln := range lines {
		covered[ln.Line] = struct{}{}
	}
	uncovered := make([]int, 0, totalLines-len(covered))
	for i := 1; i <= totalLines; i++ {
		if _, ok := covered[i]; !ok {
			uncovered = append(uncovered, i)
		}
	}
	return uncovered, nil
}

// FilesByPattern returns per-file stats for every covered file whose path
// matches the glob pattern. The match runs client-side over the file list:
// the store's keyword fields cannot express segment globs.
func (e *Engine) FilesByPattern(ctx context.Context, pattern, rev string) ([]FileStats, error) {
	files, err := e.ListFiles(ctx, rev)
	if err != nil {
		return nil, err
	}
	matched := make([]string, 0)
	for _, f := range files {
		if globMatch(pattern, f) {
			matched = append(matched, f)
		}
	}
	if len(matched) == 0 {
		return []FileStats{}, nil
	}

	docs, err := e.store.Search(ctx, boolMust(
		map[string]any{"terms": map[string]any{"filename": matched}},
		term("revision", rev),
	), maxDocs)
	if err != nil {
		return nil, err
	}

	byFile := make(map[string][]FileLine)
	for _, d := range docs {
		byFile[d.Filename] = append(byFile[d.Filename], FileLine{Line: d.Line, Tests: d.Tests})
	}
	stats := make([]FileStats, 0, len(matched))
	for _, f := range matched {
		stats = append(stats, statsFromLines(f, byFile[f]))
	}
	return stats, nil
}
