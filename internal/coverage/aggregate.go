package coverage

import (
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Report is the coverage produced by one test's run.
type Report struct {
	TestID string
	Files  []FileCoverage
}

type lineKey struct {
	filename string
	line     int
}

// Aggregation folds (test, file, line) observations into a per-line
// test-set index. The fold is a set union, so test order and duplicate
// observations do not affect the result.
type Aggregation struct {
	lines map[lineKey]map[string]struct{}
}

// NewAggregation returns an empty aggregation.
func NewAggregation() *Aggregation {
	return &Aggregation{lines: make(map[lineKey]map[string]struct{})}
}

// Add records that testID covered the given line of filename.
func (a *Aggregation) Add(filename string, line int, testID string) {
	key := lineKey{filename: filename, line: line}
	tests, ok := a.lines[key]
	if !ok {
		tests = make(map[string]struct{})
		a.lines[key] = tests
	}
	tests[testID] = struct{}{}
}

// AddReport folds one test's report into the aggregation.
func (a *Aggregation) AddReport(r Report) {
	for _, f := range r.Files {
		for _, ln := range f.CoveredLines {
			a.Add(f.Filename, ln, r.TestID)
		}
	}
}

// Len returns the number of distinct (filename, line) pairs.
func (a *Aggregation) Len() int { return len(a.lines) }

// Empty reports whether no coverage was observed.
func (a *Aggregation) Empty() bool { return len(a.lines) == 0 }

// Entry is one aggregated line with the sorted set of tests that cover it.
type Entry struct {
	Filename string
	Line     int
	Tests    []string
}

// Entries returns all aggregated lines ordered by filename then line,
// each with its test IDs sorted.
func (a *Aggregation) Entries() []Entry {
	entries := make([]Entry, 0, len(a.lines))
	for key, tests := range a.lines {
		sorted := make([]string, 0, len(tests))
		for t := range tests {
			sorted = append(sorted, t)
		}
		sort.Strings(sorted)
		entries = append(entries, Entry{Filename: key.filename, Line: key.line, Tests: sorted})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Filename != entries[j].Filename {
			return entries[i].Filename < entries[j].Filename
		}
		return entries[i].Line < entries[j].Line
	})
	return entries
}

// Aggregate folds reports into a fresh aggregation.
func Aggregate(reports []Report) *Aggregation {
	agg := NewAggregation()
	for _, r := range reports {
		agg.AddReport(r)
	}
	return agg
}

// Loader produces one test's report, typically by parsing its XML file.
type Loader func() (Report, error)

// AggregateParallel parses and folds reports concurrently. Parsing is the
// expensive part; the fold itself is serialized behind a mutex.
func AggregateParallel(loaders []Loader, workers int) (*Aggregation, error) {
	if workers < 1 {
		workers = 1
	}
	agg := NewAggregation()
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(workers)
	for _, load := range loaders {
		g.Go(func() error {
			r, err := load()
			if err != nil {
				return err
			}
			mu.Lock()
			agg.AddReport(r)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return agg, nil
}
