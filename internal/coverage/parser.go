// Package coverage parses Cobertura XML reports and folds per-test reports
// into an aggregated line-coverage view.
package coverage

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"

	cqerrors "github.com/coverquery/coverquery/internal/errors"
)

// FileCoverage is the set of covered lines in a single source file.
type FileCoverage struct {
	Filename     string
	CoveredLines []int
}

// coberturaRoot mirrors the subset of the Cobertura schema we consume.
// Classes may appear nested under packages or directly under the root's
// packages element depending on the producer.
type coberturaRoot struct {
	XMLName  xml.Name           `xml:"coverage"`
	Packages []coberturaPackage `xml:"packages>package"`
}

type coberturaPackage struct {
	Classes []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Filename string          `xml:"filename,attr"`
	Lines    []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number int `xml:"number,attr"`
	Hits   int `xml:"hits,attr"`
}

// ParseReport reads a Cobertura XML report and returns per-file covered
// lines. Lines with zero hits are dropped, and files with no covered lines
// are omitted entirely. Line numbers are ascending and deduplicated.
func ParseReport(r io.Reader) ([]FileCoverage, error) {
	var root coberturaRoot
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&root); err != nil {
		return nil, cqerrors.New(cqerrors.ErrCodeReportMalformed,
			fmt.Sprintf("malformed coverage report: %v", err), err)
	}

	// A class can repeat for the same filename (one entry per class in the
	// file), so merge lines per filename before sorting.
	byFile := make(map[string]map[int]struct{})
	order := make([]string, 0)
	for _, pkg := range root.Packages {
		for _, cls := range pkg.Classes {
			if cls.Filename == "" {
				continue
			}
			lines, ok := byFile[cls.Filename]
			if !ok {
				lines = make(map[int]struct{})
				byFile[cls.Filename] = lines
				order = append(order, cls.Filename)
			}
			for _, ln := range cls.Lines {
				if ln.Hits > 0 && ln.Number > 0 {
					lines[ln.Number] = struct{}{}
				}
			}
		}
	}

	files := make([]FileCoverage, 0, len(order))
	for _, name := range order {
		lines := byFile[name]
		if len(lines) == 0 {
			continue
		}
		sorted := make([]int, 0, len(lines))
		for ln := range lines {
			sorted = append(sorted, ln)
		}
		sort.Ints(sorted)
		files = append(files, FileCoverage{Filename: name, CoveredLines: sorted})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
	return files, nil
}

// ParseReportFile parses the Cobertura report at path.
func ParseReportFile(path string) ([]FileCoverage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cqerrors.New(cqerrors.ErrCodeReportMissing,
				fmt.Sprintf("coverage report not found: %s", path), err)
		}
		return nil, cqerrors.Wrap(cqerrors.ErrCodeReportMalformed, err)
	}
	defer f.Close()
	return ParseReport(f)
}
