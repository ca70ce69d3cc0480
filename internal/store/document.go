package store

import "fmt"

// Document is one indexed coverage line: the set of tests that covered a
// specific line of a specific file at a specific revision.
type Document struct {
	Filename      string   `json:"filename"`
	Line          int      `json:"line"`
	Revision      string   `json:"revision"`
	RunLabel      string   `json:"run_label"`
	TestFramework string   `json:"test_framework"`
	Tests         []string `json:"tests"`
}

// ID returns the deterministic document identity. Writing the same
// (filename, line, revision) twice replaces the earlier document.
func (d Document) ID() string {
	return fmt.Sprintf("%s|%d|%s", d.Filename, d.Line, d.Revision)
}
