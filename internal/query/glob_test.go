package query

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"src/calc.py", "src/calc.py", true},
		{"src/calc.py", "src/other.py", false},

		// `*` stays within a segment.
		{"src/*.py", "src/calc.py", true},
		{"src/*.py", "src/sub/calc.py", false},
		{"src/*", "src/calc.py", true},
		{"*/calc.py", "src/calc.py", true},
		{"src/c*c.py", "src/calc.py", true},

		// `**` crosses segments, including zero of them.
		{"**/calc.py", "src/calc.py", true},
		{"**/calc.py", "calc.py", true},
		{"**/calc.py", "a/b/c/calc.py", true},
		{"src/**/*.py", "src/a/b/calc.py", true},
		{"src/**/*.py", "src/calc.py", true},
		{"src/**", "src/a/b/c.py", true},
		{"**", "anything/at/all", true},

		// `?` matches exactly one character.
		{"src/calc.p?", "src/calc.py", true},
		{"src/calc.?", "src/calc.py", false},
		{"src/????.py", "src/calc.py", true},
		{"src/???.py", "src/calc.py", false},

		{"tests/*.py", "src/calc.py", false},
		{"src", "src/calc.py", false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s vs %s", tt.pattern, tt.path), func(t *testing.T) {
			assert.Equal(t, tt.want, globMatch(tt.pattern, tt.path))
		})
	}
}

func TestGlobMatchStarBacktracking(t *testing.T) {
	assert.True(t, matchSegment("a*b*c", "aXbYbZc"))
	assert.False(t, matchSegment("a*b*c", "aXbY"))
	assert.True(t, matchSegment("*", ""))
	assert.True(t, matchSegment("**", "abc"), "doubled star within a segment degrades to star")
}
