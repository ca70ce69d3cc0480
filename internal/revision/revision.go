// Package revision identifies the code revision a coverage run belongs to.
package revision

import (
	"context"
	"os/exec"
	"strings"
)

// Working is the revision label for an uncommitted or untracked tree.
// Working-revision coverage is replaced wholesale on each run; commit
// revisions accumulate.
const Working = "working"

// Detect returns the revision label for the project at root. A clean git
// checkout yields its HEAD commit hash; a dirty tree, a non-repository
// directory, or a missing git binary all yield Working.
func Detect(ctx context.Context, root string) string {
	head, err := git(ctx, root, "rev-parse", "HEAD")
	if err != nil || head == "" {
		return Working
	}
	porcelain, err := git(ctx, root, "status", "--porcelain")
	if err != nil || porcelain != "" {
		return Working
	}
	return head
}

func git(ctx context.Context, root string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", root}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
