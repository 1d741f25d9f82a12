// Package git creates the branch and worktree that accompany a new manifest
// entry. It shells out to the git binary.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Error is returned when a git command fails. Detail carries git's stderr
// (or stdout when stderr is empty).
type Error struct {
	Args   []string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git %s failed: %s", strings.Join(e.Args, " "), e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// run executes git in dir and returns trimmed stdout.
func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) // #nosec G204 - fixed binary, args built by this package
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			detail = err.Error()
		}
		return "", &Error{Args: args, Detail: detail, Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RepoRoot returns the top-level directory of the repository containing dir.
func RepoRoot(ctx context.Context, dir string) (string, error) {
	root, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	if root == "" {
		return "", fmt.Errorf("unable to determine git repo root")
	}
	return root, nil
}

// BranchExists reports whether ref resolves in the repository at root.
func BranchExists(ctx context.Context, root, branch string) bool {
	_, err := run(ctx, root, "rev-parse", "--verify", "--quiet", branch)
	return err == nil
}
