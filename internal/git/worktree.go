package git

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const maxSlugLen = 63

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a ticket title into a branch name.
func Slugify(label string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(label), "-"), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "ticket"
	}
	return slug
}

// RepoID is a short stable identifier for a repository root, used to keep
// worktrees of different repositories apart under one base directory.
func RepoID(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:8]
}

// WorktreeOptions controls CreateWorktree.
type WorktreeOptions struct {
	// Label is slugified into the branch name.
	Label string
	// Dir is any directory inside the source repository.
	Dir string
	// BaseDir holds worktrees, one subdirectory per repository.
	BaseDir string
	// BaseBranch is the starting point; empty means the current HEAD.
	BaseBranch string
}

// Worktree describes a created branch and its checkout.
type Worktree struct {
	Branch string
	Path   string
}

// CreateWorktree picks an unused branch name derived from Label (adding -1,
// -2, ... on collisions) and runs `git worktree add -b`.
func CreateWorktree(ctx context.Context, opts WorktreeOptions) (*Worktree, error) {
	root, err := RepoRoot(ctx, opts.Dir)
	if err != nil {
		return nil, err
	}
	repoDir := filepath.Join(opts.BaseDir, RepoID(root))
	if err := os.MkdirAll(repoDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	branch, path := uniqueBranch(ctx, root, repoDir, Slugify(opts.Label))

	args := []string{"worktree", "add", "-b", branch, path}
	if opts.BaseBranch != "" {
		args = append(args, opts.BaseBranch)
	}
	if _, err := run(ctx, root, args...); err != nil {
		return nil, err
	}
	return &Worktree{Branch: branch, Path: path}, nil
}

func uniqueBranch(ctx context.Context, root, repoDir, base string) (string, string) {
	for attempt := 0; ; attempt++ {
		branch := base
		if attempt > 0 {
			branch = base + "-" + strconv.Itoa(attempt)
		}
		path := filepath.Join(repoDir, strings.ReplaceAll(branch, "/", "-"))
		if BranchExists(ctx, root, branch) {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		return branch, path
	}
}
