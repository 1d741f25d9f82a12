// Package checks reports the CI status of the branches recorded in manifest
// entries. It asks the GitHub CLI (`gh pr checks`) from each entry's
// worktree and folds the per-check buckets into one status.
package checks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the overall result for one branch.
type Status string

const (
	StatusPass             Status = "pass"
	StatusFail             Status = "fail"
	StatusPending          Status = "pending"
	StatusCancelled        Status = "cancelled"
	StatusSkipped          Status = "skipped"
	StatusNoChecks         Status = "no_checks"
	StatusUnknown          Status = "unknown"
	StatusError            Status = "error"
	StatusMissingBranch    Status = "missing_branch"
	StatusMissingWorktree  Status = "missing_worktree"
	StatusWorktreeNotFound Status = "worktree_not_found"
	StatusGHMissing        Status = "gh_missing"
	StatusParseError       Status = "parse_error"
)

const (
	// gh exits 8 when checks are still pending.
	ghPendingExitCode = 8
	defaultWorkers    = 4
	checksJSONFields  = "name,state,bucket,workflow"
)

// Check is one CI check as gh reports it.
type Check struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	State    string `json:"state,omitempty" yaml:"state,omitempty"`
	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Workflow string `json:"workflow,omitempty" yaml:"workflow,omitempty"`
}

// Result is what gets recorded under an entry's tests key.
type Result struct {
	CheckedAt     string  `json:"checked_at" yaml:"checked_at"`
	Status        Status  `json:"pass_or_fail" yaml:"pass_or_fail"`
	FailureReason string  `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	Branch        string  `json:"branch,omitempty" yaml:"branch,omitempty"`
	Worktree      string  `json:"worktree,omitempty" yaml:"worktree,omitempty"`
	Details       []Check `json:"details,omitempty" yaml:"details,omitempty"`
	ExitCode      *int    `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Message       string  `json:"message,omitempty" yaml:"message,omitempty"`
}

// Record returns r as plain values, ready to store in a manifest entry.
func (r *Result) Record() map[string]any {
	m := map[string]any{
		"checked_at":   r.CheckedAt,
		"pass_or_fail": string(r.Status),
	}
	set := func(key, v string) {
		if v != "" {
			m[key] = v
		}
	}
	set("failure_reason", r.FailureReason)
	set("branch", r.Branch)
	set("worktree", r.Worktree)
	set("message", r.Message)
	if r.ExitCode != nil {
		m["exit_code"] = *r.ExitCode
	}
	if len(r.Details) > 0 {
		details := make([]map[string]any, len(r.Details))
		for i, c := range r.Details {
			d := map[string]any{}
			for k, v := range map[string]string{"name": c.Name, "state": c.State, "bucket": c.Bucket, "workflow": c.Workflow} {
				if v != "" {
					d[k] = v
				}
			}
			details[i] = d
		}
		m["details"] = details
	}
	return m
}

// Summarize folds check buckets into one status. Buckets rank
// fail > pending > cancel > skipping > pass; with no buckets the gh exit
// code decides.
func Summarize(checks []Check, exitCode int) Status {
	buckets := make(map[string]bool, len(checks))
	for _, c := range checks {
		if c.Bucket != "" {
			buckets[strings.ToLower(c.Bucket)] = true
		}
	}
	for _, b := range []struct {
		bucket string
		status Status
	}{
		{"fail", StatusFail},
		{"pending", StatusPending},
		{"cancel", StatusCancelled},
		{"skipping", StatusSkipped},
		{"pass", StatusPass},
	} {
		if buckets[b.bucket] {
			return b.status
		}
	}
	switch {
	case len(checks) > 0:
		return StatusUnknown
	case exitCode == ghPendingExitCode:
		return StatusPending
	case exitCode == 0:
		return StatusNoChecks
	default:
		return StatusError
	}
}

// Output is the captured result of one gh invocation.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner lists the checks of branch from dir. A non-nil error means the
// command could not run at all; a non-zero exit is reported in Output.
type Runner func(ctx context.Context, dir, branch string) (Output, error)

// GH runs `gh pr checks <branch> --json name,state,bucket,workflow`.
func GH(ctx context.Context, dir, branch string) (Output, error) {
	cmd := exec.CommandContext(ctx, "gh", "pr", "checks", branch, "--json", checksJSONFields) // #nosec G204 - fixed binary, branch from the user's manifest
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	out := Output{Stdout: strings.TrimSpace(stdout.String()), Stderr: strings.TrimSpace(stderr.String())}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}

// Target is a branch and the worktree to ask about it from.
type Target struct {
	Branch   string
	Worktree string
}

// ResolveWorktree expands ~ and makes a relative worktree path relative to
// the manifest that names it.
func ResolveWorktree(manifestPath, worktree string) string {
	switch {
	case worktree == "":
		return ""
	case worktree == "~" || strings.HasPrefix(worktree, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(worktree[1:], "/"))
		}
		return worktree
	case filepath.IsAbs(worktree) || manifestPath == "":
		return worktree
	default:
		return filepath.Join(filepath.Dir(manifestPath), worktree)
	}
}

// Checker evaluates targets.
type Checker struct {
	Run Runner
	Now func() time.Time
}

// NewChecker returns a Checker that shells out to gh.
func NewChecker() *Checker {
	return &Checker{Run: GH, Now: time.Now}
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Evaluate checks one target. Problems are reported in the Result rather
// than returned, so one bad entry never hides the others.
func (c *Checker) Evaluate(ctx context.Context, t Target) Result {
	r := Result{CheckedAt: c.now().UTC().Format(time.RFC3339)}
	if t.Branch == "" {
		r.Status = StatusMissingBranch
		r.FailureReason = "Branch not specified in manifest."
		return r
	}
	r.Branch = t.Branch
	if t.Worktree == "" {
		r.Status = StatusMissingWorktree
		r.FailureReason = fmt.Sprintf("No worktree path configured for branch '%s'.", t.Branch)
		return r
	}
	r.Worktree = t.Worktree
	if _, err := os.Stat(t.Worktree); err != nil {
		r.Status = StatusWorktreeNotFound
		r.FailureReason = fmt.Sprintf("Worktree path '%s' not found.", t.Worktree)
		return r
	}

	run := c.Run
	if run == nil {
		run = GH
	}
	out, err := run(ctx, t.Worktree, t.Branch)
	switch {
	case errors.Is(err, exec.ErrNotFound):
		r.Status = StatusGHMissing
		r.FailureReason = "GitHub CLI (gh) not found on PATH."
		return r
	case err != nil:
		r.Status = StatusError
		r.FailureReason = err.Error()
		return r
	}

	if out.Stdout != "" {
		if err := json.Unmarshal([]byte(out.Stdout), &r.Details); err != nil {
			r.Details = nil
			r.Status = StatusParseError
			r.FailureReason = "Unable to parse JSON output from gh."
			r.Message = out.Stdout
			return r
		}
	}
	code := out.ExitCode
	r.ExitCode = &code
	r.Message = out.Stderr
	r.Status = Summarize(r.Details, code)
	r.FailureReason = failureReason(r.Status, r.Details, out)
	if r.Status == StatusError && len(r.Details) == 0 && r.Message == "" {
		r.Message = fmt.Sprintf("`gh pr checks` exited with %d", code)
	}
	return r
}

func failureReason(status Status, details []Check, out Output) string {
	or := func(fallback string) string {
		if out.Stderr != "" {
			return out.Stderr
		}
		return fallback
	}
	switch status {
	case StatusPass:
		return ""
	case StatusFail:
		for _, d := range details {
			if !strings.EqualFold(d.Bucket, "fail") {
				continue
			}
			label := d.Workflow
			if label == "" {
				label = d.Name
			}
			if label == "" {
				break
			}
			if d.State != "" {
				return fmt.Sprintf("%s failed (%s)", label, d.State)
			}
			return label + " failed"
		}
		return or("One or more checks reported failures.")
	case StatusPending:
		return or("Checks are still running.")
	case StatusCancelled, StatusSkipped:
		return or(fmt.Sprintf("Checks %s.", status))
	case StatusNoChecks:
		return or("No checks available for this branch.")
	case StatusError:
		return or(fmt.Sprintf("`gh pr checks` exited with %d", out.ExitCode))
	default:
		return "Unknown test state."
	}
}

// RunAll evaluates targets on up to workers goroutines and returns results
// in target order.
func (c *Checker) RunAll(ctx context.Context, targets []Target, workers int) []Result {
	if workers < 1 {
		workers = defaultWorkers
	}
	results := make([]Result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = c.Evaluate(gctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
