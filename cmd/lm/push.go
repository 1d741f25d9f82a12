package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/linearmanager/lm/internal/config"
	"github.com/linearmanager/lm/internal/lockfile"
	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/tracker"
	"github.com/linearmanager/lm/internal/ui"
)

// pushLockName is the lock file in the home directory that keeps two
// mutating pushes from running at once.
const pushLockName = "push.lock"

type pushOptions struct {
	tracker.PushOptions
	watch bool
}

// pushResult is the --json shape of a push.
type pushResult struct {
	OK       bool              `json:"ok"`
	DryRun   bool              `json:"dry_run"`
	Summary  tracker.Summary   `json:"summary"`
	Outcomes []tracker.Outcome `json:"outcomes"`
}

func newPushCmd(a *app) *cobra.Command {
	var opts pushOptions
	cmd := &cobra.Command{
		Use:     "push [paths...]",
		Short:   "Create or update remote issues from manifests",
		GroupID: "sync",
		Long: `Reconcile manifests with the remote tracker.

Entries without an identifier are created; entries with one are updated with
only the fields that differ. Paths may be files or directories (searched
recursively for .yaml, .yml, .json and .toml). With no paths the tasks
directory is used.

The exit status is non-zero if any entry did not succeed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = []string{config.TasksDir()}
			}
			engine, err := a.newEngine()
			if err != nil {
				return err
			}
			if !opts.DryRun {
				lock, err := lockfile.Acquire(filepath.Join(config.Home(), pushLockName))
				if err != nil {
					if errors.Is(err, lockfile.ErrLockBusy) {
						return withHint(err, "another lm push is running; wait for it or stop its --watch")
					}
					return err
				}
				defer func() { _ = lock.Release() }()
			}
			ok, err := a.runPush(cmd.Context(), engine, paths, opts.PushOptions)
			if err != nil {
				return err
			}
			if opts.watch {
				return a.watchPush(cmd.Context(), engine, paths, opts.PushOptions)
			}
			if !ok {
				return errSilent
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Plan and report changes without modifying anything")
	cmd.Flags().BoolVar(&opts.MarkDone, "mark-done", false, "Move entries with complete: true to the team's done state")
	cmd.Flags().BoolVar(&opts.AllowDuplicates, "allow-duplicates", false, "Create issues even when the team has one with the same title")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Keep running and push manifests again when they change")
	return cmd
}

// runPush loads paths and pushes them once. It reports whether every entry
// succeeded; err is only for failures before any entry was processed.
func (a *app) runPush(ctx context.Context, engine *tracker.Engine, paths []string, opts tracker.PushOptions) (bool, error) {
	docs, err := manifest.LoadAll(paths)
	if err != nil {
		return false, err
	}
	if len(docs) == 0 {
		return false, withHint(fmt.Errorf("no manifests found in %v", paths), "create one with 'lm add'")
	}
	a.log.Debug("loaded manifests", "files", len(docs), "dry_run", opts.DryRun)

	if !a.jsonOutput {
		engine.OnOutcome = func(o tracker.Outcome) {
			fmt.Fprint(a.out, ui.RenderOutcome(o))
		}
	} else {
		engine.OnOutcome = nil
	}
	report := engine.Push(ctx, docs, opts)

	if a.jsonOutput {
		return report.OK(), a.printJSON(pushResult{
			OK:       report.OK(),
			DryRun:   opts.DryRun,
			Summary:  report.Summary(),
			Outcomes: report.Outcomes,
		})
	}
	fmt.Fprintln(a.out, ui.RenderSummary(report.Summary(), opts.DryRun))
	return report.OK(), nil
}

// debounceDelay collapses the burst of events an editor save produces.
const debounceDelay = 500 * time.Millisecond

// watchPush pushes changed manifest files until ctx is cancelled.
func (a *app) watchPush(ctx context.Context, engine *tracker.Engine, paths []string, opts tracker.PushOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	set := &watchSet{files: make(map[string]bool)}
	for _, p := range paths {
		if err := set.add(watcher, p); err != nil {
			return err
		}
	}
	fmt.Fprintln(a.err, ui.RenderMuted("Watching for changes... (Press Ctrl+C to exit)"))

	pending := make(map[string]bool)
	timer := time.NewTimer(debounceDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.err, ui.RenderMuted("Stopped watching."))
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("watch error", "error", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if event.Has(fsnotify.Create) && set.covers(event.Name) {
					_ = set.add(watcher, event.Name)
				}
				continue
			}
			if !set.matches(event.Name) {
				continue
			}
			pending[event.Name] = true
			timer.Reset(debounceDelay)
		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for f := range pending {
				changed = append(changed, f)
			}
			clear(pending)
			sort.Strings(changed)
			a.log.Info("manifests changed", "files", changed)
			if _, err := a.runPush(ctx, engine, changed, opts); err != nil {
				a.warnf("%v", err)
			}
		}
	}
}

// watchSet is what --watch reacts to: directory arguments recursively,
// file arguments exactly.
type watchSet struct {
	dirs  []string
	files map[string]bool
}

func (s *watchSet) add(w *fsnotify.Watcher, p string) error {
	p = filepath.Clean(p)
	info, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		s.files[p] = true
		return w.Add(filepath.Dir(p))
	}
	s.dirs = append(s.dirs, p)
	return filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

// covers reports whether name lies under a watched directory.
func (s *watchSet) covers(name string) bool {
	name = filepath.Clean(name)
	for _, dir := range s.dirs {
		if rel, err := filepath.Rel(dir, name); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// matches reports whether a changed file should be pushed.
func (s *watchSet) matches(name string) bool {
	if _, ok := manifest.FormatForPath(name); !ok {
		return false
	}
	return s.files[filepath.Clean(name)] || s.covers(name)
}
