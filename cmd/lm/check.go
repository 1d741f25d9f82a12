package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linearmanager/lm/internal/checks"
	"github.com/linearmanager/lm/internal/config"
	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/ui"
)

// newChecker builds the checker used by `lm check tests`.
var newChecker = checks.NewChecker

// checkRow is one entry in `lm check tests --json`.
type checkRow struct {
	Source string        `json:"source"`
	Title  string        `json:"title"`
	Tests  checks.Result `json:"tests"`
}

func newCheckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "check",
		Short:   "Check work linked to manifest entries",
		GroupID: "manifests",
	}
	cmd.AddCommand(newCheckTestsCmd(a))
	return cmd
}

func newCheckTestsCmd(a *app) *cobra.Command {
	var (
		workers int
		noWrite bool
	)
	cmd := &cobra.Command{
		Use:   "tests [paths...]",
		Short: "Record the CI status of each entry's branch",
		Long: `Run "gh pr checks" for the branch of every manifest entry, from the
entry's worktree, and record the result under the entry's tests key.

Entries without a branch or worktree are recorded with a status that says
what is missing. The command fails only when a manifest cannot be read or
written; failing checks are reported, not returned.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = []string{config.TasksDir()}
			}
			docs, err := manifest.LoadAll(paths)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				if a.jsonOutput {
					return a.printJSON([]checkRow{})
				}
				a.printf("No manifests found in %s\n", strings.Join(paths, ", "))
				return nil
			}

			var (
				targets []checks.Target
				rows    []checkRow
				owners  []manifest.Item
			)
			for _, doc := range docs {
				for i, item := range doc.Items() {
					targets = append(targets, checks.Target{
						Branch:   itemString(item, manifest.FieldBranch),
						Worktree: checks.ResolveWorktree(doc.Path, itemString(item, manifest.FieldWorktree)),
					})
					title := itemString(item, manifest.FieldTitle)
					if title == "" {
						title = fmt.Sprintf("Issue %d", i+1)
					}
					rows = append(rows, checkRow{Source: item.Source.String(), Title: title})
					owners = append(owners, item)
				}
			}
			a.log.Debug("checking branches", "manifests", len(docs), "entries", len(targets), "workers", workers)

			results := newChecker().RunAll(cmd.Context(), targets, workers)
			for i := range results {
				rows[i].Tests = results[i]
				owners[i].Raw[manifest.FieldTests] = results[i].Record()
			}

			var failed int
			if !noWrite {
				for _, doc := range docs {
					if err := manifest.WriteFile(doc.Path, doc); err != nil {
						failed++
						a.log.Error("failed to record test status", "manifest", doc.Path, "error", err)
					}
				}
			}

			if a.jsonOutput {
				if err := a.printJSON(rows); err != nil {
					return err
				}
			} else {
				for _, r := range rows {
					a.printf("%s %s %s (%s)\n", r.Source, ui.RenderMuted("→"), renderCheckStatus(r.Tests.Status), r.Title)
				}
			}
			if failed > 0 {
				return errSilent
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "Branches checked in parallel")
	cmd.Flags().BoolVar(&noWrite, "no-write", false, "Report only; leave manifests unchanged")
	return cmd
}

// itemString returns a trimmed string field of an entry, falling back to the
// document defaults.
func itemString(item manifest.Item, key string) string {
	v, ok := item.Raw[key]
	if !ok {
		v = item.Defaults[key]
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func renderCheckStatus(s checks.Status) string {
	switch s {
	case checks.StatusPass:
		return ui.RenderPass(string(s))
	case checks.StatusFail, checks.StatusError, checks.StatusGHMissing, checks.StatusParseError:
		return ui.RenderFail(string(s))
	default:
		return ui.RenderWarn(string(s))
	}
}
