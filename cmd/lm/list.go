package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linearmanager/lm/internal/config"
	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/ui"
)

// listRow is one entry in `lm list --json`.
type listRow struct {
	Source     string `json:"source"`
	Title      string `json:"title,omitempty"`
	Team       string `json:"team_key,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	State      string `json:"state,omitempty"`
	Complete   bool   `json:"complete,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Worktree   string `json:"worktree,omitempty"`
	Error      string `json:"error,omitempty"`
}

// loadRows normalizes every entry under paths. Invalid entries are listed
// with their error instead of failing the listing.
func loadRows(paths []string) ([]listRow, []*manifest.Entry, error) {
	docs, err := manifest.LoadAll(paths)
	if err != nil {
		return nil, nil, err
	}
	var rows []listRow
	var entries []*manifest.Entry
	for _, doc := range docs {
		items := doc.Items()
		es, errs := doc.Entries(nil)
		for i, e := range es {
			if errs[i] != nil {
				rows = append(rows, listRow{Source: items[i].Source.String(), Error: errs[i].Error()})
				continue
			}
			rows = append(rows, listRow{
				Source:     e.Source.String(),
				Title:      e.Title,
				Team:       e.TeamKey,
				Identifier: e.Identifier,
				State:      e.State,
				Complete:   e.Complete,
				Branch:     e.Branch,
				Worktree:   resolveWorktree(e),
			})
			entries = append(entries, e)
		}
	}
	return rows, entries, nil
}

// resolveWorktree makes a relative worktree path relative to its manifest.
func resolveWorktree(e *manifest.Entry) string {
	if e.Worktree == "" || filepath.IsAbs(e.Worktree) || strings.HasPrefix(e.Worktree, "~") || e.Source.Path == "" {
		return e.Worktree
	}
	return filepath.Join(filepath.Dir(e.Source.Path), e.Worktree)
}

func newListCmd(a *app) *cobra.Command {
	var (
		verbose bool
		noPager bool
	)
	cmd := &cobra.Command{
		Use:     "list [paths...]",
		Aliases: []string{"ls"},
		Short:   "List manifest entries",
		GroupID: "manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = []string{config.TasksDir()}
			}
			rows, entries, err := loadRows(paths)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				if rows == nil {
					rows = []listRow{}
				}
				return a.printJSON(rows)
			}
			if len(rows) == 0 {
				a.printf("No issues found.\n")
				return nil
			}
			return ui.ToPager(a.out, renderList(rows, entries, verbose), ui.PagerOptions{NoPager: noPager})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "long", "l", false, "Include worktree and the first line of each description")
	cmd.Flags().BoolVar(&noPager, "no-pager", false, "Do not pipe output through a pager")
	return cmd
}

func renderList(rows []listRow, entries []*manifest.Entry, verbose bool) string {
	headers := []string{"Title", "Team", "Identifier", "Branch", "Status"}
	if verbose {
		headers = []string{"Title", "Team", "Identifier", "Branch", "Worktree", "Description", "Status"}
	}
	byName := make(map[string]*manifest.Entry, len(entries))
	for _, e := range entries {
		byName[e.Source.String()] = e
	}

	var table [][]string
	invalid := 0
	for _, r := range rows {
		if r.Error != "" {
			invalid++
			continue
		}
		status := ui.RenderState(r.State, r.Complete)
		if !verbose {
			table = append(table, []string{r.Title, r.Team, r.Identifier, r.Branch, status})
			continue
		}
		desc := ""
		if e := byName[r.Source]; e != nil {
			desc = ui.TruncateSimple(ui.FirstLine(e.DescriptionOrEmpty()), 60)
		}
		table = append(table, []string{r.Title, r.Team, r.Identifier, r.Branch, r.Worktree, desc, status})
	}

	var b strings.Builder
	if len(table) > 0 {
		b.WriteString(ui.RenderTable(headers, table))
	}
	if invalid > 0 {
		fmt.Fprintf(&b, "\n%s %d invalid %s:\n", ui.RenderWarnIcon(), invalid, plural(invalid, "entry", "entries"))
		for _, r := range rows {
			if r.Error != "" {
				fmt.Fprintf(&b, "%s%s%s %s\n", ui.TreeIndent, ui.RenderMuted(ui.TreeLast), r.Source, ui.RenderFail(r.Error))
			}
		}
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
