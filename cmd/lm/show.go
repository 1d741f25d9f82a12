package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/ui"
)

func newShowCmd(a *app) *cobra.Command {
	var noPager bool
	cmd := &cobra.Command{
		Use:     "show FILE...",
		Short:   "Show manifest entries with rendered descriptions",
		GroupID: "manifests",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, entries, err := loadRows(args)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				raws := make([]manifest.RawEntry, len(entries))
				for i, e := range entries {
					raws[i] = manifest.Denormalize(e)
				}
				return a.printJSON(raws)
			}
			var b strings.Builder
			for i, e := range entries {
				if i > 0 {
					b.WriteString("\n" + ui.RenderSeparator() + "\n\n")
				}
				b.WriteString(formatEntry(e))
			}
			return ui.ToPager(a.out, b.String(), ui.PagerOptions{NoPager: noPager})
		},
	}
	cmd.Flags().BoolVar(&noPager, "no-pager", false, "Do not pipe output through a pager")
	return cmd
}

// formatEntry renders one entry: header, metadata lines, description.
func formatEntry(e *manifest.Entry) string {
	var b strings.Builder
	title := e.Title
	if e.Identifier != "" {
		title = ui.RenderAccent(e.Identifier) + " " + title
	}
	fmt.Fprintf(&b, "%s  %s\n", title, ui.RenderState(e.State, e.Complete))
	fmt.Fprintf(&b, "%s\n", ui.RenderMuted(e.Source.String()))

	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s %s\n", ui.RenderMuted(fmt.Sprintf("%-9s", name+":")), value)
		}
	}
	field("Team", e.TeamKey)
	if e.Priority != nil {
		field("Priority", priorityName(*e.Priority))
	}
	field("Assignee", e.AssigneeEmail)
	if len(e.Labels) > 0 {
		field("Labels", strings.Join(e.Labels, ", "))
	}
	field("Project", e.Project)
	field("Parent", e.Parent)
	field("Due", e.DueDate)
	field("Branch", e.Branch)
	field("Worktree", resolveWorktree(e))

	if desc := strings.TrimSpace(e.DescriptionOrEmpty()); desc != "" {
		fmt.Fprintf(&b, "\n%s\n%s\n", ui.RenderCategory("Description"), ui.RenderMarkdown(desc))
	}
	return b.String()
}

var priorityNames = []string{"No priority", "Urgent", "High", "Medium", "Low"}

func priorityName(p int) string {
	if p >= 0 && p < len(priorityNames) {
		return strconv.Itoa(p) + " (" + priorityNames[p] + ")"
	}
	return strconv.Itoa(p)
}
