package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/linearmanager/lm/internal/config"
	"github.com/linearmanager/lm/internal/git"
	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/ui"
)

// addOptions are the fields of a new ticket, from flags or the form.
type addOptions struct {
	title       string
	description string
	team        string
	priority    int
	hasPriority bool
	assignee    string
	labels      []string
	state       string
	due         string
	worktree    bool
	baseBranch  string
	dir         string
}

func newAddCmd(a *app) *cobra.Command {
	var opts addOptions
	cmd := &cobra.Command{
		Use:     "add [title]",
		Short:   "Add a ticket manifest to the tasks directory",
		GroupID: "manifests",
		Long: `Write a new single-ticket manifest into the tasks directory.

Without a title on an interactive terminal a form asks for the fields.
With --worktree a branch named after the title is created together with a
git worktree under the worktrees directory, and both are recorded in the
manifest.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.title = args[0]
			}
			if opts.team == "" {
				opts.team = config.GetString(config.KeyDefaultTeam)
			}
			opts.hasPriority = cmd.Flags().Changed("priority")

			if strings.TrimSpace(opts.title) == "" {
				if !ui.IsTerminal() {
					return withHint(fmt.Errorf("title is required"), "lm add \"Fix login redirect\" --team ENG")
				}
				if err := runAddForm(&opts); err != nil {
					if err == huh.ErrUserAborted {
						fmt.Fprintln(a.err, "Ticket creation cancelled.")
						return nil
					}
					return fmt.Errorf("form error: %w", err)
				}
			}
			return a.runAdd(cmd, &opts)
		},
	}
	cmd.Flags().StringVarP(&opts.title, "title", "t", "", "Ticket title")
	cmd.Flags().StringVarP(&opts.description, "description", "d", "", "Ticket description (markdown)")
	cmd.Flags().StringVar(&opts.team, "team", "", "Team key (default: add.team_key setting)")
	cmd.Flags().IntVarP(&opts.priority, "priority", "p", 0, "Priority 0-4 (0 = none, 1 = urgent)")
	cmd.Flags().StringVarP(&opts.assignee, "assignee", "a", "", "Assignee email")
	cmd.Flags().StringSliceVarP(&opts.labels, "label", "l", nil, "Label (repeatable or comma-separated)")
	cmd.Flags().StringVar(&opts.state, "state", "", "Initial workflow state")
	cmd.Flags().StringVar(&opts.due, "due", "", "Due date (YYYY-MM-DD or e.g. \"next friday\")")
	cmd.Flags().BoolVar(&opts.worktree, "worktree", false, "Create a git branch and worktree for the ticket")
	cmd.Flags().StringVar(&opts.baseBranch, "base-branch", "", "Branch the worktree starts from (default: base_branch setting)")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Directory to write the manifest to (default: tasks directory)")
	return cmd
}

func (a *app) runAdd(cmd *cobra.Command, opts *addOptions) error {
	raw := manifest.RawEntry{
		manifest.FieldTitle:   strings.TrimSpace(opts.title),
		manifest.FieldTeamKey: opts.team,
	}
	if opts.description != "" {
		raw[manifest.FieldDescription] = opts.description
	}
	if opts.hasPriority {
		raw[manifest.FieldPriority] = opts.priority
	}
	if opts.assignee != "" {
		raw[manifest.FieldAssigneeEmail] = opts.assignee
	}
	if len(opts.labels) > 0 {
		raw[manifest.FieldLabels] = opts.labels
	}
	if opts.state != "" {
		raw[manifest.FieldState] = opts.state
	}
	if opts.due != "" {
		raw[manifest.FieldDueDate] = opts.due
	}

	// Validate before touching git so a bad entry leaves nothing behind.
	entry, err := manifest.Normalize(raw, nil)
	if err != nil {
		return err
	}

	if opts.worktree {
		base := opts.baseBranch
		if base == "" {
			base = config.BaseBranch()
		}
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		wt, err := git.CreateWorktree(cmd.Context(), git.WorktreeOptions{
			Label:      entry.Title,
			Dir:        cwd,
			BaseDir:    config.WorktreesDir(),
			BaseBranch: base,
		})
		if err != nil {
			return fmt.Errorf("failed to create git worktree: %w", err)
		}
		entry.Branch, entry.Worktree = wt.Branch, wt.Path
		a.log.Debug("created worktree", "branch", wt.Branch, "path", wt.Path)
	}

	dir := opts.dir
	if dir == "" {
		dir = config.TasksDir()
	}
	path := filepath.Join(dir, manifestFileName(time.Now(), entry.Title))
	doc := &manifest.Document{Issues: []manifest.RawEntry{manifest.Denormalize(entry)}}
	if err := manifest.WriteFile(path, doc); err != nil {
		return err
	}

	if a.jsonOutput {
		return a.printJSON(map[string]any{"file": path, "entry": manifest.Denormalize(entry)})
	}
	a.printf("%s %s\n", ui.RenderPassIcon(), ui.RenderPass("Ticket created successfully:"))
	line := func(name, value string) {
		if value != "" {
			a.printf("  %s %s\n", ui.RenderAccent(name+":"), value)
		}
	}
	line("File", path)
	line("Title", entry.Title)
	line("Team", entry.TeamKey)
	line("Branch", entry.Branch)
	line("Worktree", entry.Worktree)
	return nil
}

// manifestFileName is <timestamp>_<first 30 chars of the title>.yaml.
func manifestFileName(now time.Time, title string) string {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "_")
	slug = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, slug)
	if r := []rune(slug); len(r) > 30 {
		slug = string(r[:30])
	}
	return now.Format("20060102_150405") + "_" + slug + ".yaml"
}

// runAddForm fills opts interactively.
func runAddForm(opts *addOptions) error {
	priorityStr := ""
	if opts.hasPriority {
		priorityStr = strconv.Itoa(opts.priority)
	}
	labelsInput := strings.Join(opts.labels, ", ")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Description("Brief summary of the ticket (required)").
				Placeholder("e.g., Fix login redirect loop").
				Value(&opts.title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title is required")
					}
					return nil
				}),

			huh.NewText().
				Title("Description").
				Description("Markdown is rendered by lm show").
				CharLimit(5000).
				Value(&opts.description),

			huh.NewInput().
				Title("Team").
				Description("Team key, e.g. ENG").
				Value(&opts.team).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("team is required")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Priority").
				Options(
					huh.NewOption("Unset", ""),
					huh.NewOption("0 - No priority", "0"),
					huh.NewOption("1 - Urgent", "1"),
					huh.NewOption("2 - High", "2"),
					huh.NewOption("3 - Medium", "3"),
					huh.NewOption("4 - Low", "4"),
				).
				Value(&priorityStr),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Assignee").
				Description("Email of a team member (optional)").
				Value(&opts.assignee),

			huh.NewInput().
				Title("Labels").
				Description("Comma-separated label names (optional)").
				Value(&labelsInput),

			huh.NewConfirm().
				Title("Create a git branch and worktree?").
				Value(&opts.worktree),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		return err
	}

	opts.hasPriority = priorityStr != ""
	if opts.hasPriority {
		opts.priority, _ = strconv.Atoi(priorityStr)
	}
	opts.labels = nil
	for _, l := range strings.Split(labelsInput, ",") {
		if l = strings.TrimSpace(l); l != "" {
			opts.labels = append(opts.labels, l)
		}
	}
	return nil
}
