package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/linearmanager/lm/internal/config"
	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/ui"
)

// pullTeamResult is one team in the --json output of pull.
type pullTeamResult struct {
	Team   string `json:"team"`
	File   string `json:"file,omitempty"`
	Issues int    `json:"issues"`
	Error  string `json:"error,omitempty"`
}

func newPullCmd(a *app) *cobra.Command {
	var (
		output string
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:     "pull TEAM...",
		Short:   "Export team issues into manifests",
		GroupID: "sync",
		Long: `Export up to --limit issues per team into one manifest per team.

The files are written as <team>.<format> in --output (default: the
pull.output setting, or the tasks directory). Pushing an exported manifest
back unchanged makes no remote changes. Pull never modifies the remote.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("output") {
				output = config.GetString(config.KeyPullOutput)
				if output == "" {
					output = config.TasksDir()
				}
			}
			if !cmd.Flags().Changed("limit") {
				limit = config.GetInt(config.KeyPullLimit)
			}
			if !cmd.Flags().Changed("format") {
				format = config.GetString(config.KeyPullFormat)
			}
			f := manifest.Format(format)
			if _, ok := manifest.FormatForPath("x." + format); !ok {
				return fmt.Errorf("unsupported format %q (use yaml, json or toml)", format)
			}

			engine, err := a.newEngine()
			if err != nil {
				return err
			}
			result := engine.Pull(cmd.Context(), args, limit)

			if err := os.MkdirAll(output, 0o750); err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			results := make([]pullTeamResult, 0, len(result.Teams))
			failed := false
			for _, team := range result.Teams {
				r := pullTeamResult{Team: team.TeamKey, Issues: len(team.Entries)}
				if team.Err == nil {
					path := filepath.Join(output, manifest.TeamFileName(team.TeamKey, f))
					if err := manifest.WriteFile(path, manifest.TeamDocument(team.TeamKey, team.Entries)); err != nil {
						team.Err = err
					} else {
						r.File = path
					}
				}
				if team.Err != nil {
					r.Error = team.Err.Error()
					failed = true
				}
				results = append(results, r)
			}

			if a.jsonOutput {
				if err := a.printJSON(results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Error != "" {
						a.printf("%s %s: %s\n", ui.RenderFailIcon(), r.Team, ui.RenderFail(r.Error))
						continue
					}
					a.printf("%s %s: %d issues → %s\n", ui.RenderPassIcon(), r.Team, r.Issues, r.File)
				}
			}
			if failed {
				return errSilent
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory to write manifests to")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum issues per team")
	cmd.Flags().StringVar(&format, "format", "yaml", "Manifest format: yaml, json or toml")
	return cmd
}
