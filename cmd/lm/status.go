package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/linearmanager/lm/internal/config"
	"github.com/linearmanager/lm/internal/manifest"
	"github.com/linearmanager/lm/internal/tracker"
	"github.com/linearmanager/lm/internal/tracker/linear"
	"github.com/linearmanager/lm/internal/ui"
)

// statusInfo is what `lm status` reports.
type statusInfo struct {
	Tracker     string   `json:"tracker"`
	Trackers    []string `json:"available_trackers"`
	APIKey      string   `json:"api_key"`
	Endpoint    string   `json:"endpoint"`
	Home        string   `json:"home"`
	TasksDir    string   `json:"tasks_dir"`
	Manifests   int      `json:"manifests"`
	Worktrees   string   `json:"worktrees_dir"`
	BaseBranch  string   `json:"base_branch,omitempty"`
	ConfigFile  string   `json:"config_file,omitempty"`
	DefaultTeam string   `json:"default_team,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration",
		GroupID: "setup",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := collectStatus()
			if a.jsonOutput {
				return a.printJSON(info)
			}

			a.printf("%s\n", ui.RenderCategory("Tracker"))
			a.printf("  Tracker:    %s\n", info.Tracker)
			if info.APIKey == "" {
				a.printf("  API key:    %s\n", ui.RenderWarn("not set (export LINEAR_API_KEY)"))
			} else {
				a.printf("  API key:    %s\n", info.APIKey)
			}
			a.printf("  Endpoint:   %s\n", info.Endpoint)
			a.printf("\n%s\n", ui.RenderCategory("Paths"))
			a.printf("  Home:       %s\n", info.Home)
			a.printf("  Tasks:      %s %s\n", info.TasksDir, ui.RenderMuted("("+strconv.Itoa(info.Manifests)+" manifests)"))
			a.printf("  Worktrees:  %s\n", info.Worktrees)
			if info.BaseBranch != "" {
				a.printf("  Base:       %s\n", info.BaseBranch)
			}
			if info.ConfigFile != "" {
				a.printf("  Config:     %s\n", info.ConfigFile)
			} else {
				a.printf("  Config:     %s\n", ui.RenderMuted("none ("+config.ConfigFilePath()+")"))
			}
			if info.DefaultTeam != "" {
				a.printf("  Team:       %s\n", info.DefaultTeam)
			}
			return nil
		},
	}
}

func collectStatus() statusInfo {
	endpoint := config.GetString("linear.api_endpoint")
	if endpoint == "" {
		endpoint = linear.DefaultEndpoint
	}
	info := statusInfo{
		Tracker:     config.GetString(config.KeyTracker),
		Trackers:    tracker.List(),
		APIKey:      ui.MaskSecret(config.GetString(config.KeyLinearAPIKey)),
		Endpoint:    endpoint,
		Home:        config.Home(),
		TasksDir:    config.TasksDir(),
		Worktrees:   config.WorktreesDir(),
		BaseBranch:  config.BaseBranch(),
		ConfigFile:  config.ConfigFileUsed(),
		DefaultTeam: config.GetString(config.KeyDefaultTeam),
	}
	if _, err := os.Stat(info.TasksDir); err == nil {
		if files, err := manifest.Discover([]string{info.TasksDir}); err == nil {
			info.Manifests = len(files)
		}
	}
	return info
}
