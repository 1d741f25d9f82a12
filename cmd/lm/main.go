// Command lm reconciles YAML/JSON/TOML issue manifests with Linear.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/linearmanager/lm/internal/config"
	"github.com/linearmanager/lm/internal/telemetry"
	"github.com/linearmanager/lm/internal/ui"

	// Registers the "linear" tracker.
	_ "github.com/linearmanager/lm/internal/tracker/linear"
)

// errSilent is returned when the command already reported its failure and
// only the exit status remains.
var errSilent = errors.New("command failed")

// app holds the global flags and per-invocation state shared by commands.
type app struct {
	configPath string
	jsonOutput bool
	verbose    bool
	quiet      bool

	log *slog.Logger
	out io.Writer
	err io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "lm",
		Short: "lm - Linear issue manifests",
		Long: `Keep issue manifests on disk in sync with Linear.

Manifests are YAML, JSON or TOML files holding one issue or a list of issues
with shared defaults. push creates or updates remote issues from them; pull
exports a team's issues back into manifests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: $LINEAR_MANAGER_HOME/config.yaml)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Only log warnings and errors")

	root.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "manifests", Title: "Manifests:"},
		&cobra.Group{ID: "setup", Title: "Setup & Configuration:"},
	)
	root.AddCommand(
		newPushCmd(a),
		newPullCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newAddCmd(a),
		newCheckCmd(a),
		newStatusCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup runs before every command: config, logging, colors, telemetry.
func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	a.err = cmd.ErrOrStderr()

	if err := config.InitializeWithFile(a.configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := slog.LevelInfo
	switch {
	case a.verbose:
		level = slog.LevelDebug
	case a.quiet:
		level = slog.LevelWarn
	}
	a.log = slog.New(slog.NewTextHandler(a.err, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.log)

	ui.ConfigureColor()

	if err := telemetry.Init(cmd.Context(), "lm", Version); err != nil {
		a.log.Warn("telemetry disabled", "error", err)
	}
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	_ = telemetry.Shutdown(context.Background())
	if err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
