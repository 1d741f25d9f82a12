package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linearmanager/lm/internal/config"
	"github.com/linearmanager/lm/internal/ui"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Get and set lm settings",
		GroupID: "setup",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Write a setting to config.yaml",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SetYamlConfig(args[0], args[1]); err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(map[string]string{"key": args[0], "value": args[1], "file": config.ConfigFilePath()})
			}
			value := args[1]
			if args[0] == config.KeyLinearAPIKey {
				value = ui.MaskSecret(value)
			}
			a.printf("%s Set %s = %s %s\n", ui.RenderPassIcon(), args[0], value, ui.RenderMuted("("+config.ConfigFilePath()+")"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print the effective value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.IsKnownKey(args[0]) {
				return fmt.Errorf("unknown config key %q", args[0])
			}
			value := config.GetString(args[0])
			if a.jsonOutput {
				return a.printJSON(map[string]string{"key": args[0], "value": value})
			}
			a.printf("%s\n", value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known settings with their effective values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := config.SortedKnownKeys()
			values := make(map[string]string, len(keys))
			for _, k := range keys {
				values[k] = config.GetString(k)
				if k == config.KeyLinearAPIKey {
					values[k] = ui.MaskSecret(values[k])
				}
			}
			if a.jsonOutput {
				return a.printJSON(values)
			}
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k, values[k], ui.RenderMuted(config.KnownKeys[k])})
			}
			a.printf("%s", ui.RenderTable([]string{"Key", "Value", "Description"}, rows))
			return nil
		},
	})
	return cmd
}
