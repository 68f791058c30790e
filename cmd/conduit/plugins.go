package main

import (
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/telemetry/logging"
)

var pluginsFlags struct {
	output string
	dir    string
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List guardrail plugins",
	Long: `List the built-in guardrail plugins and any external plugins found in
the configured plugin directory.

Examples:
  # Built-in plugins
  conduit plugins

  # Include manifests from a directory
  conduit plugins --dir ./plugins --output json`,
	RunE: listPlugins,
}

func init() {
	rootCmd.AddCommand(pluginsCmd)

	pluginsCmd.Flags().StringVarP(&pluginsFlags.output, "output", "o", "text", "output format: text, json, csv")
	pluginsCmd.Flags().StringVar(&pluginsFlags.dir, "dir", "", "plugin manifest directory (overrides hooks.dir)")
}

func listPlugins(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(pluginsFlags.output)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	hooksCfg := cfg.Hooks
	if pluginsFlags.dir != "" {
		hooksCfg.Dir = pluginsFlags.dir
	}

	registry, _, err := newPlugins(hooksCfg, logging.Discard())
	if err != nil {
		return cli.NewCommandError("plugins", err)
	}

	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), pluginTable(registry.List()))
}

func pluginTable(list []hooks.Metadata) *cli.Table {
	table := &cli.Table{Headers: []string{"KEY", "NAME", "EVENTS", "DESCRIPTION"}}
	for _, md := range list {
		events := "all"
		if len(md.Events) > 0 {
			names := make([]string, 0, len(md.Events))
			for _, e := range md.Events {
				names = append(names, string(e))
			}
			events = strings.Join(names, ",")
		}
		table.Rows = append(table.Rows, []string{md.Key(), md.Name, events, md.Description})
	}
	return table
}
