package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/hooks"
	"mercator-hq/conduit/pkg/telemetry/logging"
)

var validateFlags struct {
	output string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file with environment overrides applied, validate it
and check that every hook references a registered plugin.

Exits with status 2 when the configuration is invalid.

Examples:
  # Validate conduit.yaml
  conduit validate --config conduit.yaml

  # Machine-readable result
  conduit validate --config conduit.yaml --output json`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFlags.output, "output", "o", "text", "output format: text, json, csv")
}

type validationReport struct {
	Valid  bool     `json:"valid"`
	Config string   `json:"config"`
	Errors []string `json:"errors,omitempty"`
}

func validateConfig(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(validateFlags.output)
	if err != nil {
		return err
	}

	report := validationReport{Valid: true, Config: cfgFile}
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		report.Valid = false
		report.Errors = fieldErrors(err)
	} else {
		report.Errors = unknownPlugins(cfg)
		report.Valid = len(report.Errors) == 0
	}

	if err := writeReport(cmd, format, report); err != nil {
		return err
	}
	if !report.Valid {
		return cli.NewConfigError(cfgFile, fmt.Errorf("%d problem(s) found", len(report.Errors)))
	}
	return nil
}

func fieldErrors(err error) []string {
	var verr config.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verr.Errors))
	for _, fe := range verr.Errors {
		out = append(out, fe.Error())
	}
	return out
}

// unknownPlugins reports hooks whose plugin is neither built in nor found
// in the plugin directory.
func unknownPlugins(cfg *config.Config) []string {
	registry, _, err := newPlugins(cfg.Hooks, logging.Discard())
	if err != nil {
		return []string{err.Error()}
	}

	var problems []string
	check := func(field string, list []hooks.HookConfig) {
		for i, h := range list {
			if _, ok := registry.Get(h.Plugin); !ok {
				problems = append(problems, fmt.Sprintf("hooks.%s[%d].plugin: unknown plugin %q", field, i, h.Plugin))
			}
		}
	}
	check("before_request", cfg.Hooks.BeforeRequest)
	check("after_request", cfg.Hooks.AfterRequest)
	return problems
}

func writeReport(cmd *cobra.Command, format cli.OutputFormat, report validationReport) error {
	out := cmd.OutOrStdout()
	switch format {
	case cli.FormatJSON:
		return cli.NewFormatter(format).FormatTo(out, report)
	case cli.FormatCSV:
		table := &cli.Table{Headers: []string{"problem"}}
		for _, e := range report.Errors {
			table.Rows = append(table.Rows, []string{e})
		}
		return cli.NewFormatter(format).FormatTo(out, table)
	}

	name := report.Config
	if name == "" {
		name = "(defaults)"
	}
	if report.Valid {
		_, err := fmt.Fprintf(out, "✓ %s is valid\n", name)
		return err
	}
	_, err := fmt.Fprintf(out, "✗ %s is invalid:\n  %s\n", name, strings.Join(report.Errors, "\n  "))
	return err
}
