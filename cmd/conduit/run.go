package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/server"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway server",
	Long: `Start the gateway server with the specified configuration.

The server listens on the configured address and serves the OpenAI-compatible
API. SIGINT and SIGTERM drain in-flight requests and stop the server. SIGHUP
reloads the configuration file; rate limit rules, hook lists and cache
defaults apply to new requests, everything else needs a restart.

Examples:
  # Start with defaults
  conduit run

  # Start with a config file
  conduit run --config /etc/conduit/conduit.yaml

  # Override listen address
  conduit run --listen 0.0.0.0:8080

  # Build every component without serving
  conduit run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build every component, then exit without serving")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := newLogger(cfg.Telemetry.Logging, os.Stdout)
	if err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	logger = logger.With("service", "conduit")

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	a, err := buildApp(cfg, logger, server.BuildInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer a.close(context.Background())

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid, all components built")
		return nil
	}

	if err := a.startBackground(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	go watchReload(ctx, a)

	logger.Info("conduit starting",
		"version", Version,
		"address", cfg.Proxy.ListenAddress,
		"providers", a.providers.Names(),
		"plugins", a.plugins.Len(),
		"storage", cfg.Storage.Backend,
		"cache_mode", cfg.Cache.Mode,
		"rate_limit_rules", len(cfg.RateLimit.Rules),
	)

	if err := a.server.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	logger.Info("conduit stopped")
	return nil
}

// watchReload reloads the configuration on SIGHUP until ctx is done. A
// config that fails to load or validate is logged and the old one kept.
func watchReload(ctx context.Context, a *app) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if cfgFile == "" {
				a.logger.Warn("SIGHUP ignored: no config file")
				continue
			}
			cfg, err := config.ReloadConfig(cfgFile)
			if err != nil {
				a.logger.Error("configuration reload failed, keeping previous", "error", err)
				continue
			}
			a.logger.Info("configuration reloaded",
				"rate_limit_rules", len(cfg.RateLimit.Rules),
				"before_hooks", len(cfg.Hooks.BeforeRequest),
				"after_hooks", len(cfg.Hooks.AfterRequest),
				"cache_mode", cfg.Cache.Mode,
			)
		}
	}
}
