package main

import (
	"context"

	"github.com/spf13/cobra"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configFile string
	deps       appDeps
}

// NewRootCmd creates the root command for the accountd CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(appDeps{})
}

func newRootCmd(deps appDeps) *cobra.Command {
	opts := &globalOptions{deps: deps}
	defaults := DefaultAppConfig()

	cmd := &cobra.Command{
		Use:   "accountd",
		Short: "accountd - game account authentication daemon",
		Long: `accountd keeps game accounts (Microsoft, Mojang, Ely.by and local)
logged in, refreshes their credentials in the background and hands out
launch sessions.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file path (YAML)")
	flags.String("db-type", defaults.DB.Type, "account store (sqlite or mock)")
	flags.String("db-path", defaults.DB.SQLitePath, "SQLite database path")
	flags.String("log-format", defaults.Log.Format, "log format (json or text)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.Bool("mock-providers", defaults.Providers.Mock, "use mock providers instead of the real services")

	cmd.AddCommand(NewServeCmd(opts))
	cmd.AddCommand(NewAccountsCmd(opts))
	cmd.AddCommand(NewSessionCmd(opts))

	return cmd
}

// withApp loads the configuration, opens the account store and runs fn.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(context.Context, *app) error) error {
	cfg, err := LoadConfig(opts.configFile, cmd.Flags())
	if err != nil {
		return err
	}

	deps := opts.deps
	if deps.logOutput == nil {
		deps.logOutput = cmd.ErrOrStderr()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, cfg, deps)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Warn("failed to close account store", "error", err)
		}
	}()
	return fn(ctx, a)
}
