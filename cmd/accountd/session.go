package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// NewSessionCmd creates the session subcommand.
func NewSessionCmd(opts *globalOptions) *cobra.Command {
	var (
		offline bool
		output  string
	)

	cmd := &cobra.Command{
		Use:   "session [ACCOUNT]",
		Short: "Print the launch session of an account",
		Long: `Print the session descriptor a game launch needs for the account
given by id, profile name or user name, or for the default account.
Stale credentials are refreshed first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output, outputJSON, outputYAML); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				acc, err := a.resolveAccount(firstArg(args))
				if err != nil {
					return err
				}

				if !offline && acc.ShouldRefresh(time.Now()) {
					task, err := acc.Refresh()
					if err != nil {
						return err
					}
					if err := runTask(ctx, cmd, task); err != nil {
						a.logger.Warn("refresh before launch failed", "account_id", acc.ID(), "error", err)
					}
				}

				return writeStructured(cmd.OutOrStdout(), output, acc.FillSession(!offline))
			})
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "build an offline session without refreshing")
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "output format (json or yaml)")
	return cmd
}
