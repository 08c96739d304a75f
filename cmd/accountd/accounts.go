package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"accountd/core"
)

const progressInterval = 100 * time.Millisecond

// NewAccountsCmd creates the accounts subcommand tree.
func NewAccountsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage stored accounts",
		Long: `List, add, log in, refresh and remove the accounts kept in the
account store.`,
	}

	cmd.AddCommand(newAccountsListCmd(opts))
	cmd.AddCommand(newAccountsAddCmd(opts))
	cmd.AddCommand(newAccountsLoginCmd(opts))
	cmd.AddCommand(newAccountsRefreshCmd(opts))
	cmd.AddCommand(newAccountsRemoveCmd(opts))
	cmd.AddCommand(newAccountsDefaultCmd(opts))

	return cmd
}

func newAccountsListCmd(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output, outputTable, outputJSON, outputYAML); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				views := make([]core.AccountView, 0, a.list.Len())
				for _, acc := range a.list.All() {
					views = append(views, core.NewAccountView(acc, a.isDefault(acc)))
				}
				if output == outputTable {
					return writeAccountTable(cmd.OutOrStdout(), views)
				}
				return writeStructured(cmd.OutOrStdout(), output, views)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "output format (table, json or yaml)")
	return cmd
}

func newAccountsAddCmd(opts *globalOptions) *cobra.Command {
	var (
		password   string
		setDefault bool
		skipLogin  bool
	)

	cmd := &cobra.Command{
		Use:   "add TYPE [USERNAME]",
		Short: "Add an account and log it in",
		Long: `Add an account of the given type (msa, mojang, elyby or local).
Microsoft accounts log in interactively with a device code, Mojang and
Ely.by accounts need --password, local accounts log in offline.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			accountType, err := core.ParseAccountType(args[0])
			if err != nil {
				return err
			}
			var username string
			if len(args) > 1 {
				username = args[1]
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				acc, err := a.list.Create(ctx, accountType, username)
				if err != nil {
					return err
				}
				if !skipLogin {
					if err := login(ctx, cmd, acc, password); err != nil {
						cmd.PrintErrf("account %s added but login failed\n", acc.ID())
						return err
					}
				}
				if setDefault {
					if err := a.list.SetDefault(ctx, acc.ID()); err != nil {
						return err
					}
				}
				cmd.Printf("added %s account %s\n", acc.Type(), acc.ID())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password for Mojang and Ely.by accounts")
	cmd.Flags().BoolVar(&setDefault, "default", false, "make the new account the default")
	cmd.Flags().BoolVar(&skipLogin, "no-login", false, "store the account without logging in")
	return cmd
}

func newAccountsLoginCmd(opts *globalOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login [ACCOUNT]",
		Short: "Log an account in again",
		Long:  `Log in the account given by id, profile name or user name, or the default account.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				acc, err := a.resolveAccount(firstArg(args))
				if err != nil {
					return err
				}
				if err := login(ctx, cmd, acc, password); err != nil {
					return err
				}
				cmd.Printf("logged in %s\n", displayName(acc))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password for Mojang and Ely.by accounts")
	return cmd
}

func newAccountsRefreshCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [ACCOUNT]",
		Short: "Refresh an account's credentials",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				acc, err := a.resolveAccount(firstArg(args))
				if err != nil {
					return err
				}
				task, err := acc.Refresh()
				if err != nil {
					return err
				}
				if err := runTask(ctx, cmd, task); err != nil {
					return err
				}
				cmd.Printf("refreshed %s (%s)\n", displayName(acc), acc.Validity())
				return nil
			})
		},
	}
}

func newAccountsRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ACCOUNT",
		Short: "Remove an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				acc, err := a.resolveAccount(args[0])
				if err != nil {
					return err
				}
				if err := a.list.Remove(ctx, acc.ID()); err != nil {
					return err
				}
				cmd.Printf("removed %s\n", acc.ID())
				return nil
			})
		},
	}
}

func newAccountsDefaultCmd(opts *globalOptions) *cobra.Command {
	var unset bool

	cmd := &cobra.Command{
		Use:   "default [ACCOUNT]",
		Short: "Show or set the default account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				switch {
				case unset:
					return a.list.SetDefault(ctx, "")
				case len(args) == 0:
					def := a.list.Default()
					if def == nil {
						cmd.Println("no default account")
						return nil
					}
					cmd.Println(def.ID())
					return nil
				}
				acc, err := a.resolveAccount(args[0])
				if err != nil {
					return err
				}
				return a.list.SetDefault(ctx, acc.ID())
			})
		},
	}

	cmd.Flags().BoolVar(&unset, "clear", false, "unset the default account")
	return cmd
}

// login picks the login the account type supports and waits for it.
func login(ctx context.Context, cmd *cobra.Command, acc *core.Account, password string) error {
	var (
		task *core.Task
		err  error
	)
	switch {
	case acc.Type() == core.AccountTypeLocal:
		task, err = acc.LoginLocal()
	case acc.Type().Native():
		task, err = acc.LoginInteractive()
	default:
		if password == "" {
			return fmt.Errorf("--password is required for %s accounts", acc.Type())
		}
		task, err = acc.Login(password)
	}
	if err != nil {
		return err
	}
	return runTask(ctx, cmd, task)
}

// runTask starts task if nobody has yet and waits for it to finish,
// echoing its progress to stderr.
func runTask(ctx context.Context, cmd *cobra.Command, task *core.Task) error {
	if task.State() == core.TaskCreated {
		if err := task.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-task.Done():
			return task.Err()
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if status := task.Status(); status != "" && status != last {
				last = status
				cmd.PrintErrln(status)
			}
		}
	}
}

func displayName(acc *core.Account) string {
	snap := acc.Snapshot()
	if name := snap.ProfileName(); name != "" {
		return name
	}
	if name := snap.UserName(); name != "" {
		return name
	}
	return acc.ID()
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
