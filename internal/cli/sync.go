package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange profiles with the remote store",
	}
	cmd.AddCommand(newSyncPushCommand(opts))
	cmd.AddCommand(newSyncPullCommand(opts))
	cmd.AddCommand(newSyncPendingCommand(opts))
	cmd.AddCommand(newSyncStatusCommand(opts))
	return cmd
}

func newSyncPushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push [id]",
		Short: "Push a profile now, even if it has no pending change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idOrSession(args)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				p, err := a.engine.ForceSync(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewOf(*p))
			})
		},
	}
}

func newSyncPullCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull [id]",
		Short: "Fetch a profile from the remote store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idOrSession(args)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				out, err := a.engine.Pull(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, out)
				return nil
			})
		},
	}
}

func newSyncPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Push every profile with a pending change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				rep, err := a.engine.SyncPending(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), reportOf(rep))
			})
		},
	}
}

func newSyncStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show the sync state of a profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idOrSession(args)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.engine.Status(ctx, id)
				if err != nil {
					return fmt.Errorf("profile %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, st.State)
				if st.LastError != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "last error: %v\n", st.LastError)
				}
				return nil
			})
		},
	}
}
