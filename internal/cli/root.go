// Package cli implements the profilesync command tree.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/profilesync/internal/config"
	"github.com/and161185/profilesync/internal/identity"
	"github.com/and161185/profilesync/internal/repository"
)

// BuildInfo is stamped at link time.
type BuildInfo struct {
	Version string
	Date    string
}

// RemoteOpener connects the remote document store. The returned func releases it.
type RemoteOpener func(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.DocumentStore, func(), error)

// AuthProvider is the identity provider as the commands use it.
type AuthProvider interface {
	identity.Provider
	Restore(ctx context.Context, acct identity.Account) error
}

// IdentityOpener builds the identity provider.
type IdentityOpener func(ctx context.Context, cfg *config.Config, log *zap.Logger) (AuthProvider, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	DB      string
	Debug   bool

	// Remote and Identity override the backends (tests). Nil means the configured ones.
	Remote   RemoteOpener
	Identity IdentityOpener
}

// NewRootCommand creates the root command.
func NewRootCommand(info BuildInfo, opts *RootOptions) *cobra.Command {
	if opts == nil {
		opts = &RootOptions{}
	}
	cmd := &cobra.Command{
		Use:           "profilesync",
		Short:         "Keep the local user profile in sync with the remote store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "load settings from this .env file")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to the local SQLite database")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "verbose development logging")

	cmd.AddCommand(newVersionCommand(info))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newSignUpCommand(opts))
	cmd.AddCommand(newSignInCommand(opts))
	cmd.AddCommand(newSignInGoogleCommand(opts))
	cmd.AddCommand(newSignOutCommand(opts))
	cmd.AddCommand(newResetPasswordCommand(opts))
	cmd.AddCommand(newProfileCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))

	return cmd
}

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "profilesync %s (%s)\n", info.Version, info.Date)
		},
	}
}
