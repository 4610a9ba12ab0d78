package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/profilesync/internal/identity"
	"github.com/and161185/profilesync/internal/model"
	"github.com/and161185/profilesync/internal/session"
)

// withApp opens the app for a one-shot command bounded by the remote timeout.
func (o *RootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := o.open(cmd.Context(), zapcore.WarnLevel)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := a.withTimeout(cmd.Context())
	defer cancel()
	return fn(ctx, a)
}

// showProfile prints p. A push error that left p saved locally is reported as a warning.
func showProfile(cmd *cobra.Command, p *model.Profile, err error) error {
	if p == nil {
		if err == nil {
			err = errors.New("no profile for this account")
		}
		return err
	}
	if err != nil {
		cmd.PrintErrf("warning: %v\n", err)
	}
	return printJSON(cmd.OutOrStdout(), viewOf(*p))
}

func newSignUpCommand(opts *RootOptions) *cobra.Command {
	var email, password, first, last string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an e-mail account and its profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				idp, err := opts.identity(ctx, a)
				if err != nil {
					return err
				}
				acct, err := idp.SignUp(ctx, email, password)
				if err != nil {
					return err
				}
				if err := saveSession(acct); err != nil {
					return err
				}
				p, err := a.coord.CreateFromEmailSignUp(ctx, session.SignUp{
					IdentityID: acct.UID,
					Email:      acct.Email,
					FirstName:  first,
					LastName:   last,
				})
				return showProfile(cmd, p, err)
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "e-mail address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.Flags().StringVar(&first, "first", "", "first name (defaults to the e-mail local part)")
	cmd.Flags().StringVar(&last, "last", "", "last name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSignInCommand(opts *RootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with e-mail and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				idp, err := opts.identity(ctx, a)
				if err != nil {
					return err
				}
				acct, err := idp.SignInWithCredential(ctx, identity.Credential{
					Kind:     identity.PasswordCredential,
					Email:    email,
					Password: password,
				})
				if err != nil {
					return err
				}
				if err := saveSession(acct); err != nil {
					return err
				}
				p, err := a.coord.SignedIn(ctx, acct.UID)
				if err != nil {
					return err
				}
				if p == nil {
					// account without a profile anywhere, e.g. created elsewhere
					p, err = a.coord.CreateFromEmailSignUp(ctx, session.SignUp{IdentityID: acct.UID, Email: acct.Email})
				}
				return showProfile(cmd, p, err)
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "e-mail address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSignInGoogleCommand(opts *RootOptions) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "signin-google",
		Short: "Sign in with a Google ID token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				idp, err := opts.identity(ctx, a)
				if err != nil {
					return err
				}
				acct, err := idp.SignInWithCredential(ctx, identity.Credential{
					Kind:    identity.GoogleCredential,
					IDToken: token,
				})
				if err != nil {
					return err
				}
				if err := saveSession(acct); err != nil {
					return err
				}
				if _, err := a.coord.SignedIn(ctx, acct.UID); err != nil {
					return err
				}
				p, err := a.coord.CreateOrUpdateFromFederated(ctx, session.Federated{
					IdentityID:  acct.UID,
					Email:       acct.Email,
					DisplayName: acct.DisplayName,
					PhotoURL:    acct.PhotoURL,
				})
				return showProfile(cmd, p, err)
			})
		},
	}
	cmd.Flags().StringVar(&token, "id-token", "", "Google ID token")
	_ = cmd.MarkFlagRequired("id-token")
	return cmd
}

func newSignOutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := clearSession(); err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				idp, err := opts.identity(ctx, a)
				if err != nil {
					return err
				}
				a.coord.SignedOut()
				if err := idp.SignOut(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}

func newResetPasswordCommand(opts *RootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Send a password reset e-mail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				idp, err := opts.identity(ctx, a)
				if err != nil {
					return err
				}
				if err := idp.SendPasswordReset(ctx, email); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "reset e-mail sent")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "e-mail address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
