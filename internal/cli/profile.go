package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/and161185/profilesync/internal/model"
	"github.com/and161185/profilesync/internal/session"
)

func newProfileCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and edit profiles",
	}
	cmd.AddCommand(newProfileShowCommand(opts))
	cmd.AddCommand(newProfileListCommand(opts))
	cmd.AddCommand(newProfileSearchCommand(opts))
	cmd.AddCommand(newProfileEditCommand(opts))
	cmd.AddCommand(newProfileSetImageCommand(opts))
	return cmd
}

// idOrSession returns args[0], or the signed-in identity when no id is given.
func idOrSession(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	acct, err := loadSession()
	if err != nil {
		return "", err
	}
	return acct.UID, nil
}

// signIn resolves the saved session into the coordinator so edits apply to its profile.
func signIn(ctx context.Context, a *app) error {
	acct, err := loadSession()
	if err != nil {
		return err
	}
	p, err := a.coord.SignedIn(ctx, acct.UID)
	if err != nil {
		return err
	}
	if p == nil {
		return errors.New("no profile for this account")
	}
	return nil
}

func newProfileShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a local profile, the signed-in one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := idOrSession(args)
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				p, err := a.profiles.FindByID(ctx, id)
				if err != nil {
					return fmt.Errorf("profile %s: %w", id, err)
				}
				return printJSON(cmd.OutOrStdout(), viewOf(*p))
			})
		},
	}
}

func newProfileListCommand(opts *RootOptions) *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local profiles by last name, then first name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				list := a.profiles.ListAll
				if pending {
					list = a.profiles.ListPending
				}
				ps, err := list(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewsOf(ps))
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only profiles waiting to be pushed")
	return cmd
}

func newProfileSearchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find local profiles by name or e-mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				ps, err := a.profiles.Search(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewsOf(ps))
			})
		},
	}
}

func newProfileEditCommand(opts *RootOptions) *cobra.Command {
	var first, last, email string
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Edit the signed-in profile and push it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var edit session.ProfileEdit
			flags := cmd.Flags()
			if flags.Changed("first") {
				edit.FirstName = &first
			}
			if flags.Changed("last") {
				edit.LastName = &last
			}
			if flags.Changed("email") {
				edit.Email = &email
			}
			if edit == (session.ProfileEdit{}) {
				return errors.New("nothing to edit: pass --first, --last or --email")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := signIn(ctx, a); err != nil {
					return err
				}
				p, err := a.coord.EditProfile(ctx, edit)
				return showProfile(cmd, p, err)
			})
		},
	}
	cmd.Flags().StringVar(&first, "first", "", "first name")
	cmd.Flags().StringVar(&last, "last", "", "last name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "e-mail address")
	return cmd
}

func newProfileSetImageCommand(opts *RootOptions) *cobra.Command {
	var file, url string
	var remove bool
	cmd := &cobra.Command{
		Use:   "set-image",
		Short: "Set or clear the signed-in profile's picture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var img model.ProfileImage
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				img = model.InlineImage(data)
			case url != "":
				img = model.ImageAt(url)
			case remove:
				img = model.NoImage()
			default:
				return errors.New("pass one of --file, --url or --clear")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := signIn(ctx, a); err != nil {
					return err
				}
				p, err := a.coord.SetProfileImage(ctx, img)
				return showProfile(cmd, p, err)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "image file stored inline")
	cmd.Flags().StringVar(&url, "url", "", "remote image URL")
	cmd.Flags().BoolVar(&remove, "clear", false, "remove the picture")
	cmd.MarkFlagsMutuallyExclusive("file", "url", "clear")
	return cmd
}
