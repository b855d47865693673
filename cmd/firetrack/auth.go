package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firetrack/api"
	"firetrack/domain"
	"firetrack/internal/config"
	"firetrack/session"
	"firetrack/view"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		id     session.Identity
		signup bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the identity for later commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id.UserID = strings.TrimSpace(id.UserID)
			if id.UserID == "" {
				return errors.New("--user is required")
			}
			if signup {
				if err := a.connect(); err != nil {
					return err
				}
				fields := domain.ProfileFields{DisplayName: id.DisplayName, Email: id.Email}
				if _, err := a.store.CreateUserProfile(cmd.Context(), id.UserID, fields); err != nil {
					return err
				}
			}
			if err := a.files.Save(id); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			a.sess.SignIn(id)
			a.printf("Signed in as %s\n", id.UserID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&id.Email, "email", "", "email address")
	cmd.Flags().StringVar(&id.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&id.Token, "token", "", "bearer token kept for API calls")
	cmd.Flags().BoolVar(&signup, "signup", false, "also create the user profile")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := a.sess.SignOut(cmd.Context())
			if errors.Is(err, session.ErrNotSignedIn) {
				a.printf("Not signed in.\n")
				return nil
			}
			if err != nil {
				return err
			}
			a.printf("Signed out.\n")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			id, ok := a.sess.Current()
			if !ok {
				return errNotSignedIn
			}
			id.Token = ""
			return view.Render(a.out, a.format, id, func(w io.Writer) error {
				line := id.UserID
				if id.DisplayName != "" {
					line = id.DisplayName + " (" + id.UserID + ")"
				}
				if id.Email != "" {
					line += " <" + id.Email + ">"
				}
				_, err := fmt.Fprintln(w, line)
				return err
			})
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		userID string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an API running in local auth mode",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if userID == "" {
				if id, ok := a.sess.Current(); ok {
					userID = id.UserID
				}
			}
			tok, err := api.LocalToken([]byte(secret), userID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, tok)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "token subject (default: signed-in user)")
	cmd.Flags().StringVar(&secret, "secret", config.String("LOCAL_AUTH_SHARED_SECRET", ""), "shared HS256 secret")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
