package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gemx-cli/gemx/internal/auth"
	"github.com/gemx-cli/gemx/internal/config"
)

// loginCommand runs the OAuth device-authorization flow and stores the
// resulting credential.
func loginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize gemx with your Google account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settings, err := config.LoadSettings()
			if err != nil {
				return err
			}
			if settings.OAuth.ClientID == "" {
				return errors.New("no OAuth client configured; set oauth.client_id in settings.json or GEMX_OAUTH_CLIENT_ID")
			}

			flow := auth.NewFlow(settings.OAuth.ClientID, settings.OAuth.ClientSecret, settings.OAuth.Scopes)
			grant, err := flow.Begin(ctx)
			if err != nil {
				return fmt.Errorf("start device authorization: %w", err)
			}

			fmt.Fprintf(os.Stdout, "Open %s\n", grant.VerificationURI)
			fmt.Fprintf(os.Stdout, "and enter the code: %s\n\n", grant.UserCode)
			fmt.Fprintln(os.Stdout, "Waiting for approval...")

			credential, err := flow.Poll(ctx, grant)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrDenied):
					return errors.New("authorization was denied")
				case errors.Is(err, auth.ErrExpired):
					return errors.New("the code expired before approval; run `gemx login` again")
				default:
					return err
				}
			}

			store, err := credentialStore()
			if err != nil {
				return err
			}
			if err := store.Save(credential); err != nil {
				return fmt.Errorf("store credential: %w", err)
			}
			fmt.Fprintln(os.Stdout, "Logged in.")
			return nil
		},
	}
}

// logoutCommand removes the stored credential.
func logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CredentialPath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(os.Stdout, "No stored credential.")
					return nil
				}
				return err
			}
			fmt.Fprintln(os.Stdout, "Logged out.")
			return nil
		},
	}
}
