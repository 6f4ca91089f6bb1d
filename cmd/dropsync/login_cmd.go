package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openmined/dropsync/internal/config"
	"github.com/openmined/dropsync/internal/relpath"
	"github.com/spf13/cobra"
)

var errNoToken = errors.New("no access token given")

func init() {
	rootCmd.AddCommand(newLoginCmd(), newLogoutCmd())
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an access token for the file store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Backend != config.BackendHTTP {
				return fmt.Errorf("login is only used by the %s backend", config.BackendHTTP)
			}

			verify := func(token string) error {
				return verifyToken(cmd.Context(), cfg, token)
			}

			token, _ := cmd.Flags().GetString("token")
			token = strings.TrimSpace(token)
			if token != "" {
				if err := verify(token); err != nil {
					return err
				}
			} else {
				token, err = runLoginTUI(&loginTUIOpts{
					ServerURL:     cfg.ServerURL,
					SubmitHandler: verify,
				})
				if err != nil {
					return err
				}
			}

			cfg.AccessToken = token
			if err := cfg.Save(cfg.Path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s logged in to %s\n", green.Render("✔"), cfg.ServerURL)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", gray.Render("config saved to"), cfg.Path)
			return nil
		},
	}
	cmd.Flags().StringP("token", "t", "", "access token, prompts when empty")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.AccessToken == "" {
				fmt.Fprintln(cmd.OutOrStdout(), gray.Render("not logged in"))
				return nil
			}
			cfg.AccessToken = ""
			if err := cfg.Save(cfg.Path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

// verifyToken lists the store root with the token.
func verifyToken(ctx context.Context, cfg *config.Config, token string) error {
	if token == "" {
		return errNoToken
	}
	trial := *cfg
	trial.AccessToken = token
	store, err := newStore(ctx, &trial)
	if err != nil {
		return err
	}
	_, err = store.ListDirectory(ctx, relpath.Root)
	return err
}
