package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCommand(opts *globalOptions) *cobra.Command {
	var username, password string
	var export bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange the root credentials for a bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				return errors.New("--password (or EAM_PASSWORD) is required")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			tok, err := c.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if export {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "export EAM_TOKEN=%s\n", tok.Token)
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.output, tok)
		},
	}
	cmd.Flags().StringVar(&username, "username", "admin", "Root username")
	cmd.Flags().StringVar(&password, "password", "", "Root password")
	cmd.Flags().BoolVar(&export, "export", false, "Print a shell export line instead of the token document")
	return cmd
}

func newLogoutCommand(opts *globalOptions) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current token, or the one given with --revoke",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.authedClient()
			if err != nil {
				return err
			}
			if err := c.Revoke(cmd.Context(), target); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "token revoked")
			return err
		},
	}
	cmd.Flags().StringVar(&target, "revoke", "", "Token to revoke instead of the caller's own")
	return cmd
}

func newPasswordCommand(opts *globalOptions) *cobra.Command {
	var current, next string
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Replace the root password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if current == "" || next == "" {
				return errors.New("--current-password and --new-password are required")
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.UpdatePassword(cmd.Context(), current, next); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "password updated")
			return err
		},
	}
	cmd.Flags().StringVar(&current, "current-password", "", "Current root password")
	cmd.Flags().StringVar(&next, "new-password", "", "New root password")
	return cmd
}
