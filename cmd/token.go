// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	loginEmail string
	cookieName string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and print a session token for the admin commands",
	Long: `Sign in with email and password and print the raw session token.
The password is read from MC_PASSWORD. Export the token as MC_TOKEN or pass it with --token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("MC_PASSWORD")
		if password == "" {
			return fmt.Errorf("MC_PASSWORD must be set")
		}

		token, err := newAdminClient(httpEndpoint, "").Login(cmd.Context(), loginEmail, password, cookieName)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Email of the account")
	loginCmd.Flags().StringVar(&cookieName, "cookie-name", "mc_session", "Name of the session cookie set by the server")
	_ = loginCmd.MarkFlagRequired("email")
}
