// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Find users across organizations",
}

var (
	searchOrganization string
	searchLimit        int
)

var searchUsersCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search users by email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}

		users, err := client.SearchUsers(cmd.Context(), args[0], searchOrganization, searchLimit)
		if err != nil {
			return fmt.Errorf("failed to search users: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "USER_ID\tEMAIL\tSYSTEM_ROLE\tACTIVE")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", u.ID, u.Email, u.SystemRole, u.Active)
		}
		w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(searchUsersCmd)

	searchUsersCmd.Flags().StringVar(&searchOrganization, "organization-id", "", "Only return members of this organization")
	searchUsersCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum number of users returned")
}
