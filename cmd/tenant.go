// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/mission-control/internal/types"
)

var organizationsCmd = &cobra.Command{
	Use:     "organizations",
	Aliases: []string{"orgs"},
	Short:   "Manage organizations",
}

var plan string

var createOrganizationCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}

		org, err := client.CreateOrganization(cmd.Context(), args[0], plan)
		if err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}

		fmt.Printf("Organization created: %s (ID: %s)\n", org.Name, org.ID)
		return nil
	},
}

var listOrganizationsCmd = &cobra.Command{
	Use:   "list",
	Short: "List every organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}

		orgs, err := client.ListOrganizations(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list organizations: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPLAN\tSTATUS\tCREATED_AT")
		for _, o := range orgs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.ID, o.Name, o.Plan, o.Status, o.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
		return nil
	},
}

var role string

var addMemberCmd = &cobra.Command{
	Use:   "add-member [organization-id] [email]",
	Short: "Add an existing user to an organization",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}

		m, err := client.AddMember(cmd.Context(), args[0], args[1], types.TenantRole(role))
		if err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}

		fmt.Printf("Member added: %s as %s in %s\n", m.UserID, m.Role, m.OrganizationID)
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show platform wide metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := getClient()
		if err != nil {
			return err
		}

		m, err := client.Metrics(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch metrics: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "organizations\t%d\n", m.Organizations)
		fmt.Fprintf(w, "users\t%d\n", m.Users)
		fmt.Fprintf(w, "active sessions\t%d\n", m.ActiveSessions)
		fmt.Fprintf(w, "tasks\t%d\n", m.Tasks)
		fmt.Fprintf(w, "live observers\t%d\n", m.Observers)
		fmt.Fprintf(w, "runs in flight\t%d\n", m.InFlightRuns)

		statuses := make([]string, 0, len(m.Runs))
		for s := range m.Runs {
			statuses = append(statuses, string(s))
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Fprintf(w, "runs %s\t%d\n", s, m.Runs[types.RunStatus(s)])
		}
		w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(organizationsCmd)
	rootCmd.AddCommand(metricsCmd)
	organizationsCmd.AddCommand(createOrganizationCmd)
	organizationsCmd.AddCommand(listOrganizationsCmd)
	organizationsCmd.AddCommand(addMemberCmd)

	createOrganizationCmd.Flags().StringVar(&plan, "plan", types.PlanFree, "Plan of the organization (free, pro or enterprise)")
	addMemberCmd.Flags().StringVar(&role, "role", string(types.TenantRoleUser), "Tenant role of the member (ADMIN or USER)")
}
