// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canonical/mission-control/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mission-control build version",
	Long:  `Print the version the binary was built with. The running server reports the same value on /api/v0/version.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		out := cmd.OutOrStdout()
		if asJSON {
			return json.NewEncoder(out).Encode(map[string]string{"service": serviceName, "version": version.Version})
		}

		_, err := fmt.Fprintf(out, "%s %s\n", serviceName, version.Version)
		return err
	},
}

func init() {
	versionCmd.Flags().Bool("json", false, "Print the version as JSON")

	rootCmd.AddCommand(versionCmd)
}
