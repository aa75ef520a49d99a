// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/mission-control/internal/db"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/authentication"
)

var createSuperuserCmd = &cobra.Command{
	Use:   "create-superuser [email]",
	Short: "Create a platform administrator",
	Long: `Create a SUPER user directly in the database.
The password is read from MC_PASSWORD, the account belongs to no organization.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, _ := cmd.Flags().GetString("dsn")

		password := os.Getenv("MC_PASSWORD")
		if len(password) < 8 {
			return fmt.Errorf("MC_PASSWORD must be set to at least 8 characters")
		}

		logger := logging.NewNoopLogger()
		tracer := tracing.NewNoopTracer()
		monitor := monitoring.NewNoopMonitor(serviceName, logger)

		dbClient, err := db.NewDBClient(db.Config{DSN: dsn, MaxConns: 1, MinConns: 1, MaxConnLifetime: time.Hour, MaxConnIdleTime: time.Minute}, tracer, monitor, logger)
		if err != nil {
			return fmt.Errorf("failed to create database client: %v", err)
		}
		defer dbClient.Close()

		hash, err := authentication.HashPassword(password)
		if err != nil {
			return err
		}

		s := storage.NewStorage(dbClient, tracer, monitor, logger)

		user, err := s.CreateUser(cmd.Context(), &types.User{
			Email:        strings.ToLower(strings.TrimSpace(args[0])),
			PasswordHash: hash,
			SystemRole:   types.SystemRoleSuper,
			Active:       true,
		})
		if errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("a user with email %s already exists", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to create superuser: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Superuser created: %s (ID: %s)\n", user.Email, user.ID)
		return nil
	},
}

func init() {
	createSuperuserCmd.Flags().String("dsn", "", "PostgreSQL DSN connection string")
	_ = createSuperuserCmd.MarkFlagRequired("dsn")

	rootCmd.AddCommand(createSuperuserCmd)
}
