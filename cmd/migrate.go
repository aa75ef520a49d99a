// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/canonical/mission-control/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down [version]|status|check]",
	Short: "Apply the mission-control schema migrations",
	Long: `Apply the embedded schema migrations (identities, sessions, tasks, runs,
approvals, activity and audit logs) to the PostgreSQL database used by serve.

Without arguments every pending migration is applied. "down" rolls back the
last migration, or down to the given version. "check" exits non zero while
migrations are pending, which makes it usable as a readiness gate before serve.

The DSN defaults to the DSN environment variable read by serve.`,
	Args: migrateArgs,
	RunE: runMigrate,
}

func migrateArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.RangeArgs(0, 2)(cmd, args); err != nil {
		return err
	}

	if len(args) == 0 {
		return nil
	}

	switch args[0] {
	case "up", "down", "status", "check":
	default:
		return fmt.Errorf("invalid migration command: %q", args[0])
	}

	if len(args) == 2 {
		if args[0] != "down" {
			return fmt.Errorf("only down takes a version, got %q", args)
		}

		if version, err := strconv.Atoi(args[1]); err != nil || version < 0 {
			return fmt.Errorf("invalid version number: %q", args[1])
		}
	}

	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	version := -1
	if len(args) > 1 {
		version, _ = strconv.Atoi(args[1])
	}

	dsn, _ := cmd.Flags().GetString("dsn")
	if dsn == "" {
		return errors.New("no DSN given, set --dsn or the DSN environment variable")
	}

	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown output format %q", format)
	}

	return migrate(cmd, dsn, command, format, version)
}

func init() {
	migrateCmd.Flags().String("dsn", os.Getenv("DSN"), "PostgreSQL DSN connection string")
	migrateCmd.Flags().StringP("format", "f", "text", "Output format (text or json)")

	rootCmd.AddCommand(migrateCmd)
}

func migrate(cmd *cobra.Command, dsn, command, format string, version int) error {
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("invalid DSN: %w", err)
	}

	db := stdlib.OpenDB(*config)
	defer db.Close()

	if err := db.PingContext(cmd.Context()); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	var opts []goose.ProviderOption
	if format == "json" {
		opts = append(opts, goose.WithLogger(goose.NopLogger()))
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.EmbedMigrations, opts...)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		if err != nil {
			return err
		}
		return writeResults(out, format, results)
	case "down":
		results, err := migrateDown(ctx, provider, version)
		if err != nil {
			return err
		}
		return writeResults(out, format, results)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return err
		}
		return writeStatus(out, format, statuses)
	case "check":
		return runCheck(ctx, provider, format, out)
	}

	return nil
}

func migrateDown(ctx context.Context, provider *goose.Provider, version int) ([]*goose.MigrationResult, error) {
	if version >= 0 {
		return provider.DownTo(ctx, int64(version))
	}

	result, err := provider.Down(ctx)
	if err != nil {
		return nil, err
	}

	return []*goose.MigrationResult{result}, nil
}

func writeResults(out io.Writer, format string, results []*goose.MigrationResult) error {
	if results == nil {
		results = []*goose.MigrationResult{}
	}

	if format == "json" {
		return json.NewEncoder(out).Encode(map[string]any{"applied": results})
	}

	if len(results) == 0 {
		_, err := fmt.Fprintln(out, "no migrations to apply")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tDIRECTION\tSOURCE\tDURATION")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Source.Version, r.Direction, r.Source.Path, r.Duration.Round(time.Millisecond))
	}

	return w.Flush()
}

func writeStatus(out io.Writer, format string, statuses []*goose.MigrationStatus) error {
	if format == "json" {
		return json.NewEncoder(out).Encode(statuses)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "APPLIED AT\tMIGRATION")
	for _, s := range statuses {
		appliedAt := "pending"
		if s.State == goose.StateApplied {
			appliedAt = s.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\n", appliedAt, s.Source.Path)
	}

	return w.Flush()
}

func runCheck(ctx context.Context, provider *goose.Provider, format string, out io.Writer) error {
	pending, err := provider.HasPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to check pending migrations: %w", err)
	}

	current, verr := provider.GetDBVersion(ctx)

	if format == "json" {
		status := "ok"
		switch {
		case pending:
			status = "pending"
		case verr != nil:
			status = "unknown"
		}
		if err := json.NewEncoder(out).Encode(map[string]any{"status": status, "version": current}); err != nil {
			return err
		}
	}

	if pending {
		return fmt.Errorf("migrations are pending: current version %d", current)
	}

	if format == "text" {
		_, err := fmt.Fprintf(out, "database is up to date (version %d)\n", current)
		return err
	}

	return nil
}
