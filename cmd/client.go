// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// getClient returns the admin API client, platform routes need a session token
func getClient() (*adminClient, error) {
	if sessionToken == "" {
		return nil, fmt.Errorf("a session token is required, pass --token or set MC_TOKEN")
	}

	return newAdminClient(httpEndpoint, sessionToken), nil
}

// getHealthClient dials the gRPC endpoint and returns a closure releasing the connection
func getHealthClient() (func() error, healthpb.HealthClient, error) {
	conn, err := grpc.NewClient(
		grpcEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial gRPC server: %w", err)
	}
	return conn.Close, healthpb.NewHealthClient(conn), nil
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the serving status of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, client, err := getHealthClient()
		if err != nil {
			return err
		}
		defer conn()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("server is not serving")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
