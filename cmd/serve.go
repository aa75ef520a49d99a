// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/canonical/mission-control/internal/config"
	"github.com/canonical/mission-control/internal/db"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/monitoring/prometheus"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/storage/memory"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/pkg/authentication"
	"github.com/canonical/mission-control/pkg/events"
	"github.com/canonical/mission-control/pkg/status"
	"github.com/canonical/mission-control/pkg/tasks"
	"github.com/canonical/mission-control/pkg/web"
)

const serviceName = "mission-control"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve starts the web server",
	Long:  `Launch the web application, list of environment variables is available in the readme`,
	Run: func(cmd *cobra.Command, args []string) {
		main()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// openStorage returns the configured backend, the readiness dependency is nil for the memory backend
func openStorage(specs *config.EnvSpec, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) (storage.StorageInterface, status.DependencyInterface, func(), error) {
	switch specs.StorageBackend {
	case "memory":
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.NewStorage(tracer, logger), nil, func() {}, nil
	case "postgres", "":
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", specs.StorageBackend)
	}

	dbClient, err := db.NewDBClient(
		db.Config{
			DSN:             specs.DSN,
			MaxConns:        specs.DBMaxConns,
			MinConns:        specs.DBMinConns,
			MaxConnLifetime: specs.DBMaxConnLifetime,
			MaxConnIdleTime: specs.DBMaxConnIdleTime,
			TracingEnabled:  specs.TracingEnabled,
		},
		tracer,
		monitor,
		logger,
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create database client: %v", err)
	}

	return storage.NewStorage(dbClient, tracer, monitor, logger), dbClient, dbClient.Close, nil
}

// cleanupSessions purges expired sessions until ctx is done
func cleanupSessions(ctx context.Context, sessions *authentication.Service, interval time.Duration, logger logging.LoggerInterface) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.CleanupExpired(ctx)
			if err != nil {
				logger.Errorf("failed to clean up expired sessions: %v", err)
				continue
			}
			if n > 0 {
				logger.Debugf("removed %d expired sessions", n)
			}
		}
	}
}

// newHTTPServer has no WriteTimeout, event streams stay open for the lifetime
// of the client. Request contexts are not derived from the service context.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: time.Second * 10,
		ReadTimeout:       time.Second * 15,
		IdleTimeout:       time.Second * 60,
		Handler:           handler,
	}
}

func serve() error {
	specs := new(config.EnvSpec)
	if err := envconfig.Process("", specs); err != nil {
		panic(fmt.Errorf("issues with environment sourcing: %s", err))
	}

	logger := logging.NewLogger(specs.LogLevel)
	logger.Debugf("env vars: %v", specs)
	defer logger.Sync()

	monitor := prometheus.NewMonitor(serviceName, logger)
	tracer := tracing.NewTracer(tracing.NewConfig(specs.TracingEnabled, specs.OtelGRPCEndpoint, specs.OtelHTTPEndpoint, logger))

	s, database, closeStorage, err := openStorage(specs, tracer, monitor, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	bus := events.NewBus(specs.ObserverBuffer, specs.HeartbeatInterval, monitor, logger)
	go bus.Run(ctx)

	recorder := events.NewRecorder(s, bus, tracer, logger)

	driver := tasks.NewDriver(
		s,
		bus,
		recorder,
		tasks.DriverConfig{
			Workers:   specs.DriverWorkers,
			QueueSize: specs.DriverQueueSize,
			Interval:  specs.CheckpointInterval,
		},
		tracer,
		monitor,
		logger,
	)
	driver.Start()

	sessions := authentication.NewService(
		s,
		authentication.NewLoggingNotifier(logger),
		authentication.Config{
			SessionTTL:       specs.SessionTTL,
			TwoFactorTTL:     specs.TwoFactorTTL,
			PasswordResetTTL: specs.PasswordResetTTL,
			MaxCodeAttempts:  specs.TwoFactorMaxAttempts,
		},
		tracer,
		monitor,
		logger,
	)
	go cleanupSessions(ctx, sessions, specs.SessionCleanupInterval, logger)

	// Start gRPC health server
	lis, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%v", specs.GRPCPort))
	if err != nil {
		logger.Fatalf("failed to listen on grpc port: %v", err)
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	go func() {
		logger.Infof("Starting gRPC server on port %v", specs.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatalf("failed to serve gRPC: %v", err)
		}
	}()

	router := web.NewRouter(
		web.Config{
			AllowedOrigins: specs.CORSAllowedOrigins,
			Cookies: authentication.CookieConfig{
				Name:   specs.SessionCookieName,
				Secure: specs.CookieSecure,
				Domain: specs.CookieDomain,
			},
			RateLimit: specs.AuthRateLimit,
			RateBurst: specs.AuthRateBurst,

			TrustProxyHeaders: specs.TrustProxyHeaders,
			StreamRecheck:     specs.StreamRecheckInterval,
		},
		s,
		database,
		sessions,
		bus,
		recorder,
		driver,
		tracer,
		monitor,
		logger,
	)
	logger.Infof("Starting HTTP server on port %v", specs.Port)

	srv := newHTTPServer(fmt.Sprintf("0.0.0.0:%v", specs.Port), router)

	var serverError error
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Security().SystemStartup()
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverError = fmt.Errorf("server error: %w", err)
			c <- os.Interrupt
		}
	}()

	<-c

	// Create a deadline to wait for.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Security().SystemShutdown()
	healthServer.Shutdown()

	// closing the bus ends the open event streams so Shutdown does not wait on
	// them, other in flight requests keep their own context and finish
	stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serverError = fmt.Errorf("server shutdown error: %w", err)
	}

	if err := driver.Stop(shutdownCtx); err != nil {
		logger.Errorf("task driver did not drain: %v", err)
	}

	grpcServer.GracefulStop()

	return serverError
}

func main() {
	if err := serve(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}
