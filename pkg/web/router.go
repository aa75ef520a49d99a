// Copyright 2025 Canonical Ltd
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"context"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/canonical/mission-control/internal/authorization"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/pkg/audit"
	"github.com/canonical/mission-control/pkg/authentication"
	"github.com/canonical/mission-control/pkg/events"
	"github.com/canonical/mission-control/pkg/impersonation"
	"github.com/canonical/mission-control/pkg/metrics"
	"github.com/canonical/mission-control/pkg/status"
	"github.com/canonical/mission-control/pkg/tasks"
	"github.com/canonical/mission-control/pkg/tenant"
)

type Config struct {
	AllowedOrigins []string
	Cookies        authentication.CookieConfig
	RateLimit      float64
	RateBurst      int

	TrustProxyHeaders bool

	// StreamRecheck is how often an open event stream re-resolves its session
	StreamRecheck time.Duration
}

// auditSubject attributes entries to the base user acting in the effective organization
func auditSubject(ctx context.Context) (audit.Subject, bool) {
	identity, ok := authentication.GetIdentity(ctx)
	if !ok {
		return audit.Subject{}, false
	}

	return audit.Subject{
		ActorID:         identity.BaseUser.ID,
		EffectiveUserID: identity.User.ID,
		OrganizationID:  identity.OrganizationID,
	}, true
}

func NewRouter(
	cfg Config,
	s storage.StorageInterface,
	database status.DependencyInterface,
	sessions *authentication.Service,
	bus *events.Bus,
	recorder *events.Recorder,
	driver *tasks.Driver,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) http.Handler {
	router := chi.NewMux()

	middlewares := make(chi.Middlewares, 0)
	if cfg.TrustProxyHeaders {
		middlewares = append(middlewares, middleware.RealIP)
	}
	middlewares = append(
		middlewares,
		middleware.RequestID,
		monitoring.NewMiddleware(monitor, logger).ResponseTime(),
		middlewareCORS(cfg.AllowedOrigins),
	)

	router.Use(middlewares...)

	validate := validator.New(validator.WithRequiredStructEnabled())

	cookies := authentication.NewCookies(cfg.Cookies)
	authn := authentication.NewMiddleware(sessions, cookies, tracer, monitor, logger)
	limiter := authentication.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, logger)
	auditor := audit.NewMiddleware(audit.NewSink(s, tracer, monitor, logger), auditSubject, logger).Record

	// tenant routes need a session and an effective organization
	scoped := func(perms ...authorization.Permission) chi.Middlewares {
		guards := chi.Middlewares{authn.Authenticate(), authn.RequireOrganization}
		for _, p := range perms {
			guards = append(guards, authn.Require(p))
		}
		return guards
	}

	admin := chi.Middlewares{authn.Authenticate(), authn.Require(authorization.PermissionAdmin)}

	metrics.NewAPI(logger).RegisterEndpoints(router)
	status.NewAPI(map[string]status.DependencyInterface{"database": database}, tracer, monitor, logger).RegisterEndpoints(router)

	authentication.NewAPI(sessions, cookies, authn, limiter, bus, auditor, validate, tracer, monitor, logger).RegisterEndpoints(router)
	impersonation.NewAPI(
		impersonation.NewService(s, tracer, monitor, logger),
		validate,
		authn.Authenticate(),
		authn.AuthenticateSession(),
		auditor,
		bus,
		tracer,
		monitor,
		logger,
	).RegisterEndpoints(router)

	events.NewAPI(bus, s, scoped(authorization.PermissionViewDashboard), sessions, cfg.StreamRecheck, tracer, monitor, logger).RegisterEndpoints(router)

	taskService := tasks.NewService(s, driver, bus, recorder, tracer, monitor, logger)
	tasks.NewAPI(taskService, validate, scoped(), authn.Require, auditor, tracer, monitor, logger).RegisterEndpoints(router)

	tenantService := tenant.NewService(s, bus, driver, tracer, monitor, logger)
	tenant.NewAPI(tenantService, validate, admin, auditor, tracer, monitor, logger).RegisterEndpoints(router)

	audit.NewAPI(s, admin, tracer, monitor, logger).RegisterEndpoints(router)

	return tracing.NewMiddleware(monitor, logger).OpenTelemetry(router)
}
