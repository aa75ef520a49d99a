// Copyright 2025 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"errors"
	"net/http"

	"github.com/canonical/mission-control/internal/authorization"
	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
)

type Middleware struct {
	sessions SessionValidatorInterface
	cookies  *Cookies

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// Authenticate resolves the session of the request into an Identity
func (m *Middleware) Authenticate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := m.tracer.Start(r.Context(), "authentication.Middleware.Authenticate")
			defer span.End()

			session, err := m.sessions.Validate(ctx, m.cookies.Token(r))
			if err != nil {
				if errors.Is(err, types.ErrSessionExpired) {
					m.cookies.Clear(w)
				}
				m.logger.Debugf("session validation failed: %v", err)
				httptypes.WriteError(w, err, m.logger)
				return
			}

			identity, err := m.sessions.ResolveIdentity(ctx, session)
			if err != nil {
				m.logger.Debugf("identity resolution failed: %v", err)
				httptypes.WriteError(w, err, m.logger)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// AuthenticateSession only validates the session token. Routes that must keep
// working when the delegated identity no longer resolves use it instead of
// Authenticate
func (m *Middleware) AuthenticateSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := m.tracer.Start(r.Context(), "authentication.Middleware.AuthenticateSession")
			defer span.End()

			session, err := m.sessions.Validate(ctx, m.cookies.Token(r))
			if err != nil {
				if errors.Is(err, types.ErrSessionExpired) {
					m.cookies.Clear(w)
				}
				httptypes.WriteError(w, err, m.logger)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(ctx, session)))
		})
	}
}

// Require rejects requests whose effective identity lacks p
func (m *Middleware) Require(p authorization.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentity(r.Context())
			if !ok {
				httptypes.WriteError(w, types.ErrUnauthenticated, m.logger)
				return
			}

			if !identity.Can(p) {
				m.logger.Security().AuthzFailure(identity.User.ID, p.String())
				httptypes.WriteError(w, types.ErrForbidden, m.logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireOrganization rejects identities without an effective organization,
// which only super users can have
func (m *Middleware) RequireOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := GetIdentity(r.Context())
		if !ok {
			httptypes.WriteError(w, types.ErrUnauthenticated, m.logger)
			return
		}

		if identity.OrganizationID == "" {
			httptypes.WriteError(w, types.ErrNoOrganization, m.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewMiddleware(sessions SessionValidatorInterface, cookies *Cookies, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Middleware {
	return &Middleware{
		sessions: sessions,
		cookies:  cookies,
		tracer:   tracer,
		monitor:  monitor,
		logger:   logger,
	}
}
