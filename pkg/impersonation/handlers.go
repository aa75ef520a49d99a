// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package impersonation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/audit"
	"github.com/canonical/mission-control/pkg/authentication"
)

type BeginRequest struct {
	UserID         string `json:"user_id" validate:"required"`
	OrganizationID string `json:"organization_id"`
}

type API struct {
	service  ServiceInterface
	validate *validator.Validate

	authenticate        func(http.Handler) http.Handler
	authenticateSession func(http.Handler) http.Handler
	audit               func(http.Handler) http.Handler

	streams authentication.StreamCloserInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Group(func(r chi.Router) {
		r.Use(a.authenticate, a.audit)

		r.Post("/api/v1/admin/impersonation", a.begin)
	})

	mux.Group(func(r chi.Router) {
		r.Use(a.authenticateSession, a.audit)

		r.Delete("/api/v1/auth/impersonation", a.end)
	})
}

func (a *API) begin(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "impersonation.API.begin")
	defer span.End()

	actor, ok := authentication.GetIdentity(ctx)
	if !ok {
		httptypes.WriteError(w, types.ErrUnauthenticated, a.logger)
		return
	}

	var req BeginRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	audit.SetSeverity(ctx, types.SeverityHigh)
	audit.AddDetail(ctx, "target_user_id", req.UserID)

	delegation, err := a.service.Begin(ctx, actor, req.UserID, req.OrganizationID)
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	a.disconnect(actor.Session)

	audit.SetSubject(ctx, audit.Subject{
		ActorID:         actor.BaseUser.ID,
		EffectiveUserID: delegation.User.ID,
		OrganizationID:  delegation.OrganizationID,
	})

	httptypes.WriteJSON(w, http.StatusOK, delegation, a.logger)
}

func (a *API) end(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "impersonation.API.end")
	defer span.End()

	session, ok := authentication.GetSession(ctx)
	if !ok {
		httptypes.WriteError(w, types.ErrUnauthenticated, a.logger)
		return
	}

	if err := a.service.End(ctx, session); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	a.disconnect(session)

	subject := audit.Subject{ActorID: session.UserID, OrganizationID: session.EffectiveOrganizationID()}
	if session.DelegatedUserID != nil {
		subject.EffectiveUserID = *session.DelegatedUserID
	}
	audit.SetSubject(ctx, subject)
	audit.AddDetail(ctx, "was_delegated", session.IsDelegated())
	httptypes.WriteJSON(w, http.StatusOK, map[string]string{"message": "impersonation ended"}, a.logger)
}

// disconnect drops the event streams of the session, they were bound to the
// previous effective organization
func (a *API) disconnect(session *types.Session) {
	if a.streams == nil || session == nil {
		return
	}

	if n := a.streams.DisconnectSession(session.ID); n > 0 {
		a.logger.Debugf("closed %d event streams of session %s", n, session.ID)
	}
}

func NewAPI(
	service ServiceInterface,
	validate *validator.Validate,
	authenticate func(http.Handler) http.Handler,
	authenticateSession func(http.Handler) http.Handler,
	auditor func(http.Handler) http.Handler,
	streams authentication.StreamCloserInterface,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *API {
	a := new(API)

	a.service = service
	a.validate = validate
	a.authenticate = authenticate
	a.authenticateSession = authenticateSession
	a.audit = auditor
	a.streams = streams

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
