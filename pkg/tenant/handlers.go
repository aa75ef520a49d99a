// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tenant

import (
	"context"
	"net/http"
	"strconv"

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

type CreateOrganizationRequest struct {
	Name string `json:"name" validate:"required,min=2,max=100"`
	Plan string `json:"plan" validate:"omitempty,oneof=free pro enterprise"`
}

type AddMemberRequest struct {
	Email string           `json:"email" validate:"required,email"`
	Role  types.TenantRole `json:"role" validate:"required,oneof=ADMIN USER"`
}

type API struct {
	service  ServiceInterface
	validate *validator.Validate
	guards   chi.Middlewares
	audit    func(http.Handler) http.Handler

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewAPI(
	service ServiceInterface,
	validate *validator.Validate,
	guards chi.Middlewares,
	auditor func(http.Handler) http.Handler,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *API {
	return &API{
		service:  service,
		validate: validate,
		guards:   guards,
		audit:    auditor,
		tracer:   tracer,
		monitor:  monitor,
		logger:   logger,
	}
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Group(func(r chi.Router) {
		r.Use(a.guards...)

		r.Get("/api/v1/admin/organizations", a.listOrganizations)
		r.With(a.audit).Post("/api/v1/admin/organizations", a.createOrganization)
		r.With(a.audit).Post("/api/v1/admin/organizations/{organizationID}/members", a.addMember)
		r.Get("/api/v1/admin/users", a.searchUsers)
		r.Get("/api/v1/admin/metrics", a.metrics)
	})
}

// attribute records platform actions of super users without an organization
// against the organization they touched
func attribute(ctx context.Context, organizationID string) {
	identity, ok := authentication.GetIdentity(ctx)
	if !ok || identity.OrganizationID != "" {
		return
	}

	audit.SetSubject(ctx, audit.Subject{
		ActorID:         identity.BaseUser.ID,
		EffectiveUserID: identity.User.ID,
		OrganizationID:  organizationID,
	})
}

func (a *API) listOrganizations(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tenant.API.listOrganizations")
	defer span.End()

	orgs, err := a.service.ListOrganizations(ctx)
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, orgs, a.logger)
}

func (a *API) createOrganization(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tenant.API.createOrganization")
	defer span.End()

	var req CreateOrganizationRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	org, err := a.service.CreateOrganization(ctx, req.Name, req.Plan)
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	attribute(ctx, org.ID)
	audit.SetSeverity(ctx, types.SeverityHigh)
	audit.AddDetail(ctx, "created_organization_id", org.ID)

	httptypes.WriteJSON(w, http.StatusCreated, org, a.logger)
}

func (a *API) addMember(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tenant.API.addMember")
	defer span.End()

	var req AddMemberRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	organizationID := chi.URLParam(r, "organizationID")

	m, err := a.service.AddMember(ctx, organizationID, req.Email, req.Role)
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	attribute(ctx, organizationID)
	audit.SetSeverity(ctx, types.SeverityHigh)
	audit.AddDetail(ctx, "member_organization_id", organizationID)
	audit.AddDetail(ctx, "member_user_id", m.UserID)
	audit.AddDetail(ctx, "role", string(m.Role))

	httptypes.WriteJSON(w, http.StatusCreated, m, a.logger)
}

func (a *API) searchUsers(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tenant.API.searchUsers")
	defer span.End()

	q := r.URL.Query()

	var limit int64
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			httptypes.WriteError(w, types.NewError(types.CodeValidation, "limit must be a positive integer"), a.logger)
			return
		}
		limit = n
	}

	users, err := a.service.SearchUsers(ctx, q.Get("q"), q.Get("organization_id"), limit)
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, users, a.logger)
}

func (a *API) metrics(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tenant.API.metrics")
	defer span.End()

	m, err := a.service.Metrics(ctx)
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, m, a.logger)
}
