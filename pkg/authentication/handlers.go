// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/canonical/mission-control/internal/authorization"
	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/audit"
)

type RegisterRequest struct {
	Email            string `json:"email" validate:"required,email,max=254"`
	Password         string `json:"password" validate:"required,min=8,max=72"`
	OrganizationName string `json:"organization_name" validate:"required,min=2,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type VerifyRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type PasswordResetConfirmRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type SessionResponse struct {
	User      *types.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type ChallengeResponse struct {
	TwoFactorRequired bool   `json:"two_factor_required"`
	ChallengeID       string `json:"challenge_id"`
}

type MeResponse struct {
	User           *types.User                 `json:"user"`
	BaseUser       *types.User                 `json:"base_user,omitempty"`
	OrganizationID string                      `json:"organization_id,omitempty"`
	Role           *types.TenantRole           `json:"role,omitempty"`
	Permissions    authorization.PermissionSet `json:"permissions"`
	Delegated      bool                        `json:"delegated"`
	ExpiresAt      time.Time                   `json:"expires_at"`
}

type API struct {
	service    ServiceInterface
	cookies    *Cookies
	middleware *Middleware
	limiter    *RateLimiter
	streams    StreamCloserInterface
	audit      func(http.Handler) http.Handler
	validate   *validator.Validate

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Group(func(r chi.Router) {
		r.Use(a.audit)

		r.Post("/api/v1/auth/register", a.register)

		r.Group(func(r chi.Router) {
			r.Use(a.limiter.Limit)

			r.Post("/api/v1/auth/login", a.login)
			r.Post("/api/v1/auth/2fa/verify", a.verifySecondFactor)
			r.Post("/api/v1/auth/password-reset", a.requestPasswordReset)
			r.Post("/api/v1/auth/password-reset/confirm", a.confirmPasswordReset)
		})
	})

	mux.Group(func(r chi.Router) {
		r.Use(a.middleware.Authenticate())

		r.Get("/api/v1/me", a.me)
	})

	mux.Group(func(r chi.Router) {
		r.Use(a.middleware.AuthenticateSession(), a.audit)

		r.Post("/api/v1/auth/logout", a.logout)
	})
}

func meta(r *http.Request) ClientMeta {
	return ClientMeta{IPAddress: httptypes.ClientIP(r), UserAgent: r.UserAgent()}
}

func (a *API) writeSession(w http.ResponseWriter, r *http.Request, result *LoginResult) {
	if result.ChallengeRequired() {
		httptypes.WriteJSON(w, http.StatusAccepted, ChallengeResponse{TwoFactorRequired: true, ChallengeID: result.ChallengeID}, a.logger)
		return
	}

	audit.SetSubject(r.Context(), audit.Subject{
		ActorID:        result.User.ID,
		OrganizationID: result.Session.OrganizationID,
	})

	a.cookies.Set(w, result.Token, result.Session.ExpiresAt)
	httptypes.WriteJSON(w, http.StatusOK, SessionResponse{User: result.User, ExpiresAt: result.Session.ExpiresAt}, a.logger)
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "authentication.API.register")
	defer span.End()

	var req RegisterRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	result, err := a.service.Register(ctx, req.Email, req.Password, req.OrganizationName, meta(r))
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	a.cookies.Set(w, result.Token, result.Session.ExpiresAt)

	audit.SetSubject(r.Context(), audit.Subject{ActorID: result.User.ID, OrganizationID: result.Session.OrganizationID})
	httptypes.WriteJSON(w, http.StatusCreated, SessionResponse{User: result.User, ExpiresAt: result.Session.ExpiresAt}, a.logger)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "authentication.API.login")
	defer span.End()

	var req LoginRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	result, err := a.service.Login(ctx, req.Email, req.Password, meta(r))
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	a.writeSession(w, r, result)
}

func (a *API) verifySecondFactor(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "authentication.API.verifySecondFactor")
	defer span.End()

	var req VerifyRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	result, err := a.service.VerifySecondFactor(ctx, req.ChallengeID, req.Code, meta(r))
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	a.writeSession(w, r, result)
}

func (a *API) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "authentication.API.requestPasswordReset")
	defer span.End()

	var req PasswordResetRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	if err := a.service.RequestPasswordReset(ctx, req.Email); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusAccepted, map[string]string{"message": "if the account exists a reset link has been sent"}, a.logger)
}

func (a *API) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "authentication.API.confirmPasswordReset")
	defer span.End()

	var req PasswordResetConfirmRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	if err := a.service.ResetPassword(ctx, req.Token, req.Password); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, map[string]string{"message": "password updated"}, a.logger)
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "authentication.API.logout")
	defer span.End()

	if err := a.service.Destroy(ctx, a.cookies.Token(r)); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	if session, ok := GetSession(ctx); ok {
		if a.streams != nil {
			a.streams.DisconnectSession(session.ID)
		}

		audit.SetSubject(ctx, audit.Subject{
			ActorID:        session.UserID,
			OrganizationID: session.EffectiveOrganizationID(),
		})
		a.logger.Security().AuthnTokenRevoked(session.UserID)
	}

	a.cookies.Clear(w)
	httptypes.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"}, a.logger)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	identity, ok := GetIdentity(r.Context())
	if !ok {
		httptypes.WriteError(w, types.ErrUnauthenticated, a.logger)
		return
	}

	resp := MeResponse{
		User:           identity.User,
		OrganizationID: identity.OrganizationID,
		Role:           identity.Role,
		Permissions:    identity.Permissions,
		Delegated:      identity.Delegated(),
		ExpiresAt:      identity.Session.ExpiresAt,
	}
	if resp.Delegated {
		resp.BaseUser = identity.BaseUser
	}

	httptypes.WriteJSON(w, http.StatusOK, resp, a.logger)
}

func NewAPI(
	service ServiceInterface,
	cookies *Cookies,
	middleware *Middleware,
	limiter *RateLimiter,
	streams StreamCloserInterface,
	auditor func(http.Handler) http.Handler,
	validate *validator.Validate,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *API {
	a := new(API)

	a.service = service
	a.cookies = cookies
	a.middleware = middleware
	a.limiter = limiter
	a.streams = streams
	a.audit = auditor
	a.validate = validate

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
