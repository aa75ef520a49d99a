// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tasks

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/canonical/mission-control/internal/authorization"
	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/audit"
	"github.com/canonical/mission-control/pkg/authentication"
)

type CreateTaskRequest struct {
	Name             string `json:"name" validate:"required,min=1,max=200"`
	Description      string `json:"description" validate:"max=2000"`
	Schedule         string `json:"schedule" validate:"max=100"`
	RequiresApproval bool   `json:"requires_approval"`
}

type DecisionRequest struct {
	Decision Decision `json:"decision" validate:"required,oneof=approve reject"`
}

type DecisionResponse struct {
	Approval *types.Approval `json:"approval"`
	Run      *types.TaskRun  `json:"run,omitempty"`
}

type API struct {
	service  ServiceInterface
	validate *validator.Validate

	guards  chi.Middlewares
	require func(authorization.Permission) func(http.Handler) http.Handler
	audit   func(http.Handler) http.Handler

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Group(func(r chi.Router) {
		r.Use(a.guards...)

		r.With(a.require(authorization.PermissionViewTasks)).Get("/api/v1/tasks", a.listTasks)
		r.With(a.audit, a.require(authorization.PermissionCreateTasks)).Post("/api/v1/tasks", a.createTask)
		r.With(a.audit, a.require(authorization.PermissionEditTasks)).Post("/api/v1/tasks/{taskID}/pause", a.togglePause)
		r.With(a.audit, a.require(authorization.PermissionRunTasks)).Post("/api/v1/tasks/{taskID}/runs", a.requestRun)
		r.With(a.require(authorization.PermissionViewTasks)).Get("/api/v1/tasks/{taskID}/runs", a.listRuns)
		r.With(a.require(authorization.PermissionViewTasks)).Get("/api/v1/runs/{runID}", a.getRun)

		r.With(a.require(authorization.PermissionViewApprovals)).Get("/api/v1/approvals", a.listApprovals)
		r.With(a.audit, a.require(authorization.PermissionDecideApprovals)).Post("/api/v1/approvals/{approvalID}/decision", a.decide)
	})
}

func (a *API) identity(w http.ResponseWriter, r *http.Request) (*authentication.Identity, bool) {
	identity, ok := authentication.GetIdentity(r.Context())
	if !ok {
		httptypes.WriteError(w, types.ErrUnauthenticated, a.logger)
	}

	return identity, ok
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tasks.API.listTasks")
	defer span.End()

	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	tasks, err := a.service.ListTasks(ctx, identity)
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, tasks, a.logger)
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tasks.API.createTask")
	defer span.End()

	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	task, err := a.service.CreateTask(ctx, identity, &types.Task{
		Name:             req.Name,
		Description:      req.Description,
		Schedule:         req.Schedule,
		RequiresApproval: req.RequiresApproval,
	})
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	audit.AddDetail(ctx, "task_id", task.ID)
	httptypes.WriteJSON(w, http.StatusCreated, task, a.logger)
}

func (a *API) togglePause(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tasks.API.togglePause")
	defer span.End()

	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	task, err := a.service.TogglePause(ctx, identity, chi.URLParam(r, "taskID"))
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	audit.AddDetail(ctx, "task_id", task.ID)
	audit.AddDetail(ctx, "paused", task.Paused)
	httptypes.WriteJSON(w, http.StatusOK, task, a.logger)
}

func (a *API) requestRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tasks.API.requestRun")
	defer span.End()

	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	run, err := a.service.RequestRun(ctx, identity, chi.URLParam(r, "taskID"))
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	audit.AddDetail(ctx, "run_id", run.ID)
	audit.AddDetail(ctx, "run_status", string(run.Status))
	httptypes.WriteJSON(w, http.StatusAccepted, run, a.logger)
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tasks.API.listRuns")
	defer span.End()

	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	runs, err := a.service.ListRuns(ctx, identity, chi.URLParam(r, "taskID"))
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, runs, a.logger)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tasks.API.getRun")
	defer span.End()

	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	run, err := a.service.GetRun(ctx, identity, chi.URLParam(r, "runID"))
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, run, a.logger)
}

func (a *API) listApprovals(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tasks.API.listApprovals")
	defer span.End()

	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	status := types.ApprovalStatus(r.URL.Query().Get("status"))
	switch status {
	case "", types.ApprovalPending, types.ApprovalApproved, types.ApprovalRejected:
	default:
		httptypes.WriteError(w, types.NewError(types.CodeValidation, "invalid approval status"), a.logger)
		return
	}

	approvals, err := a.service.ListApprovals(ctx, identity, status)
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, approvals, a.logger)
}

func (a *API) decide(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "tasks.API.decide")
	defer span.End()

	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := httptypes.DecodeJSON(r, &req, a.validate); err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	approvalID := chi.URLParam(r, "approvalID")
	audit.AddDetail(ctx, "approval_id", approvalID)
	audit.AddDetail(ctx, "decision", string(req.Decision))

	approval, run, err := a.service.DecideApproval(ctx, identity, approvalID, req.Decision)
	if err != nil {
		httptypes.WriteError(w, err, a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, DecisionResponse{Approval: approval, Run: run}, a.logger)
}

func NewAPI(
	service ServiceInterface,
	validate *validator.Validate,
	guards chi.Middlewares,
	require func(authorization.Permission) func(http.Handler) http.Handler,
	auditor func(http.Handler) http.Handler,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *API {
	a := new(API)

	a.service = service
	a.validate = validate

	a.guards = guards
	a.require = require
	a.audit = auditor

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
