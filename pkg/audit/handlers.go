// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package audit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
)

type API struct {
	storage StorageInterface
	guards  chi.Middlewares

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.With(a.guards...).Get("/api/v1/admin/audit-logs", a.list)
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "audit.API.list")
	defer span.End()

	q := r.URL.Query()

	page, err := intParam(q.Get("page"))
	if err != nil {
		httptypes.WriteError(w, types.NewError(types.CodeValidation, "invalid page"), a.logger)
		return
	}

	size, err := intParam(q.Get("limit"))
	if err != nil {
		httptypes.WriteError(w, types.NewError(types.CodeValidation, "invalid limit"), a.logger)
		return
	}

	logs, err := a.storage.ListAuditLogs(ctx, q.Get("organization_id"), page, size)
	if err != nil {
		httptypes.WriteError(w, types.WrapError(types.CodeInternal, "failed to list audit logs", err), a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, logs, a.logger)
}

func intParam(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}

	return strconv.ParseInt(v, 10, 64)
}

// NewAPI serves the audit trail, guards restrict it to administrators
func NewAPI(storage StorageInterface, guards chi.Middlewares, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *API {
	a := new(API)

	a.storage = storage
	a.guards = guards

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
