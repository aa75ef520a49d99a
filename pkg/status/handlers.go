// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package status

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/version"
)

const pingTimeout = 2 * time.Second

// DependencyInterface is a dependency the service cannot serve without
type DependencyInterface interface {
	Ping(context.Context) error
}

type Status struct {
	Status string `json:"status"`
}

type BuildInfo struct {
	Version string `json:"version"`
}

type API struct {
	dependencies map[string]DependencyInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Get("/api/v0/status", a.alive)
	mux.Get("/api/v0/ready", a.ready)
	mux.Get("/api/v0/version", a.version)
}

func (a *API) alive(w http.ResponseWriter, r *http.Request) {
	httptypes.WriteJSON(w, http.StatusOK, Status{Status: "ok"}, a.logger)
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "status.API.ready")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	for name, dep := range a.dependencies {
		available := 1.0

		err := dep.Ping(ctx)
		if err != nil {
			available = 0
		}

		a.monitor.SetDependencyAvailability(map[string]string{"component": name}, available)

		if err != nil {
			a.logger.Errorf("dependency %s is not ready: %v", name, err)
			httptypes.WriteJSON(w, http.StatusServiceUnavailable, Status{Status: "not_ready"}, a.logger)
			return
		}
	}

	httptypes.WriteJSON(w, http.StatusOK, Status{Status: "ready"}, a.logger)
}

func (a *API) version(w http.ResponseWriter, r *http.Request) {
	httptypes.WriteJSON(w, http.StatusOK, BuildInfo{Version: version.Version}, a.logger)
}

// NewAPI builds the status endpoints, a nil dependency is skipped
func NewAPI(dependencies map[string]DependencyInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *API {
	a := new(API)

	a.dependencies = make(map[string]DependencyInterface, len(dependencies))
	for name, p := range dependencies {
		if p != nil {
			a.dependencies[name] = p
		}
	}

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
