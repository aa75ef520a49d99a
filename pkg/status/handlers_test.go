// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/version"
)

type fakeDependency struct{ err error }

func (p fakeDependency) Ping(context.Context) error { return p.err }

func newRouter(dependencies map[string]DependencyInterface) *chi.Mux {
	logger := logging.NewNoopLogger()

	mux := chi.NewMux()
	NewAPI(dependencies, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("test", logger), logger).RegisterEndpoints(mux)

	return mux
}

func TestEndpoints(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		dependencies map[string]DependencyInterface
		wantStatus   int
	}{
		{name: "alive", path: "/api/v0/status", wantStatus: http.StatusOK},
		{name: "ready without dependencies", path: "/api/v0/ready", dependencies: map[string]DependencyInterface{"database": nil}, wantStatus: http.StatusOK},
		{name: "ready", path: "/api/v0/ready", dependencies: map[string]DependencyInterface{"database": fakeDependency{}}, wantStatus: http.StatusOK},
		{name: "database down", path: "/api/v0/ready", dependencies: map[string]DependencyInterface{"database": fakeDependency{err: errors.New("refused")}}, wantStatus: http.StatusServiceUnavailable},
		{name: "version", path: "/api/v0/version", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newRouter(tt.dependencies).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestVersionReportsBuild(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v0/version", nil))

	var resp struct {
		Data BuildInfo `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Data.Version != version.Version {
		t.Errorf("expected %s, got %s", version.Version, resp.Data.Version)
	}
}
