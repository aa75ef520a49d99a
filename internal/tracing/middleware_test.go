// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSpanName(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		expected string
	}{
		{method: http.MethodGet, path: "/api/v1/runs/01J9Z", expected: "GET /api/v1/runs"},
		{method: http.MethodPost, path: "/api/v1/tasks/abc/runs", expected: "POST /api/v1/tasks"},
		{method: http.MethodGet, path: "/api/v1/me", expected: "GET /api/v1/me"},
		{method: http.MethodGet, path: "/metrics", expected: "GET /metrics"},
		{method: http.MethodGet, path: "/", expected: "GET /"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, nil)

			if got := spanName("", r); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestStatusAndStreamRoutesAreNotTraced(t *testing.T) {
	for _, path := range []string{"/metrics", "/api/v0/status", "/api/v0/ready", "/api/v1/events/stream"} {
		if traced(httptest.NewRequest(http.MethodGet, path, nil)) {
			t.Errorf("%s should not be traced", path)
		}
	}

	if !traced(httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)) {
		t.Error("api requests should be traced")
	}
}
