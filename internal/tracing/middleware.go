// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tracing

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
)

// untraced are scraped or long lived, a span per request would only be noise
var untraced = map[string]bool{
	"/metrics":              true,
	"/api/v0/status":        true,
	"/api/v0/ready":         true,
	"/api/v1/events/stream": true,
}

// Middleware wraps the router in an otelhttp handler
type Middleware struct {
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// spanName groups requests by method and resource, ids stay out of span names
func spanName(_ string, r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")

	parts := strings.SplitN(path, "/", 4)
	if len(parts) >= 3 && parts[0] == "api" {
		return r.Method + " /" + strings.Join(parts[:3], "/")
	}

	return r.Method + " /" + parts[0]
}

func traced(r *http.Request) bool {
	return !untraced[r.URL.Path]
}

func (mdw *Middleware) OpenTelemetry(handler http.Handler) http.Handler {
	return otelhttp.NewHandler(
		handler,
		serviceName,
		otelhttp.WithFilter(traced),
		otelhttp.WithSpanNameFormatter(spanName),
	)
}

func NewMiddleware(monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Middleware {
	mdw := new(Middleware)

	mdw.monitor = monitor
	mdw.logger = logger

	return mdw
}
