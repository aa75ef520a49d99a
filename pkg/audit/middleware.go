// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package audit

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/types"
)

const apiPrefix = "/api/v1/"

// Middleware records one audit entry per completed request
type Middleware struct {
	sink    SinkInterface
	subject SubjectFunc

	logger logging.LoggerInterface
}

// Record must run after authentication so the subject is visible in the
// request context, public handlers can name it with SetSubject instead
func (m *Middleware) Record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := new(state)
		ctx := withState(r.Context(), st)
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		if status >= http.StatusInternalServerError {
			return
		}

		st.mu.Lock()
		defer st.mu.Unlock()

		subject, ok := Subject{}, false
		if st.subject != nil {
			subject, ok = *st.subject, true
		} else if m.subject != nil {
			subject, ok = m.subject(ctx)
		}

		if !ok {
			return
		}

		severity := st.severity
		if severity == "" {
			severity = types.SeverityLow
			if status >= http.StatusBadRequest {
				severity = types.SeverityMedium
			}
		}

		details := map[string]any{"status": status}
		for k, v := range st.details {
			details[k] = v
		}
		if subject.EffectiveUserID != "" && subject.EffectiveUserID != subject.ActorID {
			details["effective_user_id"] = subject.EffectiveUserID
		}

		var actor *string
		if subject.ActorID != "" {
			actor = &subject.ActorID
		}

		m.sink.Record(ctx, &types.AuditLog{
			OrganizationID: subject.OrganizationID,
			ActorID:        actor,
			Action:         action(r),
			Resource:       resource(r.URL.Path),
			Severity:       severity,
			IPAddress:      httptypes.ClientIP(r),
			Details:        details,
		})
	})
}

func action(r *http.Request) string {
	route := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}

	return r.Method + " " + route
}

// resource is the first path segment after the API prefix
func resource(path string) string {
	rest, ok := strings.CutPrefix(path, apiPrefix)
	if !ok {
		return strings.Trim(path, "/")
	}

	segment, _, _ := strings.Cut(rest, "/")
	return segment
}

func NewMiddleware(sink SinkInterface, subject SubjectFunc, logger logging.LoggerInterface) *Middleware {
	m := new(Middleware)

	m.sink = sink
	m.subject = subject
	m.logger = logger

	return m
}
