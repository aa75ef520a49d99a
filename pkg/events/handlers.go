// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package events

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/mission-control/internal/authorization"
	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/authentication"
)

type API struct {
	bus     BusInterface
	storage StorageInterface
	guards  chi.Middlewares

	identities IdentityRefresherInterface
	recheck    time.Duration

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux *chi.Mux) {
	mux.Group(func(r chi.Router) {
		r.Use(a.guards...)

		r.Get("/api/v1/events/stream", a.stream)
		r.Get("/api/v1/activity", a.activity)
	})
}

// writeEvent renders a single server sent event frame
func writeEvent(w io.Writer, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}

// stream keeps the connection open and relays the events of the caller's
// effective organization until either side goes away
func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	identity, ok := authentication.GetIdentity(r.Context())
	if !ok {
		httptypes.WriteError(w, types.ErrUnauthenticated, a.logger)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		a.logger.Debugf("unable to lift write deadline for event stream: %v", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var sessionID string
	if identity.Session != nil {
		sessionID = identity.Session.ID
	}

	observer := a.bus.SubscribeSession(identity.OrganizationID, sessionID)
	defer a.bus.Unsubscribe(observer)

	var recheck <-chan time.Time
	if a.identities != nil && a.recheck > 0 && identity.Session != nil {
		ticker := time.NewTicker(a.recheck)
		defer ticker.Stop()
		recheck = ticker.C
	}

	hello := Event{ID: observer.ID, Type: TypeConnected, OrganizationID: identity.OrganizationID, Timestamp: time.Now().UTC()}
	if err := writeEvent(w, hello); err != nil {
		return
	}

	if err := rc.Flush(); err != nil {
		a.logger.Errorf("event stream does not support flushing: %v", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-recheck:
			if !a.stillEntitled(r, identity) {
				a.logger.Debugf("closing event stream %s, session %s lost access to %s", observer.ID, sessionID, identity.OrganizationID)
				return
			}
		case evt, ok := <-observer.Events():
			if !ok {
				return
			}

			if err := writeEvent(w, evt); err != nil {
				a.logger.Debugf("observer %s disconnected: %v", observer.ID, err)
				return
			}

			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// stillEntitled resolves the session again, the stream survives only while
// it acts in the same organization and may still view the dashboard
func (a *API) stillEntitled(r *http.Request, identity *authentication.Identity) bool {
	current, err := a.identities.Refresh(r.Context(), identity.Session)
	if err != nil {
		return false
	}

	return current.OrganizationID == identity.OrganizationID &&
		current.User.ID == identity.User.ID &&
		current.Can(authorization.PermissionViewDashboard)
}

func (a *API) activity(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "events.API.activity")
	defer span.End()

	identity, ok := authentication.GetIdentity(ctx)
	if !ok {
		httptypes.WriteError(w, types.ErrUnauthenticated, a.logger)
		return
	}

	var limit int64
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			httptypes.WriteError(w, types.NewError(types.CodeValidation, "invalid limit"), a.logger)
			return
		}
		limit = n
	}

	activities, err := a.storage.ListActivities(ctx, identity.OrganizationID, limit)
	if err != nil {
		httptypes.WriteError(w, types.WrapError(types.CodeInternal, "failed to list activity", err), a.logger)
		return
	}

	httptypes.WriteJSON(w, http.StatusOK, activities, a.logger)
}

func NewAPI(
	bus BusInterface,
	storage StorageInterface,
	guards chi.Middlewares,
	identities IdentityRefresherInterface,
	recheck time.Duration,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *API {
	a := new(API)

	a.bus = bus
	a.storage = storage
	a.guards = guards
	a.identities = identities
	a.recheck = recheck

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
