// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package events

import (
	"context"

	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/authentication"
)

// PublisherInterface is the write side of the Bus
type PublisherInterface interface {
	Publish(organizationID, eventType string, payload any)
}

type BusInterface interface {
	PublisherInterface

	Subscribe(organizationID string) *Observer
	SubscribeSession(organizationID, sessionID string) *Observer
	Unsubscribe(o *Observer)
	DisconnectSession(sessionID string) int
	Count() int
}

// IdentityRefresherInterface resolves the current identity behind a session
type IdentityRefresherInterface interface {
	Refresh(ctx context.Context, session *types.Session) (*authentication.Identity, error)
}

type StorageInterface interface {
	CreateActivity(ctx context.Context, a *types.Activity) (*types.Activity, error)
	ListActivities(ctx context.Context, organizationID string, limit int64) ([]*types.Activity, error)
}

// RecorderInterface persists an activity and broadcasts it
type RecorderInterface interface {
	Record(ctx context.Context, a *types.Activity) *types.Activity
}
