// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tenant

import (
	"context"
	"time"

	"github.com/canonical/mission-control/internal/types"
)

type ServiceInterface interface {
	ListOrganizations(ctx context.Context) ([]*types.Organization, error)
	CreateOrganization(ctx context.Context, name, plan string) (*types.Organization, error)
	AddMember(ctx context.Context, organizationID, email string, role types.TenantRole) (*types.Membership, error)
	SearchUsers(ctx context.Context, query, organizationID string, limit int64) ([]*types.User, error)
	Metrics(ctx context.Context) (*types.PlatformMetrics, error)
}

type StorageInterface interface {
	CreateOrganization(ctx context.Context, o *types.Organization) (*types.Organization, error)
	GetOrganizationByID(ctx context.Context, id string) (*types.Organization, error)
	ListOrganizations(ctx context.Context) ([]*types.Organization, error)
	AddMember(ctx context.Context, organizationID, userID string, role types.TenantRole) (*types.Membership, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	SearchUsers(ctx context.Context, query, organizationID string, limit int64) ([]*types.User, error)
	GetPlatformMetrics(ctx context.Context, now time.Time) (*types.PlatformMetrics, error)
}

// ObserverCounterInterface reports live event stream observers
type ObserverCounterInterface interface {
	Count() int
}

// InFlightInterface reports runs currently being executed
type InFlightInterface interface {
	InFlight() int64
}
