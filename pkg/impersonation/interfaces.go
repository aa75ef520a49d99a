// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package impersonation

import (
	"context"

	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/authentication"
)

type StorageInterface interface {
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	GetOrganizationByID(ctx context.Context, id string) (*types.Organization, error)
	GetMembership(ctx context.Context, userID, organizationID string) (*types.Membership, error)
	ListMembershipsByUserID(ctx context.Context, userID string) ([]*types.Membership, error)
	SetSessionDelegation(ctx context.Context, id, userID, organizationID string) error
	ClearSessionDelegation(ctx context.Context, id string) error
}

type ServiceInterface interface {
	Begin(ctx context.Context, actor *authentication.Identity, targetUserID, targetOrganizationID string) (*Delegation, error)
	End(ctx context.Context, session *types.Session) error
}
