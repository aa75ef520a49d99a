// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package impersonation

import (
	"context"
	"errors"

	"github.com/canonical/mission-control/internal/authorization"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/authentication"
)

// Delegation is the effective pair a session acts as while impersonating
type Delegation struct {
	User           *types.User         `json:"user"`
	Organization   *types.Organization `json:"organization"`
	OrganizationID string              `json:"organization_id"`
}

type Service struct {
	storage StorageInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// canImpersonate is evaluated on the base user only, tenant roles never grant it
func canImpersonate(actor *authentication.Identity) bool {
	if actor.BaseUser == nil {
		return false
	}

	return authorization.Resolve(actor.BaseUser.SystemRole, nil).Has(authorization.PermissionAdmin)
}

// Begin points the actor's current session at the target user and organization
func (s *Service) Begin(ctx context.Context, actor *authentication.Identity, targetUserID, targetOrganizationID string) (*Delegation, error) {
	ctx, span := s.tracer.Start(ctx, "impersonation.Service.Begin")
	defer span.End()

	if actor == nil || actor.Session == nil {
		return nil, types.ErrUnauthenticated
	}

	if !canImpersonate(actor) {
		if actor.BaseUser != nil {
			s.logger.Security().AuthzFailure(actor.BaseUser.ID, authorization.PermissionAdmin.String())
		}
		return nil, types.ErrForbidden
	}

	target, err := s.storage.GetUserByID(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, types.NewError(types.CodeNotFound, "target user not found")
		}
		return nil, types.WrapError(types.CodeInternal, "failed to fetch target user", err)
	}

	if !target.Active {
		return nil, types.NewError(types.CodeNotFound, "target user not found")
	}

	org, err := s.resolveOrganization(ctx, target, targetOrganizationID)
	if err != nil {
		return nil, err
	}

	if !target.IsSuper() {
		if _, err := s.storage.GetMembership(ctx, target.ID, org.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, types.ErrNoOrgAccess
			}
			return nil, types.WrapError(types.CodeInternal, "failed to fetch membership", err)
		}
	}

	if err := s.storage.SetSessionDelegation(ctx, actor.Session.ID, target.ID, org.ID); err != nil {
		return nil, types.WrapError(types.CodeInternal, "failed to update session", err)
	}

	s.logger.Security().ImpersonationStart(actor.BaseUser.ID, target.ID, org.ID)

	return &Delegation{User: target, Organization: org, OrganizationID: org.ID}, nil
}

func (s *Service) resolveOrganization(ctx context.Context, target *types.User, organizationID string) (*types.Organization, error) {
	if organizationID == "" {
		memberships, err := s.storage.ListMembershipsByUserID(ctx, target.ID)
		if err != nil {
			return nil, types.WrapError(types.CodeInternal, "failed to list memberships", err)
		}

		if len(memberships) == 0 {
			// a delegated pair always names an organization, even for super users
			return nil, types.ErrNoOrganization
		}

		organizationID = memberships[0].OrganizationID
	}

	org, err := s.storage.GetOrganizationByID(ctx, organizationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, types.NewError(types.CodeNotFound, "organization not found")
		}
		return nil, types.WrapError(types.CodeInternal, "failed to fetch organization", err)
	}

	return org, nil
}

// End clears the delegated pair of a validated session. It does not need the
// delegated identity to resolve, so a deactivated target can always be left.
// Ending an inactive delegation is not an error
func (s *Service) End(ctx context.Context, session *types.Session) error {
	ctx, span := s.tracer.Start(ctx, "impersonation.Service.End")
	defer span.End()

	if session == nil {
		return types.ErrUnauthenticated
	}

	if err := s.storage.ClearSessionDelegation(ctx, session.ID); err != nil {
		return types.WrapError(types.CodeInternal, "failed to update session", err)
	}

	if session.IsDelegated() {
		s.logger.Security().ImpersonationEnd(session.UserID)
	}

	return nil
}

func NewService(storage StorageInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Service {
	s := new(Service)

	s.storage = storage

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
