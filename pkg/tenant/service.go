// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
)

type Service struct {
	storage   StorageInterface
	observers ObserverCounterInterface
	runs      InFlightInterface

	now func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func NewService(
	storage StorageInterface,
	observers ObserverCounterInterface,
	runs InFlightInterface,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	return &Service{
		storage:   storage,
		observers: observers,
		runs:      runs,
		now:       time.Now,
		tracer:    tracer,
		monitor:   monitor,
		logger:    logger,
	}
}

func (s *Service) ListOrganizations(ctx context.Context) ([]*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.Service.ListOrganizations")
	defer span.End()

	orgs, err := s.storage.ListOrganizations(ctx)
	if err != nil {
		return nil, types.WrapError(types.CodeInternal, "failed to list organizations", err)
	}

	return orgs, nil
}

func (s *Service) CreateOrganization(ctx context.Context, name, plan string) (*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.Service.CreateOrganization")
	defer span.End()

	org, err := s.storage.CreateOrganization(ctx, &types.Organization{Name: name, Plan: plan})
	if err != nil {
		return nil, types.WrapError(types.CodeInternal, "failed to create organization", err)
	}

	s.logger.Infof("created organization %s (%s)", org.ID, org.Name)

	return org, nil
}

// AddMember grants an existing user a role in the organization
func (s *Service) AddMember(ctx context.Context, organizationID, email string, role types.TenantRole) (*types.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.Service.AddMember")
	defer span.End()

	if !role.Valid() {
		return nil, types.NewError(types.CodeValidation, "role must be ADMIN or USER")
	}

	if _, err := s.storage.GetOrganizationByID(ctx, organizationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, types.NewError(types.CodeNotFound, "organization not found")
		}
		return nil, types.WrapError(types.CodeInternal, "failed to fetch organization", err)
	}

	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, types.NewError(types.CodeNotFound, "user not found")
		}
		return nil, types.WrapError(types.CodeInternal, "failed to fetch user", err)
	}

	m, err := s.storage.AddMember(ctx, organizationID, user.ID, role)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, types.NewError(types.CodeConflict, "user is already a member")
		}
		return nil, types.WrapError(types.CodeInternal, "failed to add member", err)
	}

	return m, nil
}

func (s *Service) SearchUsers(ctx context.Context, query, organizationID string, limit int64) ([]*types.User, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.Service.SearchUsers")
	defer span.End()

	users, err := s.storage.SearchUsers(ctx, query, organizationID, limit)
	if err != nil {
		return nil, types.WrapError(types.CodeInternal, "failed to search users", err)
	}

	return users, nil
}

// Metrics merges the persisted counters with the live process state
func (s *Service) Metrics(ctx context.Context) (*types.PlatformMetrics, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.Service.Metrics")
	defer span.End()

	m, err := s.storage.GetPlatformMetrics(ctx, s.now())
	if err != nil {
		return nil, types.WrapError(types.CodeInternal, "failed to compute metrics", err)
	}

	if s.observers != nil {
		m.Observers = s.observers.Count()
	}

	if s.runs != nil {
		m.InFlightRuns = s.runs.InFlight()
	}

	return m, nil
}
