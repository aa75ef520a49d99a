// Copyright 2025 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/mission-control/internal/types"
)

func (s *Storage) CreateOrganization(ctx context.Context, o *types.Organization) (*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateOrganization")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	plan := o.Plan
	if plan == "" {
		plan = types.PlanFree
	}

	status := o.Status
	if status == "" {
		status = types.OrganizationActive
	}

	var org types.Organization
	err = s.db.Statement(ctx).
		Insert("organizations").
		Columns("id", "name", "plan", "status").
		Values(id, o.Name, plan, status).
		Suffix("RETURNING id, name, plan, status, created_at").
		QueryRowContext(ctx).
		Scan(&org.ID, &org.Name, &org.Plan, &org.Status, &org.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err, "insert organization")
	}

	return &org, nil
}

func (s *Storage) GetOrganizationByID(ctx context.Context, id string) (*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetOrganizationByID")
	defer span.End()

	var org types.Organization
	err := s.db.Statement(ctx).
		Select("id", "name", "plan", "status", "created_at").
		From("organizations").
		Where(sq.Eq{"id": id}).
		QueryRowContext(ctx).
		Scan(&org.ID, &org.Name, &org.Plan, &org.Status, &org.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return &org, nil
}

func (s *Storage) ListOrganizations(ctx context.Context) ([]*types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListOrganizations")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select("id", "name", "plan", "status", "created_at").
		From("organizations").
		OrderBy("created_at").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]*types.Organization, 0)
	for rows.Next() {
		var o types.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Plan, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organization rows: %w", err)
	}

	return orgs, nil
}

func (s *Storage) CreateAccount(ctx context.Context, u *types.User, o *types.Organization) (*types.User, *types.Organization, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateAccount")
	defer span.End()

	var (
		user *types.User
		org  *types.Organization
	)

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error

		if user, err = s.CreateUser(ctx, u); err != nil {
			return err
		}

		if org, err = s.CreateOrganization(ctx, o); err != nil {
			return err
		}

		_, err = s.AddMember(ctx, org.ID, user.ID, types.TenantRoleAdmin)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return user, org, nil
}

func (s *Storage) AddMember(ctx context.Context, organizationID, userID string, role types.TenantRole) (*types.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "storage.AddMember")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	var m types.Membership
	err = s.db.Statement(ctx).
		Insert("memberships").
		Columns("id", "organization_id", "user_id", "role").
		Values(id, organizationID, userID, role).
		Suffix("RETURNING id, user_id, organization_id, role, created_at").
		QueryRowContext(ctx).
		Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err, "add member")
	}

	return &m, nil
}

func (s *Storage) GetMembership(ctx context.Context, userID, organizationID string) (*types.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetMembership")
	defer span.End()

	var m types.Membership
	err := s.db.Statement(ctx).
		Select("id", "user_id", "organization_id", "role", "created_at").
		From("memberships").
		Where(sq.Eq{"user_id": userID, "organization_id": organizationID}).
		QueryRowContext(ctx).
		Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}

	return &m, nil
}

func (s *Storage) ListMembershipsByUserID(ctx context.Context, userID string) ([]*types.Membership, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListMembershipsByUserID")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select("id", "user_id", "organization_id", "role", "created_at").
		From("memberships").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at", "id").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	members := make([]*types.Membership, 0)
	for rows.Next() {
		var m types.Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return members, nil
}
