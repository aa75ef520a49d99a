// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/mission-control/internal/db"
	"github.com/canonical/mission-control/internal/types"
)

var userColumns = []string{
	"id", "email", "password_hash", "system_role", "active", "two_factor_enabled", "created_at", "updated_at", "last_login_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.SystemRole, &u.Active, &u.TwoFactorEnabled, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt)
	if err != nil {
		return nil, err
	}

	return &u, nil
}

func (s *Storage) CreateUser(ctx context.Context, u *types.User) (*types.User, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateUser")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	role := u.SystemRole
	if role == "" {
		role = types.SystemRoleNone
	}

	user, err := scanUser(
		s.db.Statement(ctx).
			Insert("users").
			Columns("id", "email", "password_hash", "system_role", "active", "two_factor_enabled").
			Values(id, strings.ToLower(u.Email), u.PasswordHash, role, u.Active, u.TwoFactorEnabled).
			Suffix("RETURNING " + strings.Join(userColumns, ", ")).
			QueryRowContext(ctx),
	)
	if err != nil {
		return nil, mapWriteError(err, "insert user")
	}

	return user, nil
}

func (s *Storage) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetUserByID")
	defer span.End()

	user, err := scanUser(
		s.db.Statement(ctx).
			Select(userColumns...).
			From("users").
			Where(sq.Eq{"id": id}).
			QueryRowContext(ctx),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetUserByEmail")
	defer span.End()

	user, err := scanUser(
		s.db.Statement(ctx).
			Select(userColumns...).
			From("users").
			Where(sq.Expr("LOWER(email) = ?", strings.ToLower(email))).
			QueryRowContext(ctx),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

func (s *Storage) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	ctx, span := s.tracer.Start(ctx, "storage.UpdateUserPassword")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("users").
		Set("password_hash", passwordHash).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return expectAffected(res)
}

func (s *Storage) TouchUserLogin(ctx context.Context, id string, at time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.TouchUserLogin")
	defer span.End()

	_, err := s.db.Statement(ctx).
		Update("users").
		Set("last_login_at", at).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return nil
}

// SearchUsers matches a case insensitive substring of the email, optionally
// restricted to the members of an organization
func (s *Storage) SearchUsers(ctx context.Context, query, organizationID string, limit int64) ([]*types.User, error) {
	ctx, span := s.tracer.Start(ctx, "storage.SearchUsers")
	defer span.End()

	columns := make([]string, 0, len(userColumns))
	for _, c := range userColumns {
		columns = append(columns, "u."+c)
	}

	stmt := s.db.Statement(ctx).
		Select(columns...).
		From("users u").
		OrderBy("u.email").
		Limit(db.PageSize(limit))

	if query != "" {
		stmt = stmt.Where(sq.Like{"LOWER(u.email)": "%" + strings.ToLower(query) + "%"})
	}

	if organizationID != "" {
		stmt = stmt.
			Join("memberships m ON m.user_id = u.id").
			Where(sq.Eq{"m.organization_id": organizationID})
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	users := make([]*types.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return users, nil
}
