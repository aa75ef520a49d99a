// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/mission-control/internal/types"
)

var sessionColumns = []string{
	"id", "token_hash", "user_id", "organization_id", "delegated_user_id", "delegated_organization_id",
	"ip_address", "user_agent", "expires_at", "last_seen_at", "created_at",
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		sess  types.Session
		orgID sql.NullString
	)

	err := row.Scan(
		&sess.ID, &sess.TokenHash, &sess.UserID, &orgID, &sess.DelegatedUserID, &sess.DelegatedOrganizationID,
		&sess.IPAddress, &sess.UserAgent, &sess.ExpiresAt, &sess.LastSeenAt, &sess.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.OrganizationID = orgID.String

	return &sess, nil
}

func (s *Storage) CreateSession(ctx context.Context, sess *types.Session) (*types.Session, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateSession")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	created, err := scanSession(
		s.db.Statement(ctx).
			Insert("sessions").
			Columns("id", "token_hash", "user_id", "organization_id", "ip_address", "user_agent", "expires_at", "last_seen_at").
			Values(id, sess.TokenHash, sess.UserID, nullable(sess.OrganizationID), sess.IPAddress, sess.UserAgent, sess.ExpiresAt, sess.LastSeenAt).
			Suffix("RETURNING " + strings.Join(sessionColumns, ", ")).
			QueryRowContext(ctx),
	)
	if err != nil {
		return nil, mapWriteError(err, "insert session")
	}

	return created, nil
}

func (s *Storage) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*types.Session, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetSessionByTokenHash")
	defer span.End()

	sess, err := scanSession(
		s.db.Statement(ctx).
			Select(sessionColumns...).
			From("sessions").
			Where(sq.Eq{"token_hash": tokenHash}).
			QueryRowContext(ctx),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return sess, nil
}

func (s *Storage) TouchSession(ctx context.Context, id string, at time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.TouchSession")
	defer span.End()

	_, err := s.db.Statement(ctx).
		Update("sessions").
		Set("last_seen_at", at).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	return nil
}

func (s *Storage) DeleteSession(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.DeleteSession")
	defer span.End()

	if _, err := s.db.Statement(ctx).Delete("sessions").Where(sq.Eq{"id": id}).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func (s *Storage) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	ctx, span := s.tracer.Start(ctx, "storage.DeleteSessionByTokenHash")
	defer span.End()

	if _, err := s.db.Statement(ctx).Delete("sessions").Where(sq.Eq{"token_hash": tokenHash}).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func (s *Storage) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "storage.DeleteSessionsByUserID")
	defer span.End()

	if _, err := s.db.Statement(ctx).Delete("sessions").Where(sq.Eq{"user_id": userID}).ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	return nil
}

func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "storage.DeleteExpiredSessions")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Delete("sessions").
		Where(sq.LtOrEq{"expires_at": now}).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return res.RowsAffected()
}

func (s *Storage) SetSessionDelegation(ctx context.Context, id, userID, organizationID string) error {
	ctx, span := s.tracer.Start(ctx, "storage.SetSessionDelegation")
	defer span.End()

	res, err := s.db.Statement(ctx).
		Update("sessions").
		Set("delegated_user_id", userID).
		Set("delegated_organization_id", organizationID).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return mapWriteError(err, "set session delegation")
	}

	return expectAffected(res)
}

func (s *Storage) ClearSessionDelegation(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "storage.ClearSessionDelegation")
	defer span.End()

	_, err := s.db.Statement(ctx).
		Update("sessions").
		Set("delegated_user_id", nil).
		Set("delegated_organization_id", nil).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear session delegation: %w", err)
	}

	return nil
}

func (s *Storage) CreateVerificationCode(ctx context.Context, c *types.VerificationCode) (*types.VerificationCode, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateVerificationCode")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	var code types.VerificationCode
	err = s.db.Statement(ctx).
		Insert("verification_codes").
		Columns("id", "user_id", "purpose", "code_hash", "expires_at").
		Values(id, c.UserID, c.Purpose, c.CodeHash, c.ExpiresAt).
		Suffix("RETURNING id, user_id, purpose, code_hash, expires_at, consumed_at, created_at").
		QueryRowContext(ctx).
		Scan(&code.ID, &code.UserID, &code.Purpose, &code.CodeHash, &code.ExpiresAt, &code.ConsumedAt, &code.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err, "insert verification code")
	}

	return &code, nil
}

func (s *Storage) ConsumeVerificationCode(ctx context.Context, purpose types.CodePurpose, id, codeHash string, now time.Time) (*types.VerificationCode, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ConsumeVerificationCode")
	defer span.End()

	where := sq.And{
		sq.Eq{"purpose": purpose, "code_hash": codeHash, "consumed_at": nil},
		sq.Gt{"expires_at": now},
	}
	if id != "" {
		where = append(where, sq.Eq{"id": id})
	}

	var code types.VerificationCode
	err := s.db.Statement(ctx).
		Update("verification_codes").
		Set("consumed_at", now).
		Where(where).
		Suffix("RETURNING id, user_id, purpose, code_hash, expires_at, consumed_at, created_at").
		QueryRowContext(ctx).
		Scan(&code.ID, &code.UserID, &code.Purpose, &code.CodeHash, &code.ExpiresAt, &code.ConsumedAt, &code.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to consume verification code: %w", err)
	}

	return &code, nil
}

func (s *Storage) FailVerificationCode(ctx context.Context, id string, maxAttempts int, now time.Time) error {
	ctx, span := s.tracer.Start(ctx, "storage.FailVerificationCode")
	defer span.End()

	_, err := s.db.Statement(ctx).
		Update("verification_codes").
		Set("attempts", sq.Expr("attempts + 1")).
		Set("consumed_at", sq.Expr("CASE WHEN attempts + 1 >= ? THEN ?::timestamptz ELSE consumed_at END", maxAttempts, now)).
		Where(sq.Eq{"id": id, "consumed_at": nil}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to record verification attempt: %w", err)
	}

	return nil
}
