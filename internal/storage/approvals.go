// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/mission-control/internal/types"
)

var approvalColumns = []string{
	"id", "organization_id", "type", "title", "description", "status", "requested_by", "run_id", "decided_by", "decided_at", "created_at",
}

func scanApproval(row rowScanner) (*types.Approval, error) {
	var a types.Approval
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.Type, &a.Title, &a.Description, &a.Status,
		&a.RequestedBy, &a.RunID, &a.DecidedBy, &a.DecidedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

func (s *Storage) insertApproval(ctx context.Context, a *types.Approval) (*types.Approval, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	approval, err := scanApproval(
		s.db.Statement(ctx).
			Insert("approvals").
			Columns("id", "organization_id", "type", "title", "description", "status", "requested_by", "run_id").
			Values(id, a.OrganizationID, a.Type, a.Title, a.Description, types.ApprovalPending, a.RequestedBy, a.RunID).
			Suffix("RETURNING " + strings.Join(approvalColumns, ", ")).
			QueryRowContext(ctx),
	)
	if err != nil {
		return nil, mapWriteError(err, "insert approval")
	}

	return approval, nil
}

func (s *Storage) ListApprovals(ctx context.Context, organizationID string, status types.ApprovalStatus) ([]*types.Approval, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListApprovals")
	defer span.End()

	where := sq.Eq{"organization_id": organizationID}
	if status != "" {
		where["status"] = status
	}

	rows, err := s.db.Statement(ctx).
		Select(approvalColumns...).
		From("approvals").
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	approvals := make([]*types.Approval, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return approvals, nil
}

func (s *Storage) DecideApproval(ctx context.Context, organizationID, id, deciderID string, approve bool, steps []*types.TaskStep, at time.Time) (*types.Approval, *types.TaskRun, error) {
	ctx, span := s.tracer.Start(ctx, "storage.DecideApproval")
	defer span.End()

	status := types.ApprovalRejected
	if approve {
		status = types.ApprovalApproved
	}

	var (
		approval *types.Approval
		run      *types.TaskRun
	)

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error

		approval, err = scanApproval(
			s.db.Statement(ctx).
				Update("approvals").
				Set("status", status).
				Set("decided_by", deciderID).
				Set("decided_at", at).
				Where(sq.Eq{"id": id, "organization_id": organizationID, "status": types.ApprovalPending}).
				Suffix("RETURNING " + strings.Join(approvalColumns, ", ")).
				QueryRowContext(ctx),
		)
		if err != nil {
			if !isNoRows(err) {
				return fmt.Errorf("failed to decide approval: %w", err)
			}
			return s.approvalMissOrConflict(ctx, organizationID, id)
		}

		if approval.RunID == nil {
			return nil
		}

		update := s.db.Statement(ctx).
			Update("task_runs").
			Where(sq.Eq{"id": *approval.RunID, "organization_id": organizationID, "status": types.RunAwaitingApproval}).
			Suffix("RETURNING " + strings.Join(runColumns, ", "))

		if approve {
			update = update.Set("status", types.RunRunning).Set("started_at", at)
		} else {
			update = update.Set("status", types.RunCancelled).Set("completed_at", at)
		}

		if run, err = scanRun(update.QueryRowContext(ctx)); err != nil {
			if isNoRows(err) {
				return fmt.Errorf("run %s is not awaiting approval: %w", *approval.RunID, ErrStateConflict)
			}
			return fmt.Errorf("failed to transition run: %w", err)
		}

		run.Steps = make([]*types.TaskStep, 0)
		if approve {
			run.Steps, err = s.insertSteps(ctx, run, steps)
		}

		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return approval, run, nil
}

func (s *Storage) approvalMissOrConflict(ctx context.Context, organizationID, id string) error {
	var count int64
	err := s.db.Statement(ctx).
		Select("COUNT(*)").
		From("approvals").
		Where(sq.Eq{"id": id, "organization_id": organizationID}).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check approval: %w", err)
	}

	if count > 0 {
		return ErrStateConflict
	}

	return ErrNotFound
}
