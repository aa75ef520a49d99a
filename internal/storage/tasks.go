// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/mission-control/internal/types"
)

var taskColumns = []string{
	"id", "organization_id", "name", "description", "schedule", "paused", "requires_approval", "created_by", "created_at",
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Description, &t.Schedule, &t.Paused, &t.RequiresApproval, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func (s *Storage) CreateTask(ctx context.Context, t *types.Task) (*types.Task, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateTask")
	defer span.End()

	id, err := newID()
	if err != nil {
		return nil, err
	}

	task, err := scanTask(
		s.db.Statement(ctx).
			Insert("tasks").
			Columns("id", "organization_id", "name", "description", "schedule", "paused", "requires_approval", "created_by").
			Values(id, t.OrganizationID, t.Name, t.Description, t.Schedule, t.Paused, t.RequiresApproval, t.CreatedBy).
			Suffix("RETURNING " + strings.Join(taskColumns, ", ")).
			QueryRowContext(ctx),
	)
	if err != nil {
		return nil, mapWriteError(err, "insert task")
	}

	return task, nil
}

func (s *Storage) GetTask(ctx context.Context, organizationID, id string) (*types.Task, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetTask")
	defer span.End()

	task, err := scanTask(
		s.db.Statement(ctx).
			Select(taskColumns...).
			From("tasks").
			Where(sq.Eq{"id": id, "organization_id": organizationID}).
			QueryRowContext(ctx),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

func (s *Storage) ListTasks(ctx context.Context, organizationID string) ([]*types.Task, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListTasks")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"organization_id": organizationID}).
		OrderBy("created_at", "id").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*types.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// ToggleTaskPause flips the paused flag in place so concurrent toggles never lose an update
func (s *Storage) ToggleTaskPause(ctx context.Context, organizationID, id string) (*types.Task, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ToggleTaskPause")
	defer span.End()

	task, err := scanTask(
		s.db.Statement(ctx).
			Update("tasks").
			Set("paused", sq.Expr("NOT paused")).
			Where(sq.Eq{"id": id, "organization_id": organizationID}).
			Suffix("RETURNING " + strings.Join(taskColumns, ", ")).
			QueryRowContext(ctx),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to toggle task: %w", err)
	}

	return task, nil
}
