// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/mission-control/internal/db"
	"github.com/canonical/mission-control/internal/ids"
	"github.com/canonical/mission-control/internal/types"
)

func (s *Storage) CreateActivity(ctx context.Context, a *types.Activity) (*types.Activity, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateActivity")
	defer span.End()

	metadata, err := marshalJSON(a.Metadata)
	if err != nil {
		return nil, err
	}

	activity := *a
	activity.ID = ids.NewULID()

	err = s.db.Statement(ctx).
		Insert("activities").
		Columns("id", "organization_id", "type", "title", "description", "status", "metadata").
		Values(activity.ID, a.OrganizationID, a.Type, a.Title, a.Description, a.Status, metadata).
		Suffix("RETURNING created_at").
		QueryRowContext(ctx).
		Scan(&activity.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err, "insert activity")
	}

	return &activity, nil
}

func (s *Storage) ListActivities(ctx context.Context, organizationID string, limit int64) ([]*types.Activity, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListActivities")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select("id", "organization_id", "type", "title", "description", "status", "metadata", "created_at").
		From("activities").
		Where(sq.Eq{"organization_id": organizationID}).
		OrderBy("id DESC").
		Limit(db.PageSize(limit)).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*types.Activity, 0)
	for rows.Next() {
		var (
			a        types.Activity
			metadata []byte
		)
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.Type, &a.Title, &a.Description, &a.Status, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}

		if a.Metadata, err = unmarshalJSON(metadata); err != nil {
			return nil, err
		}

		activities = append(activities, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return activities, nil
}

func (s *Storage) CreateAuditLog(ctx context.Context, l *types.AuditLog) error {
	ctx, span := s.tracer.Start(ctx, "storage.CreateAuditLog")
	defer span.End()

	id, err := newID()
	if err != nil {
		return err
	}

	details, err := marshalJSON(l.Details)
	if err != nil {
		return err
	}

	_, err = s.db.Statement(ctx).
		Insert("audit_logs").
		Columns("id", "organization_id", "actor_id", "action", "resource", "severity", "ip_address", "details").
		Values(id, l.OrganizationID, l.ActorID, l.Action, l.Resource, l.Severity, l.IPAddress, details).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// ListAuditLogs lists entries newest first, across all organizations when organizationID is empty
func (s *Storage) ListAuditLogs(ctx context.Context, organizationID string, page, size int64) ([]*types.AuditLog, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListAuditLogs")
	defer span.End()

	pageSize := db.PageSize(size)

	stmt := s.db.Statement(ctx).
		Select("id", "organization_id", "actor_id", "action", "resource", "severity", "ip_address", "details", "created_at").
		From("audit_logs").
		OrderBy("created_at DESC", "id DESC").
		Limit(pageSize).
		Offset(db.Offset(page, pageSize))

	if organizationID != "" {
		stmt = stmt.Where(sq.Eq{"organization_id": organizationID})
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*types.AuditLog, 0)
	for rows.Next() {
		var (
			l       types.AuditLog
			details []byte
		)
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.ActorID, &l.Action, &l.Resource, &l.Severity, &l.IPAddress, &details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		if l.Details, err = unmarshalJSON(details); err != nil {
			return nil, err
		}

		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return logs, nil
}

func (s *Storage) GetPlatformMetrics(ctx context.Context, now time.Time) (*types.PlatformMetrics, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetPlatformMetrics")
	defer span.End()

	m := &types.PlatformMetrics{Runs: make(map[types.RunStatus]int64)}

	counts := []struct {
		table string
		where sq.Sqlizer
		dest  *int64
	}{
		{"organizations", nil, &m.Organizations},
		{"users", nil, &m.Users},
		{"sessions", sq.Gt{"expires_at": now}, &m.ActiveSessions},
		{"tasks", nil, &m.Tasks},
	}

	for _, c := range counts {
		stmt := s.db.Statement(ctx).Select("COUNT(*)").From(c.table)
		if c.where != nil {
			stmt = stmt.Where(c.where)
		}

		if err := stmt.QueryRowContext(ctx).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	rows, err := s.db.Statement(ctx).
		Select("status", "COUNT(*)").
		From("task_runs").
		GroupBy("status").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count task runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status types.RunStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		m.Runs[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	m.InFlightRuns = m.Runs[types.RunRunning] + m.Runs[types.RunQueued]

	return m, nil
}
