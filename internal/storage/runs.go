// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/canonical/mission-control/internal/ids"
	"github.com/canonical/mission-control/internal/types"
)

var runColumns = []string{
	"id", "task_id", "organization_id", "requested_by", "status", "progress",
	"started_at", "completed_at", "evidence", "failure_reason", "created_at",
}

var stepColumns = []string{
	"id", "run_id", "organization_id", "position", "name", "status", "progress", "updated_at",
}

func scanRun(row rowScanner) (*types.TaskRun, error) {
	var (
		r        types.TaskRun
		evidence []byte
	)

	err := row.Scan(
		&r.ID, &r.TaskID, &r.OrganizationID, &r.RequestedBy, &r.Status, &r.Progress,
		&r.StartedAt, &r.CompletedAt, &evidence, &r.FailureReason, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.Evidence, err = unmarshalJSON(evidence); err != nil {
		return nil, err
	}

	return &r, nil
}

func scanStep(row rowScanner) (*types.TaskStep, error) {
	var st types.TaskStep
	if err := row.Scan(&st.ID, &st.RunID, &st.OrganizationID, &st.Position, &st.Name, &st.Status, &st.Progress, &st.UpdatedAt); err != nil {
		return nil, err
	}

	st.Logs = make([]types.StepLog, 0)

	return &st, nil
}

func (s *Storage) insertRun(ctx context.Context, r *types.TaskRun) (*types.TaskRun, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	run, err := scanRun(
		s.db.Statement(ctx).
			Insert("task_runs").
			Columns("id", "task_id", "organization_id", "requested_by", "status", "progress", "started_at").
			Values(id, r.TaskID, r.OrganizationID, r.RequestedBy, r.Status, r.Progress, r.StartedAt).
			Suffix("RETURNING " + strings.Join(runColumns, ", ")).
			QueryRowContext(ctx),
	)
	if err != nil {
		return nil, mapWriteError(err, "insert task run")
	}

	return run, nil
}

func (s *Storage) insertSteps(ctx context.Context, run *types.TaskRun, steps []*types.TaskStep) ([]*types.TaskStep, error) {
	created := make([]*types.TaskStep, 0, len(steps))

	for _, st := range steps {
		id, err := newID()
		if err != nil {
			return nil, err
		}

		step, err := scanStep(
			s.db.Statement(ctx).
				Insert("task_steps").
				Columns("id", "run_id", "organization_id", "position", "name", "status", "progress").
				Values(id, run.ID, run.OrganizationID, st.Position, st.Name, st.Status, st.Progress).
				Suffix("RETURNING " + strings.Join(stepColumns, ", ")).
				QueryRowContext(ctx),
		)
		if err != nil {
			return nil, mapWriteError(err, "insert task step")
		}

		created = append(created, step)
	}

	return created, nil
}

func (s *Storage) CreateRun(ctx context.Context, r *types.TaskRun, steps []*types.TaskStep) (*types.TaskRun, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateRun")
	defer span.End()

	var run *types.TaskRun

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error

		if run, err = s.insertRun(ctx, r); err != nil {
			return err
		}

		run.Steps, err = s.insertSteps(ctx, run, steps)
		return err
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

func (s *Storage) CreateRunAwaitingApproval(ctx context.Context, r *types.TaskRun, a *types.Approval) (*types.TaskRun, *types.Approval, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CreateRunAwaitingApproval")
	defer span.End()

	var (
		run      *types.TaskRun
		approval *types.Approval
	)

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		var err error

		if run, err = s.insertRun(ctx, r); err != nil {
			return err
		}
		run.Steps = make([]*types.TaskStep, 0)

		pending := *a
		pending.RunID = &run.ID

		approval, err = s.insertApproval(ctx, &pending)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return run, approval, nil
}

func (s *Storage) GetRun(ctx context.Context, organizationID, id string) (*types.TaskRun, error) {
	ctx, span := s.tracer.Start(ctx, "storage.GetRun")
	defer span.End()

	run, err := scanRun(
		s.db.Statement(ctx).
			Select(runColumns...).
			From("task_runs").
			Where(sq.Eq{"id": id, "organization_id": organizationID}).
			QueryRowContext(ctx),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task run: %w", err)
	}

	if run.Steps, err = s.listSteps(ctx, run.ID); err != nil {
		return nil, err
	}

	return run, nil
}

func (s *Storage) listSteps(ctx context.Context, runID string) ([]*types.TaskStep, error) {
	rows, err := s.db.Statement(ctx).
		Select(stepColumns...).
		From("task_steps").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("position").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list task steps: %w", err)
	}
	defer rows.Close()

	steps := make([]*types.TaskStep, 0)
	byID := make(map[string]*types.TaskStep)
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task step: %w", err)
		}
		steps = append(steps, st)
		byID[st.ID] = st
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	if len(steps) == 0 {
		return steps, nil
	}

	logs, err := s.db.Statement(ctx).
		Select("l.id", "l.step_id", "l.message", "l.created_at").
		From("task_step_logs l").
		Join("task_steps st ON st.id = l.step_id").
		Where(sq.Eq{"st.run_id": runID}).
		OrderBy("l.id").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list task step logs: %w", err)
	}
	defer logs.Close()

	for logs.Next() {
		var (
			l      types.StepLog
			stepID string
		)
		if err := logs.Scan(&l.ID, &stepID, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task step log: %w", err)
		}

		if st, ok := byID[stepID]; ok {
			st.Logs = append(st.Logs, l)
		}
	}

	if err := logs.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return steps, nil
}

func (s *Storage) ListRunsByTask(ctx context.Context, organizationID, taskID string) ([]*types.TaskRun, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ListRunsByTask")
	defer span.End()

	rows, err := s.db.Statement(ctx).
		Select(runColumns...).
		From("task_runs").
		Where(sq.Eq{"organization_id": organizationID, "task_id": taskID}).
		OrderBy("created_at DESC", "id DESC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*types.TaskRun, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return runs, nil
}

func (s *Storage) ApplyCheckpoint(ctx context.Context, runID string, cp types.RunCheckpoint, at time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "storage.ApplyCheckpoint")
	defer span.End()

	running := false

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Statement(ctx).
			Update("task_runs").
			Set("progress", sq.Expr("GREATEST(progress, ?)", cp.RunProgress)).
			Where(sq.Eq{"id": runID, "status": types.RunRunning}).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to update run progress: %w", err)
		}

		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		running = true

		_, err = s.db.Statement(ctx).
			Update("task_steps").
			Set("status", types.StepCompleted).
			Set("progress", 100).
			Set("updated_at", at).
			Where(sq.And{sq.Eq{"run_id": runID}, sq.Lt{"position": cp.StepIndex}}).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to complete previous steps: %w", err)
		}

		status := types.StepRunning
		if cp.StepProgress >= 100 {
			status = types.StepCompleted
		}

		var stepID string
		err = s.db.Statement(ctx).
			Update("task_steps").
			Set("status", status).
			Set("progress", sq.Expr("GREATEST(progress, ?)", cp.StepProgress)).
			Set("updated_at", at).
			Where(sq.Eq{"run_id": runID, "position": cp.StepIndex}).
			Suffix("RETURNING id").
			QueryRowContext(ctx).
			Scan(&stepID)
		if err != nil {
			if isNoRows(err) {
				return fmt.Errorf("step %d of run %s: %w", cp.StepIndex, runID, ErrNotFound)
			}
			return fmt.Errorf("failed to update active step: %w", err)
		}

		_, err = s.db.Statement(ctx).
			Update("task_steps").
			Set("status", types.StepPending).
			Set("progress", 0).
			Where(sq.And{sq.Eq{"run_id": runID}, sq.Gt{"position": cp.StepIndex}}).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to reset following steps: %w", err)
		}

		_, err = s.db.Statement(ctx).
			Insert("task_step_logs").
			Columns("id", "step_id", "message", "created_at").
			Values(ids.NewULID(), stepID, cp.Message, at).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to append step log: %w", err)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return running, nil
}

func (s *Storage) CompleteRun(ctx context.Context, runID string, evidence map[string]any, at time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "storage.CompleteRun")
	defer span.End()

	payload, err := marshalJSON(evidence)
	if err != nil {
		return false, err
	}

	completed := false

	err = s.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Statement(ctx).
			Update("task_runs").
			Set("status", types.RunCompleted).
			Set("progress", 100).
			Set("completed_at", at).
			Set("evidence", payload).
			Where(sq.Eq{"id": runID, "status": types.RunRunning}).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to complete run: %w", err)
		}

		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		completed = true

		_, err = s.db.Statement(ctx).
			Update("task_steps").
			Set("status", types.StepCompleted).
			Set("progress", 100).
			Set("updated_at", at).
			Where(sq.Eq{"run_id": runID}).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to complete steps: %w", err)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return completed, nil
}

func (s *Storage) FailRun(ctx context.Context, runID string, stepIndex int, reason string, at time.Time) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "storage.FailRun")
	defer span.End()

	failed := false

	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.db.Statement(ctx).
			Update("task_runs").
			Set("status", types.RunFailed).
			Set("failure_reason", reason).
			Set("completed_at", at).
			Where(sq.Eq{"id": runID, "status": []types.RunStatus{types.RunRunning, types.RunQueued}}).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to fail run: %w", err)
		}

		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}

		_, err = s.db.Statement(ctx).
			Update("task_steps").
			Set("status", types.StepFailed).
			Set("updated_at", at).
			Where(sq.And{
				sq.Eq{"run_id": runID, "position": stepIndex},
				sq.NotEq{"status": types.StepCompleted},
			}).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark step as failed: %w", err)
		}

		failed = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return failed, nil
}
