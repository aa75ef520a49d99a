// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canonical/mission-control/internal/authorization"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/authentication"
	"github.com/canonical/mission-control/pkg/events"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type ApprovalPayload struct {
	Approval *types.Approval `json:"approval"`
	Run      *types.TaskRun  `json:"run,omitempty"`
}

// Service owns tasks, their runs and the approval gate in front of them
type Service struct {
	storage  StorageInterface
	driver   DriverInterface
	bus      events.PublisherInterface
	recorder events.RecorderInterface

	now func() time.Time

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func mapStorageError(err error, msg string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return types.ErrNotFound
	case errors.Is(err, storage.ErrStateConflict):
		return types.ErrApprovalNotPending
	case errors.Is(err, storage.ErrDuplicateKey):
		return types.ErrConflict
	default:
		return types.WrapError(types.CodeInternal, msg, err)
	}
}

func (s *Service) transition(status types.RunStatus) {
	s.monitor.IncRunTransitions(map[string]string{"status": string(status)})
}

func (s *Service) CreateTask(ctx context.Context, identity *authentication.Identity, t *types.Task) (*types.Task, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Service.CreateTask")
	defer span.End()

	t.OrganizationID = identity.OrganizationID
	t.CreatedBy = identity.User.ID
	if t.Schedule == "" {
		t.Schedule = "manual"
	}

	task, err := s.storage.CreateTask(ctx, t)
	if err != nil {
		return nil, mapStorageError(err, "failed to create task")
	}

	s.recorder.Record(ctx, &types.Activity{
		OrganizationID: task.OrganizationID,
		Type:           "task_created",
		Title:          fmt.Sprintf("Task %s created", task.Name),
		Description:    task.Description,
		Status:         "created",
		Metadata:       map[string]any{"task_id": task.ID},
	})

	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, identity *authentication.Identity) ([]*types.Task, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Service.ListTasks")
	defer span.End()

	tasks, err := s.storage.ListTasks(ctx, identity.OrganizationID)
	if err != nil {
		return nil, mapStorageError(err, "failed to list tasks")
	}

	return tasks, nil
}

func (s *Service) GetTask(ctx context.Context, identity *authentication.Identity, taskID string) (*types.Task, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Service.GetTask")
	defer span.End()

	task, err := s.storage.GetTask(ctx, identity.OrganizationID, taskID)
	if err != nil {
		return nil, mapStorageError(err, "failed to fetch task")
	}

	return task, nil
}

func (s *Service) TogglePause(ctx context.Context, identity *authentication.Identity, taskID string) (*types.Task, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Service.TogglePause")
	defer span.End()

	task, err := s.storage.ToggleTaskPause(ctx, identity.OrganizationID, taskID)
	if err != nil {
		return nil, mapStorageError(err, "failed to toggle task")
	}

	status := "resumed"
	if task.Paused {
		status = "paused"
	}

	s.recorder.Record(ctx, &types.Activity{
		OrganizationID: task.OrganizationID,
		Type:           "task_paused",
		Title:          fmt.Sprintf("Task %s %s", task.Name, status),
		Status:         status,
		Metadata:       map[string]any{"task_id": task.ID, "paused": task.Paused},
	})

	return task, nil
}

// RequestRun starts a run immediately, or parks it behind an approval when
// the task demands one and the requester cannot decide approvals
func (s *Service) RequestRun(ctx context.Context, identity *authentication.Identity, taskID string) (*types.TaskRun, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Service.RequestRun")
	defer span.End()

	task, err := s.storage.GetTask(ctx, identity.OrganizationID, taskID)
	if err != nil {
		return nil, mapStorageError(err, "failed to fetch task")
	}

	if task.Paused {
		return nil, types.ErrTaskPaused
	}

	run := &types.TaskRun{
		TaskID:         task.ID,
		OrganizationID: task.OrganizationID,
		RequestedBy:    identity.User.ID,
	}

	if task.RequiresApproval && !identity.Can(authorization.PermissionDecideApprovals) {
		run.Status = types.RunAwaitingApproval

		pending, approval, err := s.storage.CreateRunAwaitingApproval(ctx, run, &types.Approval{
			OrganizationID: task.OrganizationID,
			Type:           types.ApprovalTypeTaskRun,
			Title:          fmt.Sprintf("Run %s", task.Name),
			Description:    fmt.Sprintf("%s requested a run of %s", identity.User.Email, task.Name),
			RequestedBy:    identity.User.ID,
		})
		if err != nil {
			return nil, mapStorageError(err, "failed to create run")
		}

		s.transition(types.RunAwaitingApproval)
		s.bus.Publish(task.OrganizationID, events.TypeApproval, ApprovalPayload{Approval: approval, Run: pending})
		s.recorder.Record(ctx, &types.Activity{
			OrganizationID: task.OrganizationID,
			Type:           "approval_requested",
			Title:          approval.Title,
			Description:    approval.Description,
			Status:         string(types.ApprovalPending),
			Metadata:       map[string]any{"approval_id": approval.ID, "run_id": pending.ID, "task_id": task.ID},
		})

		return pending, nil
	}

	now := s.now()
	run.Status = types.RunRunning
	run.StartedAt = &now

	run, err = s.storage.CreateRun(ctx, run, initialSteps())
	if err != nil {
		return nil, mapStorageError(err, "failed to create run")
	}

	s.transition(types.RunRunning)
	s.started(ctx, task.Name, run)

	return run, nil
}

func (s *Service) started(ctx context.Context, taskName string, run *types.TaskRun) {
	s.recorder.Record(ctx, &types.Activity{
		OrganizationID: run.OrganizationID,
		Type:           "task_run",
		Title:          fmt.Sprintf("%s started", taskName),
		Status:         string(types.RunRunning),
		Metadata:       map[string]any{"run_id": run.ID, "task_id": run.TaskID},
	})

	s.driver.Submit(Job{Run: run, TaskName: taskName})
}

func (s *Service) ListRuns(ctx context.Context, identity *authentication.Identity, taskID string) ([]*types.TaskRun, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Service.ListRuns")
	defer span.End()

	if _, err := s.storage.GetTask(ctx, identity.OrganizationID, taskID); err != nil {
		return nil, mapStorageError(err, "failed to fetch task")
	}

	runs, err := s.storage.ListRunsByTask(ctx, identity.OrganizationID, taskID)
	if err != nil {
		return nil, mapStorageError(err, "failed to list runs")
	}

	return runs, nil
}

func (s *Service) GetRun(ctx context.Context, identity *authentication.Identity, runID string) (*types.TaskRun, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Service.GetRun")
	defer span.End()

	run, err := s.storage.GetRun(ctx, identity.OrganizationID, runID)
	if err != nil {
		return nil, mapStorageError(err, "failed to fetch run")
	}

	return run, nil
}

func (s *Service) ListApprovals(ctx context.Context, identity *authentication.Identity, status types.ApprovalStatus) ([]*types.Approval, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Service.ListApprovals")
	defer span.End()

	approvals, err := s.storage.ListApprovals(ctx, identity.OrganizationID, status)
	if err != nil {
		return nil, mapStorageError(err, "failed to list approvals")
	}

	return approvals, nil
}

// DecideApproval resolves a pending approval, an approved run is handed to the
// driver with its steps already materialized
func (s *Service) DecideApproval(ctx context.Context, identity *authentication.Identity, approvalID string, decision Decision) (*types.Approval, *types.TaskRun, error) {
	ctx, span := s.tracer.Start(ctx, "tasks.Service.DecideApproval")
	defer span.End()

	var steps []*types.TaskStep

	approve := decision == DecisionApprove
	if approve {
		steps = initialSteps()
	} else if decision != DecisionReject {
		return nil, nil, types.NewError(types.CodeValidation, "decision must be approve or reject")
	}

	approval, run, err := s.storage.DecideApproval(ctx, identity.OrganizationID, approvalID, identity.User.ID, approve, steps, s.now())
	if err != nil {
		return nil, nil, mapStorageError(err, "failed to decide approval")
	}

	s.logger.Infof("approval %s %s by %s", approval.ID, approval.Status, identity.User.ID)

	s.bus.Publish(approval.OrganizationID, events.TypeApproval, ApprovalPayload{Approval: approval, Run: run})
	s.recorder.Record(ctx, &types.Activity{
		OrganizationID: approval.OrganizationID,
		Type:           "approval_decided",
		Title:          approval.Title,
		Description:    fmt.Sprintf("%s %s", identity.User.Email, approval.Status),
		Status:         string(approval.Status),
		Metadata:       map[string]any{"approval_id": approval.ID},
	})

	if run == nil {
		return approval, nil, nil
	}

	s.transition(run.Status)

	if run.Status == types.RunRunning {
		name := approval.Title
		if task, err := s.storage.GetTask(ctx, run.OrganizationID, run.TaskID); err == nil {
			name = task.Name
		}

		s.started(ctx, name, run)
	}

	return approval, run, nil
}

func NewService(
	storage StorageInterface,
	driver DriverInterface,
	bus events.PublisherInterface,
	recorder events.RecorderInterface,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	s := new(Service)

	s.storage = storage
	s.driver = driver
	s.bus = bus
	s.recorder = recorder
	s.now = time.Now

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
