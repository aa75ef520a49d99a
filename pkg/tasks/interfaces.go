// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tasks

import (
	"context"
	"time"

	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/authentication"
)

type StorageInterface interface {
	CreateTask(ctx context.Context, t *types.Task) (*types.Task, error)
	GetTask(ctx context.Context, organizationID, id string) (*types.Task, error)
	ListTasks(ctx context.Context, organizationID string) ([]*types.Task, error)
	ToggleTaskPause(ctx context.Context, organizationID, id string) (*types.Task, error)

	CreateRun(ctx context.Context, r *types.TaskRun, steps []*types.TaskStep) (*types.TaskRun, error)
	CreateRunAwaitingApproval(ctx context.Context, r *types.TaskRun, a *types.Approval) (*types.TaskRun, *types.Approval, error)
	GetRun(ctx context.Context, organizationID, id string) (*types.TaskRun, error)
	ListRunsByTask(ctx context.Context, organizationID, taskID string) ([]*types.TaskRun, error)

	ListApprovals(ctx context.Context, organizationID string, status types.ApprovalStatus) ([]*types.Approval, error)
	DecideApproval(ctx context.Context, organizationID, id, deciderID string, approve bool, steps []*types.TaskStep, at time.Time) (*types.Approval, *types.TaskRun, error)

	DriverStorageInterface
}

// DriverStorageInterface holds the conditional transitions used by the driver
type DriverStorageInterface interface {
	ApplyCheckpoint(ctx context.Context, runID string, cp types.RunCheckpoint, at time.Time) (bool, error)
	CompleteRun(ctx context.Context, runID string, evidence map[string]any, at time.Time) (bool, error)
	FailRun(ctx context.Context, runID string, stepIndex int, reason string, at time.Time) (bool, error)
}

// DriverInterface executes running task runs in the background
type DriverInterface interface {
	Submit(job Job)
	InFlight() int64
}

type ServiceInterface interface {
	CreateTask(ctx context.Context, identity *authentication.Identity, t *types.Task) (*types.Task, error)
	ListTasks(ctx context.Context, identity *authentication.Identity) ([]*types.Task, error)
	GetTask(ctx context.Context, identity *authentication.Identity, taskID string) (*types.Task, error)
	TogglePause(ctx context.Context, identity *authentication.Identity, taskID string) (*types.Task, error)

	RequestRun(ctx context.Context, identity *authentication.Identity, taskID string) (*types.TaskRun, error)
	ListRuns(ctx context.Context, identity *authentication.Identity, taskID string) ([]*types.TaskRun, error)
	GetRun(ctx context.Context, identity *authentication.Identity, runID string) (*types.TaskRun, error)

	ListApprovals(ctx context.Context, identity *authentication.Identity, status types.ApprovalStatus) ([]*types.Approval, error)
	DecideApproval(ctx context.Context, identity *authentication.Identity, approvalID string, decision Decision) (*types.Approval, *types.TaskRun, error)
}
