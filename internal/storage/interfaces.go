// Copyright 2025 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package storage

import (
	"context"
	"time"

	"github.com/canonical/mission-control/internal/types"
)

type UserStorageInterface interface {
	CreateUser(ctx context.Context, u *types.User) (*types.User, error)
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	TouchUserLogin(ctx context.Context, id string, at time.Time) error
	SearchUsers(ctx context.Context, query, organizationID string, limit int64) ([]*types.User, error)
}

type OrganizationStorageInterface interface {
	CreateOrganization(ctx context.Context, o *types.Organization) (*types.Organization, error)
	GetOrganizationByID(ctx context.Context, id string) (*types.Organization, error)
	ListOrganizations(ctx context.Context) ([]*types.Organization, error)
	// CreateAccount stores a user, its organization and an ADMIN membership atomically
	CreateAccount(ctx context.Context, u *types.User, o *types.Organization) (*types.User, *types.Organization, error)
	AddMember(ctx context.Context, organizationID, userID string, role types.TenantRole) (*types.Membership, error)
	GetMembership(ctx context.Context, userID, organizationID string) (*types.Membership, error)
	// ListMembershipsByUserID returns memberships ordered by creation, earliest first
	ListMembershipsByUserID(ctx context.Context, userID string) ([]*types.Membership, error)
}

type SessionStorageInterface interface {
	CreateSession(ctx context.Context, s *types.Session) (*types.Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*types.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteSessionsByUserID(ctx context.Context, userID string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	// SetSessionDelegation sets both delegated fields in a single update
	SetSessionDelegation(ctx context.Context, id, userID, organizationID string) error
	ClearSessionDelegation(ctx context.Context, id string) error

	CreateVerificationCode(ctx context.Context, c *types.VerificationCode) (*types.VerificationCode, error)
	// ConsumeVerificationCode marks an unexpired, unconsumed code as used, an
	// empty id matches on the hash alone
	ConsumeVerificationCode(ctx context.Context, purpose types.CodePurpose, id, codeHash string, now time.Time) (*types.VerificationCode, error)
	// FailVerificationCode counts a wrong guess against an open code and
	// consumes it once maxAttempts is reached
	FailVerificationCode(ctx context.Context, id string, maxAttempts int, now time.Time) error
}

type TaskStorageInterface interface {
	CreateTask(ctx context.Context, t *types.Task) (*types.Task, error)
	GetTask(ctx context.Context, organizationID, id string) (*types.Task, error)
	ListTasks(ctx context.Context, organizationID string) ([]*types.Task, error)
	ToggleTaskPause(ctx context.Context, organizationID, id string) (*types.Task, error)

	CreateRun(ctx context.Context, r *types.TaskRun, steps []*types.TaskStep) (*types.TaskRun, error)
	CreateRunAwaitingApproval(ctx context.Context, r *types.TaskRun, a *types.Approval) (*types.TaskRun, *types.Approval, error)
	GetRun(ctx context.Context, organizationID, id string) (*types.TaskRun, error)
	ListRunsByTask(ctx context.Context, organizationID, taskID string) ([]*types.TaskRun, error)
	// ApplyCheckpoint returns false without touching anything when the run is no longer running
	ApplyCheckpoint(ctx context.Context, runID string, cp types.RunCheckpoint, at time.Time) (bool, error)
	CompleteRun(ctx context.Context, runID string, evidence map[string]any, at time.Time) (bool, error)
	// FailRun returns false when the run had already left the running state
	FailRun(ctx context.Context, runID string, stepIndex int, reason string, at time.Time) (bool, error)

	ListApprovals(ctx context.Context, organizationID string, status types.ApprovalStatus) ([]*types.Approval, error)
	// DecideApproval resolves a pending approval and transitions its linked run in one transaction
	DecideApproval(ctx context.Context, organizationID, id, deciderID string, approve bool, steps []*types.TaskStep, at time.Time) (*types.Approval, *types.TaskRun, error)
}

type ActivityStorageInterface interface {
	CreateActivity(ctx context.Context, a *types.Activity) (*types.Activity, error)
	ListActivities(ctx context.Context, organizationID string, limit int64) ([]*types.Activity, error)
}

type AuditStorageInterface interface {
	CreateAuditLog(ctx context.Context, l *types.AuditLog) error
	ListAuditLogs(ctx context.Context, organizationID string, page, size int64) ([]*types.AuditLog, error)
}

type StorageInterface interface {
	UserStorageInterface
	OrganizationStorageInterface
	SessionStorageInterface
	TaskStorageInterface
	ActivityStorageInterface
	AuditStorageInterface

	GetPlatformMetrics(ctx context.Context, now time.Time) (*types.PlatformMetrics, error)
}
