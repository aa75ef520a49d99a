// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
)

func newStore(t *testing.T) *Storage {
	t.Helper()
	return NewStorage(tracing.NewNoopTracer(), logging.NewNoopLogger())
}

func seedTask(t *testing.T, s *Storage) (*types.User, *types.Organization, *types.Task) {
	t.Helper()
	ctx := context.Background()

	u, o, err := s.CreateAccount(ctx, &types.User{Email: "Admin@Acme.io", Active: true}, &types.Organization{Name: "Acme"})
	require.NoError(t, err)

	task, err := s.CreateTask(ctx, &types.Task{OrganizationID: o.ID, Name: "Rotate keys", CreatedBy: u.ID})
	require.NoError(t, err)

	return u, o, task
}

func steps() []*types.TaskStep {
	return []*types.TaskStep{
		{Position: 0, Name: "Prepare environment", Status: types.StepRunning, Progress: 5},
		{Position: 1, Name: "Execute mission", Status: types.StepPending},
		{Position: 2, Name: "Verify & report", Status: types.StepPending},
	}
}

func TestCreateAccountGrantsAdminMembership(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, o, err := s.CreateAccount(ctx, &types.User{Email: "Owner@Acme.io", Active: true}, &types.Organization{Name: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, "owner@acme.io", u.Email)
	assert.Equal(t, types.SystemRoleNone, u.SystemRole)

	m, err := s.GetMembership(ctx, u.ID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TenantRoleAdmin, m.Role)

	_, _, err = s.CreateAccount(ctx, &types.User{Email: "OWNER@acme.io"}, &types.Organization{Name: "Other"})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTaskIsolationBetweenOrganizations(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, _, task := seedTask(t, s)

	_, other, err := s.CreateAccount(ctx, &types.User{Email: "b@beta.io"}, &types.Organization{Name: "Beta"})
	require.NoError(t, err)

	_, err = s.GetTask(ctx, other.ID, task.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.ToggleTaskPause(ctx, other.ID, task.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	tasks, err := s.ListTasks(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestApplyCheckpointIsMonotonic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, o, task := seedTask(t, s)

	run, err := s.CreateRun(ctx, &types.TaskRun{TaskID: task.ID, OrganizationID: o.ID, RequestedBy: u.ID, Status: types.RunRunning, Progress: 5}, steps())
	require.NoError(t, err)
	require.Len(t, run.Steps, 3)

	ok, err := s.ApplyCheckpoint(ctx, run.ID, types.RunCheckpoint{RunProgress: 50, StepIndex: 1, StepProgress: 40, Message: "Executing mission payload"}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ApplyCheckpoint(ctx, run.ID, types.RunCheckpoint{RunProgress: 30, StepIndex: 1, StepProgress: 10, Message: "late"}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetRun(ctx, o.ID, run.ID)
	require.NoError(t, err)

	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, types.StepCompleted, got.Steps[0].Status)
	assert.Equal(t, 100, got.Steps[0].Progress)
	assert.Equal(t, types.StepRunning, got.Steps[1].Status)
	assert.Equal(t, 40, got.Steps[1].Progress)
	assert.Len(t, got.Steps[1].Logs, 2)
	assert.Equal(t, types.StepPending, got.Steps[2].Status)
}

func TestCompleteAndFailOnlyApplyToRunningRuns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, o, task := seedTask(t, s)

	run, err := s.CreateRun(ctx, &types.TaskRun{TaskID: task.ID, OrganizationID: o.ID, RequestedBy: u.ID, Status: types.RunRunning}, steps())
	require.NoError(t, err)

	ok, err := s.CompleteRun(ctx, run.ID, map[string]any{"summary": "done"}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	failed, err := s.FailRun(ctx, run.ID, 0, "too late", time.Now())
	require.NoError(t, err)
	assert.False(t, failed)

	got, err := s.GetRun(ctx, o.ID, run.ID)
	require.NoError(t, err)

	assert.Equal(t, types.RunCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Empty(t, got.FailureReason)

	ok, err = s.ApplyCheckpoint(ctx, run.ID, types.RunCheckpoint{RunProgress: 15, Message: "stale"}, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecideApproval(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, o, task := seedTask(t, s)

	run, approval, err := s.CreateRunAwaitingApproval(ctx,
		&types.TaskRun{TaskID: task.ID, OrganizationID: o.ID, RequestedBy: u.ID, Status: types.RunAwaitingApproval},
		&types.Approval{OrganizationID: o.ID, Type: types.ApprovalTypeTaskRun, Title: "Run Rotate keys", RequestedBy: u.ID},
	)
	require.NoError(t, err)
	require.Empty(t, run.Steps)
	require.Equal(t, run.ID, *approval.RunID)

	decided, started, err := s.DecideApproval(ctx, o.ID, approval.ID, u.ID, true, steps(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, types.ApprovalApproved, decided.Status)
	assert.Equal(t, types.RunRunning, started.Status)
	assert.NotNil(t, started.StartedAt)
	assert.Len(t, started.Steps, 3)

	_, _, err = s.DecideApproval(ctx, o.ID, approval.ID, u.ID, false, nil, time.Now())
	assert.ErrorIs(t, err, storage.ErrStateConflict)

	_, _, err = s.DecideApproval(ctx, "other-org", approval.ID, u.ID, true, steps(), time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRejectCancelsRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, o, task := seedTask(t, s)

	_, approval, err := s.CreateRunAwaitingApproval(ctx,
		&types.TaskRun{TaskID: task.ID, OrganizationID: o.ID, RequestedBy: u.ID, Status: types.RunAwaitingApproval},
		&types.Approval{OrganizationID: o.ID, Type: types.ApprovalTypeTaskRun, RequestedBy: u.ID},
	)
	require.NoError(t, err)

	_, run, err := s.DecideApproval(ctx, o.ID, approval.ID, u.ID, false, nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, types.RunCancelled, run.Status)
	assert.Empty(t, run.Steps)
	assert.NotNil(t, run.CompletedAt)
}

func TestConsumeVerificationCodeOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	u, _, _ := seedTask(t, s)

	code, err := s.CreateVerificationCode(ctx, &types.VerificationCode{
		UserID:    u.ID,
		Purpose:   types.CodePurposeLogin,
		CodeHash:  "hash",
		ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	_, err = s.ConsumeVerificationCode(ctx, types.CodePurposePasswordReset, code.ID, "hash", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	consumed, err := s.ConsumeVerificationCode(ctx, types.CodePurposeLogin, code.ID, "hash", now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, consumed.UserID)

	_, err = s.ConsumeVerificationCode(ctx, types.CodePurposeLogin, code.ID, "hash", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteExpiredSessions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	u, o, _ := seedTask(t, s)

	_, err := s.CreateSession(ctx, &types.Session{TokenHash: "a", UserID: u.ID, OrganizationID: o.ID, ExpiresAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, &types.Session{TokenHash: "b", UserID: u.ID, OrganizationID: o.ID, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	n, err := s.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	metrics, err := s.GetPlatformMetrics(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, metrics.ActiveSessions)
	assert.EqualValues(t, 1, metrics.Organizations)
}

func TestListAuditLogsPagination(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, action := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateAuditLog(ctx, &types.AuditLog{OrganizationID: "org-1", Action: action, Severity: types.SeverityLow}))
	}
	require.NoError(t, s.CreateAuditLog(ctx, &types.AuditLog{OrganizationID: "org-2", Action: "d", Severity: types.SeverityLow}))

	page, err := s.ListAuditLogs(ctx, "org-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Action)

	all, err := s.ListAuditLogs(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestFailVerificationCodeBurnsCode(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	u, _, _ := seedTask(t, s)

	code, err := s.CreateVerificationCode(ctx, &types.VerificationCode{
		UserID:    u.ID,
		Purpose:   types.CodePurposeLogin,
		CodeHash:  "hash",
		ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, s.FailVerificationCode(ctx, code.ID, 2, now))

	consumed, err := s.ConsumeVerificationCode(ctx, types.CodePurposeLogin, code.ID, "hash", now)
	require.NoError(t, err, "one miss leaves the code usable")
	assert.Equal(t, 1, consumed.Attempts)

	other, err := s.CreateVerificationCode(ctx, &types.VerificationCode{
		UserID:    u.ID,
		Purpose:   types.CodePurposeLogin,
		CodeHash:  "other",
		ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	require.NoError(t, s.FailVerificationCode(ctx, other.ID, 2, now))
	require.NoError(t, s.FailVerificationCode(ctx, other.ID, 2, now))

	_, err = s.ConsumeVerificationCode(ctx, types.CodePurposeLogin, other.ID, "other", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
