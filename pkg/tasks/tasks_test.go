// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tasks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/mission-control/internal/authorization"
	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/storage/memory"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/authentication"
	"github.com/canonical/mission-control/pkg/events"
)

type fixture struct {
	store   *memory.Storage
	bus     *events.Bus
	driver  *Driver
	service *Service

	org   *types.Organization
	admin *authentication.Identity
	user  *authentication.Identity
}

func identityFor(u *types.User, orgID string, role types.TenantRole) *authentication.Identity {
	return &authentication.Identity{
		BaseUser:       u,
		User:           u,
		OrganizationID: orgID,
		Role:           &role,
		Permissions:    authorization.Resolve(u.SystemRole, &role),
	}
}

func newFixture(t *testing.T, start bool) *fixture {
	t.Helper()

	ctx := context.Background()
	logger := logging.NewNoopLogger()
	tracer := tracing.NewNoopTracer()
	monitor := monitoring.NewNoopMonitor("test", logger)

	f := new(fixture)
	f.store = memory.NewStorage(tracer, logger)
	f.bus = events.NewBus(128, 0, monitor, logger)

	recorder := events.NewRecorder(f.store, f.bus, tracer, logger)
	f.driver = NewDriver(f.store, f.bus, recorder, DriverConfig{Workers: 2, QueueSize: 8, Interval: time.Millisecond}, tracer, monitor, logger)
	f.service = NewService(f.store, f.driver, f.bus, recorder, tracer, monitor, logger)

	admin, org, err := f.store.CreateAccount(ctx, &types.User{Email: "admin@acme.io", Active: true}, &types.Organization{Name: "Acme"})
	require.NoError(t, err)

	member, err := f.store.CreateUser(ctx, &types.User{Email: "user@acme.io", Active: true})
	require.NoError(t, err)

	_, err = f.store.AddMember(ctx, org.ID, member.ID, types.TenantRoleUser)
	require.NoError(t, err)

	f.org = org
	f.admin = identityFor(admin, org.ID, types.TenantRoleAdmin)
	f.user = identityFor(member, org.ID, types.TenantRoleUser)

	if start {
		f.driver.Start()
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = f.driver.Stop(ctx)
		})
	}

	return f
}

func (f *fixture) task(t *testing.T, requiresApproval bool) *types.Task {
	t.Helper()

	task, err := f.service.CreateTask(context.Background(), f.admin, &types.Task{Name: "Rotate keys", RequiresApproval: requiresApproval})
	require.NoError(t, err)

	return task
}

func (f *fixture) waitForStatus(t *testing.T, runID string, status types.RunStatus) *types.TaskRun {
	t.Helper()

	var run *types.TaskRun
	require.Eventually(t, func() bool {
		got, err := f.store.GetRun(context.Background(), f.org.ID, runID)
		if err != nil {
			return false
		}
		run = got
		return got.Status == status
	}, 5*time.Second, 5*time.Millisecond)

	return run
}

func TestCreateTaskDefaultsToManualSchedule(t *testing.T) {
	f := newFixture(t, false)

	task := f.task(t, false)

	assert.Equal(t, "manual", task.Schedule)
	assert.Equal(t, f.org.ID, task.OrganizationID)
	assert.Equal(t, f.admin.User.ID, task.CreatedBy)
}

func TestTogglePauseFlipsState(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	task := f.task(t, false)

	paused, err := f.service.TogglePause(ctx, f.admin, task.ID)
	require.NoError(t, err)
	assert.True(t, paused.Paused)

	resumed, err := f.service.TogglePause(ctx, f.admin, task.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
}

func TestRequestRunOnPausedTaskCreatesNothing(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	task := f.task(t, false)
	_, err := f.service.TogglePause(ctx, f.admin, task.ID)
	require.NoError(t, err)

	_, err = f.service.RequestRun(ctx, f.admin, task.ID)
	assert.ErrorIs(t, err, types.ErrTaskPaused)

	runs, err := f.service.ListRuns(ctx, f.admin, task.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRequestRunByUserWaitsForApproval(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	observer := f.bus.Subscribe(f.org.ID)
	defer f.bus.Unsubscribe(observer)

	task := f.task(t, true)

	run, err := f.service.RequestRun(ctx, f.user, task.ID)
	require.NoError(t, err)

	assert.Equal(t, types.RunAwaitingApproval, run.Status)
	assert.Equal(t, 0, run.Progress)
	assert.Empty(t, run.Steps)
	assert.Nil(t, run.StartedAt)

	approvals, err := f.service.ListApprovals(ctx, f.admin, types.ApprovalPending)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, types.ApprovalTypeTaskRun, approvals[0].Type)
	require.NotNil(t, approvals[0].RunID)
	assert.Equal(t, run.ID, *approvals[0].RunID)

	var sawApproval bool
	for len(observer.Events()) > 0 {
		if evt := <-observer.Events(); evt.Type == events.TypeApproval {
			sawApproval = true
		}
	}
	assert.True(t, sawApproval)
}

func TestRequestRunByAdminSkipsApprovalAndCompletes(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	task := f.task(t, true)

	run, err := f.service.RequestRun(ctx, f.admin, task.ID)
	require.NoError(t, err)

	assert.Equal(t, types.RunRunning, run.Status)
	assert.NotNil(t, run.StartedAt)
	require.Len(t, run.Steps, 3)
	assert.Equal(t, types.StepRunning, run.Steps[0].Status)
	assert.Greater(t, run.Steps[0].Progress, 0)

	done := f.waitForStatus(t, run.ID, types.RunCompleted)

	assert.Equal(t, 100, done.Progress)
	assert.NotNil(t, done.CompletedAt)
	assert.NotEmpty(t, done.Evidence)

	for i, step := range done.Steps {
		assert.Equal(t, stepNames[i], step.Name)
		assert.Equal(t, types.StepCompleted, step.Status)
		assert.Equal(t, 100, step.Progress)
		assert.Len(t, step.Logs, 2)
	}
}

func TestDriverPublishesOneProgressEventPerCheckpoint(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	observer := f.bus.Subscribe(f.org.ID)
	defer f.bus.Unsubscribe(observer)

	task := f.task(t, false)

	run, err := f.service.RequestRun(ctx, f.admin, task.ID)
	require.NoError(t, err)

	var progress []ProgressPayload
	logs := 0

	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt := <-observer.Events():
			switch evt.Type {
			case events.TypeTaskLog:
				logs++
			case events.TypeTaskProgress:
				p := evt.Payload.(ProgressPayload)
				require.Equal(t, run.ID, p.RunID)
				progress = append(progress, p)
			}
		case <-timeout:
			t.Fatalf("timed out after %d progress events", len(progress))
		}

		if n := len(progress); n > 0 && progress[n-1].Status == types.RunCompleted {
			break
		}
	}

	require.Len(t, progress, len(DefaultSchedule)+1)
	assert.Equal(t, len(DefaultSchedule), logs)

	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].Progress, progress[i-1].Progress)
	}
	assert.Equal(t, 100, progress[len(progress)-1].Progress)

	select {
	case evt := <-observer.Events():
		if evt.Type == events.TypeTaskProgress || evt.Type == events.TypeTaskLog {
			t.Fatalf("unexpected %s event after completion", evt.Type)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDecideApproval(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	task := f.task(t, true)

	pending, err := f.service.RequestRun(ctx, f.user, task.ID)
	require.NoError(t, err)

	approvals, err := f.service.ListApprovals(ctx, f.admin, types.ApprovalPending)
	require.NoError(t, err)
	require.Len(t, approvals, 1)

	approval, run, err := f.service.DecideApproval(ctx, f.admin, approvals[0].ID, DecisionApprove)
	require.NoError(t, err)

	assert.Equal(t, types.ApprovalApproved, approval.Status)
	require.NotNil(t, approval.DecidedBy)
	assert.Equal(t, f.admin.User.ID, *approval.DecidedBy)

	require.NotNil(t, run)
	assert.Equal(t, pending.ID, run.ID)
	assert.Equal(t, types.RunRunning, run.Status)
	require.Len(t, run.Steps, 3)
	assert.Greater(t, run.Steps[0].Progress, 0)

	_, _, err = f.service.DecideApproval(ctx, f.admin, approvals[0].ID, DecisionReject)
	assert.ErrorIs(t, err, types.ErrApprovalNotPending)

	f.waitForStatus(t, run.ID, types.RunCompleted)
}

func TestRejectApprovalCancelsRun(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	task := f.task(t, true)

	pending, err := f.service.RequestRun(ctx, f.user, task.ID)
	require.NoError(t, err)

	approvals, err := f.service.ListApprovals(ctx, f.admin, "")
	require.NoError(t, err)
	require.Len(t, approvals, 1)

	approval, run, err := f.service.DecideApproval(ctx, f.admin, approvals[0].ID, DecisionReject)
	require.NoError(t, err)

	assert.Equal(t, types.ApprovalRejected, approval.Status)
	assert.Equal(t, pending.ID, run.ID)
	assert.Equal(t, types.RunCancelled, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.Empty(t, run.Steps)
	assert.Zero(t, f.driver.InFlight())
}

func TestDecideApprovalRejectsUnknownDecision(t *testing.T) {
	f := newFixture(t, false)

	_, _, err := f.service.DecideApproval(context.Background(), f.admin, "approval", Decision("maybe"))
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))
}

func TestRunsAreScopedToOrganization(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	task := f.task(t, false)

	run, err := f.service.RequestRun(ctx, f.admin, task.ID)
	require.NoError(t, err)

	outsider, other, err := f.store.CreateAccount(ctx, &types.User{Email: "admin@globex.io", Active: true}, &types.Organization{Name: "Globex"})
	require.NoError(t, err)
	intruder := identityFor(outsider, other.ID, types.TenantRoleAdmin)

	_, err = f.service.GetRun(ctx, intruder, run.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.service.RequestRun(ctx, intruder, task.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.service.TogglePause(ctx, intruder, task.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	tasks, err := f.service.ListTasks(ctx, intruder)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSubmitFailsRunWhenQueueIsFull(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	logger := logging.NewNoopLogger()
	tracer := tracing.NewNoopTracer()
	monitor := monitoring.NewNoopMonitor("test", logger)

	// no workers are started and the queue has no room
	f.driver = NewDriver(f.store, f.bus, events.NewRecorder(f.store, f.bus, tracer, logger), DriverConfig{Workers: 1}, tracer, monitor, logger)
	f.service.driver = f.driver

	task := f.task(t, false)

	run, err := f.service.RequestRun(ctx, f.admin, task.ID)
	require.NoError(t, err)

	got, err := f.service.GetRun(ctx, f.admin, run.ID)
	require.NoError(t, err)

	assert.Equal(t, types.RunFailed, got.Status)
	assert.Equal(t, reasonSaturated, got.FailureReason)
	assert.Equal(t, types.StepFailed, got.Steps[0].Status)
}

func TestStopDrainsQueuedRuns(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	task := f.task(t, false)

	run, err := f.service.RequestRun(ctx, f.admin, task.ID)
	require.NoError(t, err)

	f.driver.Start()

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.driver.Stop(stopCtx))

	got, err := f.service.GetRun(ctx, f.admin, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, got.Status)

	// submissions after shutdown fail fast
	late, err := f.service.RequestRun(ctx, f.admin, task.ID)
	require.NoError(t, err)

	got, err = f.service.GetRun(ctx, f.admin, late.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, got.Status)
	assert.Equal(t, reasonStopped, got.FailureReason)
}

type publisher struct {
	mu     sync.Mutex
	events []string
}

func (p *publisher) Publish(_, eventType string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, eventType)
}

func (p *publisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.events...)
}

type recorder struct{}

func (recorder) Record(_ context.Context, a *types.Activity) *types.Activity { return a }

type scriptedStorage struct {
	mu sync.Mutex

	applied   int
	stopAfter int
	errAfter  int

	failedStep   int
	failedReason string
	completed    bool
}

func (s *scriptedStorage) ApplyCheckpoint(context.Context, string, types.RunCheckpoint, time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.errAfter > 0 && s.applied == s.errAfter {
		return false, errors.New("connection reset")
	}

	if s.stopAfter > 0 && s.applied == s.stopAfter {
		return false, nil
	}

	s.applied++
	return true, nil
}

func (s *scriptedStorage) CompleteRun(context.Context, string, map[string]any, time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = true
	return true, nil
}

func (s *scriptedStorage) FailRun(_ context.Context, _ string, stepIndex int, reason string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failedStep = stepIndex
	s.failedReason = reason
	return true, nil
}

func runScripted(t *testing.T, storage *scriptedStorage) *publisher {
	t.Helper()

	logger := logging.NewNoopLogger()
	pub := new(publisher)

	d := NewDriver(storage, pub, recorder{}, DriverConfig{Workers: 1, QueueSize: 1}, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("test", logger), logger)
	d.Start()
	d.Submit(Job{Run: &types.TaskRun{ID: "run-1", TaskID: "task-1", OrganizationID: "org-1"}, TaskName: "Rotate keys"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	return pub
}

func TestDriverStopsSilentlyOnceRunLeftRunning(t *testing.T) {
	storage := &scriptedStorage{stopAfter: 2}

	pub := runScripted(t, storage)

	// two checkpoints, each a progress and a log event
	assert.Equal(t, []string{events.TypeTaskProgress, events.TypeTaskLog, events.TypeTaskProgress, events.TypeTaskLog}, pub.published())
	assert.False(t, storage.completed)
	assert.Empty(t, storage.failedReason)
}

func TestDriverFailsRunOnPersistenceError(t *testing.T) {
	storage := &scriptedStorage{errAfter: 3}

	pub := runScripted(t, storage)

	assert.False(t, storage.completed)
	assert.Equal(t, reasonPersist, storage.failedReason)
	assert.Equal(t, DefaultSchedule[3].StepIndex, storage.failedStep)

	published := pub.published()
	require.Len(t, published, 7)
	assert.Equal(t, events.TypeTaskProgress, published[6])
}

func newTestAPI(f *fixture, identity *authentication.Identity) *chi.Mux {
	logger := logging.NewNoopLogger()

	inject := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(authentication.WithIdentity(r.Context(), identity)))
		})
	}

	guard := func(p authorization.Permission) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !identity.Can(p) {
					httptypes.WriteError(w, types.ErrForbidden, logger)
					return
				}
				next.ServeHTTP(w, r)
			})
		}
	}

	passthrough := func(next http.Handler) http.Handler { return next }

	mux := chi.NewMux()
	NewAPI(f.service, validator.New(), chi.Middlewares{inject}, guard, passthrough, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("test", logger), logger).RegisterEndpoints(mux)

	return mux
}

func TestAPI(t *testing.T) {
	f := newFixture(t, false)
	task := f.task(t, false)

	tests := []struct {
		name     string
		identity *authentication.Identity
		method   string
		path     string
		body     string
		status   int
	}{
		{name: "list tasks", identity: f.user, method: http.MethodGet, path: "/api/v1/tasks", status: http.StatusOK},
		{name: "user cannot create tasks", identity: f.user, method: http.MethodPost, path: "/api/v1/tasks", body: `{"name":"Backup"}`, status: http.StatusForbidden},
		{name: "create task", identity: f.admin, method: http.MethodPost, path: "/api/v1/tasks", body: `{"name":"Backup","requires_approval":true}`, status: http.StatusCreated},
		{name: "create task without name", identity: f.admin, method: http.MethodPost, path: "/api/v1/tasks", body: `{"description":"x"}`, status: http.StatusBadRequest},
		{name: "user cannot pause", identity: f.user, method: http.MethodPost, path: "/api/v1/tasks/" + task.ID + "/pause", status: http.StatusForbidden},
		{name: "unknown task runs", identity: f.user, method: http.MethodGet, path: "/api/v1/tasks/missing/runs", status: http.StatusNotFound},
		{name: "invalid approval filter", identity: f.user, method: http.MethodGet, path: "/api/v1/approvals?status=lost", status: http.StatusBadRequest},
		{name: "user cannot decide", identity: f.user, method: http.MethodPost, path: "/api/v1/approvals/a/decision", body: `{"decision":"approve"}`, status: http.StatusForbidden},
		{name: "invalid decision", identity: f.admin, method: http.MethodPost, path: "/api/v1/approvals/a/decision", body: `{"decision":"maybe"}`, status: http.StatusBadRequest},
		{name: "unknown approval", identity: f.admin, method: http.MethodPost, path: "/api/v1/approvals/a/decision", body: `{"decision":"approve"}`, status: http.StatusNotFound},
		{name: "unknown run", identity: f.admin, method: http.MethodGet, path: "/api/v1/runs/missing", status: http.StatusNotFound},
		{name: "request run", identity: f.user, method: http.MethodPost, path: "/api/v1/tasks/" + task.ID + "/runs", status: http.StatusAccepted},
		{name: "pause task", identity: f.admin, method: http.MethodPost, path: "/api/v1/tasks/" + task.ID + "/pause", status: http.StatusOK},
		{name: "paused task rejects runs", identity: f.user, method: http.MethodPost, path: "/api/v1/tasks/" + task.ID + "/runs", status: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			newTestAPI(f, tt.identity).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}
