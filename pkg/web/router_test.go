// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/storage/memory"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
	"github.com/canonical/mission-control/pkg/authentication"
	"github.com/canonical/mission-control/pkg/events"
	"github.com/canonical/mission-control/pkg/tasks"
)

const password = "correct horse battery"

type harness struct {
	server   *httptest.Server
	store    *memory.Storage
	sessions *authentication.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := logging.NewNoopLogger()
	tracer := tracing.NewNoopTracer()
	monitor := monitoring.NewNoopMonitor("test", logger)

	store := memory.NewStorage(tracer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	bus := events.NewBus(256, 0, monitor, logger)
	go bus.Run(ctx)

	recorder := events.NewRecorder(store, bus, tracer, logger)
	driver := tasks.NewDriver(store, bus, recorder, tasks.DriverConfig{Workers: 2, QueueSize: 16, Interval: time.Millisecond}, tracer, monitor, logger)
	driver.Start()

	sessions := authentication.NewService(
		store,
		authentication.NewLoggingNotifier(logger),
		authentication.Config{SessionTTL: time.Hour, TwoFactorTTL: time.Minute, PasswordResetTTL: time.Minute},
		tracer,
		monitor,
		logger,
	)

	router := NewRouter(
		Config{AllowedOrigins: []string{"*"}, RateLimit: 1000, RateBurst: 1000},
		store,
		nil,
		sessions,
		bus,
		recorder,
		driver,
		tracer,
		monitor,
		logger,
	)

	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.CloseClientConnections()
		server.Close()
		cancel()

		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = driver.Stop(stopCtx)
	})

	return &harness{server: server, store: store, sessions: sessions}
}

type client struct {
	t    *testing.T
	base string
	hc   *http.Client
}

func (h *harness) newClient(t *testing.T) *client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &client{t: t, base: h.server.URL, hc: &http.Client{Jar: jar}}
}

// do sends a JSON request and decodes the data of the envelope into out
func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&payload).Encode(body))
	}

	req, err := http.NewRequest(method, c.base+path, &payload)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		envelope := struct {
			Data json.RawMessage `json:"data"`
		}{}
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&envelope))
		require.NoError(c.t, json.Unmarshal(envelope.Data, out))
	}

	return resp.StatusCode
}

func (c *client) login(email string) {
	c.t.Helper()

	status := c.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": password}, nil)
	require.Equal(c.t, http.StatusOK, status)
}

type streamEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// stream subscribes to the event stream and relays every frame on the returned channel
func (c *client) stream(ctx context.Context) <-chan streamEvent {
	c.t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/events/stream", nil)
	require.NoError(c.t, err)

	resp, err := c.hc.Do(req)
	require.NoError(c.t, err)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)

	out := make(chan streamEvent, 256)
	connected := make(chan struct{})

	go func() {
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var evt streamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
				continue
			}

			if evt.Type == events.TypeConnected {
				close(connected)
				continue
			}

			out <- evt
		}
	}()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		c.t.Fatalf("event stream did not connect")
	}

	return out
}

func (h *harness) seedMember(t *testing.T, orgID, email string, role types.TenantRole) *types.User {
	t.Helper()

	hash, err := authentication.HashPassword(password)
	require.NoError(t, err)

	u, err := h.store.CreateUser(context.Background(), &types.User{Email: email, PasswordHash: hash, Active: true})
	require.NoError(t, err)

	_, err = h.store.AddMember(context.Background(), orgID, u.ID, role)
	require.NoError(t, err)

	return u
}

func TestApprovalGatedRunEndToEnd(t *testing.T) {
	h := newHarness(t)

	admin := h.newClient(t)
	var session authentication.SessionResponse
	status := admin.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":             "admin@acme.io",
		"password":          password,
		"organization_name": "Acme",
	}, &session)
	require.Equal(t, http.StatusCreated, status)

	var me authentication.MeResponse
	require.Equal(t, http.StatusOK, admin.do(http.MethodGet, "/api/v1/me", nil, &me))
	require.NotNil(t, me.Role)
	assert.Equal(t, types.TenantRoleAdmin, *me.Role)

	h.seedMember(t, me.OrganizationID, "user@acme.io", types.TenantRoleUser)
	user := h.newClient(t)
	user.login("user@acme.io")

	var task types.Task
	status = admin.do(http.MethodPost, "/api/v1/tasks", map[string]any{"name": "Rotate keys", "requires_approval": true}, &task)
	require.Equal(t, http.StatusCreated, status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := admin.stream(ctx)

	var run types.TaskRun
	require.Equal(t, http.StatusAccepted, user.do(http.MethodPost, "/api/v1/tasks/"+task.ID+"/runs", nil, &run))
	assert.Equal(t, types.RunAwaitingApproval, run.Status)
	assert.Empty(t, run.Steps)

	var approvals []*types.Approval
	require.Equal(t, http.StatusOK, user.do(http.MethodGet, "/api/v1/approvals?status=pending", nil, &approvals))
	require.Len(t, approvals, 1)
	require.NotNil(t, approvals[0].RunID)
	assert.Equal(t, run.ID, *approvals[0].RunID)

	decision := map[string]string{"decision": "approve"}
	assert.Equal(t, http.StatusForbidden, user.do(http.MethodPost, "/api/v1/approvals/"+approvals[0].ID+"/decision", decision, nil))

	var decided tasks.DecisionResponse
	require.Equal(t, http.StatusOK, admin.do(http.MethodPost, "/api/v1/approvals/"+approvals[0].ID+"/decision", decision, &decided))
	assert.Equal(t, types.ApprovalApproved, decided.Approval.Status)
	require.NotNil(t, decided.Run)
	assert.Equal(t, types.RunRunning, decided.Run.Status)
	require.Len(t, decided.Run.Steps, 3)
	assert.Equal(t, types.StepRunning, decided.Run.Steps[0].Status)
	assert.Greater(t, decided.Run.Steps[0].Progress, 0)

	assert.Equal(t, http.StatusConflict, admin.do(http.MethodPost, "/api/v1/approvals/"+approvals[0].ID+"/decision", decision, nil))

	var progress []tasks.ProgressPayload
	timeout := time.After(10 * time.Second)
	for done := false; !done; {
		select {
		case evt, ok := <-stream:
			require.True(t, ok, "stream closed early")
			if evt.Type != events.TypeTaskProgress {
				continue
			}

			var p tasks.ProgressPayload
			require.NoError(t, json.Unmarshal(evt.Payload, &p))
			if p.RunID != run.ID {
				continue
			}

			progress = append(progress, p)
			done = p.Status == types.RunCompleted
		case <-timeout:
			t.Fatalf("run did not complete, %d progress events seen", len(progress))
		}
	}

	assert.Len(t, progress, len(tasks.DefaultSchedule)+1)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].Progress, progress[i-1].Progress)
	}

	var final types.TaskRun
	require.Equal(t, http.StatusOK, user.do(http.MethodGet, "/api/v1/runs/"+run.ID, nil, &final))
	assert.Equal(t, types.RunCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.NotEmpty(t, final.Evidence)
	assert.NotNil(t, final.CompletedAt)

	var activity []*types.Activity
	require.Equal(t, http.StatusOK, user.do(http.MethodGet, "/api/v1/activity?limit=100", nil, &activity))
	assert.NotEmpty(t, activity)
}

func TestTenantIsolation(t *testing.T) {
	h := newHarness(t)

	acme := h.newClient(t)
	require.Equal(t, http.StatusCreated, acme.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "admin@acme.io", "password": password, "organization_name": "Acme",
	}, nil))

	globex := h.newClient(t)
	require.Equal(t, http.StatusCreated, globex.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "admin@globex.io", "password": password, "organization_name": "Globex",
	}, nil))

	var task types.Task
	require.Equal(t, http.StatusCreated, acme.do(http.MethodPost, "/api/v1/tasks", map[string]any{"name": "Backup"}, &task))

	var run types.TaskRun
	require.Equal(t, http.StatusAccepted, acme.do(http.MethodPost, "/api/v1/tasks/"+task.ID+"/runs", nil, &run))

	var tasksSeen []*types.Task
	require.Equal(t, http.StatusOK, globex.do(http.MethodGet, "/api/v1/tasks", nil, &tasksSeen))
	assert.Empty(t, tasksSeen)

	assert.Equal(t, http.StatusNotFound, globex.do(http.MethodGet, "/api/v1/runs/"+run.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, globex.do(http.MethodPost, "/api/v1/tasks/"+task.ID+"/pause", nil, nil))
	assert.Equal(t, http.StatusNotFound, globex.do(http.MethodPost, "/api/v1/tasks/"+task.ID+"/runs", nil, nil))
}

func TestGuards(t *testing.T) {
	h := newHarness(t)

	anonymous := h.newClient(t)
	assert.Equal(t, http.StatusUnauthorized, anonymous.do(http.MethodGet, "/api/v1/tasks", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, anonymous.do(http.MethodGet, "/api/v1/me", nil, nil))
	assert.Equal(t, http.StatusOK, anonymous.do(http.MethodGet, "/api/v0/status", nil, nil))

	tenantAdmin := h.newClient(t)
	require.Equal(t, http.StatusCreated, tenantAdmin.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "admin@acme.io", "password": password, "organization_name": "Acme",
	}, nil))

	// tenant ADMIN is not a platform administrator
	assert.Equal(t, http.StatusForbidden, tenantAdmin.do(http.MethodGet, "/api/v1/admin/organizations", nil, nil))
	assert.Equal(t, http.StatusForbidden, tenantAdmin.do(http.MethodGet, "/api/v1/admin/audit-logs", nil, nil))
	assert.Equal(t, http.StatusForbidden, tenantAdmin.do(http.MethodPost, "/api/v1/admin/impersonation", map[string]string{"user_id": "x"}, nil))

	assert.Equal(t, http.StatusConflict, anonymous.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "ADMIN@acme.io", "password": password, "organization_name": "Other",
	}, nil))

	assert.Equal(t, http.StatusUnauthorized, anonymous.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "admin@acme.io", "password": "wrong password",
	}, nil))

	require.Equal(t, http.StatusOK, tenantAdmin.do(http.MethodPost, "/api/v1/auth/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, tenantAdmin.do(http.MethodGet, "/api/v1/me", nil, nil))
}

func TestSuperUserImpersonation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hash, err := authentication.HashPassword(password)
	require.NoError(t, err)
	_, err = h.store.CreateUser(ctx, &types.User{Email: "root@platform.io", PasswordHash: hash, SystemRole: types.SystemRoleSuper, Active: true})
	require.NoError(t, err)

	owner := h.newClient(t)
	require.Equal(t, http.StatusCreated, owner.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "admin@acme.io", "password": password, "organization_name": "Acme",
	}, nil))

	var me authentication.MeResponse
	require.Equal(t, http.StatusOK, owner.do(http.MethodGet, "/api/v1/me", nil, &me))
	member := h.seedMember(t, me.OrganizationID, "user@acme.io", types.TenantRoleUser)

	super := h.newClient(t)
	super.login("root@platform.io")

	// a super user without an organization cannot use tenant routes
	assert.Equal(t, http.StatusUnprocessableEntity, super.do(http.MethodGet, "/api/v1/tasks", nil, nil))

	var orgs []*types.Organization
	require.Equal(t, http.StatusOK, super.do(http.MethodGet, "/api/v1/admin/organizations", nil, &orgs))
	assert.Len(t, orgs, 1)

	require.Equal(t, http.StatusOK, super.do(http.MethodPost, "/api/v1/admin/impersonation", map[string]string{"user_id": member.ID}, nil))

	var delegated authentication.MeResponse
	require.Equal(t, http.StatusOK, super.do(http.MethodGet, "/api/v1/me", nil, &delegated))
	assert.True(t, delegated.Delegated)
	assert.Equal(t, member.ID, delegated.User.ID)
	require.NotNil(t, delegated.BaseUser)
	assert.Equal(t, "root@platform.io", delegated.BaseUser.Email)

	// the effective USER cannot create tasks, base privileges do not leak
	assert.Equal(t, http.StatusForbidden, super.do(http.MethodPost, "/api/v1/tasks", map[string]any{"name": "Backup"}, nil))

	require.Equal(t, http.StatusOK, super.do(http.MethodDelete, "/api/v1/auth/impersonation", nil, nil))

	var logs []*types.AuditLog
	require.Equal(t, http.StatusOK, super.do(http.MethodGet, "/api/v1/admin/audit-logs?organization_id="+me.OrganizationID, nil, &logs))

	var begin *types.AuditLog
	for _, l := range logs {
		if l.Action == "POST /api/v1/admin/impersonation" {
			begin = l
		}
	}
	require.NotNil(t, begin)
	assert.Equal(t, types.SeverityHigh, begin.Severity)
	assert.Equal(t, member.ID, begin.Details["effective_user_id"])
}

func TestEndingImpersonationClosesStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hash, err := authentication.HashPassword(password)
	require.NoError(t, err)
	_, err = h.store.CreateUser(ctx, &types.User{Email: "root@platform.io", PasswordHash: hash, SystemRole: types.SystemRoleSuper, Active: true})
	require.NoError(t, err)

	owner := h.newClient(t)
	require.Equal(t, http.StatusCreated, owner.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "admin@acme.io", "password": password, "organization_name": "Acme",
	}, nil))

	var me authentication.MeResponse
	require.Equal(t, http.StatusOK, owner.do(http.MethodGet, "/api/v1/me", nil, &me))
	member := h.seedMember(t, me.OrganizationID, "user@acme.io", types.TenantRoleUser)

	super := h.newClient(t)
	super.login("root@platform.io")
	require.Equal(t, http.StatusOK, super.do(http.MethodPost, "/api/v1/admin/impersonation", map[string]string{"user_id": member.ID}, nil))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream := super.stream(streamCtx)

	require.Equal(t, http.StatusOK, super.do(http.MethodDelete, "/api/v1/auth/impersonation", nil, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, super.do(http.MethodGet, "/api/v1/tasks", nil, nil))

	require.Equal(t, http.StatusCreated, owner.do(http.MethodPost, "/api/v1/tasks", map[string]any{"name": "Secret op"}, nil))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-stream:
			if !ok {
				var logs []*types.AuditLog
				require.Equal(t, http.StatusOK, super.do(http.MethodGet, "/api/v1/admin/audit-logs?organization_id="+me.OrganizationID, nil, &logs))

				var end *types.AuditLog
				for _, l := range logs {
					if l.Action == "DELETE /api/v1/auth/impersonation" {
						end = l
					}
				}
				require.NotNil(t, end, "ending the delegation is audited against the impersonated organization")
				assert.Equal(t, member.ID, end.Details["effective_user_id"])
				return
			}
			assert.NotEqual(t, events.TypeActivity, evt.Type, "no tenant events after the delegation ended")
		case <-timeout:
			t.Fatal("event stream was not closed when the delegation ended")
		}
	}
}

func TestLogoutWithUnresolvableDelegation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hash, err := authentication.HashPassword(password)
	require.NoError(t, err)
	_, err = h.store.CreateUser(ctx, &types.User{Email: "root@platform.io", PasswordHash: hash, SystemRole: types.SystemRoleSuper, Active: true})
	require.NoError(t, err)

	owner := h.newClient(t)
	require.Equal(t, http.StatusCreated, owner.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "admin@acme.io", "password": password, "organization_name": "Acme",
	}, nil))

	var me authentication.MeResponse
	require.Equal(t, http.StatusOK, owner.do(http.MethodGet, "/api/v1/me", nil, &me))

	super := h.newClient(t)
	super.login("root@platform.io")

	// point the session at a delegated pair whose target has no membership
	orphan, err := h.store.CreateUser(ctx, &types.User{Email: "orphan@acme.io", PasswordHash: hash, Active: true})
	require.NoError(t, err)

	base, err := url.Parse(h.server.URL)
	require.NoError(t, err)

	var session *types.Session
	for _, c := range super.hc.Jar.Cookies(base) {
		if c.Name == "mc_session" {
			session, err = h.sessions.Validate(ctx, c.Value)
			require.NoError(t, err)
		}
	}
	require.NotNil(t, session)
	require.NoError(t, h.store.SetSessionDelegation(ctx, session.ID, orphan.ID, me.OrganizationID))

	assert.Equal(t, http.StatusForbidden, super.do(http.MethodGet, "/api/v1/me", nil, nil), "the delegated identity does not resolve")

	require.Equal(t, http.StatusOK, super.do(http.MethodPost, "/api/v1/auth/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, super.do(http.MethodGet, "/api/v1/me", nil, nil))
}
