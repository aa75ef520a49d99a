// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

// Package memory provides a process local storage backend with the same
// transactional guarantees as the SQL one, every operation holds a single lock.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canonical/mission-control/internal/db"
	"github.com/canonical/mission-control/internal/ids"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
)

var _ storage.StorageInterface = (*Storage)(nil)

type Storage struct {
	mu sync.Mutex

	users         map[string]*types.User
	organizations map[string]*types.Organization
	memberships   map[string]*types.Membership
	sessions      map[string]*types.Session
	codes         map[string]*types.VerificationCode
	tasks         map[string]*types.Task
	runs          map[string]*types.TaskRun
	steps         map[string][]*types.TaskStep
	approvals     map[string]*types.Approval
	activities    []*types.Activity
	auditLogs     []*types.AuditLog

	now func() time.Time

	tracer tracing.TracingInterface
	logger logging.LoggerInterface
}

func NewStorage(tracer tracing.TracingInterface, logger logging.LoggerInterface) *Storage {
	s := new(Storage)

	s.users = make(map[string]*types.User)
	s.organizations = make(map[string]*types.Organization)
	s.memberships = make(map[string]*types.Membership)
	s.sessions = make(map[string]*types.Session)
	s.codes = make(map[string]*types.VerificationCode)
	s.tasks = make(map[string]*types.Task)
	s.runs = make(map[string]*types.TaskRun)
	s.steps = make(map[string][]*types.TaskStep)
	s.approvals = make(map[string]*types.Approval)

	s.now = time.Now

	s.tracer = tracer
	s.logger = logger

	return s
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

func ptr[T any](v T) *T {
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}

func cloneUser(u *types.User) *types.User {
	c := *u
	if u.LastLoginAt != nil {
		c.LastLoginAt = ptr(*u.LastLoginAt)
	}

	return &c
}

func cloneSession(s *types.Session) *types.Session {
	c := *s
	if s.DelegatedUserID != nil {
		c.DelegatedUserID = ptr(*s.DelegatedUserID)
	}
	if s.DelegatedOrganizationID != nil {
		c.DelegatedOrganizationID = ptr(*s.DelegatedOrganizationID)
	}

	return &c
}

func cloneStep(st *types.TaskStep) *types.TaskStep {
	c := *st
	c.Logs = append(make([]types.StepLog, 0, len(st.Logs)), st.Logs...)

	return &c
}

func (s *Storage) cloneRun(r *types.TaskRun, withSteps bool) *types.TaskRun {
	c := *r
	c.Evidence = cloneMap(r.Evidence)
	if r.StartedAt != nil {
		c.StartedAt = ptr(*r.StartedAt)
	}
	if r.CompletedAt != nil {
		c.CompletedAt = ptr(*r.CompletedAt)
	}

	c.Steps = nil
	if withSteps {
		c.Steps = make([]*types.TaskStep, 0, len(s.steps[r.ID]))
		for _, st := range s.steps[r.ID] {
			c.Steps = append(c.Steps, cloneStep(st))
		}
	}

	return &c
}

func cloneApproval(a *types.Approval) *types.Approval {
	c := *a
	if a.RunID != nil {
		c.RunID = ptr(*a.RunID)
	}
	if a.DecidedBy != nil {
		c.DecidedBy = ptr(*a.DecidedBy)
	}
	if a.DecidedAt != nil {
		c.DecidedAt = ptr(*a.DecidedAt)
	}

	return &c
}

// users

func (s *Storage) CreateUser(ctx context.Context, u *types.User) (*types.User, error) {
	_, span := s.tracer.Start(ctx, "memory.CreateUser")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createUser(u)
}

func (s *Storage) createUser(u *types.User) (*types.User, error) {
	email := strings.ToLower(u.Email)
	for _, existing := range s.users {
		if existing.Email == email {
			return nil, storage.ErrDuplicateKey
		}
	}

	user := cloneUser(u)
	user.ID = newID()
	user.Email = email
	if user.SystemRole == "" {
		user.SystemRole = types.SystemRoleNone
	}
	user.CreatedAt = s.now()
	user.UpdatedAt = user.CreatedAt

	s.users[user.ID] = user

	return cloneUser(user), nil
}

func (s *Storage) GetUserByID(ctx context.Context, id string) (*types.User, error) {
	_, span := s.tracer.Start(ctx, "memory.GetUserByID")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return cloneUser(u), nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	_, span := s.tracer.Start(ctx, "memory.GetUserByEmail")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}

	return nil, storage.ErrNotFound
}

func (s *Storage) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	_, span := s.tracer.Start(ctx, "memory.UpdateUserPassword")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}

	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now()

	return nil
}

func (s *Storage) TouchUserLogin(ctx context.Context, id string, at time.Time) error {
	_, span := s.tracer.Start(ctx, "memory.TouchUserLogin")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		u.LastLoginAt = ptr(at)
	}

	return nil
}

func (s *Storage) SearchUsers(ctx context.Context, query, organizationID string, limit int64) ([]*types.User, error) {
	_, span := s.tracer.Start(ctx, "memory.SearchUsers")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	query = strings.ToLower(query)

	users := make([]*types.User, 0)
	for _, u := range s.users {
		if query != "" && !strings.Contains(u.Email, query) {
			continue
		}

		if organizationID != "" && s.membership(u.ID, organizationID) == nil {
			continue
		}

		users = append(users, cloneUser(u))
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })

	if size := int(db.PageSize(limit)); len(users) > size {
		users = users[:size]
	}

	return users, nil
}

// organizations

func (s *Storage) CreateOrganization(ctx context.Context, o *types.Organization) (*types.Organization, error) {
	_, span := s.tracer.Start(ctx, "memory.CreateOrganization")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createOrganization(o), nil
}

func (s *Storage) createOrganization(o *types.Organization) *types.Organization {
	org := *o
	org.ID = newID()
	if org.Plan == "" {
		org.Plan = types.PlanFree
	}
	if org.Status == "" {
		org.Status = types.OrganizationActive
	}
	org.CreatedAt = s.now()

	s.organizations[org.ID] = &org

	c := org
	return &c
}

func (s *Storage) GetOrganizationByID(ctx context.Context, id string) (*types.Organization, error) {
	_, span := s.tracer.Start(ctx, "memory.GetOrganizationByID")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.organizations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	c := *o
	return &c, nil
}

func (s *Storage) ListOrganizations(ctx context.Context) ([]*types.Organization, error) {
	_, span := s.tracer.Start(ctx, "memory.ListOrganizations")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	orgs := make([]*types.Organization, 0, len(s.organizations))
	for _, o := range s.organizations {
		c := *o
		orgs = append(orgs, &c)
	}

	sort.Slice(orgs, func(i, j int) bool { return orgs[i].ID < orgs[j].ID })

	return orgs, nil
}

func (s *Storage) CreateAccount(ctx context.Context, u *types.User, o *types.Organization) (*types.User, *types.Organization, error) {
	_, span := s.tracer.Start(ctx, "memory.CreateAccount")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.createUser(u)
	if err != nil {
		return nil, nil, err
	}

	org := s.createOrganization(o)

	if _, err := s.addMember(org.ID, user.ID, types.TenantRoleAdmin); err != nil {
		return nil, nil, err
	}

	return user, org, nil
}

func (s *Storage) AddMember(ctx context.Context, organizationID, userID string, role types.TenantRole) (*types.Membership, error) {
	_, span := s.tracer.Start(ctx, "memory.AddMember")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addMember(organizationID, userID, role)
}

func (s *Storage) addMember(organizationID, userID string, role types.TenantRole) (*types.Membership, error) {
	if _, ok := s.organizations[organizationID]; !ok {
		return nil, storage.ErrForeignKeyViolation
	}

	if _, ok := s.users[userID]; !ok {
		return nil, storage.ErrForeignKeyViolation
	}

	if s.membership(userID, organizationID) != nil {
		return nil, storage.ErrDuplicateKey
	}

	m := &types.Membership{
		ID:             newID(),
		UserID:         userID,
		OrganizationID: organizationID,
		Role:           role,
		CreatedAt:      s.now(),
	}
	s.memberships[m.ID] = m

	c := *m
	return &c, nil
}

func (s *Storage) membership(userID, organizationID string) *types.Membership {
	for _, m := range s.memberships {
		if m.UserID == userID && m.OrganizationID == organizationID {
			return m
		}
	}

	return nil
}

func (s *Storage) GetMembership(ctx context.Context, userID, organizationID string) (*types.Membership, error) {
	_, span := s.tracer.Start(ctx, "memory.GetMembership")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.membership(userID, organizationID)
	if m == nil {
		return nil, storage.ErrNotFound
	}

	c := *m
	return &c, nil
}

func (s *Storage) ListMembershipsByUserID(ctx context.Context, userID string) ([]*types.Membership, error) {
	_, span := s.tracer.Start(ctx, "memory.ListMembershipsByUserID")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]*types.Membership, 0)
	for _, m := range s.memberships {
		if m.UserID == userID {
			c := *m
			members = append(members, &c)
		}
	}

	// v7 ids sort by creation time
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	return members, nil
}

// sessions

func (s *Storage) CreateSession(ctx context.Context, sess *types.Session) (*types.Session, error) {
	_, span := s.tracer.Start(ctx, "memory.CreateSession")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.TokenHash == sess.TokenHash {
			return nil, storage.ErrDuplicateKey
		}
	}

	created := cloneSession(sess)
	created.ID = newID()
	created.DelegatedUserID = nil
	created.DelegatedOrganizationID = nil
	created.CreatedAt = s.now()

	s.sessions[created.ID] = created

	return cloneSession(created), nil
}

func (s *Storage) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*types.Session, error) {
	_, span := s.tracer.Start(ctx, "memory.GetSessionByTokenHash")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			return cloneSession(sess), nil
		}
	}

	return nil, storage.ErrNotFound
}

func (s *Storage) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, span := s.tracer.Start(ctx, "memory.TouchSession")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.LastSeenAt = at
	}

	return nil
}

func (s *Storage) DeleteSession(ctx context.Context, id string) error {
	_, span := s.tracer.Start(ctx, "memory.DeleteSession")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)

	return nil
}

func (s *Storage) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	_, span := s.tracer.Start(ctx, "memory.DeleteSessionByTokenHash")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			delete(s.sessions, id)
		}
	}

	return nil
}

func (s *Storage) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	_, span := s.tracer.Start(ctx, "memory.DeleteSessionsByUserID")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}

	return nil
}

func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	_, span := s.tracer.Start(ctx, "memory.DeleteExpiredSessions")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			deleted++
		}
	}

	return deleted, nil
}

func (s *Storage) SetSessionDelegation(ctx context.Context, id, userID, organizationID string) error {
	_, span := s.tracer.Start(ctx, "memory.SetSessionDelegation")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}

	sess.DelegatedUserID = ptr(userID)
	sess.DelegatedOrganizationID = ptr(organizationID)

	return nil
}

func (s *Storage) ClearSessionDelegation(ctx context.Context, id string) error {
	_, span := s.tracer.Start(ctx, "memory.ClearSessionDelegation")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.DelegatedUserID = nil
		sess.DelegatedOrganizationID = nil
	}

	return nil
}

func (s *Storage) CreateVerificationCode(ctx context.Context, c *types.VerificationCode) (*types.VerificationCode, error) {
	_, span := s.tracer.Start(ctx, "memory.CreateVerificationCode")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	code := *c
	code.ID = newID()
	code.ConsumedAt = nil
	code.CreatedAt = s.now()

	s.codes[code.ID] = &code

	out := code
	return &out, nil
}

func (s *Storage) ConsumeVerificationCode(ctx context.Context, purpose types.CodePurpose, id, codeHash string, now time.Time) (*types.VerificationCode, error) {
	_, span := s.tracer.Start(ctx, "memory.ConsumeVerificationCode")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, code := range s.codes {
		if id != "" && code.ID != id {
			continue
		}

		if code.Purpose != purpose || code.CodeHash != codeHash || code.ConsumedAt != nil || !code.ExpiresAt.After(now) {
			continue
		}

		code.ConsumedAt = ptr(now)

		out := *code
		return &out, nil
	}

	return nil, storage.ErrNotFound
}

func (s *Storage) FailVerificationCode(ctx context.Context, id string, maxAttempts int, now time.Time) error {
	_, span := s.tracer.Start(ctx, "memory.FailVerificationCode")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[id]
	if !ok || code.ConsumedAt != nil {
		return nil
	}

	code.Attempts++
	if code.Attempts >= maxAttempts {
		code.ConsumedAt = ptr(now)
	}

	return nil
}

// tasks

func (s *Storage) CreateTask(ctx context.Context, t *types.Task) (*types.Task, error) {
	_, span := s.tracer.Start(ctx, "memory.CreateTask")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.organizations[t.OrganizationID]; !ok {
		return nil, storage.ErrForeignKeyViolation
	}

	task := *t
	task.ID = newID()
	task.CreatedAt = s.now()

	s.tasks[task.ID] = &task

	out := task
	return &out, nil
}

func (s *Storage) GetTask(ctx context.Context, organizationID, id string) (*types.Task, error) {
	_, span := s.tracer.Start(ctx, "memory.GetTask")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.OrganizationID != organizationID {
		return nil, storage.ErrNotFound
	}

	out := *t
	return &out, nil
}

func (s *Storage) ListTasks(ctx context.Context, organizationID string) ([]*types.Task, error) {
	_, span := s.tracer.Start(ctx, "memory.ListTasks")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]*types.Task, 0)
	for _, t := range s.tasks {
		if t.OrganizationID == organizationID {
			out := *t
			tasks = append(tasks, &out)
		}
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	return tasks, nil
}

func (s *Storage) ToggleTaskPause(ctx context.Context, organizationID, id string) (*types.Task, error) {
	_, span := s.tracer.Start(ctx, "memory.ToggleTaskPause")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.OrganizationID != organizationID {
		return nil, storage.ErrNotFound
	}

	t.Paused = !t.Paused

	out := *t
	return &out, nil
}

// runs

func (s *Storage) insertRun(r *types.TaskRun) *types.TaskRun {
	run := s.cloneRun(r, false)
	run.ID = newID()
	run.CreatedAt = s.now()

	s.runs[run.ID] = run
	s.steps[run.ID] = nil

	return run
}

func (s *Storage) insertSteps(run *types.TaskRun, steps []*types.TaskStep) {
	created := make([]*types.TaskStep, 0, len(steps))
	for _, st := range steps {
		step := cloneStep(st)
		step.ID = newID()
		step.RunID = run.ID
		step.OrganizationID = run.OrganizationID
		step.UpdatedAt = s.now()
		created = append(created, step)
	}

	sort.Slice(created, func(i, j int) bool { return created[i].Position < created[j].Position })

	s.steps[run.ID] = created
}

func (s *Storage) CreateRun(ctx context.Context, r *types.TaskRun, steps []*types.TaskStep) (*types.TaskRun, error) {
	_, span := s.tracer.Start(ctx, "memory.CreateRun")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.TaskID]; !ok {
		return nil, storage.ErrForeignKeyViolation
	}

	run := s.insertRun(r)
	s.insertSteps(run, steps)

	return s.cloneRun(run, true), nil
}

func (s *Storage) CreateRunAwaitingApproval(ctx context.Context, r *types.TaskRun, a *types.Approval) (*types.TaskRun, *types.Approval, error) {
	_, span := s.tracer.Start(ctx, "memory.CreateRunAwaitingApproval")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.TaskID]; !ok {
		return nil, nil, storage.ErrForeignKeyViolation
	}

	run := s.insertRun(r)

	approval := cloneApproval(a)
	approval.ID = newID()
	approval.Status = types.ApprovalPending
	approval.RunID = ptr(run.ID)
	approval.DecidedBy = nil
	approval.DecidedAt = nil
	approval.CreatedAt = s.now()

	s.approvals[approval.ID] = approval

	return s.cloneRun(run, true), cloneApproval(approval), nil
}

func (s *Storage) GetRun(ctx context.Context, organizationID, id string) (*types.TaskRun, error) {
	_, span := s.tracer.Start(ctx, "memory.GetRun")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok || r.OrganizationID != organizationID {
		return nil, storage.ErrNotFound
	}

	return s.cloneRun(r, true), nil
}

func (s *Storage) ListRunsByTask(ctx context.Context, organizationID, taskID string) ([]*types.TaskRun, error) {
	_, span := s.tracer.Start(ctx, "memory.ListRunsByTask")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]*types.TaskRun, 0)
	for _, r := range s.runs {
		if r.OrganizationID == organizationID && r.TaskID == taskID {
			runs = append(runs, s.cloneRun(r, false))
		}
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].ID > runs[j].ID })

	return runs, nil
}

func (s *Storage) ApplyCheckpoint(ctx context.Context, runID string, cp types.RunCheckpoint, at time.Time) (bool, error) {
	_, span := s.tracer.Start(ctx, "memory.ApplyCheckpoint")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok || r.Status != types.RunRunning {
		return false, nil
	}

	steps := s.steps[runID]
	if cp.StepIndex < 0 || cp.StepIndex >= len(steps) {
		return false, storage.ErrNotFound
	}

	r.Progress = max(r.Progress, cp.RunProgress)

	for i, st := range steps {
		switch {
		case i < cp.StepIndex:
			st.Status = types.StepCompleted
			st.Progress = 100
			st.UpdatedAt = at
		case i == cp.StepIndex:
			st.Status = types.StepRunning
			if cp.StepProgress >= 100 {
				st.Status = types.StepCompleted
			}
			st.Progress = max(st.Progress, cp.StepProgress)
			st.UpdatedAt = at
			st.Logs = append(st.Logs, types.StepLog{ID: ids.NewULID(), Message: cp.Message, CreatedAt: at})
		default:
			st.Status = types.StepPending
			st.Progress = 0
		}
	}

	return true, nil
}

func (s *Storage) CompleteRun(ctx context.Context, runID string, evidence map[string]any, at time.Time) (bool, error) {
	_, span := s.tracer.Start(ctx, "memory.CompleteRun")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok || r.Status != types.RunRunning {
		return false, nil
	}

	r.Status = types.RunCompleted
	r.Progress = 100
	r.CompletedAt = ptr(at)
	r.Evidence = cloneMap(evidence)

	for _, st := range s.steps[runID] {
		st.Status = types.StepCompleted
		st.Progress = 100
		st.UpdatedAt = at
	}

	return true, nil
}

func (s *Storage) FailRun(ctx context.Context, runID string, stepIndex int, reason string, at time.Time) (bool, error) {
	_, span := s.tracer.Start(ctx, "memory.FailRun")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[runID]
	if !ok || (r.Status != types.RunRunning && r.Status != types.RunQueued) {
		return false, nil
	}

	r.Status = types.RunFailed
	r.FailureReason = reason
	r.CompletedAt = ptr(at)

	for _, st := range s.steps[runID] {
		if st.Position == stepIndex && st.Status != types.StepCompleted {
			st.Status = types.StepFailed
			st.UpdatedAt = at
		}
	}

	return true, nil
}

// approvals

func (s *Storage) ListApprovals(ctx context.Context, organizationID string, status types.ApprovalStatus) ([]*types.Approval, error) {
	_, span := s.tracer.Start(ctx, "memory.ListApprovals")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	approvals := make([]*types.Approval, 0)
	for _, a := range s.approvals {
		if a.OrganizationID != organizationID || (status != "" && a.Status != status) {
			continue
		}
		approvals = append(approvals, cloneApproval(a))
	}

	sort.Slice(approvals, func(i, j int) bool { return approvals[i].ID > approvals[j].ID })

	return approvals, nil
}

func (s *Storage) DecideApproval(ctx context.Context, organizationID, id, deciderID string, approve bool, steps []*types.TaskStep, at time.Time) (*types.Approval, *types.TaskRun, error) {
	_, span := s.tracer.Start(ctx, "memory.DecideApproval")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.approvals[id]
	if !ok || a.OrganizationID != organizationID {
		return nil, nil, storage.ErrNotFound
	}

	if a.Status != types.ApprovalPending {
		return nil, nil, storage.ErrStateConflict
	}

	var run *types.TaskRun
	if a.RunID != nil {
		r, ok := s.runs[*a.RunID]
		if !ok || r.Status != types.RunAwaitingApproval {
			return nil, nil, storage.ErrStateConflict
		}
		run = r
	}

	a.Status = types.ApprovalRejected
	if approve {
		a.Status = types.ApprovalApproved
	}
	a.DecidedBy = ptr(deciderID)
	a.DecidedAt = ptr(at)

	if run == nil {
		return cloneApproval(a), nil, nil
	}

	if approve {
		run.Status = types.RunRunning
		run.StartedAt = ptr(at)
		s.insertSteps(run, steps)
	} else {
		run.Status = types.RunCancelled
		run.CompletedAt = ptr(at)
	}

	return cloneApproval(a), s.cloneRun(run, true), nil
}

// activities and audit

func (s *Storage) CreateActivity(ctx context.Context, a *types.Activity) (*types.Activity, error) {
	_, span := s.tracer.Start(ctx, "memory.CreateActivity")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	activity := *a
	activity.ID = ids.NewULID()
	activity.Metadata = cloneMap(a.Metadata)
	activity.CreatedAt = s.now()

	s.activities = append(s.activities, &activity)

	out := activity
	out.Metadata = cloneMap(activity.Metadata)
	return &out, nil
}

func (s *Storage) ListActivities(ctx context.Context, organizationID string, limit int64) ([]*types.Activity, error) {
	_, span := s.tracer.Start(ctx, "memory.ListActivities")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	size := int(db.PageSize(limit))

	activities := make([]*types.Activity, 0)
	for i := len(s.activities) - 1; i >= 0 && len(activities) < size; i-- {
		a := s.activities[i]
		if a.OrganizationID != organizationID {
			continue
		}

		out := *a
		out.Metadata = cloneMap(a.Metadata)
		activities = append(activities, &out)
	}

	return activities, nil
}

func (s *Storage) CreateAuditLog(ctx context.Context, l *types.AuditLog) error {
	_, span := s.tracer.Start(ctx, "memory.CreateAuditLog")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := *l
	entry.ID = newID()
	entry.Details = cloneMap(l.Details)
	entry.CreatedAt = s.now()

	s.auditLogs = append(s.auditLogs, &entry)

	return nil
}

func (s *Storage) ListAuditLogs(ctx context.Context, organizationID string, page, size int64) ([]*types.AuditLog, error) {
	_, span := s.tracer.Start(ctx, "memory.ListAuditLogs")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	pageSize := db.PageSize(size)
	offset := int(db.Offset(page, pageSize))

	logs := make([]*types.AuditLog, 0)
	skipped := 0
	for i := len(s.auditLogs) - 1; i >= 0 && uint64(len(logs)) < pageSize; i-- {
		l := s.auditLogs[i]
		if organizationID != "" && l.OrganizationID != organizationID {
			continue
		}

		if skipped < offset {
			skipped++
			continue
		}

		out := *l
		out.Details = cloneMap(l.Details)
		logs = append(logs, &out)
	}

	return logs, nil
}

func (s *Storage) GetPlatformMetrics(ctx context.Context, now time.Time) (*types.PlatformMetrics, error) {
	_, span := s.tracer.Start(ctx, "memory.GetPlatformMetrics")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	m := &types.PlatformMetrics{
		Organizations: int64(len(s.organizations)),
		Users:         int64(len(s.users)),
		Tasks:         int64(len(s.tasks)),
		Runs:          make(map[types.RunStatus]int64),
	}

	for _, sess := range s.sessions {
		if sess.ExpiresAt.After(now) {
			m.ActiveSessions++
		}
	}

	for _, r := range s.runs {
		m.Runs[r.Status]++
	}

	m.InFlightRuns = m.Runs[types.RunRunning] + m.Runs[types.RunQueued]

	return m, nil
}
