// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"time"
)

type SystemRole string

const (
	SystemRoleNone  SystemRole = "NONE"
	SystemRoleSuper SystemRole = "SUPER"
)

type TenantRole string

const (
	TenantRoleAdmin TenantRole = "ADMIN"
	TenantRoleUser  TenantRole = "USER"
)

func (r TenantRole) Valid() bool {
	return r == TenantRoleAdmin || r == TenantRoleUser
}

type User struct {
	ID               string     `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	SystemRole       SystemRole `db:"system_role" json:"system_role"`
	Active           bool       `db:"active" json:"active"`
	TwoFactorEnabled bool       `db:"two_factor_enabled" json:"two_factor_enabled"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	LastLoginAt      *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

func (u *User) IsSuper() bool {
	return u.SystemRole == SystemRoleSuper
}

const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"

	OrganizationActive    = "active"
	OrganizationSuspended = "suspended"
)

type Organization struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Plan      string    `db:"plan" json:"plan"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Membership struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	OrganizationID string     `db:"organization_id" json:"organization_id"`
	Role           TenantRole `db:"role" json:"role"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Session is the server side half of an authenticated session, the raw token
// is only ever known to the client
type Session struct {
	ID                      string    `db:"id"`
	TokenHash               string    `db:"token_hash"`
	UserID                  string    `db:"user_id"`
	OrganizationID          string    `db:"organization_id"`
	DelegatedUserID         *string   `db:"delegated_user_id"`
	DelegatedOrganizationID *string   `db:"delegated_organization_id"`
	IPAddress               string    `db:"ip_address"`
	UserAgent               string    `db:"user_agent"`
	ExpiresAt               time.Time `db:"expires_at"`
	LastSeenAt              time.Time `db:"last_seen_at"`
	CreatedAt               time.Time `db:"created_at"`
}

func (s *Session) IsDelegated() bool {
	return s.DelegatedUserID != nil && s.DelegatedOrganizationID != nil
}

func (s *Session) EffectiveUserID() string {
	if s.IsDelegated() {
		return *s.DelegatedUserID
	}

	return s.UserID
}

func (s *Session) EffectiveOrganizationID() string {
	if s.IsDelegated() {
		return *s.DelegatedOrganizationID
	}

	return s.OrganizationID
}

type CodePurpose string

const (
	CodePurposeLogin         CodePurpose = "login"
	CodePurposePasswordReset CodePurpose = "password_reset"
)

type VerificationCode struct {
	ID         string      `db:"id"`
	UserID     string      `db:"user_id"`
	Purpose    CodePurpose `db:"purpose"`
	CodeHash   string      `db:"code_hash"`
	ExpiresAt  time.Time   `db:"expires_at"`
	ConsumedAt *time.Time  `db:"consumed_at"`
	Attempts   int         `db:"attempts"`
	CreatedAt  time.Time   `db:"created_at"`
}

type Task struct {
	ID               string    `db:"id" json:"id"`
	OrganizationID   string    `db:"organization_id" json:"organization_id"`
	Name             string    `db:"name" json:"name"`
	Description      string    `db:"description" json:"description"`
	Schedule         string    `db:"schedule" json:"schedule"`
	Paused           bool      `db:"paused" json:"paused"`
	RequiresApproval bool      `db:"requires_approval" json:"requires_approval"`
	CreatedBy        string    `db:"created_by" json:"created_by"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

type RunStatus string

const (
	RunAwaitingApproval RunStatus = "awaiting_approval"
	RunQueued           RunStatus = "queued"
	RunRunning          RunStatus = "running"
	RunCompleted        RunStatus = "completed"
	RunFailed           RunStatus = "failed"
	RunCancelled        RunStatus = "cancelled"
)

func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

type TaskRun struct {
	ID             string         `db:"id" json:"id"`
	TaskID         string         `db:"task_id" json:"task_id"`
	OrganizationID string         `db:"organization_id" json:"organization_id"`
	RequestedBy    string         `db:"requested_by" json:"requested_by"`
	Status         RunStatus      `db:"status" json:"status"`
	Progress       int            `db:"progress" json:"progress"`
	StartedAt      *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	Evidence       map[string]any `db:"evidence" json:"evidence,omitempty"`
	FailureReason  string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	Steps          []*TaskStep    `db:"-" json:"steps"`
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

type TaskStep struct {
	ID             string     `db:"id" json:"id"`
	RunID          string     `db:"run_id" json:"run_id"`
	OrganizationID string     `db:"organization_id" json:"organization_id"`
	Position       int        `db:"position" json:"position"`
	Name           string     `db:"name" json:"name"`
	Status         StepStatus `db:"status" json:"status"`
	Progress       int        `db:"progress" json:"progress"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	Logs           []StepLog  `db:"-" json:"logs"`
}

type StepLog struct {
	ID        string    `db:"id" json:"id"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

const ApprovalTypeTaskRun = "task_run"

type Approval struct {
	ID             string         `db:"id" json:"id"`
	OrganizationID string         `db:"organization_id" json:"organization_id"`
	Type           string         `db:"type" json:"type"`
	Title          string         `db:"title" json:"title"`
	Description    string         `db:"description" json:"description"`
	Status         ApprovalStatus `db:"status" json:"status"`
	RequestedBy    string         `db:"requested_by" json:"requested_by"`
	RunID          *string        `db:"run_id" json:"run_id,omitempty"`
	DecidedBy      *string        `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt      *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

type Activity struct {
	ID             string         `db:"id" json:"id"`
	OrganizationID string         `db:"organization_id" json:"organization_id"`
	Type           string         `db:"type" json:"type"`
	Title          string         `db:"title" json:"title"`
	Description    string         `db:"description" json:"description"`
	Status         string         `db:"status" json:"status"`
	Metadata       map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AuditLog struct {
	ID             string         `db:"id" json:"id"`
	OrganizationID string         `db:"organization_id" json:"organization_id"`
	ActorID        *string        `db:"actor_id" json:"actor_id,omitempty"`
	Action         string         `db:"action" json:"action"`
	Resource       string         `db:"resource" json:"resource"`
	Severity       Severity       `db:"severity" json:"severity"`
	IPAddress      string         `db:"ip_address" json:"ip_address"`
	Details        map[string]any `db:"details" json:"details,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// PlatformMetrics is the cross tenant snapshot served to administrators
type PlatformMetrics struct {
	Organizations  int64               `json:"organizations"`
	Users          int64               `json:"users"`
	ActiveSessions int64               `json:"active_sessions"`
	Tasks          int64               `json:"tasks"`
	Runs           map[RunStatus]int64 `json:"runs"`
	Observers      int                 `json:"observers"`
	InFlightRuns   int64               `json:"in_flight_runs"`
}

// RunCheckpoint is a single progress update of a running task run
type RunCheckpoint struct {
	RunProgress  int
	StepIndex    int
	StepProgress int
	Message      string
}
