// Copyright 2025 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"
	"time"

	"github.com/canonical/mission-control/internal/types"
)

// StorageInterface is the subset of internal/storage used by the identity store
type StorageInterface interface {
	CreateUser(ctx context.Context, u *types.User) (*types.User, error)
	GetUserByID(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	TouchUserLogin(ctx context.Context, id string, at time.Time) error

	CreateAccount(ctx context.Context, u *types.User, o *types.Organization) (*types.User, *types.Organization, error)
	GetMembership(ctx context.Context, userID, organizationID string) (*types.Membership, error)
	ListMembershipsByUserID(ctx context.Context, userID string) ([]*types.Membership, error)

	CreateSession(ctx context.Context, s *types.Session) (*types.Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*types.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error
	DeleteSessionsByUserID(ctx context.Context, userID string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	CreateVerificationCode(ctx context.Context, c *types.VerificationCode) (*types.VerificationCode, error)
	ConsumeVerificationCode(ctx context.Context, purpose types.CodePurpose, id, codeHash string, now time.Time) (*types.VerificationCode, error)
	FailVerificationCode(ctx context.Context, id string, maxAttempts int, now time.Time) error
}

// NotifierInterface delivers one time codes out of band
type NotifierInterface interface {
	SendLoginCode(ctx context.Context, email, code string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// SessionValidatorInterface is what the middleware needs to turn a raw token into an Identity
type SessionValidatorInterface interface {
	Validate(ctx context.Context, rawToken string) (*types.Session, error)
	ResolveIdentity(ctx context.Context, session *types.Session) (*Identity, error)
}

// StreamCloserInterface drops the live event streams opened by a session
type StreamCloserInterface interface {
	DisconnectSession(sessionID string) int
}

type ServiceInterface interface {
	SessionValidatorInterface

	Refresh(ctx context.Context, session *types.Session) (*Identity, error)
	CreateSession(ctx context.Context, userID, organizationID string, meta ClientMeta) (*types.Session, string, error)
	Destroy(ctx context.Context, rawToken string) error
	CleanupExpired(ctx context.Context) (int64, error)

	Login(ctx context.Context, email, password string, meta ClientMeta) (*LoginResult, error)
	VerifySecondFactor(ctx context.Context, challengeID, code string, meta ClientMeta) (*LoginResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	Register(ctx context.Context, email, password, organizationName string, meta ClientMeta) (*LoginResult, error)
}
