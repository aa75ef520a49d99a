// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/canonical/mission-control/internal/authorization"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
)

var _ ServiceInterface = (*Service)(nil)

const defaultMaxCodeAttempts = 5

type Config struct {
	SessionTTL       time.Duration
	TwoFactorTTL     time.Duration
	PasswordResetTTL time.Duration
	// MaxCodeAttempts is the number of wrong codes after which a challenge is burnt
	MaxCodeAttempts int
}

// ClientMeta describes the client a session is issued to
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// LoginResult carries either a new session or a second factor challenge
type LoginResult struct {
	User    *types.User
	Session *types.Session
	// Token is the raw session token, it is never stored
	Token       string
	ChallengeID string
}

func (r *LoginResult) ChallengeRequired() bool {
	return r.ChallengeID != ""
}

type Service struct {
	storage  StorageInterface
	notifier NotifierInterface
	cfg      Config

	now            func() time.Time
	verifyPassword func(hash, password string) error

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// CreateSession issues a new session, the raw token is returned exactly once
func (s *Service) CreateSession(ctx context.Context, userID, organizationID string, meta ClientMeta) (*types.Session, string, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.CreateSession")
	defer span.End()

	raw, err := newToken()
	if err != nil {
		return nil, "", types.WrapError(types.CodeInternal, "failed to create session", err)
	}

	now := s.now()

	session, err := s.storage.CreateSession(ctx, &types.Session{
		TokenHash:      hashToken(raw),
		UserID:         userID,
		OrganizationID: organizationID,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
		LastSeenAt:     now,
	})
	if err != nil {
		return nil, "", types.WrapError(types.CodeInternal, "failed to create session", err)
	}

	return session, raw, nil
}

// Validate looks the raw token up, expired sessions are deleted on sight
func (s *Service) Validate(ctx context.Context, rawToken string) (*types.Session, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.Validate")
	defer span.End()

	if rawToken == "" {
		return nil, types.ErrUnauthenticated
	}

	hash := hashToken(rawToken)

	session, err := s.storage.GetSessionByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, types.ErrUnauthenticated
		}
		return nil, types.WrapError(types.CodeInternal, "failed to load session", err)
	}

	now := s.now()

	if !session.ExpiresAt.After(now) {
		if err := s.storage.DeleteSessionByTokenHash(ctx, hash); err != nil {
			s.logger.Errorf("failed to delete expired session %s: %v", session.ID, err)
		}
		return nil, types.ErrSessionExpired
	}

	if err := s.storage.TouchSession(ctx, session.ID, now); err != nil {
		s.logger.Warnf("failed to refresh session %s: %v", session.ID, err)
	}
	session.LastSeenAt = now

	return session, nil
}

// Refresh reloads a session already validated on this connection and
// resolves its current identity, without extending it
func (s *Service) Refresh(ctx context.Context, session *types.Session) (*Identity, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.Refresh")
	defer span.End()

	if session == nil {
		return nil, types.ErrUnauthenticated
	}

	current, err := s.storage.GetSessionByTokenHash(ctx, session.TokenHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, types.ErrUnauthenticated
		}
		return nil, types.WrapError(types.CodeInternal, "failed to load session", err)
	}

	if !current.ExpiresAt.After(s.now()) {
		return nil, types.ErrSessionExpired
	}

	return s.ResolveIdentity(ctx, current)
}

// Destroy deletes the session behind rawToken, unknown tokens are ignored
func (s *Service) Destroy(ctx context.Context, rawToken string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.Destroy")
	defer span.End()

	if rawToken == "" {
		return nil
	}

	if err := s.storage.DeleteSessionByTokenHash(ctx, hashToken(rawToken)); err != nil {
		return types.WrapError(types.CodeInternal, "failed to destroy session", err)
	}

	return nil
}

// ResolveIdentity computes the effective identity of a session. Nothing is cached,
// role changes and revocations apply on the next request.
func (s *Service) ResolveIdentity(ctx context.Context, session *types.Session) (*Identity, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.ResolveIdentity")
	defer span.End()

	base, err := s.activeUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	user := base
	if session.IsDelegated() {
		if user, err = s.activeUser(ctx, *session.DelegatedUserID); err != nil {
			return nil, err
		}
	}

	organizationID := session.EffectiveOrganizationID()

	var role *types.TenantRole
	if organizationID != "" {
		m, err := s.storage.GetMembership(ctx, user.ID, organizationID)
		switch {
		case err == nil:
			role = &m.Role
		case !errors.Is(err, storage.ErrNotFound):
			return nil, types.WrapError(types.CodeInternal, "failed to load membership", err)
		}
	}

	if role == nil && !user.IsSuper() {
		return nil, types.ErrNoOrgAccess
	}

	return &Identity{
		Session:        session,
		BaseUser:       base,
		User:           user,
		OrganizationID: organizationID,
		Role:           role,
		Permissions:    authorization.Resolve(user.SystemRole, role),
	}, nil
}

func (s *Service) activeUser(ctx context.Context, id string) (*types.User, error) {
	user, err := s.storage.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, types.ErrUnauthenticated
		}
		return nil, types.WrapError(types.CodeInternal, "failed to load user", err)
	}

	if !user.Active {
		return nil, types.ErrUnauthenticated
	}

	return user, nil
}

func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.CleanupExpired")
	defer span.End()

	return s.storage.DeleteExpiredSessions(ctx, s.now())
}

// Login verifies the credentials, every failure looks the same to the caller
func (s *Service) Login(ctx context.Context, email, password string, meta ClientMeta) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.Login")
	defer span.End()

	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, types.WrapError(types.CodeInternal, "failed to load user", err)
		}
		_ = s.verifyPassword(dummyHash(), password)
		s.logger.Security().AuthnLoginFail(email)
		return nil, types.ErrInvalidCredentials
	}

	if !user.Active || s.verifyPassword(user.PasswordHash, password) != nil {
		s.logger.Security().AuthnLoginFail(email)
		return nil, types.ErrInvalidCredentials
	}

	organizationID, err := s.baseOrganization(ctx, user)
	if err != nil {
		return nil, err
	}

	if user.TwoFactorEnabled {
		return s.challenge(ctx, user)
	}

	return s.startSession(ctx, user, organizationID, meta)
}

func (s *Service) challenge(ctx context.Context, user *types.User) (*LoginResult, error) {
	code, err := newCode()
	if err != nil {
		return nil, types.WrapError(types.CodeInternal, "failed to issue challenge", err)
	}

	vc, err := s.storage.CreateVerificationCode(ctx, &types.VerificationCode{
		UserID:    user.ID,
		Purpose:   types.CodePurposeLogin,
		CodeHash:  hashToken(code),
		ExpiresAt: s.now().Add(s.cfg.TwoFactorTTL),
	})
	if err != nil {
		return nil, types.WrapError(types.CodeInternal, "failed to issue challenge", err)
	}

	if err := s.notifier.SendLoginCode(ctx, user.Email, code); err != nil {
		return nil, types.WrapError(types.CodeInternal, "failed to deliver login code", err)
	}

	return &LoginResult{User: user, ChallengeID: vc.ID}, nil
}

// VerifySecondFactor consumes the challenge code and opens the session
func (s *Service) VerifySecondFactor(ctx context.Context, challengeID, code string, meta ClientMeta) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.VerifySecondFactor")
	defer span.End()

	now := s.now()

	vc, err := s.storage.ConsumeVerificationCode(ctx, types.CodePurposeLogin, challengeID, hashToken(code), now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if ferr := s.storage.FailVerificationCode(ctx, challengeID, s.cfg.MaxCodeAttempts, now); ferr != nil {
				s.logger.Errorf("failed to record verification attempt: %v", ferr)
			}
			return nil, types.ErrInvalidCredentials
		}
		return nil, types.WrapError(types.CodeInternal, "failed to verify code", err)
	}

	user, err := s.storage.GetUserByID(ctx, vc.UserID)
	if err != nil || !user.Active {
		return nil, types.ErrInvalidCredentials
	}

	organizationID, err := s.baseOrganization(ctx, user)
	if err != nil {
		return nil, err
	}

	return s.startSession(ctx, user, organizationID, meta)
}

// RequestPasswordReset never reveals whether the email is registered
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.RequestPasswordReset")
	defer span.End()

	user, err := s.storage.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Errorf("failed to look up user for password reset: %v", err)
		}
		return nil
	}

	if !user.Active {
		return nil
	}

	token, err := newToken()
	if err != nil {
		s.logger.Errorf("failed to generate reset token: %v", err)
		return nil
	}

	_, err = s.storage.CreateVerificationCode(ctx, &types.VerificationCode{
		UserID:    user.ID,
		Purpose:   types.CodePurposePasswordReset,
		CodeHash:  hashToken(token),
		ExpiresAt: s.now().Add(s.cfg.PasswordResetTTL),
	})
	if err != nil {
		s.logger.Errorf("failed to store reset token: %v", err)
		return nil
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, token); err != nil {
		s.logger.Errorf("failed to deliver reset token: %v", err)
	}

	return nil
}

// ResetPassword sets a new password and signs the user out everywhere
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.ResetPassword")
	defer span.End()

	vc, err := s.storage.ConsumeVerificationCode(ctx, types.CodePurposePasswordReset, "", hashToken(token), s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.NewError(types.CodeInvalidCredentials, "invalid or expired reset token")
		}
		return types.WrapError(types.CodeInternal, "failed to verify reset token", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return types.WrapError(types.CodeInternal, "failed to reset password", err)
	}

	if err := s.storage.UpdateUserPassword(ctx, vc.UserID, hash); err != nil {
		return types.WrapError(types.CodeInternal, "failed to reset password", err)
	}

	if err := s.storage.DeleteSessionsByUserID(ctx, vc.UserID); err != nil {
		return types.WrapError(types.CodeInternal, "failed to revoke sessions", err)
	}

	s.logger.Security().AuthnPasswordChange(vc.UserID)
	s.logger.Security().AuthnTokenRevoked(vc.UserID)

	return nil
}

// Register creates a user with its own organization and signs it in
func (s *Service) Register(ctx context.Context, email, password, organizationName string, meta ClientMeta) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "authentication.Service.Register")
	defer span.End()

	hash, err := HashPassword(password)
	if err != nil {
		return nil, types.WrapError(types.CodeInternal, "failed to register", err)
	}

	user, org, err := s.storage.CreateAccount(ctx,
		&types.User{
			Email:        strings.ToLower(strings.TrimSpace(email)),
			PasswordHash: hash,
			SystemRole:   types.SystemRoleNone,
			Active:       true,
		},
		&types.Organization{
			Name:   strings.TrimSpace(organizationName),
			Plan:   types.PlanFree,
			Status: types.OrganizationActive,
		},
	)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, types.NewError(types.CodeConflict, "email already registered")
		}
		return nil, types.WrapError(types.CodeInternal, "failed to register", err)
	}

	s.logger.Infof("registered user %s with organization %s", user.ID, org.ID)

	return s.startSession(ctx, user, org.ID, meta)
}

// baseOrganization is the earliest membership, super users may have none
func (s *Service) baseOrganization(ctx context.Context, user *types.User) (string, error) {
	memberships, err := s.storage.ListMembershipsByUserID(ctx, user.ID)
	if err != nil {
		return "", types.WrapError(types.CodeInternal, "failed to load memberships", err)
	}

	if len(memberships) > 0 {
		return memberships[0].OrganizationID, nil
	}

	if user.IsSuper() {
		return "", nil
	}

	return "", types.ErrNoOrganization
}

func (s *Service) startSession(ctx context.Context, user *types.User, organizationID string, meta ClientMeta) (*LoginResult, error) {
	session, token, err := s.CreateSession(ctx, user.ID, organizationID, meta)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.storage.TouchUserLogin(ctx, user.ID, now); err != nil {
		s.logger.Warnf("failed to record last login for %s: %v", user.ID, err)
	}
	user.LastLoginAt = &now

	s.logger.Security().AuthnLoginSuccess(user.ID)

	return &LoginResult{User: user, Session: session, Token: token}, nil
}

func NewService(
	storage StorageInterface,
	notifier NotifierInterface,
	cfg Config,
	tracer tracing.TracingInterface,
	monitor monitoring.MonitorInterface,
	logger logging.LoggerInterface,
) *Service {
	s := new(Service)

	s.storage = storage
	s.notifier = notifier
	s.cfg = cfg
	if s.cfg.MaxCodeAttempts <= 0 {
		s.cfg.MaxCodeAttempts = defaultMaxCodeAttempts
	}
	s.now = time.Now
	s.verifyPassword = VerifyPassword

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
