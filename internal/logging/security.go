// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package logging

import (
	"fmt"

	"go.uber.org/zap"
)

const appID = "mission-control"

type SecurityLogger struct {
	l *zap.Logger
}

func (s *SecurityLogger) log(event, level, description string, fields ...zap.Field) {
	fields = append(
		fields,
		zap.String("type", "security"),
		zap.String("appid", appID),
		zap.String("event", event),
		zap.String("level", level),
	)

	switch level {
	case "WARN":
		s.l.Warn(description, fields...)
	case "CRITICAL":
		s.l.Error(description, fields...)
	default:
		s.l.Info(description, fields...)
	}
}

func (s *SecurityLogger) SystemStartup() {
	s.log("sys_startup", "WARN", fmt.Sprintf("%s is starting", appID))
}

func (s *SecurityLogger) SystemShutdown() {
	s.log("sys_shutdown", "WARN", fmt.Sprintf("%s is shutting down", appID))
}

func (s *SecurityLogger) AuthnLoginSuccess(userID string) {
	s.log(fmt.Sprintf("authn_login_success:%s", userID), "INFO", fmt.Sprintf("user %s login successfully", userID))
}

// AuthnLoginFail takes the submitted email, which may not match any user
func (s *SecurityLogger) AuthnLoginFail(email string) {
	s.log(fmt.Sprintf("authn_login_fail:%s", email), "WARN", fmt.Sprintf("user %s login failed", email))
}

func (s *SecurityLogger) AuthnTokenRevoked(userID string) {
	s.log(fmt.Sprintf("authn_token_revoked:%s", userID), "INFO", fmt.Sprintf("session of user %s revoked", userID))
}

func (s *SecurityLogger) AuthnPasswordChange(userID string) {
	s.log(fmt.Sprintf("authn_password_change:%s", userID), "INFO", fmt.Sprintf("user %s has changed their password", userID))
}

func (s *SecurityLogger) AuthzFailure(userID, permission string) {
	s.log(
		fmt.Sprintf("authz_fail:%s,%s", userID, permission),
		"CRITICAL",
		fmt.Sprintf("user %s attempted an action requiring %s without entitlement", userID, permission),
	)
}

func (s *SecurityLogger) ImpersonationStart(actorID, targetUserID, targetOrganizationID string) {
	s.log(
		fmt.Sprintf("authz_impersonation_start:%s,%s,%s", actorID, targetUserID, targetOrganizationID),
		"WARN",
		fmt.Sprintf("user %s is acting as %s in organization %s", actorID, targetUserID, targetOrganizationID),
	)
}

func (s *SecurityLogger) ImpersonationEnd(actorID string) {
	s.log(fmt.Sprintf("authz_impersonation_end:%s", actorID), "WARN", fmt.Sprintf("user %s stopped impersonation", actorID))
}

func (s *SecurityLogger) AdminAction(actorID, action, resource string) {
	s.log(
		fmt.Sprintf("privilege_admin_action:%s,%s,%s", actorID, action, resource),
		"WARN",
		fmt.Sprintf("administrator %s performed %s on %s", actorID, action, resource),
	)
}

func newSecurityLogger(l *zap.Logger) *SecurityLogger {
	return &SecurityLogger{l: l}
}
