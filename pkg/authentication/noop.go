// Copyright 2025 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"

	"github.com/canonical/mission-control/internal/logging"
)

// LoggingNotifier writes one time codes to the debug log instead of sending
// them, email delivery lives outside this service
type LoggingNotifier struct {
	logger logging.LoggerInterface
}

func (n *LoggingNotifier) SendLoginCode(ctx context.Context, email, code string) error {
	n.logger.Debugf("login code for %s: %s", email, code)
	return nil
}

func (n *LoggingNotifier) SendPasswordReset(ctx context.Context, email, token string) error {
	n.logger.Debugf("password reset token for %s: %s", email, token)
	return nil
}

// NewLoggingNotifier returns a notifier meant for development setups.
func NewLoggingNotifier(logger logging.LoggerInterface) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}
