// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestDebugLogger(t *testing.T) {
	func() {
		_ = recover()
		NewLogger("DEBUG")
	}()
}

func TestInvalidLevel(t *testing.T) {
	func() {
		_ = recover()
		NewLogger("invalid")
	}()
}

func TestNoopLoggerSecurityEvents(t *testing.T) {
	logger := NewNoopLogger()

	logger.Security().SystemStartup()
	logger.Security().AuthnLoginFail("someone@example.com")
	logger.Security().ImpersonationStart("actor", "target", "org")
	logger.Security().ImpersonationEnd("actor")
	logger.Security().SystemShutdown()

	if err := logger.Sync(); err != nil {
		t.Fatalf("unexpected error syncing noop logger: %v", err)
	}
}

func TestObservedLoggerRecordsSecurityEvents(t *testing.T) {
	logger, logs := NewObservedLogger(zapcore.WarnLevel)

	logger.Debugf("dropped below level")
	logger.Security().AuthnTokenRevoked("user-1")
	logger.Security().ImpersonationStart("root", "user-2", "org-1")
	logger.Security().ImpersonationEnd("root")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries at warn level, got %d", len(entries))
	}

	events := []string{"authz_impersonation_start:root,user-2,org-1", "authz_impersonation_end:root"}
	for i, entry := range entries {
		if got := entry.ContextMap()["event"]; got != events[i] {
			t.Errorf("entry %d: expected event %q, got %v", i, events[i], got)
		}
		if entry.ContextMap()["appid"] != appID {
			t.Errorf("entry %d: missing appid", i)
		}
	}
}
