// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package audit

import (
	"context"

	"github.com/canonical/mission-control/internal/types"
)

type StorageInterface interface {
	CreateAuditLog(ctx context.Context, l *types.AuditLog) error
	ListAuditLogs(ctx context.Context, organizationID string, page, size int64) ([]*types.AuditLog, error)
}

// SinkInterface records audit entries, it never fails the caller
type SinkInterface interface {
	Record(ctx context.Context, entry *types.AuditLog)
}
