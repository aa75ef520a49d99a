// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package audit

import (
	"context"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
)

var _ SinkInterface = (*Sink)(nil)

// Sink persists audit entries on a best effort basis
type Sink struct {
	storage StorageInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

// Record stores the entry, entries without an organization are dropped.
// Failures and panics are logged and never reach the caller.
func (s *Sink) Record(ctx context.Context, entry *types.AuditLog) {
	ctx, span := s.tracer.Start(ctx, "audit.Sink.Record")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("audit sink panicked recording %s: %v", entry.Action, r)
		}
	}()

	if entry == nil || entry.OrganizationID == "" {
		return
	}

	if entry.Severity == "" {
		entry.Severity = types.SeverityLow
	}

	if err := s.storage.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Errorf("failed to record audit log %s on %s: %v", entry.Action, entry.Resource, err)
	}
}

func NewSink(storage StorageInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *Sink {
	s := new(Sink)

	s.storage = storage

	s.tracer = tracer
	s.monitor = monitor
	s.logger = logger

	return s
}
