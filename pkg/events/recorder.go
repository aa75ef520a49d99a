// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package events

import (
	"context"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
)

var _ RecorderInterface = (*Recorder)(nil)

type Recorder struct {
	storage StorageInterface
	bus     PublisherInterface

	tracer tracing.TracingInterface
	logger logging.LoggerInterface
}

// Record persists the activity and publishes it, returning nil when persistence failed
func (r *Recorder) Record(ctx context.Context, a *types.Activity) *types.Activity {
	ctx, span := r.tracer.Start(ctx, "events.Recorder.Record")
	defer span.End()

	activity, err := r.storage.CreateActivity(ctx, a)
	if err != nil {
		r.logger.Errorf("failed to record %s activity for organization %s: %v", a.Type, a.OrganizationID, err)
		return nil
	}

	r.bus.Publish(activity.OrganizationID, TypeActivity, activity)

	return activity
}

func NewRecorder(storage StorageInterface, bus PublisherInterface, tracer tracing.TracingInterface, logger logging.LoggerInterface) *Recorder {
	r := new(Recorder)

	r.storage = storage
	r.bus = bus

	r.tracer = tracer
	r.logger = logger

	return r
}
