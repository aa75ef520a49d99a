// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tracing

import (
	"context"
	"testing"

	"github.com/canonical/mission-control/internal/logging"
)

func TestNoopTracerStartsNonRecordingSpans(t *testing.T) {
	tracer := NewNoopTracer()

	ctx, span := tracer.Start(context.Background(), "tracing.Test")
	defer span.End()

	if ctx == nil {
		t.Fatal("expected a context")
	}

	if span.IsRecording() {
		t.Fatal("noop span should not record")
	}
}

func TestNewTracerFallsBackToStdout(t *testing.T) {
	tracer := NewTracer(NewConfig(true, "", "", logging.NewNoopLogger()))

	_, span := tracer.Start(context.Background(), "tracing.Test")
	span.End()

	if !span.SpanContext().IsValid() {
		t.Fatal("expected a valid span context from the sdk tracer")
	}
}
