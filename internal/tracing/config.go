// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tracing

import (
	"github.com/canonical/mission-control/internal/logging"
)

// Config selects the span exporter, the gRPC endpoint wins when both are set
// and spans are discarded when neither is
type Config struct {
	OtelHTTPEndpoint string
	OtelGRPCEndpoint string
	Logger           logging.LoggerInterface

	Enabled bool
}

func NewConfig(enabled bool, otelGRPCEndpoint, otelHTTPEndpoint string, logger logging.LoggerInterface) *Config {
	return &Config{
		OtelGRPCEndpoint: otelGRPCEndpoint,
		OtelHTTPEndpoint: otelHTTPEndpoint,
		Logger:           logger,
		Enabled:          enabled,
	}
}

// NewNoopConfig disables tracing, NewTracer then hands out non recording spans
func NewNoopConfig() *Config {
	return &Config{Logger: logging.NewNoopLogger()}
}
