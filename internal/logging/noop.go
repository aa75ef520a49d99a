// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fromZap(l *zap.Logger) *Logger {
	return &Logger{
		SugaredLogger: l.Sugar(),
		security:      newSecurityLogger(l),
	}
}

// NewNoopLogger discards every entry
func NewNoopLogger() *Logger {
	return fromZap(zap.NewNop())
}

// NewObservedLogger keeps the entries at or above level in memory so that
// tests can assert on the security events a flow emits
func NewObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return fromZap(zap.New(core)), logs
}
