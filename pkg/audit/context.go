// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package audit

import (
	"context"
	"sync"

	"github.com/canonical/mission-control/internal/types"
)

// Subject is who acted and on behalf of which organization
type Subject struct {
	// ActorID is the user owning the session, never the delegated one
	ActorID         string
	EffectiveUserID string
	OrganizationID  string
}

// SubjectFunc extracts the subject of an authenticated request
type SubjectFunc func(ctx context.Context) (Subject, bool)

type contextKey struct{}

var stateContextKey = contextKey{}

// state is filled by handlers while the audit middleware is running
type state struct {
	mu       sync.Mutex
	severity types.Severity
	details  map[string]any
	subject  *Subject
}

func withState(ctx context.Context, s *state) context.Context {
	return context.WithValue(ctx, stateContextKey, s)
}

func stateFrom(ctx context.Context) *state {
	s, _ := ctx.Value(stateContextKey).(*state)
	return s
}

// SetSeverity overrides the severity derived from the response status.
// It is a no-op outside the audit middleware.
func SetSeverity(ctx context.Context, severity types.Severity) {
	if s := stateFrom(ctx); s != nil {
		s.mu.Lock()
		s.severity = severity
		s.mu.Unlock()
	}
}

// AddDetail attaches a key to the details of the entry.
func AddDetail(ctx context.Context, key string, value any) {
	if s := stateFrom(ctx); s != nil {
		s.mu.Lock()
		if s.details == nil {
			s.details = make(map[string]any)
		}
		s.details[key] = value
		s.mu.Unlock()
	}
}

// SetSubject names the subject for requests that authenticate inside the handler, like a login.
func SetSubject(ctx context.Context, subject Subject) {
	if s := stateFrom(ctx); s != nil {
		s.mu.Lock()
		s.subject = &subject
		s.mu.Unlock()
	}
}
