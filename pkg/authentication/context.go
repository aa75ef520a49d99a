// Copyright 2025 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"context"

	"github.com/canonical/mission-control/internal/authorization"
	"github.com/canonical/mission-control/internal/types"
)

// Define a private custom type to avoid collisions
type contextKey struct{}

type sessionContextKey struct{}

var identityContextKey = contextKey{}

// Identity is the effective principal of a request, resolved fresh from the
// session on every call
type Identity struct {
	Session *types.Session
	// BaseUser is the user who owns the session
	BaseUser *types.User
	// User is the effective user, the delegated one while impersonating
	User           *types.User
	OrganizationID string
	Role           *types.TenantRole
	Permissions    authorization.PermissionSet
}

func (i *Identity) Delegated() bool {
	return i.Session != nil && i.Session.IsDelegated()
}

func (i *Identity) Can(p authorization.Permission) bool {
	return i.Permissions.Has(p)
}

// WithIdentity returns a new context carrying the identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// GetIdentity retrieves the identity from the context.
// Returns nil and false if the request was not authenticated.
func GetIdentity(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	return identity, ok && identity != nil
}

// GetUserID returns the effective user ID stored in the context.
func GetUserID(ctx context.Context) (string, bool) {
	identity, ok := GetIdentity(ctx)
	if !ok {
		return "", false
	}

	return identity.User.ID, true
}

// WithSession stores a validated session whose identity was not resolved.
func WithSession(ctx context.Context, session *types.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// GetSession returns the validated session of the request, either stored by
// AuthenticateSession or carried by the identity.
func GetSession(ctx context.Context) (*types.Session, bool) {
	if session, ok := ctx.Value(sessionContextKey{}).(*types.Session); ok && session != nil {
		return session, true
	}

	if identity, ok := GetIdentity(ctx); ok && identity.Session != nil {
		return identity.Session, true
	}

	return nil, false
}
