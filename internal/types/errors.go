// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable identifier returned to callers for every failure
type ErrorCode string

const (
	CodeUnauthenticated    ErrorCode = "unauthenticated"
	CodeSessionExpired     ErrorCode = "session_expired"
	CodeInvalidCredentials ErrorCode = "invalid_credentials"
	CodeForbidden          ErrorCode = "forbidden"
	CodeNoOrgAccess        ErrorCode = "no_org_access"
	CodeNoOrganization     ErrorCode = "no_organization"
	CodeValidation         ErrorCode = "validation_failed"
	CodeNotFound           ErrorCode = "not_found"
	CodeConflict           ErrorCode = "conflict"
	CodeTaskPaused         ErrorCode = "task_paused"
	CodeApprovalNotPending ErrorCode = "approval_not_pending"
	CodeRateLimited        ErrorCode = "rate_limited"
	CodePayloadTooLarge    ErrorCode = "payload_too_large"
	CodeInternal           ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same code, so sentinels below can be
// used with errors.Is regardless of message
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Code == e.Code
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError attaches a cause which is logged but never sent to callers
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

var (
	ErrUnauthenticated    = NewError(CodeUnauthenticated, "authentication required")
	ErrSessionExpired     = NewError(CodeSessionExpired, "session expired")
	ErrInvalidCredentials = NewError(CodeInvalidCredentials, "invalid credentials")
	ErrForbidden          = NewError(CodeForbidden, "permission denied")
	ErrNoOrgAccess        = NewError(CodeNoOrgAccess, "no access to organization")
	ErrNoOrganization     = NewError(CodeNoOrganization, "user has no organization")
	ErrNotFound           = NewError(CodeNotFound, "resource not found")
	ErrConflict           = NewError(CodeConflict, "resource already exists")
	ErrTaskPaused         = NewError(CodeTaskPaused, "task is paused")
	ErrApprovalNotPending = NewError(CodeApprovalNotPending, "approval is not pending")
	ErrRateLimited        = NewError(CodeRateLimited, "too many requests")
)

// CodeOf returns the code of the first *Error in the chain, internal_error otherwise
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return CodeInternal
}
