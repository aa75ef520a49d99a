// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/types"
)

// ErrorResponse is the envelope of every failed request
type ErrorResponse struct {
	Status  int             `json:"status"`
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// Response is the envelope of every successful request
type Response struct {
	Status int `json:"status"`
	Data   any `json:"data"`
}

var statusByCode = map[types.ErrorCode]int{
	types.CodeUnauthenticated:    http.StatusUnauthorized,
	types.CodeSessionExpired:     http.StatusUnauthorized,
	types.CodeInvalidCredentials: http.StatusUnauthorized,
	types.CodeForbidden:          http.StatusForbidden,
	types.CodeNoOrgAccess:        http.StatusForbidden,
	types.CodeNoOrganization:     http.StatusUnprocessableEntity,
	types.CodeValidation:         http.StatusBadRequest,
	types.CodeNotFound:           http.StatusNotFound,
	types.CodeConflict:           http.StatusConflict,
	types.CodeTaskPaused:         http.StatusConflict,
	types.CodeApprovalNotPending: http.StatusConflict,
	types.CodeRateLimited:        http.StatusTooManyRequests,
	types.CodePayloadTooLarge:    http.StatusRequestEntityTooLarge,
	types.CodeInternal:           http.StatusInternalServerError,
}

// HTTPStatusFromCode maps a stable error code to its HTTP status
func HTTPStatusFromCode(code types.ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// ErrorFromValidation converts the first validator violation into a validation error
func ErrorFromValidation(err error) error {
	var verr validator.ValidationErrors
	if errors.As(err, &verr) && len(verr) > 0 {
		return types.NewError(types.CodeValidation, "invalid field "+verr[0].Field()+": failed "+verr[0].Tag())
	}

	return types.WrapError(types.CodeValidation, "invalid request", err)
}

// WriteError renders err as an ErrorResponse, anything that is not a coded
// error is reported as a generic internal error
func WriteError(w http.ResponseWriter, err error, logger logging.LoggerInterface) {
	var coded *types.Error
	if !errors.As(err, &coded) {
		logger.Errorf("unhandled error: %v", err)
		coded = types.NewError(types.CodeInternal, "internal server error")
	} else if coded.Code == types.CodeInternal {
		logger.Errorf("internal error: %v", err)
	}

	status := HTTPStatusFromCode(coded.Code)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Status: status, Code: coded.Code, Message: coded.Message}); err != nil {
		logger.Errorf("failed to encode error response: %v", err)
	}
}

// WriteJSON renders data inside a Response envelope
func WriteJSON(w http.ResponseWriter, status int, data any, logger logging.LoggerInterface) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(Response{Status: status, Data: data}); err != nil {
		logger.Errorf("failed to encode response: %v", err)
	}
}

// MaxBodyBytes bounds every JSON request body
const MaxBodyBytes = 1 << 20

// DecodeJSON decodes the request body into v and validates it
func DecodeJSON(r *http.Request, v any, validate *validator.Validate) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.WrapError(types.CodePayloadTooLarge, "request body too large", err)
		}
		return types.WrapError(types.CodeValidation, "malformed request body", err)
	}

	if err := validate.Struct(v); err != nil {
		return ErrorFromValidation(err)
	}

	return nil
}
