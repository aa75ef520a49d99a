// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/types"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   types.ErrorCode
		expectedMsg    string
	}{
		{
			name:           "coded error",
			err:            types.ErrTaskPaused,
			expectedStatus: http.StatusConflict,
			expectedCode:   types.CodeTaskPaused,
			expectedMsg:    "task is paused",
		},
		{
			name:           "wrapped coded error",
			err:            fmt.Errorf("run task: %w", types.ErrNoOrgAccess),
			expectedStatus: http.StatusForbidden,
			expectedCode:   types.CodeNoOrgAccess,
			expectedMsg:    "no access to organization",
		},
		{
			name:           "unknown error does not leak details",
			err:            errors.New("pq: relation \"secret_table\" does not exist"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   types.CodeInternal,
			expectedMsg:    "internal server error",
		},
		{
			name:           "expired session",
			err:            types.ErrSessionExpired,
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   types.CodeSessionExpired,
			expectedMsg:    "session expired",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rr := httptest.NewRecorder()

			WriteError(rr, test.err, logging.NewNoopLogger())

			if rr.Code != test.expectedStatus {
				t.Fatalf("expected status %d, got %d", test.expectedStatus, rr.Code)
			}

			var body ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}

			if body.Code != test.expectedCode || body.Message != test.expectedMsg || body.Status != test.expectedStatus {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestDecodeJSONReportsFirstViolation(t *testing.T) {
	type payload struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"not-an-email","password":"x"}`))

	var p payload
	err := DecodeJSON(req, &p, validator.New())

	if types.CodeOf(err) != types.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	if !strings.Contains(err.Error(), "Email") {
		t.Fatalf("expected first violation to reference Email, got %v", err)
	}
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	type payload struct {
		Name string `json:"name" validate:"required"`
	}

	body := `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var p payload
	err := DecodeJSON(req, &p, validator.New())

	if types.CodeOf(err) != types.CodePayloadTooLarge {
		t.Fatalf("expected payload_too_large, got %v", err)
	}

	if status := HTTPStatusFromCode(types.CodeOf(err)); status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", status)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		remote    string
		expected  string
	}{
		{name: "forwarded header is not trusted", forwarded: "203.0.113.7, 10.0.0.1", remote: "10.0.0.1:4000", expected: "10.0.0.1"},
		{name: "remote address", remote: "192.0.2.10:5123", expected: "192.0.2.10"},
		{name: "remote without port", remote: "192.0.2.11", expected: "192.0.2.11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			if got := ClientIP(r); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
