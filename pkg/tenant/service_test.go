// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package tenant

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/monitoring"
	"github.com/canonical/mission-control/internal/storage"
	"github.com/canonical/mission-control/internal/tracing"
	"github.com/canonical/mission-control/internal/types"
)

//go:generate mockgen -build_flags=--mod=mod -package tenant -destination ./mock_tenant.go -source=./interfaces.go

func newService(s StorageInterface, observers ObserverCounterInterface, runs InFlightInterface) *Service {
	logger := logging.NewNoopLogger()
	return NewService(s, observers, runs, tracing.NewNoopTracer(), monitoring.NewNoopMonitor("test", logger), logger)
}

func TestService_AddMember(t *testing.T) {
	org := &types.Organization{ID: "org-1", Name: "Acme"}
	user := &types.User{ID: "user-1", Email: "user@acme.io"}

	tests := []struct {
		name       string
		role       types.TenantRole
		setupMocks func(*MockStorageInterface)
		wantCode   types.ErrorCode
	}{
		{
			name: "success",
			role: types.TenantRoleUser,
			setupMocks: func(s *MockStorageInterface) {
				s.EXPECT().GetOrganizationByID(gomock.Any(), "org-1").Return(org, nil)
				s.EXPECT().GetUserByEmail(gomock.Any(), "user@acme.io").Return(user, nil)
				s.EXPECT().AddMember(gomock.Any(), "org-1", "user-1", types.TenantRoleUser).
					Return(&types.Membership{ID: "m-1", UserID: "user-1", OrganizationID: "org-1", Role: types.TenantRoleUser}, nil)
			},
		},
		{
			name:       "invalid role",
			role:       types.TenantRole("OWNER"),
			setupMocks: func(s *MockStorageInterface) {},
			wantCode:   types.CodeValidation,
		},
		{
			name: "unknown organization",
			role: types.TenantRoleAdmin,
			setupMocks: func(s *MockStorageInterface) {
				s.EXPECT().GetOrganizationByID(gomock.Any(), "org-1").Return(nil, storage.ErrNotFound)
			},
			wantCode: types.CodeNotFound,
		},
		{
			name: "unknown user",
			role: types.TenantRoleAdmin,
			setupMocks: func(s *MockStorageInterface) {
				s.EXPECT().GetOrganizationByID(gomock.Any(), "org-1").Return(org, nil)
				s.EXPECT().GetUserByEmail(gomock.Any(), "user@acme.io").Return(nil, storage.ErrNotFound)
			},
			wantCode: types.CodeNotFound,
		},
		{
			name: "already a member",
			role: types.TenantRoleAdmin,
			setupMocks: func(s *MockStorageInterface) {
				s.EXPECT().GetOrganizationByID(gomock.Any(), "org-1").Return(org, nil)
				s.EXPECT().GetUserByEmail(gomock.Any(), "user@acme.io").Return(user, nil)
				s.EXPECT().AddMember(gomock.Any(), "org-1", "user-1", types.TenantRoleAdmin).Return(nil, storage.ErrDuplicateKey)
			},
			wantCode: types.CodeConflict,
		},
		{
			name: "storage failure",
			role: types.TenantRoleAdmin,
			setupMocks: func(s *MockStorageInterface) {
				s.EXPECT().GetOrganizationByID(gomock.Any(), "org-1").Return(nil, errors.New("connection reset"))
			},
			wantCode: types.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockStorage := NewMockStorageInterface(ctrl)
			tt.setupMocks(mockStorage)

			m, err := newService(mockStorage, nil, nil).AddMember(context.Background(), "org-1", "user@acme.io", tt.role)

			if tt.wantCode != "" {
				if got := types.CodeOf(err); got != tt.wantCode {
					t.Fatalf("expected code %s, got %v", tt.wantCode, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if m.UserID != "user-1" || m.Role != types.TenantRoleUser {
				t.Errorf("unexpected membership %+v", m)
			}
		})
	}
}

func TestService_Metrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStorage := NewMockStorageInterface(ctrl)
	mockObservers := NewMockObserverCounterInterface(ctrl)
	mockRuns := NewMockInFlightInterface(ctrl)

	mockStorage.EXPECT().GetPlatformMetrics(gomock.Any(), gomock.Any()).Return(&types.PlatformMetrics{
		Organizations: 2,
		Users:         5,
		Runs:          map[types.RunStatus]int64{types.RunRunning: 1},
	}, nil)
	mockObservers.EXPECT().Count().Return(3)
	mockRuns.EXPECT().InFlight().Return(int64(1))

	m, err := newService(mockStorage, mockObservers, mockRuns).Metrics(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Organizations != 2 || m.Users != 5 {
		t.Errorf("persisted counters not preserved: %+v", m)
	}

	if m.Observers != 3 || m.InFlightRuns != 1 {
		t.Errorf("expected live counters 3/1, got %d/%d", m.Observers, m.InFlightRuns)
	}
}

func TestService_MetricsStorageError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStorage := NewMockStorageInterface(ctrl)
	mockStorage.EXPECT().GetPlatformMetrics(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))

	_, err := newService(mockStorage, nil, nil).Metrics(context.Background())
	if types.CodeOf(err) != types.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestService_CreateOrganization(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStorage := NewMockStorageInterface(ctrl)
	mockStorage.EXPECT().CreateOrganization(gomock.Any(), gomock.Cond(func(o *types.Organization) bool {
		return o.Name == "Globex" && o.Plan == types.PlanPro
	})).Return(&types.Organization{ID: "org-2", Name: "Globex", Plan: types.PlanPro}, nil)

	org, err := newService(mockStorage, nil, nil).CreateOrganization(context.Background(), "Globex", types.PlanPro)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if org.ID != "org-2" {
		t.Errorf("expected org-2, got %s", org.ID)
	}
}
