// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import (
	"encoding/json"
	"testing"

	"github.com/canonical/mission-control/internal/types"
)

func rolePtr(r types.TenantRole) *types.TenantRole {
	return &r
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		systemRole types.SystemRole
		tenantRole *types.TenantRole
		granted    []Permission
		denied     []Permission
	}{
		{
			name:       "super user without membership",
			systemRole: types.SystemRoleSuper,
			granted:    []Permission{PermissionAdmin, PermissionDecideApprovals, PermissionEditSecurity, PermissionViewDashboard},
		},
		{
			name:       "super user with user membership keeps wildcard",
			systemRole: types.SystemRoleSuper,
			tenantRole: rolePtr(types.TenantRoleUser),
			granted:    []Permission{PermissionAdmin, PermissionDecideApprovals},
		},
		{
			name:       "tenant admin",
			systemRole: types.SystemRoleNone,
			tenantRole: rolePtr(types.TenantRoleAdmin),
			granted: []Permission{
				PermissionViewDashboard, PermissionEditAutomations, PermissionRunTasks, PermissionCreateTasks,
				PermissionEditTasks, PermissionEditIntegrations, PermissionEditSecurity, PermissionDecideApprovals,
			},
			denied: []Permission{PermissionAdmin, PermissionAll},
		},
		{
			name:       "tenant user",
			systemRole: types.SystemRoleNone,
			tenantRole: rolePtr(types.TenantRoleUser),
			granted: []Permission{
				PermissionViewDashboard, PermissionViewAutomations, PermissionViewTasks,
				PermissionViewIntegrations, PermissionViewApprovals, PermissionRunTasks,
			},
			denied: []Permission{
				PermissionEditTasks, PermissionCreateTasks, PermissionDecideApprovals,
				PermissionEditSecurity, PermissionAdmin, PermissionViewAudit,
			},
		},
		{
			name:       "no membership",
			systemRole: types.SystemRoleNone,
			denied:     []Permission{PermissionViewDashboard, PermissionRunTasks, PermissionAdmin},
		},
		{
			name:       "unknown tenant role",
			systemRole: types.SystemRoleNone,
			tenantRole: rolePtr(types.TenantRole("OWNER")),
			denied:     []Permission{PermissionViewDashboard},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			set := Resolve(test.systemRole, test.tenantRole)

			if again := Resolve(test.systemRole, test.tenantRole); again != set {
				t.Fatalf("resolve is not deterministic: %v != %v", set, again)
			}

			for _, p := range test.granted {
				if !HasPermission(set, p) {
					t.Errorf("expected %s to be granted", p)
				}
			}

			for _, p := range test.denied {
				if HasPermission(set, p) {
					t.Errorf("expected %s to be denied", p)
				}
			}
		})
	}
}

func TestWildcardSatisfiesEveryPermission(t *testing.T) {
	set := Resolve(types.SystemRoleSuper, nil)

	for p := Permission(0); p < permissionCount; p++ {
		if !set.Has(p) {
			t.Fatalf("wildcard does not satisfy %s", p)
		}
	}

	if set.Has(permissionCount) {
		t.Fatal("wildcard must not satisfy an out of range permission")
	}
}

func TestParsePermissionRoundTrip(t *testing.T) {
	for p := Permission(0); p < permissionCount; p++ {
		parsed, err := ParsePermission(p.String())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if parsed != p {
			t.Fatalf("expected %s, got %s", p, parsed)
		}
	}

	if _, err := ParsePermission("view-dashboards"); err == nil {
		t.Fatal("expected an error for a misspelled permission")
	}
}

func TestPermissionSetMarshalJSON(t *testing.T) {
	set := NewPermissionSet(PermissionRunTasks, PermissionViewDashboard)

	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(b) != `["view_dashboard","run_tasks"]` {
		t.Fatalf("unexpected json %s", b)
	}
}

func TestPermissionSetUnmarshalJSON(t *testing.T) {
	var decoded struct {
		Permissions PermissionSet `json:"permissions"`
	}

	if err := json.Unmarshal([]byte(`{"permissions":["view_dashboard","run_tasks"]}`), &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decoded.Permissions != NewPermissionSet(PermissionViewDashboard, PermissionRunTasks) {
		t.Fatalf("unexpected set %v", decoded.Permissions.Strings())
	}

	wildcard := Resolve(types.SystemRoleSuper, nil)
	b, err := json.Marshal(wildcard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var back PermissionSet
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if back != wildcard || !back.Has(PermissionAdmin) {
		t.Fatalf("wildcard did not survive a round trip: %s", b)
	}

	if err := json.Unmarshal([]byte(`["fly"]`), &back); err == nil {
		t.Fatal("expected an error for an unknown permission")
	}
}
