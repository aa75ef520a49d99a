// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import (
	"github.com/canonical/mission-control/internal/types"
)

var (
	superPermissions = NewPermissionSet(PermissionAll)

	adminPermissions = NewPermissionSet(
		PermissionViewDashboard,
		PermissionViewAutomations,
		PermissionEditAutomations,
		PermissionRunAutomations,
		PermissionViewTasks,
		PermissionCreateTasks,
		PermissionEditTasks,
		PermissionRunTasks,
		PermissionViewIntegrations,
		PermissionEditIntegrations,
		PermissionViewSecurity,
		PermissionEditSecurity,
		PermissionViewApprovals,
		PermissionDecideApprovals,
		PermissionViewAudit,
		PermissionManageMembers,
	)

	userPermissions = NewPermissionSet(
		PermissionViewDashboard,
		PermissionViewAutomations,
		PermissionViewTasks,
		PermissionViewIntegrations,
		PermissionViewApprovals,
		PermissionRunTasks,
	)
)

// Resolve maps a system role and an optional tenant role to a permission set.
// It is pure, so it is safe to recompute on every request.
func Resolve(systemRole types.SystemRole, tenantRole *types.TenantRole) PermissionSet {
	if systemRole == types.SystemRoleSuper {
		return superPermissions
	}

	if tenantRole == nil {
		return 0
	}

	switch *tenantRole {
	case types.TenantRoleAdmin:
		return adminPermissions
	case types.TenantRoleUser:
		return userPermissions
	default:
		return 0
	}
}

// HasPermission reports whether set satisfies p
func HasPermission(set PermissionSet, p Permission) bool {
	return set.Has(p)
}
