// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authorization

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

// Permission is a closed set of capabilities, PermissionAll is the wildcard
// satisfying every check
type Permission uint8

const (
	PermissionAll Permission = iota
	PermissionViewDashboard
	PermissionViewAutomations
	PermissionEditAutomations
	PermissionRunAutomations
	PermissionViewTasks
	PermissionCreateTasks
	PermissionEditTasks
	PermissionRunTasks
	PermissionViewIntegrations
	PermissionEditIntegrations
	PermissionViewSecurity
	PermissionEditSecurity
	PermissionViewApprovals
	PermissionDecideApprovals
	PermissionViewAudit
	PermissionManageMembers
	// PermissionAdmin is not granted to any tenant role, only the wildcard holds it
	PermissionAdmin

	permissionCount
)

var permissionNames = [permissionCount]string{
	PermissionAll:              "*",
	PermissionViewDashboard:    "view_dashboard",
	PermissionViewAutomations:  "view_automations",
	PermissionEditAutomations:  "edit_automations",
	PermissionRunAutomations:   "run_automations",
	PermissionViewTasks:        "view_tasks",
	PermissionCreateTasks:      "create_tasks",
	PermissionEditTasks:        "edit_tasks",
	PermissionRunTasks:         "run_tasks",
	PermissionViewIntegrations: "view_integrations",
	PermissionEditIntegrations: "edit_integrations",
	PermissionViewSecurity:     "view_security",
	PermissionEditSecurity:     "edit_security",
	PermissionViewApprovals:    "view_approvals",
	PermissionDecideApprovals:  "decide_approvals",
	PermissionViewAudit:        "view_audit",
	PermissionManageMembers:    "manage_members",
	PermissionAdmin:            "admin",
}

func (p Permission) String() string {
	if p >= permissionCount {
		return fmt.Sprintf("Permission(%d)", uint8(p))
	}

	return permissionNames[p]
}

func (p Permission) Valid() bool {
	return p < permissionCount
}

// ParsePermission is the inverse of Permission.String
func ParsePermission(s string) (Permission, error) {
	for i, name := range permissionNames {
		if strings.EqualFold(name, s) {
			return Permission(i), nil
		}
	}

	return 0, fmt.Errorf("unknown permission %q", s)
}

// PermissionSet is an immutable bit set of permissions
type PermissionSet uint64

func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		if p.Valid() {
			s |= 1 << p
		}
	}

	return s
}

// Has is true if the set carries the wildcard or p itself
func (s PermissionSet) Has(p Permission) bool {
	if !p.Valid() {
		return false
	}

	return s&(1<<PermissionAll) != 0 || s&(1<<p) != 0
}

func (s PermissionSet) IsWildcard() bool {
	return s&(1<<PermissionAll) != 0
}

func (s PermissionSet) Len() int {
	return bits.OnesCount64(uint64(s))
}

// Permissions lists the members of the set in declaration order
func (s PermissionSet) Permissions() []Permission {
	perms := make([]Permission, 0, s.Len())
	for p := Permission(0); p < permissionCount; p++ {
		if s&(1<<p) != 0 {
			perms = append(perms, p)
		}
	}

	return perms
}

func (s PermissionSet) Strings() []string {
	perms := s.Permissions()
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.String())
	}

	return names
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}

	perms := make([]Permission, 0, len(names))
	for _, name := range names {
		p, err := ParsePermission(name)
		if err != nil {
			return err
		}
		perms = append(perms, p)
	}

	*s = NewPermissionSet(perms...)

	return nil
}
