package gatekeeper

import (
	"testing"
)

func TestRoleLevels(t *testing.T) {
	cases := []struct {
		role  Role
		level int
	}{
		{RoleOrgOwner, 3},
		{RoleOrgAdmin, 2},
		{RoleOrgMember, 1},
		{RoleWorkspaceAdmin, 3},
		{RoleWorkspaceMember, 2},
		{RoleWorkspaceViewer, 1},
		{Role("org:unknown"), 0},
		{Role("garbage"), 0},
	}
	for _, tc := range cases {
		if got := GetRoleLevel(tc.role); got != tc.level {
			t.Fatalf("level(%s) = %d, want %d", tc.role, got, tc.level)
		}
	}
}

func TestRoleIncludesReflexive(t *testing.T) {
	for role := range roleLevels {
		if !RoleIncludes(role, role) {
			t.Fatalf("expected %s to include itself", role)
		}
	}
}

func TestRoleIncludesCrossFamily(t *testing.T) {
	orgRoles := []Role{RoleOrgOwner, RoleOrgAdmin, RoleOrgMember}
	wsRoles := []Role{RoleWorkspaceAdmin, RoleWorkspaceMember, RoleWorkspaceViewer}
	for _, o := range orgRoles {
		for _, w := range wsRoles {
			if RoleIncludes(o, w) || RoleIncludes(w, o) {
				t.Fatalf("cross-family comparison %s/%s must be false", o, w)
			}
		}
	}
}

func TestRoleIncludesOrdering(t *testing.T) {
	if !RoleIncludes(RoleOrgOwner, RoleOrgMember) {
		t.Fatalf("owner must include member")
	}
	if RoleIncludes(RoleOrgMember, RoleOrgAdmin) {
		t.Fatalf("member must not include admin")
	}
	if !RoleIncludes(RoleWorkspaceAdmin, RoleWorkspaceViewer) {
		t.Fatalf("ws admin must include viewer")
	}
	if RoleIncludes(Role("org:unknown"), RoleOrgMember) {
		t.Fatalf("unknown role must not include anything")
	}
}

func TestGetImpliedRoles(t *testing.T) {
	implied := GetImpliedRoles(RoleOrgOwner)
	if len(implied) != 3 || implied[0] != RoleOrgOwner || implied[2] != RoleOrgMember {
		t.Fatalf("owner implied roles = %v", implied)
	}
	implied = GetImpliedRoles(RoleWorkspaceViewer)
	if len(implied) != 1 || implied[0] != RoleWorkspaceViewer {
		t.Fatalf("viewer implied roles = %v", implied)
	}
	if GetImpliedRoles(Role("nope")) != nil {
		t.Fatalf("unknown role implies nothing")
	}
}

func TestGetHighestRole(t *testing.T) {
	grants := []UserRole{
		{UserID: "u1", Role: RoleOrgMember, Scope: "org-1"},
		{UserID: "u1", Role: RoleOrgAdmin, Scope: "org-1"},
		{UserID: "u1", Role: RoleWorkspaceAdmin, Scope: "ws-9"},
	}
	role, ok := GetHighestRole(grants, "org-1")
	if !ok || role != RoleOrgAdmin {
		t.Fatalf("highest for org-1 = %s ok=%v", role, ok)
	}
	if _, ok := GetHighestRole(grants, "org-2"); ok {
		t.Fatalf("no grant should match org-2")
	}

	// wildcard-scoped grants match every scope
	grants = append(grants, UserRole{UserID: "u1", Role: RoleOrgOwner, Scope: ScopeAll})
	role, _ = GetHighestRole(grants, "org-2")
	if role != RoleOrgOwner {
		t.Fatalf("wildcard grant should win for org-2, got %s", role)
	}
}

func TestHasRoleOrHigher(t *testing.T) {
	grants := []UserRole{{UserID: "u1", Role: RoleWorkspaceMember, Scope: "ws-1"}}
	if !HasRoleOrHigher(grants, RoleWorkspaceViewer, "ws-1") {
		t.Fatalf("member covers viewer")
	}
	if HasRoleOrHigher(grants, RoleWorkspaceAdmin, "ws-1") {
		t.Fatalf("member does not cover admin")
	}
	if HasRoleOrHigher(grants, RoleWorkspaceViewer, "ws-2") {
		t.Fatalf("no grant for ws-2")
	}
}

func TestEffectiveRolesOrgOwnerEscalation(t *testing.T) {
	grants := []UserRole{{UserID: "u1", Role: RoleOrgOwner, Scope: "org-1"}}
	roles := GetEffectiveRoles(grants, "ws-any", "org-1")
	for _, want := range []Role{RoleWorkspaceAdmin, RoleWorkspaceMember, RoleWorkspaceViewer} {
		if !containsRole(roles, want) {
			t.Fatalf("org owner missing implicit %s in %v", want, roles)
		}
	}
}

func TestEffectiveRolesOrgAdminEscalation(t *testing.T) {
	grants := []UserRole{{UserID: "u1", Role: RoleOrgAdmin, Scope: "org-1"}}
	roles := GetEffectiveRoles(grants, "ws-1", "org-1")
	if !containsRole(roles, RoleWorkspaceAdmin) {
		t.Fatalf("org admin must administer every workspace, got %v", roles)
	}
	if containsRole(roles, RoleOrgOwner) {
		t.Fatalf("admin must not gain owner, got %v", roles)
	}
}

func TestEffectiveRolesOrgMemberNoEscalation(t *testing.T) {
	grants := []UserRole{{UserID: "u1", Role: RoleOrgMember, Scope: "org-1"}}
	roles := GetEffectiveRoles(grants, "ws-1", "org-1")
	for _, banned := range []Role{RoleWorkspaceAdmin, RoleWorkspaceMember, RoleWorkspaceViewer} {
		if containsRole(roles, banned) {
			t.Fatalf("org member must gain no workspace role, got %v", roles)
		}
	}
	if !containsRole(roles, RoleOrgMember) {
		t.Fatalf("org member keeps their own role, got %v", roles)
	}
}

func TestEffectiveRolesWorkspaceGrant(t *testing.T) {
	grants := []UserRole{
		{UserID: "u1", Role: RoleOrgMember, Scope: "org-1"},
		{UserID: "u1", Role: RoleWorkspaceMember, Scope: "ws-1"},
	}
	roles := GetEffectiveRoles(grants, "ws-1", "org-1")
	if !containsRole(roles, RoleWorkspaceMember) || !containsRole(roles, RoleWorkspaceViewer) {
		t.Fatalf("workspace grant should imply member+viewer, got %v", roles)
	}

	// the grant is scoped to ws-1 only
	roles = GetEffectiveRoles(grants, "ws-2", "org-1")
	if containsRole(roles, RoleWorkspaceMember) {
		t.Fatalf("ws-1 grant must not leak into ws-2, got %v", roles)
	}
}

func TestEffectiveRolesMixedFamilies(t *testing.T) {
	// each family resolves independently: a high-level workspace grant must
	// never mask the org grant
	grants := []UserRole{
		{UserID: "u1", Role: RoleOrgAdmin, Scope: "org-1"},
		{UserID: "u1", Role: RoleWorkspaceAdmin, Scope: ScopeAll},
	}
	roles := GetEffectiveRoles(grants, "ws-1", "org-1")
	for _, want := range []Role{RoleOrgAdmin, RoleOrgMember, RoleWorkspaceAdmin, RoleWorkspaceViewer} {
		if !containsRole(roles, want) {
			t.Fatalf("missing %s in %v", want, roles)
		}
	}
	if containsRole(roles, RoleOrgOwner) {
		t.Fatalf("admin must not gain owner, got %v", roles)
	}
}

func TestEffectiveRolesWildcardWorkspaceGrant(t *testing.T) {
	grants := []UserRole{{UserID: "u1", Role: RoleWorkspaceMember, Scope: ScopeAll}}
	for _, ws := range []string{"ws-1", "ws-2"} {
		roles := GetEffectiveRoles(grants, ws, "org-1")
		if !containsRole(roles, RoleWorkspaceMember) || !containsRole(roles, RoleWorkspaceViewer) {
			t.Fatalf("wildcard grant must apply in %s, got %v", ws, roles)
		}
	}
}

func TestGetHighestRoleInFamily(t *testing.T) {
	grants := []UserRole{
		{UserID: "u1", Role: RoleOrgAdmin, Scope: "org-1"},
		{UserID: "u1", Role: RoleWorkspaceAdmin, Scope: ScopeAll},
	}
	role, ok := GetHighestRoleInFamily(grants, "org", "org-1")
	if !ok || role != RoleOrgAdmin {
		t.Fatalf("org family highest = %s ok=%v", role, ok)
	}
	role, ok = GetHighestRoleInFamily(grants, "ws", "ws-7")
	if !ok || role != RoleWorkspaceAdmin {
		t.Fatalf("ws family highest = %s ok=%v", role, ok)
	}
	if _, ok := GetHighestRoleInFamily(grants[:1], "ws", "ws-7"); ok {
		t.Fatalf("no ws grant should match")
	}
}

func containsRole(roles []Role, want Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
