package gatekeeper

// ============================================================================
// ROLE HIERARCHY
// ============================================================================

// Role is a tagged role identifier. The prefix before ':' names the family;
// roles from different families are never comparable.
type Role string

const (
	RoleOrgOwner  Role = "org:owner"
	RoleOrgAdmin  Role = "org:admin"
	RoleOrgMember Role = "org:member"

	RoleWorkspaceAdmin  Role = "ws:admin"
	RoleWorkspaceMember Role = "ws:member"
	RoleWorkspaceViewer Role = "ws:viewer"
)

const (
	familyOrg       = "org"
	familyWorkspace = "ws"
)

// Family returns the role's family prefix ("org" or "ws"), or "" for a role
// with no family tag.
func (r Role) Family() string {
	for i := 0; i < len(r); i++ {
		if r[i] == ':' {
			return string(r[:i])
		}
	}
	return ""
}

// Strict total order within each family. Unknown roles sit at level 0 so a
// misspelled grant never outranks anything.
var roleLevels = map[Role]int{
	RoleOrgOwner:  3,
	RoleOrgAdmin:  2,
	RoleOrgMember: 1,

	RoleWorkspaceAdmin:  3,
	RoleWorkspaceMember: 2,
	RoleWorkspaceViewer: 1,
}

// Per-family roles ordered by descending level; GetImpliedRoles slices these.
var familyOrder = map[string][]Role{
	familyOrg:       {RoleOrgOwner, RoleOrgAdmin, RoleOrgMember},
	familyWorkspace: {RoleWorkspaceAdmin, RoleWorkspaceMember, RoleWorkspaceViewer},
}

// GetRoleLevel returns the role's level within its family, 0 for unknown roles.
func GetRoleLevel(r Role) int {
	return roleLevels[r]
}

// RoleIncludes reports whether role a covers role b. Roles in different
// families are incomparable and never include each other.
func RoleIncludes(a, b Role) bool {
	if a.Family() == "" || a.Family() != b.Family() {
		return false
	}
	la, lb := GetRoleLevel(a), GetRoleLevel(b)
	if la == 0 || lb == 0 {
		return false
	}
	return la >= lb
}

// GetImpliedRoles returns every role in r's family at or below r's level,
// highest first. An org owner implies {org:owner, org:admin, org:member}.
func GetImpliedRoles(r Role) []Role {
	level := GetRoleLevel(r)
	if level == 0 {
		return nil
	}
	var implied []Role
	for _, candidate := range familyOrder[r.Family()] {
		if GetRoleLevel(candidate) <= level {
			implied = append(implied, candidate)
		}
	}
	return implied
}

// GetHighestRole returns the highest-level role among grants whose scope is
// the given scope or the wildcard. The second return is false when no grant
// matches.
func GetHighestRole(grants []UserRole, scope string) (Role, bool) {
	var best Role
	bestLevel := 0
	for _, g := range grants {
		if g.Scope != scope && g.Scope != ScopeAll {
			continue
		}
		if l := GetRoleLevel(g.Role); l > bestLevel {
			best, bestLevel = g.Role, l
		}
	}
	return best, bestLevel > 0
}

// GetHighestRoleInFamily returns the highest-level role among grants of the
// given family whose scope is the given scope or the wildcard. Levels are only
// comparable within one family, so any cross-family resolution must go
// through here rather than GetHighestRole.
func GetHighestRoleInFamily(grants []UserRole, family, scope string) (Role, bool) {
	var best Role
	bestLevel := 0
	for _, g := range grants {
		if g.Role.Family() != family {
			continue
		}
		if g.Scope != scope && g.Scope != ScopeAll {
			continue
		}
		if l := GetRoleLevel(g.Role); l > bestLevel {
			best, bestLevel = g.Role, l
		}
	}
	return best, bestLevel > 0
}

// HasRoleOrHigher reports whether the grants include required (or a higher
// role in the same family) for the given scope.
func HasRoleOrHigher(grants []UserRole, required Role, scope string) bool {
	highest, ok := GetHighestRoleInFamily(grants, required.Family(), scope)
	if !ok {
		return false
	}
	return RoleIncludes(highest, required)
}

// GetEffectiveRoles resolves the full role set a user holds for a workspace:
// the implied roles of their highest org-family grant, the implicit workspace
// admin set when that org role is owner or admin (organization authority
// always dominates workspace authority), and the implied roles of
// workspace-family grants scoped to the workspace or to the wildcard. Each
// family resolves independently, so a workspace grant can never mask an org
// grant. An org:member gains no workspace roles.
func GetEffectiveRoles(grants []UserRole, workspaceID, orgID string) []Role {
	var roles []Role
	seen := make(map[Role]bool)
	add := func(rs []Role) {
		for _, r := range rs {
			if !seen[r] {
				seen[r] = true
				roles = append(roles, r)
			}
		}
	}

	if orgRole, ok := GetHighestRoleInFamily(grants, familyOrg, orgID); ok {
		add(GetImpliedRoles(orgRole))
		if orgRole == RoleOrgOwner || orgRole == RoleOrgAdmin {
			add([]Role{RoleWorkspaceAdmin, RoleWorkspaceMember, RoleWorkspaceViewer})
		}
	}
	if workspaceID != "" {
		for _, g := range grants {
			if g.Role.Family() != familyWorkspace {
				continue
			}
			if g.Scope == workspaceID || g.Scope == ScopeAll {
				add(GetImpliedRoles(g.Role))
			}
		}
	}
	return roles
}
