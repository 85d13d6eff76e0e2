package gatekeeper

import (
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// ResourceKind is the closed set of protected resource types.
type ResourceKind string

const (
	ResourceWorkspace   ResourceKind = "workspace"
	ResourceAgent       ResourceKind = "agent"
	ResourceMemory      ResourceKind = "memory"
	ResourceIntegration ResourceKind = "integration"
	ResourceAudit       ResourceKind = "audit"
	ResourceUser        ResourceKind = "user"
	ResourceTool        ResourceKind = "tool"
	ResourceWildcard    ResourceKind = "*"
)

// ActionKind is the closed set of actions a caller can attempt on a resource.
type ActionKind string

const (
	ActionCreate   ActionKind = "create"
	ActionRead     ActionKind = "read"
	ActionUpdate   ActionKind = "update"
	ActionDelete   ActionKind = "delete"
	ActionExecute  ActionKind = "execute"
	ActionWildcard ActionKind = "*"
)

// KnownResources lists every concrete resource kind (wildcard excluded).
var KnownResources = []ResourceKind{
	ResourceWorkspace, ResourceAgent, ResourceMemory, ResourceIntegration,
	ResourceAudit, ResourceUser, ResourceTool,
}

// KnownActions lists every concrete action kind (wildcard excluded).
var KnownActions = []ActionKind{
	ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExecute,
}

// Valid reports whether the kind is a known resource or the wildcard.
func (r ResourceKind) Valid() bool {
	switch r {
	case ResourceWorkspace, ResourceAgent, ResourceMemory, ResourceIntegration,
		ResourceAudit, ResourceUser, ResourceTool, ResourceWildcard:
		return true
	}
	return false
}

// Valid reports whether the kind is a known action or the wildcard.
func (a ActionKind) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExecute, ActionWildcard:
		return true
	}
	return false
}

// Scope sentinels. A concrete scope is an organization or workspace id.
const (
	ScopeAll       = "*"         // matches every scope
	ScopeWorkspace = "workspace" // resolves to the caller's current workspace
)

// UserRole is a single role grant. Grants are never mutated, only superseded
// or removed by the caller.
type UserRole struct {
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Scope     string    `json:"scope"` // org id, workspace id, or "*"
	GrantedAt time.Time `json:"granted_at"`
	GrantedBy string    `json:"granted_by"`
}

// Permission is a (resource, action, scope) tuple a role or policy grants.
type Permission struct {
	Resource   ResourceKind   `json:"resource"`
	Action     ActionKind     `json:"action"`
	Scope      string         `json:"scope"`
	Conditions map[string]any `json:"conditions,omitempty"`
}

// PolicyRule is a custom, org-defined grant evaluated after built-in role
// grants fail to match. Rules are additive-only: they can never reduce a
// built-in grant.
type PolicyRule struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Roles            []Role       `json:"roles"`
	Permissions      []Permission `json:"permissions"`
	ApprovalRequired bool         `json:"approval_required"`
	AlertRecipients  []string     `json:"alert_recipients,omitempty"`
}

// AccessDecision is the outcome of a permission evaluation. Invariant:
// Granted=false implies ApprovalRequired=false.
type AccessDecision struct {
	Granted          bool   `json:"granted"`
	ApprovalRequired bool   `json:"approval_required"`
	Reason           string `json:"reason"`
	PolicyID         string `json:"policy_id,omitempty"`
}

// PermissionContext carries the caller-supplied identity, role grants and
// active policy rules for one evaluation. Role assignment and policy
// authoring are the host's responsibility.
type PermissionContext struct {
	UserID      string       `json:"user_id"`
	OrgID       string       `json:"org_id"`
	WorkspaceID string       `json:"workspace_id,omitempty"`
	AgentID     string       `json:"agent_id,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	UserRoles   []UserRole   `json:"user_roles"`
	Policies    []PolicyRule `json:"policies,omitempty"`
}

// AccessCheck is one element of a batch permission evaluation.
type AccessCheck struct {
	Resource ResourceKind `json:"resource"`
	Action   ActionKind   `json:"action"`
	Scope    string       `json:"scope,omitempty"`
}
