package gatekeeper

import (
	"context"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *PermissionEngine {
	t.Helper()
	e, err := NewPermissionEngine(opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func viewerContext() *PermissionContext {
	return &PermissionContext{
		UserID:      "alice",
		OrgID:       "org-1",
		WorkspaceID: "ws-1",
		UserRoles: []UserRole{
			{UserID: "alice", Role: RoleWorkspaceViewer, Scope: "ws-1"},
		},
	}
}

func TestCheckMissingContext(t *testing.T) {
	e := newTestEngine(t)
	dec := e.Check(context.Background(), nil, ResourceTool, ActionExecute, "")
	if dec.Granted || dec.ApprovalRequired {
		t.Fatalf("nil context must default-deny, got %+v", dec)
	}
	if dec.Reason == "" {
		t.Fatalf("denial must carry a displayable reason")
	}
}

func TestCheckDefaultGrants(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// viewers read, but never execute tools
	dec := e.Check(ctx, viewerContext(), ResourceWorkspace, ActionRead, "")
	if !dec.Granted {
		t.Fatalf("viewer read denied: %+v", dec)
	}
	dec = e.Check(ctx, viewerContext(), ResourceTool, ActionExecute, "")
	if dec.Granted {
		t.Fatalf("viewer must not execute tools: %+v", dec)
	}

	// org owners hold the wildcard grant everywhere
	owner := &PermissionContext{
		UserID: "root", OrgID: "org-1", WorkspaceID: "ws-1",
		UserRoles: []UserRole{{UserID: "root", Role: RoleOrgOwner, Scope: "org-1"}},
	}
	dec = e.Check(ctx, owner, ResourceTool, ActionExecute, "")
	if !dec.Granted {
		t.Fatalf("org owner denied: %+v", dec)
	}

	// org members gain nothing inside workspaces
	member := &PermissionContext{
		UserID: "bob", OrgID: "org-1", WorkspaceID: "ws-1",
		UserRoles: []UserRole{{UserID: "bob", Role: RoleOrgMember, Scope: "org-1"}},
	}
	dec = e.Check(ctx, member, ResourceAgent, ActionRead, "")
	if dec.Granted {
		t.Fatalf("org member must not read agents: %+v", dec)
	}
}

func TestCheckInvariantDenyNeverRequiresApproval(t *testing.T) {
	e := newTestEngine(t)
	pctx := viewerContext()
	pctx.Policies = []PolicyRule{{
		ID:               "p1",
		Name:             "unrelated",
		Roles:            []Role{RoleWorkspaceAdmin},
		Permissions:      []Permission{{Resource: ResourceTool, Action: ActionExecute, Scope: "ws-1"}},
		ApprovalRequired: true,
	}}
	dec := e.Check(context.Background(), pctx, ResourceTool, ActionExecute, "")
	if dec.Granted || dec.ApprovalRequired {
		t.Fatalf("denied decision must not require approval: %+v", dec)
	}
}

func TestCheckPolicyRules(t *testing.T) {
	e := newTestEngine(t)
	pctx := viewerContext()
	pctx.Policies = []PolicyRule{{
		ID:    "pol-tools",
		Name:  "viewer tool access",
		Roles: []Role{RoleWorkspaceViewer},
		Permissions: []Permission{
			{Resource: ResourceTool, Action: ActionExecute, Scope: "ws-1"},
		},
		ApprovalRequired: true,
	}}

	dec := e.Check(context.Background(), pctx, ResourceTool, ActionExecute, "")
	if !dec.Granted || !dec.ApprovalRequired || dec.PolicyID != "pol-tools" {
		t.Fatalf("policy grant = %+v", dec)
	}
}

func TestCheckPolicyWildcards(t *testing.T) {
	e := newTestEngine(t)
	pctx := viewerContext()
	pctx.Policies = []PolicyRule{{
		ID:    "pol-any",
		Name:  "viewer anything",
		Roles: []Role{RoleWorkspaceViewer},
		Permissions: []Permission{
			{Resource: ResourceWildcard, Action: ActionWildcard, Scope: ScopeAll},
		},
	}}
	dec := e.Check(context.Background(), pctx, ResourceIntegration, ActionDelete, "elsewhere")
	if !dec.Granted {
		t.Fatalf("wildcard permission must match anything: %+v", dec)
	}
}

func TestCheckDefaultGrantBeatsPolicy(t *testing.T) {
	// built-in grants are consulted first, so a policy cannot attach an
	// approval gate to something a role already grants outright
	e := newTestEngine(t)
	pctx := viewerContext()
	pctx.Policies = []PolicyRule{{
		ID:               "pol-read",
		Name:             "gated read",
		Roles:            []Role{RoleWorkspaceViewer},
		Permissions:      []Permission{{Resource: ResourceWorkspace, Action: ActionRead, Scope: "ws-1"}},
		ApprovalRequired: true,
	}}
	dec := e.Check(context.Background(), pctx, ResourceWorkspace, ActionRead, "")
	if !dec.Granted || dec.ApprovalRequired || dec.PolicyID != "" {
		t.Fatalf("role grant must win over the policy: %+v", dec)
	}
}

func TestCheckIdempotentViaCache(t *testing.T) {
	cache := NewPolicyCache(time.Minute, 100)
	e := newTestEngine(t, WithCache(cache))
	pctx := viewerContext()
	pctx.Policies = []PolicyRule{{
		ID:          "pol-tools",
		Name:        "viewer tool access",
		Roles:       []Role{RoleWorkspaceViewer},
		Permissions: []Permission{{Resource: ResourceTool, Action: ActionExecute, Scope: "ws-1"}},
	}}

	first := e.Check(context.Background(), pctx, ResourceTool, ActionExecute, "")
	hitsBefore := cache.Stats().Hits
	second := e.Check(context.Background(), pctx, ResourceTool, ActionExecute, "")

	if first != second {
		t.Fatalf("identical checks diverged: %+v vs %+v", first, second)
	}
	if cache.Stats().Hits != hitsBefore+1 {
		t.Fatalf("second check should be a cache hit, stats=%+v", cache.Stats())
	}
}

func TestCheckDenyIsCachedOnPolicyPath(t *testing.T) {
	cache := NewPolicyCache(time.Minute, 100)
	e := newTestEngine(t, WithCache(cache))
	pctx := viewerContext()
	pctx.Policies = []PolicyRule{{
		ID:          "pol-unrelated",
		Name:        "unrelated",
		Roles:       []Role{RoleWorkspaceAdmin},
		Permissions: []Permission{{Resource: ResourceUser, Action: ActionDelete, Scope: "ws-1"}},
	}}

	e.Check(context.Background(), pctx, ResourceTool, ActionExecute, "")
	if cache.Stats().Size != 1 {
		t.Fatalf("default deny on the policy path must be cached, stats=%+v", cache.Stats())
	}
}

func TestCheckDenyWithoutPoliciesNotCached(t *testing.T) {
	// the decision cache key excludes the rule set, so a deny produced with
	// no rules supplied must not be cached: the same caller may supply a
	// granting rule on the very next check
	cache := NewPolicyCache(time.Minute, 100)
	e := newTestEngine(t, WithCache(cache))
	pctx := viewerContext()

	if dec := e.Check(context.Background(), pctx, ResourceTool, ActionExecute, ""); dec.Granted {
		t.Fatalf("viewer must not execute tools: %+v", dec)
	}
	if cache.Stats().Size != 0 {
		t.Fatalf("deny without rules must bypass the decision cache, stats=%+v", cache.Stats())
	}

	pctx.Policies = []PolicyRule{{
		ID:          "pol-tools",
		Name:        "viewer tool access",
		Roles:       []Role{RoleWorkspaceViewer},
		Permissions: []Permission{{Resource: ResourceTool, Action: ActionExecute, Scope: "ws-1"}},
	}}
	if dec := e.Check(context.Background(), pctx, ResourceTool, ActionExecute, ""); !dec.Granted {
		t.Fatalf("newly supplied rule must take effect immediately: %+v", dec)
	}
}

func TestCheckRevokedGrantTakesEffectImmediately(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	pctx := &PermissionContext{
		UserID: "root", OrgID: "org-1", WorkspaceID: "ws-1",
		UserRoles: []UserRole{{UserID: "root", Role: RoleOrgOwner, Scope: "org-1"}},
	}
	if dec := e.Check(ctx, pctx, ResourceTool, ActionExecute, ""); !dec.Granted {
		t.Fatalf("org owner denied: %+v", dec)
	}

	// the next check carries the revoked (empty) grant set; memoized roles
	// from the previous grant set must not apply
	pctx.UserRoles = nil
	if dec := e.Check(ctx, pctx, ResourceTool, ActionExecute, ""); dec.Granted {
		t.Fatalf("revoked grant still effective: %+v", dec)
	}

	// and a reduced grant set resolves to the reduced roles
	pctx.UserRoles = []UserRole{{UserID: "root", Role: RoleWorkspaceViewer, Scope: "ws-1"}}
	if dec := e.Check(ctx, pctx, ResourceTool, ActionExecute, ""); dec.Granted {
		t.Fatalf("viewer must not execute tools: %+v", dec)
	}
	if dec := e.Check(ctx, pctx, ResourceWorkspace, ActionRead, ""); !dec.Granted {
		t.Fatalf("viewer read denied: %+v", dec)
	}
}

func TestGrantSetDigest(t *testing.T) {
	a := []UserRole{
		{UserID: "u", Role: RoleOrgAdmin, Scope: "org-1"},
		{UserID: "u", Role: RoleWorkspaceViewer, Scope: "ws-1"},
	}
	b := []UserRole{a[1], a[0]}
	if grantSetDigest(a) != grantSetDigest(b) {
		t.Fatalf("digest must be order-insensitive")
	}
	if grantSetDigest(a) == grantSetDigest(a[:1]) {
		t.Fatalf("digest must change when a grant is removed")
	}
	if grantSetDigest(nil) != grantSetDigest([]UserRole{}) {
		t.Fatalf("empty grant sets must share a digest")
	}
}

func TestCheckScopeDefaulting(t *testing.T) {
	e := newTestEngine(t)
	// no workspace: scope falls through to the org id, where the viewer
	// grant (workspace-scoped) cannot match
	pctx := &PermissionContext{
		UserID: "alice", OrgID: "org-1",
		UserRoles: []UserRole{{UserID: "alice", Role: RoleWorkspaceViewer, Scope: "ws-1"}},
	}
	dec := e.Check(context.Background(), pctx, ResourceWorkspace, ActionRead, "")
	if dec.Granted {
		t.Fatalf("workspace grant must not apply outside a workspace: %+v", dec)
	}
}

func TestCheckBatchPreservesOrder(t *testing.T) {
	e := newTestEngine(t)
	checks := []AccessCheck{
		{Resource: ResourceWorkspace, Action: ActionRead},
		{Resource: ResourceTool, Action: ActionExecute},
		{Resource: ResourceMemory, Action: ActionRead},
	}
	decisions := e.CheckBatch(context.Background(), viewerContext(), checks)
	if len(decisions) != 3 {
		t.Fatalf("got %d decisions", len(decisions))
	}
	if !decisions[0].Granted || decisions[1].Granted || !decisions[2].Granted {
		t.Fatalf("batch order not preserved: %+v", decisions)
	}
}

func TestClearCache(t *testing.T) {
	cache := NewPolicyCache(time.Minute, 100)
	e := newTestEngine(t, WithCache(cache))
	pctx := viewerContext()
	pctx.Policies = []PolicyRule{{
		ID:          "pol-tools",
		Name:        "viewer tool access",
		Roles:       []Role{RoleWorkspaceViewer},
		Permissions: []Permission{{Resource: ResourceTool, Action: ActionExecute, Scope: "ws-1"}},
	}}
	e.Check(context.Background(), pctx, ResourceTool, ActionExecute, "")
	if cache.Stats().Size == 0 {
		t.Fatalf("expected a cached decision")
	}
	e.ClearCache()
	if cache.Stats().Size != 0 {
		t.Fatalf("clear must drop all decisions, stats=%+v", cache.Stats())
	}
}

func TestCheckConcurrent(t *testing.T) {
	e := newTestEngine(t)
	pctx := viewerContext()
	pctx.Policies = []PolicyRule{{
		ID:          "pol-tools",
		Name:        "viewer tool access",
		Roles:       []Role{RoleWorkspaceViewer},
		Permissions: []Permission{{Resource: ResourceTool, Action: ActionExecute, Scope: "ws-1"}},
	}}

	done := make(chan AccessDecision, 64)
	for i := 0; i < 64; i++ {
		go func() {
			done <- e.Check(context.Background(), pctx, ResourceTool, ActionExecute, "")
		}()
	}
	for i := 0; i < 64; i++ {
		dec := <-done
		if !dec.Granted {
			t.Fatalf("concurrent check denied: %+v", dec)
		}
	}
}
