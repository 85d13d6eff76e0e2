package gatekeeper

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/gatekeeper/logger"
	"github.com/oarkflow/gatekeeper/utils"
)

// ============================================================================
// PERMISSION ENGINE
// ============================================================================

// Built-in grants per role. Custom policy rules are additive-only: they are
// consulted after this table and can never reduce a built-in grant.
var defaultGrants = map[Role][]Permission{
	RoleOrgOwner: {
		{Resource: ResourceWildcard, Action: ActionWildcard, Scope: ScopeAll},
	},
	RoleOrgAdmin: {
		{Resource: ResourceWildcard, Action: ActionWildcard, Scope: ScopeAll},
	},
	RoleOrgMember: {
		{Resource: ResourceWorkspace, Action: ActionRead, Scope: ScopeAll},
	},
	RoleWorkspaceAdmin: {
		{Resource: ResourceWildcard, Action: ActionWildcard, Scope: ScopeWorkspace},
	},
	RoleWorkspaceMember: {
		{Resource: ResourceWorkspace, Action: ActionRead, Scope: ScopeWorkspace},
		{Resource: ResourceAgent, Action: ActionRead, Scope: ScopeWorkspace},
		{Resource: ResourceAgent, Action: ActionExecute, Scope: ScopeWorkspace},
		{Resource: ResourceMemory, Action: ActionRead, Scope: ScopeWorkspace},
		{Resource: ResourceMemory, Action: ActionUpdate, Scope: ScopeWorkspace},
	},
	RoleWorkspaceViewer: {
		{Resource: ResourceWorkspace, Action: ActionRead, Scope: ScopeWorkspace},
		{Resource: ResourceAgent, Action: ActionRead, Scope: ScopeWorkspace},
		{Resource: ResourceMemory, Action: ActionRead, Scope: ScopeWorkspace},
	},
}

// EngineConfig carries the engine's cache knobs.
type EngineConfig struct {
	RoleCacheTTL        time.Duration
	RistrettoNumCounter int64
	RistrettoMaxCost    int64
	RistrettoBuffer     int64
}

func (c *EngineConfig) applyDefaults() {
	if c.RoleCacheTTL <= 0 {
		c.RoleCacheTTL = time.Minute
	}
	if c.RistrettoNumCounter <= 0 {
		c.RistrettoNumCounter = 10_000
	}
	if c.RistrettoMaxCost <= 0 {
		c.RistrettoMaxCost = 1_000
	}
	if c.RistrettoBuffer <= 0 {
		c.RistrettoBuffer = 64
	}
}

// PermissionEngine evaluates access decisions: built-in role grants first,
// then caller-supplied policy rules through the decision cache. Every
// outcome, including the implicit default deny, is emitted to the audit sink.
type PermissionEngine struct {
	cache     *PolicyCache
	audit     *AuditIntegration
	roleCache *ristretto.Cache
	cfg       EngineConfig
	logger    logger.Logger
	now       func() time.Time
}

// EngineOption customizes a PermissionEngine at construction.
type EngineOption func(*PermissionEngine) error

// WithCache installs a decision cache (defaults to a fresh PolicyCache).
func WithCache(c *PolicyCache) EngineOption {
	return func(e *PermissionEngine) error {
		if c == nil {
			return fmt.Errorf("nil cache")
		}
		e.cache = c
		return nil
	}
}

// WithAudit installs the audit sink adapter.
func WithAudit(a *AuditIntegration) EngineOption {
	return func(e *PermissionEngine) error {
		e.audit = a
		return nil
	}
}

// WithLogger installs a structured logger.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *PermissionEngine) error {
		if l == nil {
			return fmt.Errorf("nil logger")
		}
		e.logger = l
		return nil
	}
}

// WithClock overrides the engine clock. Intended for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *PermissionEngine) error {
		if now == nil {
			return fmt.Errorf("nil clock")
		}
		e.now = now
		return nil
	}
}

// WithEngineConfig overrides the cache knobs.
func WithEngineConfig(cfg EngineConfig) EngineOption {
	return func(e *PermissionEngine) error {
		e.cfg = cfg
		return nil
	}
}

func NewPermissionEngine(opts ...EngineOption) (*PermissionEngine, error) {
	e := &PermissionEngine{
		cache:  NewPolicyCache(DefaultCacheTTL, DefaultCacheMaxSize),
		logger: logger.NewOarkLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.cfg.applyDefaults()
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: e.cfg.RistrettoNumCounter,
		MaxCost:     e.cfg.RistrettoMaxCost,
		BufferItems: e.cfg.RistrettoBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("init role cache: %w", err)
	}
	e.roleCache = rc
	return e, nil
}

// Check evaluates one (user, resource, action, scope) tuple. Denial is a
// normal return value, never an error; a malformed context yields the default
// deny.
func (e *PermissionEngine) Check(ctx context.Context, pctx *PermissionContext, resource ResourceKind, action ActionKind, targetScope string) AccessDecision {
	start := e.now()

	if pctx == nil || pctx.UserID == "" {
		dec := AccessDecision{Reason: "permission context is missing a user identity"}
		e.finish(pctx, resource, action, targetScope, dec, start)
		return dec
	}

	scope := targetScope
	if scope == "" {
		scope = pctx.WorkspaceID
	}
	if scope == "" {
		scope = pctx.OrgID
	}

	roles := e.effectiveRoles(pctx)

	// 1. Built-in role grants.
	for _, role := range roles {
		for _, grant := range defaultGrants[role] {
			if e.permissionMatches(grant, resource, action, scope, pctx) {
				dec := AccessDecision{
					Granted: true,
					Reason:  fmt.Sprintf("granted by role %s", role),
				}
				e.finish(pctx, resource, action, scope, dec, start)
				return dec
			}
		}
	}

	// 2. Custom policy rules, through the decision cache.
	if len(pctx.Policies) > 0 {
		key := DecisionCacheKey(roles, resource, action, scope)
		if cached, ok := e.cache.Get(key); ok {
			e.finish(pctx, resource, action, scope, cached, start)
			return cached
		}
		for _, rule := range pctx.Policies {
			if !roleIntersects(rule.Roles, roles) {
				continue
			}
			for _, perm := range rule.Permissions {
				if e.permissionMatches(perm, resource, action, scope, pctx) {
					dec := AccessDecision{
						Granted:          true,
						ApprovalRequired: rule.ApprovalRequired,
						Reason:           fmt.Sprintf("granted by policy %s", rule.Name),
						PolicyID:         rule.ID,
					}
					e.cache.Set(key, dec)
					e.finish(pctx, resource, action, scope, dec, start)
					return dec
				}
			}
		}
		dec := AccessDecision{Reason: fmt.Sprintf("no role grant or policy allows %s:%s in scope %s", resource, action, scope)}
		e.cache.Set(key, dec)
		e.finish(pctx, resource, action, scope, dec, start)
		return dec
	}

	// 3. Default deny.
	dec := AccessDecision{Reason: fmt.Sprintf("no role grant allows %s:%s in scope %s", resource, action, scope)}
	e.finish(pctx, resource, action, scope, dec, start)
	return dec
}

// CheckBatch evaluates checks in parallel and returns decisions in input order.
func (e *PermissionEngine) CheckBatch(ctx context.Context, pctx *PermissionContext, checks []AccessCheck) []AccessDecision {
	decisions := make([]AccessDecision, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check AccessCheck) {
			defer wg.Done()
			decisions[i] = e.Check(ctx, pctx, check.Resource, check.Action, check.Scope)
		}(i, check)
	}
	wg.Wait()
	return decisions
}

// ClearCache drops every cached decision and effective-role set. Call after
// any role-grant or policy change.
func (e *PermissionEngine) ClearCache() {
	e.cache.Clear()
	e.roleCache.Clear()
}

// Cache exposes the decision cache for invalidation and stats.
func (e *PermissionEngine) Cache() *PolicyCache {
	return e.cache
}

// effectiveRoles resolves and memoizes the caller's effective role set. The
// key covers the supplied grant set itself: grants arrive per decision, so a
// revoked or added grant changes the key and a stale role set can never be
// served.
func (e *PermissionEngine) effectiveRoles(pctx *PermissionContext) []Role {
	key := pctx.UserID + "|" + pctx.OrgID + "|" + pctx.WorkspaceID + "|" + grantSetDigest(pctx.UserRoles)
	if v, ok := e.roleCache.Get(key); ok {
		if roles, ok := v.([]Role); ok {
			return roles
		}
	}
	roles := GetEffectiveRoles(pctx.UserRoles, pctx.WorkspaceID, pctx.OrgID)
	e.roleCache.SetWithTTL(key, roles, 1, e.cfg.RoleCacheTTL)
	return roles
}

// grantSetDigest fingerprints a grant set, order-insensitively.
func grantSetDigest(grants []UserRole) string {
	if len(grants) == 0 {
		return "0"
	}
	parts := make([]string, len(grants))
	for i, g := range grants {
		parts[i] = string(g.Role) + "@" + g.Scope
	}
	sort.Strings(parts)
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(parts, ";")), 16)
}

// permissionMatches applies wildcard semantics to one grant against the
// requested tuple. The "workspace" scope sentinel resolves to the caller's
// current workspace.
func (e *PermissionEngine) permissionMatches(p Permission, resource ResourceKind, action ActionKind, scope string, pctx *PermissionContext) bool {
	if p.Resource != ResourceWildcard && p.Resource != resource {
		return false
	}
	if p.Action != ActionWildcard && p.Action != action {
		return false
	}
	grantScope := p.Scope
	if grantScope == ScopeWorkspace {
		if pctx.WorkspaceID == "" {
			return false
		}
		grantScope = pctx.WorkspaceID
	}
	return utils.Match(scope, grantScope)
}

func roleIntersects(ruleRoles, effective []Role) bool {
	for _, rr := range ruleRoles {
		for _, er := range effective {
			if rr == er {
				return true
			}
		}
	}
	return false
}

// finish logs the decision and emits it to the audit sink. Emission appends
// to the in-memory audit buffer only; the decision path never waits on disk.
func (e *PermissionEngine) finish(pctx *PermissionContext, resource ResourceKind, action ActionKind, scope string, dec AccessDecision, start time.Time) {
	latency := e.now().Sub(start)
	userID := ""
	if pctx != nil {
		userID = pctx.UserID
	}
	e.logger.Debug("access decision",
		"user", userID,
		"resource", string(resource),
		"action", string(action),
		"scope", scope,
		"granted", dec.Granted,
		"approval_required", dec.ApprovalRequired,
		"reason", dec.Reason,
		"latency_ms", latency.Milliseconds(),
	)
	e.audit.RecordDecision(pctx, resource, action, scope, dec, latency)
}

// RoleSetKey renders an effective role set the way cache keys and logs do.
func RoleSetKey(roles []Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
