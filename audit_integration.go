package gatekeeper

import (
	"time"
)

// ============================================================================
// AUDIT INTEGRATION
// ============================================================================

// Audit action names for core-emitted events.
const (
	AuditActionPermissionCheck   = "permission.check"
	AuditActionApprovalRequested = "approval.requested"
	AuditActionApprovalApproved  = "approval.approved"
	AuditActionApprovalDenied    = "approval.denied"
	AuditActionApprovalExpired   = "approval.expired"
	AuditActionApprovalCancelled = "approval.cancelled"
)

// AuditIntegration adapts permission decisions and approval transitions into
// the audit event shape. Emission is buffer-append only; it never waits on a
// disk flush.
type AuditIntegration struct {
	sink *AuditLogger
}

func NewAuditIntegration(sink *AuditLogger) *AuditIntegration {
	return &AuditIntegration{sink: sink}
}

// RecordDecision emits one AccessDecision event, including the implicit
// default-deny, with the evaluation latency.
func (a *AuditIntegration) RecordDecision(pctx *PermissionContext, resource ResourceKind, action ActionKind, scope string, dec AccessDecision, latency time.Duration) {
	if a == nil || a.sink == nil {
		return
	}
	ev := &AuditEvent{
		Action: AuditActionPermissionCheck,
		Result: decisionResult(dec),
		Metadata: map[string]any{
			"resource":   string(resource),
			"action":     string(action),
			"scope":      scope,
			"reason":     dec.Reason,
			"latency_ms": latency.Milliseconds(),
		},
	}
	if pctx != nil {
		ev.OrgID = pctx.OrgID
		ev.WorkspaceID = pctx.WorkspaceID
		ev.UserID = pctx.UserID
		ev.AgentID = pctx.AgentID
		ev.SessionID = pctx.SessionID
	}
	if resource == ResourceTool {
		ev.Tool = scope
	}
	if dec.PolicyID != "" {
		ev.Metadata["policy_id"] = dec.PolicyID
	}
	if !dec.Granted {
		ev.ErrorMessage = dec.Reason
	}
	a.sink.Log(ev)
}

func decisionResult(dec AccessDecision) AuditResult {
	switch {
	case !dec.Granted:
		return ResultDenied
	case dec.ApprovalRequired:
		return ResultPendingApproval
	default:
		return ResultSuccess
	}
}

// RecordApproval emits one event for an approval request transition. actorID
// is the approver (or canceller) who drove the transition, empty at creation.
func (a *AuditIntegration) RecordApproval(req *ApprovalRequest, actorID string) {
	if a == nil || a.sink == nil || req == nil {
		return
	}
	ev := &AuditEvent{
		OrgID:       req.OrgID,
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		Action:      approvalAuditAction(req.State),
		Result:      approvalResult(req.State),
		Approval:    &ApprovalStamp{RequestID: req.ID, State: req.State},
		Metadata: map[string]any{
			"resource":       string(req.Resource),
			"action":         string(req.Action),
			"scope":          req.Scope,
			"consensus_type": string(req.Type),
			"approvals":      len(req.Approvals),
		},
	}
	if actorID != "" {
		ev.Metadata["actor_id"] = actorID
	}
	a.sink.Log(ev)
}

func approvalAuditAction(state ApprovalState) string {
	switch state {
	case StateApproved:
		return AuditActionApprovalApproved
	case StateDenied:
		return AuditActionApprovalDenied
	case StateExpired:
		return AuditActionApprovalExpired
	case StateCancelled:
		return AuditActionApprovalCancelled
	default:
		return AuditActionApprovalRequested
	}
}

func approvalResult(state ApprovalState) AuditResult {
	switch state {
	case StateApproved:
		return ResultSuccess
	case StateDenied:
		return ResultDenied
	case StateExpired, StateCancelled:
		return ResultFailure
	default:
		return ResultPendingApproval
	}
}
