package gatekeeper

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// APPROVAL WORKFLOW
// ============================================================================

// ApprovalState is the lifecycle state of an approval request. pending is the
// only non-terminal state; no transition leaves a terminal state.
type ApprovalState string

const (
	StatePending   ApprovalState = "pending"
	StateApproved  ApprovalState = "approved"
	StateDenied    ApprovalState = "denied"
	StateExpired   ApprovalState = "expired"
	StateCancelled ApprovalState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s ApprovalState) Terminal() bool {
	return s != StatePending
}

// ConsensusType selects how approver actions resolve the request.
type ConsensusType string

const (
	ConsensusSingle     ConsensusType = "single"     // first action decides
	ConsensusMajority   ConsensusType = "majority"   // RequiredApprovals approvals
	ConsensusUnanimous  ConsensusType = "unanimous"  // every approver must approve
	ConsensusSequential ConsensusType = "sequential" // approvals in approver order
)

// VoteAction is the verdict an approver records.
type VoteAction string

const (
	VoteApprove VoteAction = "approve"
	VoteDeny    VoteAction = "deny"
)

// ApprovalAction is one approver's recorded verdict. A given approver appears
// at most once per request.
type ApprovalAction struct {
	ApproverID string     `json:"approver_id"`
	Action     VoteAction `json:"action"`
	Timestamp  time.Time  `json:"timestamp"`
	Comment    string     `json:"comment,omitempty"`
}

// ApprovalRequest is a gated action awaiting human sign-off.
type ApprovalRequest struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	OrgID             string           `json:"org_id"`
	WorkspaceID       string           `json:"workspace_id,omitempty"`
	Resource          ResourceKind     `json:"resource"`
	Action            ActionKind       `json:"action"`
	Scope             string           `json:"scope"`
	Context           map[string]any   `json:"context,omitempty"`
	Type              ConsensusType    `json:"type"`
	Approvers         []string         `json:"approvers"`
	RequiredApprovals int              `json:"required_approvals"`
	State             ApprovalState    `json:"state"`
	CreatedAt         time.Time        `json:"created_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
	Approvals         []ApprovalAction `json:"approvals"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

// ----------------------------------------------------------------------------
// Error taxonomy. Denial of access is a value, never an error; these cover
// misuse of the workflow contract only.
// ----------------------------------------------------------------------------

// InvalidStateError reports an action attempted on a non-pending request.
type InvalidStateError struct {
	RequestID string
	State     ApprovalState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("approval request %s is %s, not pending", e.RequestID, e.State)
}

// UnauthorizedError reports an actor outside the request's approver list.
type UnauthorizedError struct {
	RequestID  string
	ApproverID string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("%s is not an approver for request %s", e.ApproverID, e.RequestID)
}

// DuplicateActionError reports an approver acting twice on one request.
type DuplicateActionError struct {
	RequestID  string
	ApproverID string
}

func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("%s already acted on request %s", e.ApproverID, e.RequestID)
}

// ValidationError reports a malformed approval request definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ----------------------------------------------------------------------------
// Workflow
// ----------------------------------------------------------------------------

// CreateApprovalParams describes a new approval request.
type CreateApprovalParams struct {
	UserID            string
	OrgID             string
	WorkspaceID       string
	Resource          ResourceKind
	Action            ActionKind
	Scope             string
	Context           map[string]any
	Type              ConsensusType
	Approvers         []string
	RequiredApprovals int
	ExpirationMinutes int
}

// ApprovalWorkflow drives approval requests through their state machine.
// Expiration is lazy: it is checked on every read and action, never by a
// background timer, so a timer can never race a concurrent action.
type ApprovalWorkflow struct {
	now func() time.Time
}

func NewApprovalWorkflow() *ApprovalWorkflow {
	return &ApprovalWorkflow{now: time.Now}
}

// Create builds a pending request. A majority request whose threshold exceeds
// the approver count would be permanently undecidable, so it is rejected here.
func (w *ApprovalWorkflow) Create(p CreateApprovalParams) (*ApprovalRequest, error) {
	if len(p.Approvers) == 0 {
		return nil, &ValidationError{Field: "approvers", Message: "at least one approver is required"}
	}
	switch p.Type {
	case ConsensusSingle, ConsensusUnanimous, ConsensusSequential:
	case ConsensusMajority:
		if p.RequiredApprovals < 1 {
			return nil, &ValidationError{Field: "required_approvals", Message: "must be at least 1"}
		}
		if p.RequiredApprovals > len(p.Approvers) {
			return nil, &ValidationError{Field: "required_approvals", Message: "exceeds approver count"}
		}
	default:
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown consensus type %q", p.Type)}
	}

	required := p.RequiredApprovals
	switch p.Type {
	case ConsensusSingle:
		required = 1
	case ConsensusUnanimous, ConsensusSequential:
		required = len(p.Approvers)
	}

	created := w.now()
	return &ApprovalRequest{
		ID:                uuid.NewString(),
		UserID:            p.UserID,
		OrgID:             p.OrgID,
		WorkspaceID:       p.WorkspaceID,
		Resource:          p.Resource,
		Action:            p.Action,
		Scope:             p.Scope,
		Context:           p.Context,
		Type:              p.Type,
		Approvers:         append([]string(nil), p.Approvers...),
		RequiredApprovals: required,
		State:             StatePending,
		CreatedAt:         created,
		ExpiresAt:         created.Add(time.Duration(p.ExpirationMinutes) * time.Minute),
		Approvals:         []ApprovalAction{},
	}, nil
}

// ProcessAction records one approver's verdict and recomputes the request
// state. The caller must hold whatever lock linearizes actions on this
// request; the store does this for requests it owns.
func (w *ApprovalWorkflow) ProcessAction(req *ApprovalRequest, approverID string, action VoteAction, comment string) error {
	if req.State != StatePending {
		return &InvalidStateError{RequestID: req.ID, State: req.State}
	}
	if w.CheckExpiration(req) {
		return &InvalidStateError{RequestID: req.ID, State: StateExpired}
	}
	if !contains(req.Approvers, approverID) {
		return &UnauthorizedError{RequestID: req.ID, ApproverID: approverID}
	}
	for _, a := range req.Approvals {
		if a.ApproverID == approverID {
			return &DuplicateActionError{RequestID: req.ID, ApproverID: approverID}
		}
	}

	req.Approvals = append(req.Approvals, ApprovalAction{
		ApproverID: approverID,
		Action:     action,
		Timestamp:  w.now(),
		Comment:    comment,
	})
	w.resolve(req)
	return nil
}

// resolve recomputes the request state from its recorded actions.
func (w *ApprovalWorkflow) resolve(req *ApprovalRequest) {
	approvals, denials := 0, 0
	for _, a := range req.Approvals {
		if a.Action == VoteApprove {
			approvals++
		} else {
			denials++
		}
	}

	switch req.Type {
	case ConsensusSingle:
		if approvals >= 1 {
			w.complete(req, StateApproved)
		} else if denials >= 1 {
			w.complete(req, StateDenied)
		}
	case ConsensusMajority:
		remaining := len(req.Approvers) - len(req.Approvals)
		if approvals >= req.RequiredApprovals {
			w.complete(req, StateApproved)
		} else if approvals+remaining < req.RequiredApprovals {
			// the outstanding approvers can no longer reach the threshold
			w.complete(req, StateDenied)
		}
	case ConsensusUnanimous:
		if denials > 0 {
			w.complete(req, StateDenied)
		} else if approvals == len(req.Approvers) {
			w.complete(req, StateApproved)
		}
	case ConsensusSequential:
		if denials > 0 {
			w.complete(req, StateDenied)
			return
		}
		for i, a := range req.Approvals {
			if a.ApproverID != req.Approvers[i] {
				// out-of-order approval breaks the chain
				w.complete(req, StateDenied)
				return
			}
		}
		if approvals == len(req.Approvers) {
			w.complete(req, StateApproved)
		}
	}
}

func (w *ApprovalWorkflow) complete(req *ApprovalRequest, state ApprovalState) {
	req.State = state
	t := w.now()
	req.CompletedAt = &t
}

// Cancel transitions a pending request to cancelled.
func (w *ApprovalWorkflow) Cancel(req *ApprovalRequest) error {
	if req.State != StatePending {
		return &InvalidStateError{RequestID: req.ID, State: req.State}
	}
	if w.CheckExpiration(req) {
		return &InvalidStateError{RequestID: req.ID, State: StateExpired}
	}
	w.complete(req, StateCancelled)
	return nil
}

// CheckExpiration lazily stamps a past-due pending request as expired and
// reports whether it did so. Called on every read so stale pending state is
// never observed.
func (w *ApprovalWorkflow) CheckExpiration(req *ApprovalRequest) bool {
	if req.State == StatePending && w.now().After(req.ExpiresAt) {
		w.complete(req, StateExpired)
		return true
	}
	return false
}

// NextApprover returns the next expected approver for a pending sequential
// request. The second return is false for other consensus types or resolved
// requests.
func (w *ApprovalWorkflow) NextApprover(req *ApprovalRequest) (string, bool) {
	if req.Type != ConsensusSequential || req.State != StatePending {
		return "", false
	}
	if len(req.Approvals) >= len(req.Approvers) {
		return "", false
	}
	return req.Approvers[len(req.Approvals)], true
}

// PendingApprovers returns who still needs to act: for sequential requests
// only the next approver in line, otherwise every approver without a recorded
// action.
func (w *ApprovalWorkflow) PendingApprovers(req *ApprovalRequest) []string {
	if req.State != StatePending {
		return nil
	}
	if req.Type == ConsensusSequential {
		if next, ok := w.NextApprover(req); ok {
			return []string{next}
		}
		return nil
	}
	acted := make(map[string]bool, len(req.Approvals))
	for _, a := range req.Approvals {
		acted[a.ApproverID] = true
	}
	var pending []string
	for _, id := range req.Approvers {
		if !acted[id] {
			pending = append(pending, id)
		}
	}
	return pending
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
