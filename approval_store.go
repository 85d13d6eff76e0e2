package gatekeeper

import (
	"context"
	"fmt"
	"sync"
)

// ============================================================================
// APPROVAL STORE
// ============================================================================

// ApprovalStore persists approval requests. Implementations must apply lazy
// expiration on every read so callers never observe a stale pending state.
type ApprovalStore interface {
	Create(ctx context.Context, req *ApprovalRequest) error
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	Update(ctx context.Context, req *ApprovalRequest) error
	Delete(ctx context.Context, id string) error
	FindByUser(ctx context.Context, userID string) ([]*ApprovalRequest, error)
	FindPendingForApprover(ctx context.Context, approverID string) ([]*ApprovalRequest, error)
}

// MemoryApprovalStore keeps approval requests in memory. All mutation runs
// under one mutex, which linearizes ProcessAction per request: two concurrent
// actions can never both pass the duplicate check.
type MemoryApprovalStore struct {
	mu       sync.Mutex
	requests map[string]*ApprovalRequest
	workflow *ApprovalWorkflow
}

func NewMemoryApprovalStore(workflow *ApprovalWorkflow) *MemoryApprovalStore {
	if workflow == nil {
		workflow = NewApprovalWorkflow()
	}
	return &MemoryApprovalStore{
		requests: make(map[string]*ApprovalRequest),
		workflow: workflow,
	}
}

func (s *MemoryApprovalStore) Create(_ context.Context, req *ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("approval request %s already exists", req.ID)
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *MemoryApprovalStore) Get(_ context.Context, id string) (*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s not found", id)
	}
	s.workflow.CheckExpiration(req)
	return cloneRequest(req), nil
}

func (s *MemoryApprovalStore) Update(_ context.Context, req *ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return fmt.Errorf("approval request %s not found", req.ID)
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *MemoryApprovalStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, id)
	return nil
}

func (s *MemoryApprovalStore) FindByUser(_ context.Context, userID string) ([]*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ApprovalRequest
	for _, req := range s.requests {
		if req.UserID != userID {
			continue
		}
		s.workflow.CheckExpiration(req)
		out = append(out, cloneRequest(req))
	}
	return out, nil
}

func (s *MemoryApprovalStore) FindPendingForApprover(_ context.Context, approverID string) ([]*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ApprovalRequest
	for _, req := range s.requests {
		s.workflow.CheckExpiration(req)
		if req.State != StatePending {
			continue
		}
		if contains(s.workflow.PendingApprovers(req), approverID) {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

// ProcessAction applies one approver verdict to the stored request under the
// store lock and returns the updated request.
func (s *MemoryApprovalStore) ProcessAction(_ context.Context, id, approverID string, action VoteAction, comment string) (*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s not found", id)
	}
	if err := s.workflow.ProcessAction(req, approverID, action, comment); err != nil {
		return nil, err
	}
	return cloneRequest(req), nil
}

// Cancel cancels the stored pending request under the store lock.
func (s *MemoryApprovalStore) Cancel(_ context.Context, id string) (*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval request %s not found", id)
	}
	if err := s.workflow.Cancel(req); err != nil {
		return nil, err
	}
	return cloneRequest(req), nil
}

// cloneRequest copies a request so callers can never mutate store-owned state.
func cloneRequest(req *ApprovalRequest) *ApprovalRequest {
	if req == nil {
		return nil
	}
	dup := *req
	dup.Approvers = append([]string(nil), req.Approvers...)
	dup.Approvals = append([]ApprovalAction(nil), req.Approvals...)
	if req.Context != nil {
		dup.Context = make(map[string]any, len(req.Context))
		for k, v := range req.Context {
			dup.Context[k] = v
		}
	}
	if req.CompletedAt != nil {
		t := *req.CompletedAt
		dup.CompletedAt = &t
	}
	return &dup
}
