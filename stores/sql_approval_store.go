package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/gatekeeper"
)

// SQLApprovalStore persists approval requests in SQL via squealx for hosts
// that need approvals to survive a restart. It implements
// gatekeeper.ApprovalStore with the same lazy-expiration contract as the
// memory store.
type SQLApprovalStore struct {
	db       *squealx.DB
	workflow *gatekeeper.ApprovalWorkflow
}

func NewSQLApprovalStore(db *squealx.DB, workflow *gatekeeper.ApprovalWorkflow) *SQLApprovalStore {
	if workflow == nil {
		workflow = gatekeeper.NewApprovalWorkflow()
	}
	return &SQLApprovalStore{db: db, workflow: workflow}
}

const approvalColumns = `id, user_id, org_id, workspace_id, resource, action, scope, context_json, type, approvers_json, required_approvals, state, created_at, expires_at, approvals_json, completed_at`

func (s *SQLApprovalStore) Create(ctx context.Context, req *gatekeeper.ApprovalRequest) error {
	q := `INSERT INTO approval_requests(` + approvalColumns + `) VALUES(:id, :user_id, :org_id, :workspace_id, :resource, :action, :scope, :context_json, :type, :approvers_json, :required_approvals, :state, :created_at, :expires_at, :approvals_json, :completed_at)`
	_, err := s.db.NamedExecContext(ctx, q, s.params(req))
	return err
}

func (s *SQLApprovalStore) Update(ctx context.Context, req *gatekeeper.ApprovalRequest) error {
	q := `UPDATE approval_requests SET state=:state, approvals_json=:approvals_json, expires_at=:expires_at, completed_at=:completed_at WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":             req.ID,
		"state":          string(req.State),
		"approvals_json": marshalJSON(req.Approvals),
		"expires_at":     req.ExpiresAt,
		"completed_at":   timeOrNil(req.CompletedAt),
	})
	return err
}

func (s *SQLApprovalStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM approval_requests WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLApprovalStore) Get(ctx context.Context, id string) (*gatekeeper.ApprovalRequest, error) {
	reqs, err := s.query(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = :id`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("approval request %s not found", id)
	}
	return reqs[0], nil
}

func (s *SQLApprovalStore) FindByUser(ctx context.Context, userID string) ([]*gatekeeper.ApprovalRequest, error) {
	return s.query(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE user_id = :user_id ORDER BY created_at`, map[string]any{"user_id": userID})
}

func (s *SQLApprovalStore) FindPendingForApprover(ctx context.Context, approverID string) ([]*gatekeeper.ApprovalRequest, error) {
	reqs, err := s.query(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE state = :state ORDER BY created_at`, map[string]any{"state": string(gatekeeper.StatePending)})
	if err != nil {
		return nil, err
	}
	var out []*gatekeeper.ApprovalRequest
	for _, req := range reqs {
		if req.State != gatekeeper.StatePending {
			continue
		}
		for _, pending := range s.workflow.PendingApprovers(req) {
			if pending == approverID {
				out = append(out, req)
				break
			}
		}
	}
	return out, nil
}

// query loads rows and applies lazy expiration; a request stamped expired on
// read is written back so other consumers observe the terminal state.
func (s *SQLApprovalStore) query(ctx context.Context, q string, params map[string]any) ([]*gatekeeper.ApprovalRequest, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gatekeeper.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		if s.workflow.CheckExpiration(req) {
			if err := s.Update(ctx, req); err != nil {
				return nil, fmt.Errorf("persist lazy expiration: %w", err)
			}
		}
		out = append(out, req)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(r rowScanner) (*gatekeeper.ApprovalRequest, error) {
	var (
		req                                  gatekeeper.ApprovalRequest
		workspaceID, contextJSON             sql.NullString
		resource, action, reqType            string
		approversJSON, approvalsJSON         string
		createdRaw, expiresRaw, completedRaw any
		state                                string
	)
	if err := r.Scan(&req.ID, &req.UserID, &req.OrgID, &workspaceID, &resource, &action, &req.Scope, &contextJSON, &reqType, &approversJSON, &req.RequiredApprovals, &state, &createdRaw, &expiresRaw, &approvalsJSON, &completedRaw); err != nil {
		return nil, err
	}
	req.WorkspaceID = workspaceID.String
	req.Resource = gatekeeper.ResourceKind(resource)
	req.Action = gatekeeper.ActionKind(action)
	req.Type = gatekeeper.ConsensusType(reqType)
	req.State = gatekeeper.ApprovalState(state)
	if contextJSON.Valid && contextJSON.String != "" {
		_ = json.Unmarshal([]byte(contextJSON.String), &req.Context)
	}
	_ = json.Unmarshal([]byte(approversJSON), &req.Approvers)
	_ = json.Unmarshal([]byte(approvalsJSON), &req.Approvals)
	if req.Approvals == nil {
		req.Approvals = []gatekeeper.ApprovalAction{}
	}
	req.CreatedAt = coerceTime(createdRaw)
	req.ExpiresAt = coerceTime(expiresRaw)
	if t := coerceTime(completedRaw); !t.IsZero() {
		req.CompletedAt = &t
	}
	return &req, nil
}

func coerceTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := parseFlexibleTime(t); err == nil {
			return parsed
		}
	case []byte:
		if parsed, err := parseFlexibleTime(string(t)); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func (s *SQLApprovalStore) params(req *gatekeeper.ApprovalRequest) map[string]any {
	return map[string]any{
		"id":                 req.ID,
		"user_id":            req.UserID,
		"org_id":             req.OrgID,
		"workspace_id":       req.WorkspaceID,
		"resource":           string(req.Resource),
		"action":             string(req.Action),
		"scope":              req.Scope,
		"context_json":       marshalJSON(req.Context),
		"type":               string(req.Type),
		"approvers_json":     marshalJSON(req.Approvers),
		"required_approvals": req.RequiredApprovals,
		"state":              string(req.State),
		"created_at":         req.CreatedAt,
		"expires_at":         req.ExpiresAt,
		"approvals_json":     marshalJSON(req.Approvals),
		"completed_at":       timeOrNil(req.CompletedAt),
	}
}

func marshalJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
