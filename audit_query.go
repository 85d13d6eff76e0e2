package gatekeeper

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oarkflow/date"
)

// ============================================================================
// AUDIT QUERY
// ============================================================================

// QueryFilter selects audit events. Zero-valued fields are not applied.
type QueryFilter struct {
	OrgID       string      `json:"org_id,omitempty"`
	WorkspaceID string      `json:"workspace_id,omitempty"`
	UserID      string      `json:"user_id,omitempty"`
	AgentID     string      `json:"agent_id,omitempty"`
	Action      string      `json:"action,omitempty"`
	Result      AuditResult `json:"result,omitempty"`
	StartTime   time.Time   `json:"start_time,omitempty"`
	EndTime     time.Time   `json:"end_time,omitempty"`
	Limit       int         `json:"limit,omitempty"`
	Offset      int         `json:"offset,omitempty"`
}

// QueryEngine reconstructs query results purely from the on-disk segments an
// AuditLogger produced. It holds no state beyond the directory path.
type QueryEngine struct {
	dir string
}

func NewQueryEngine(dir string) *QueryEngine {
	return &QueryEngine{dir: dir}
}

// Query streams candidate segments line by line and returns matching events
// after applying offset and limit. Malformed lines are skipped. The scan
// stops as soon as the limit is reached.
func (q *QueryEngine) Query(ctx context.Context, filter QueryFilter) ([]*AuditEvent, error) {
	files, err := q.candidateFiles(filter)
	if err != nil {
		return nil, err
	}
	var out []*AuditEvent
	skipped := 0
	for _, path := range files {
		done, err := q.scanFile(ctx, path, func(ev *AuditEvent) bool {
			if !filter.matches(ev) {
				return false
			}
			if skipped < filter.Offset {
				skipped++
				return false
			}
			out = append(out, ev)
			return filter.Limit > 0 && len(out) >= filter.Limit
		})
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return out, nil
}

// Count returns how many events match the filter. Offset and limit are ignored.
func (q *QueryEngine) Count(ctx context.Context, filter QueryFilter) (int, error) {
	files, err := q.candidateFiles(filter)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, path := range files {
		if _, err := q.scanFile(ctx, path, func(ev *AuditEvent) bool {
			if filter.matches(ev) {
				count++
			}
			return false
		}); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// Distinct returns the sorted distinct values of field among matching events.
// Supported fields: user_id, org_id, workspace_id, agent_id, action, result,
// tool.
func (q *QueryEngine) Distinct(ctx context.Context, filter QueryFilter, field string) ([]string, error) {
	extract, err := fieldExtractor(field)
	if err != nil {
		return nil, err
	}
	files, err := q.candidateFiles(filter)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, path := range files {
		if _, err := q.scanFile(ctx, path, func(ev *AuditEvent) bool {
			if filter.matches(ev) {
				if v := extract(ev); v != "" {
					seen[v] = true
				}
			}
			return false
		}); err != nil {
			return nil, err
		}
	}
	values := make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

// candidateFiles lists segments whose embedded date overlaps the filter's
// time window with one day of slack on each side: the file date is a
// rotation hint, not an authoritative event timestamp.
func (q *QueryEngine) candidateFiles(filter QueryFilter) ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		segDate, ok := SegmentDate(entry.Name())
		if !ok {
			continue
		}
		if !filter.StartTime.IsZero() && segDate.Before(filter.StartTime.UTC().AddDate(0, 0, -1)) {
			continue
		}
		if !filter.EndTime.IsZero() && segDate.After(filter.EndTime.UTC().AddDate(0, 0, 1)) {
			continue
		}
		files = append(files, filepath.Join(q.dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// scanFile feeds each decodable line to fn; fn returning true stops the whole
// query.
func (q *QueryEngine) scanFile(ctx context.Context, path string, fn func(*AuditEvent) bool) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open audit segment: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ev, err := decodeAuditLine(scanner.Bytes())
		if err != nil {
			continue
		}
		if fn(ev) {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan audit segment: %w", err)
	}
	return false, nil
}

// auditLine is the wire shape of one segment line. The timestamp is decoded
// separately so segments written by other tooling with non-RFC3339 stamps
// still reconstruct.
type auditLine struct {
	ID                 string         `json:"id"`
	Timestamp          string         `json:"timestamp"`
	OrgID              string         `json:"org_id"`
	WorkspaceID        string         `json:"workspace_id"`
	UserID             string         `json:"user_id"`
	AgentID            string         `json:"agent_id"`
	SessionID          string         `json:"session_id"`
	Action             string         `json:"action"`
	Tool               string         `json:"tool"`
	Parameters         map[string]any `json:"parameters"`
	Result             AuditResult    `json:"result"`
	ErrorMessage       string         `json:"error_message"`
	Approval           *ApprovalStamp `json:"approval"`
	Metadata           map[string]any `json:"metadata"`
	DataClassification string         `json:"data_classification"`
}

func decodeAuditLine(b []byte) (*AuditEvent, error) {
	var line auditLine
	if err := json.Unmarshal(b, &line); err != nil {
		return nil, err
	}
	if line.ID == "" {
		return nil, fmt.Errorf("audit line without id")
	}
	ts, err := date.Parse(line.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse audit timestamp: %w", err)
	}
	return &AuditEvent{
		ID:                 line.ID,
		Timestamp:          ts,
		OrgID:              line.OrgID,
		WorkspaceID:        line.WorkspaceID,
		UserID:             line.UserID,
		AgentID:            line.AgentID,
		SessionID:          line.SessionID,
		Action:             line.Action,
		Tool:               line.Tool,
		Parameters:         line.Parameters,
		Result:             line.Result,
		ErrorMessage:       line.ErrorMessage,
		Approval:           line.Approval,
		Metadata:           line.Metadata,
		DataClassification: line.DataClassification,
	}, nil
}

func (f QueryFilter) matches(ev *AuditEvent) bool {
	if f.OrgID != "" && ev.OrgID != f.OrgID {
		return false
	}
	if f.WorkspaceID != "" && ev.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if f.AgentID != "" && ev.AgentID != f.AgentID {
		return false
	}
	if f.Action != "" && ev.Action != f.Action {
		return false
	}
	if f.Result != "" && ev.Result != f.Result {
		return false
	}
	if !f.StartTime.IsZero() && ev.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && ev.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

func fieldExtractor(field string) (func(*AuditEvent) string, error) {
	switch field {
	case "user_id":
		return func(ev *AuditEvent) string { return ev.UserID }, nil
	case "org_id":
		return func(ev *AuditEvent) string { return ev.OrgID }, nil
	case "workspace_id":
		return func(ev *AuditEvent) string { return ev.WorkspaceID }, nil
	case "agent_id":
		return func(ev *AuditEvent) string { return ev.AgentID }, nil
	case "action":
		return func(ev *AuditEvent) string { return ev.Action }, nil
	case "result":
		return func(ev *AuditEvent) string { return string(ev.Result) }, nil
	case "tool":
		return func(ev *AuditEvent) string { return ev.Tool }, nil
	}
	return nil, fmt.Errorf("unsupported distinct field %q", field)
}
