package gatekeeper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/gatekeeper/logger"
)

// ============================================================================
// AUDIT LOG
// ============================================================================

// AuditResult is the outcome recorded for an audited action.
type AuditResult string

const (
	ResultSuccess         AuditResult = "success"
	ResultFailure         AuditResult = "failure"
	ResultPendingApproval AuditResult = "pending_approval"
	ResultDenied          AuditResult = "denied"
)

// ApprovalStamp ties an audit event to the approval request it concerns.
type ApprovalStamp struct {
	RequestID string        `json:"request_id"`
	State     ApprovalState `json:"state"`
}

// AuditEvent is one immutable audit trail entry: one JSON object per line on
// disk, grouped into daily segments named by UTC date.
type AuditEvent struct {
	ID                 string         `json:"id"`
	Timestamp          time.Time      `json:"timestamp"`
	OrgID              string         `json:"org_id"`
	WorkspaceID        string         `json:"workspace_id,omitempty"`
	UserID             string         `json:"user_id,omitempty"`
	AgentID            string         `json:"agent_id,omitempty"`
	SessionID          string         `json:"session_id,omitempty"`
	Action             string         `json:"action"`
	Tool               string         `json:"tool,omitempty"`
	Parameters         map[string]any `json:"parameters,omitempty"`
	Result             AuditResult    `json:"result"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Approval           *ApprovalStamp `json:"approval,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	DataClassification string         `json:"data_classification,omitempty"`
}

const (
	segmentPrefix = "audit-"
	segmentSuffix = ".jsonl"
	segmentLayout = "2006-01-02"
)

// SegmentName returns the filename for the segment holding the given UTC date.
func SegmentName(t time.Time) string {
	return segmentPrefix + t.UTC().Format(segmentLayout) + segmentSuffix
}

// SegmentDate parses the embedded date out of a segment filename. ok is false
// for filenames that do not follow the segment convention.
func SegmentDate(name string) (time.Time, bool) {
	if len(name) != len(segmentPrefix)+len(segmentLayout)+len(segmentSuffix) {
		return time.Time{}, false
	}
	if name[:len(segmentPrefix)] != segmentPrefix || name[len(name)-len(segmentSuffix):] != segmentSuffix {
		return time.Time{}, false
	}
	t, err := time.Parse(segmentLayout, name[len(segmentPrefix):len(name)-len(segmentSuffix)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AuditLoggerConfig is the constructor-level configuration surface.
type AuditLoggerConfig struct {
	Dir           string
	FlushInterval time.Duration
	MaxBufferSize int
	RedactPII     bool
}

// AuditLogger buffers audit events in memory and appends them to date-named
// NDJSON segments. Flush forces a durability barrier: events reported flushed
// survive a process crash. Log never blocks on disk; a full buffer triggers
// one asynchronous flush, and the periodic ticker retries anything a failed
// flush left behind.
type AuditLogger struct {
	cfg      AuditLoggerConfig
	redactor *PIIRedactor
	log      logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	buf      []*AuditEvent
	flushing bool
	closed   bool

	fileMu   sync.Mutex
	file     *os.File
	fileDate string

	done chan struct{}
	wg   sync.WaitGroup
}

func NewAuditLogger(cfg AuditLoggerConfig, opts ...AuditLoggerOption) (*AuditLogger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	l := &AuditLogger{
		cfg:  cfg,
		log:  logger.NewOarkLogger(),
		now:  time.Now,
		done: make(chan struct{}),
	}
	if cfg.RedactPII {
		l.redactor = NewPIIRedactor()
	}
	for _, opt := range opts {
		opt(l)
	}
	l.wg.Add(1)
	go l.flushLoop()
	return l, nil
}

// AuditLoggerOption customizes an AuditLogger at construction.
type AuditLoggerOption func(*AuditLogger)

// WithAuditLoggerLogger installs a diagnostics logger.
func WithAuditLoggerLogger(log logger.Logger) AuditLoggerOption {
	return func(l *AuditLogger) { l.log = log }
}

// WithRedactor installs a customized redactor (implies redaction on).
func WithRedactor(r *PIIRedactor) AuditLoggerOption {
	return func(l *AuditLogger) { l.redactor = r }
}

// Log stamps, redacts and buffers one event. It never returns disk errors:
// a full buffer triggers a background flush whose failure is logged and whose
// events are retained for the next ticker retry.
func (l *AuditLogger) Log(event *AuditEvent) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if l.redactor != nil && event.Parameters != nil {
		event.Parameters = l.redactor.RedactMap(event.Parameters)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Error("audit event dropped after close", "event_id", event.ID)
		return
	}
	l.buf = append(l.buf, event)
	trigger := len(l.buf) >= l.cfg.MaxBufferSize && !l.flushing
	if trigger {
		l.flushing = true
	}
	l.mu.Unlock()

	if trigger {
		go l.backgroundFlush()
	}
}

func (l *AuditLogger) backgroundFlush() {
	err := l.Flush(context.Background())
	l.mu.Lock()
	l.flushing = false
	l.mu.Unlock()
	if err != nil {
		l.log.Error("audit flush failed, events retained", "error", err.Error())
	}
}

// Flush writes every buffered event to its UTC-date segment and syncs the
// file before returning. On failure the unwritten tail goes back on the
// buffer for a later retry.
func (l *AuditLogger) Flush(ctx context.Context) error {
	l.mu.Lock()
	events := l.buf
	l.buf = nil
	l.mu.Unlock()
	if len(events) == 0 {
		return nil
	}

	written, err := l.writeEvents(ctx, events)
	if written < len(events) {
		l.mu.Lock()
		l.buf = append(events[written:], l.buf...)
		l.mu.Unlock()
	}
	return err
}

// writeEvents appends events as NDJSON, rotating segments when the UTC date
// changes, and syncs the active file. Returns how many events are durable:
// the count advances only at fsync points, so a written-but-unsynced event
// always goes back on the retry buffer (re-delivery over loss on power
// failure).
func (l *AuditLogger) writeEvents(ctx context.Context, events []*AuditEvent) (int, error) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	synced, written := 0, 0
	barrier := func() {
		if written > synced && l.file != nil && l.file.Sync() == nil {
			synced = written
		}
	}
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			barrier()
			return synced, err
		}
		date := ev.Timestamp.UTC().Format(segmentLayout)
		if err := l.ensureSegment(date); err != nil {
			return synced, err
		}
		line, err := json.Marshal(ev)
		if err != nil {
			// unserializable event: drop it rather than wedge the buffer
			l.log.Error("audit event not serializable", "event_id", ev.ID, "error", err.Error())
		} else if _, err := l.file.Write(append(line, '\n')); err != nil {
			barrier()
			return synced, fmt.Errorf("append audit segment: %w", err)
		}
		written = i + 1
		if i == len(events)-1 || events[i+1].Timestamp.UTC().Format(segmentLayout) != date {
			if err := l.file.Sync(); err != nil {
				return synced, fmt.Errorf("sync audit segment: %w", err)
			}
			synced = written
		}
	}
	return synced, nil
}

// ensureSegment rotates the open file to the segment for date. Caller holds
// fileMu.
func (l *AuditLogger) ensureSegment(date string) error {
	if l.file != nil && l.fileDate == date {
		return nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			l.log.Error("close audit segment", "error", err.Error())
		}
		l.file = nil
	}
	path := filepath.Join(l.cfg.Dir, segmentPrefix+date+segmentSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit segment: %w", err)
	}
	l.file = f
	l.fileDate = date
	return nil
}

// flushLoop is the periodic flush ticker. It holds no resources that keep an
// idle process alive and stops when Close closes done.
func (l *AuditLogger) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.Flush(context.Background()); err != nil {
				l.log.Error("periodic audit flush failed", "error", err.Error())
			}
		case <-l.done:
			return
		}
	}
}

// Close stops the flush ticker, flushes remaining events and closes the
// active segment.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()

	flushErr := l.Flush(context.Background())

	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file != nil {
		if err := l.file.Close(); err != nil && flushErr == nil {
			flushErr = fmt.Errorf("close audit segment: %w", err)
		}
		l.file = nil
	}
	return flushErr
}

// BufferedEvents reports how many events await the next flush.
func (l *AuditLogger) BufferedEvents() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}
