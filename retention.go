package gatekeeper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oarkflow/gatekeeper/logger"
)

// ============================================================================
// RETENTION
// ============================================================================

// RetentionConfig is the constructor-level configuration surface.
type RetentionConfig struct {
	RetentionDays int
	ArchiveDir    string // when set, expired segments move here instead of being deleted
	DryRun        bool
}

// RetentionReport describes what one enforcement pass did (or, in dry-run
// mode, would have done).
type RetentionReport struct {
	Deleted  []string `json:"deleted"`
	Archived []string `json:"archived"`
	Kept     int      `json:"kept"`
	DryRun   bool     `json:"dry_run"`
}

// RetentionStats summarizes the current segment set.
type RetentionStats struct {
	Segments   int    `json:"segments"`
	OldestDate string `json:"oldest_date,omitempty"`
	NewestDate string `json:"newest_date,omitempty"`
	TotalBytes int64  `json:"total_bytes"`
}

// RetentionPolicy deletes or archives audit segments older than the
// retention window. Files without a parseable segment date are always kept.
type RetentionPolicy struct {
	cfg RetentionConfig
	log logger.Logger
	now func() time.Time
}

func NewRetentionPolicy(cfg RetentionConfig, log logger.Logger) *RetentionPolicy {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if log == nil {
		log = logger.NewOarkLogger()
	}
	return &RetentionPolicy{cfg: cfg, log: log, now: time.Now}
}

// Enforce applies the retention window to every segment in dir.
func (p *RetentionPolicy) Enforce(ctx context.Context, dir string) (*RetentionReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	cutoff := p.now().UTC().AddDate(0, 0, -p.cfg.RetentionDays).Truncate(24 * time.Hour)
	report := &RetentionReport{DryRun: p.cfg.DryRun}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if entry.IsDir() {
			continue
		}
		segDate, ok := SegmentDate(entry.Name())
		if !ok {
			report.Kept++
			continue
		}
		if !segDate.Before(cutoff) {
			report.Kept++
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if p.cfg.ArchiveDir != "" {
			if !p.cfg.DryRun {
				if err := p.archive(path, entry.Name()); err != nil {
					return report, err
				}
			}
			report.Archived = append(report.Archived, entry.Name())
			p.log.Info("audit segment archived", "segment", entry.Name(), "dry_run", p.cfg.DryRun)
		} else {
			if !p.cfg.DryRun {
				if err := os.Remove(path); err != nil {
					return report, fmt.Errorf("delete segment %s: %w", entry.Name(), err)
				}
			}
			report.Deleted = append(report.Deleted, entry.Name())
			p.log.Info("audit segment deleted", "segment", entry.Name(), "dry_run", p.cfg.DryRun)
		}
	}
	return report, nil
}

func (p *RetentionPolicy) archive(path, name string) error {
	if err := os.MkdirAll(p.cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	dest := filepath.Join(p.cfg.ArchiveDir, name)
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("archive segment %s: %w", name, err)
	}
	return nil
}

// Stats reports the segment count, date range and total size of dir.
func (p *RetentionPolicy) Stats(dir string) (*RetentionStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	stats := &RetentionStats{}
	var oldest, newest time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		segDate, ok := SegmentDate(entry.Name())
		if !ok {
			continue
		}
		stats.Segments++
		if oldest.IsZero() || segDate.Before(oldest) {
			oldest = segDate
		}
		if segDate.After(newest) {
			newest = segDate
		}
		if info, err := entry.Info(); err == nil {
			stats.TotalBytes += info.Size()
		}
	}
	if stats.Segments > 0 {
		stats.OldestDate = oldest.Format(segmentLayout)
		stats.NewestDate = newest.Format(segmentLayout)
	}
	return stats, nil
}

// TotalSize returns the combined size in bytes of every segment in dir.
func (p *RetentionPolicy) TotalSize(dir string) (int64, error) {
	stats, err := p.Stats(dir)
	if err != nil {
		return 0, err
	}
	return stats.TotalBytes, nil
}
