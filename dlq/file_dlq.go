// ABOUTME: This file implements a JSON file-based dead letter queue for failed feed work
// ABOUTME: Records are written atomically into date directories with retention cleanup
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"news-collector/config"
)

// Stage names the pipeline step a record failed in.
type Stage string

const (
	StageFetch        Stage = "fetch"
	StageParse        Stage = "parse"
	StageCanonicalize Stage = "canonicalize"
	StageDedupe       Stage = "dedupe"
	StagePersist      Stage = "persist"
)

// Record is one dead-lettered payload. Payload holds whatever the failing
// stage was working on (a source, a raw entry) so operators can replay it.
type Record struct {
	ID        string         `json:"id"`
	SourceID  string         `json:"source_id"`
	Stage     Stage          `json:"stage"`
	ErrorKind string         `json:"error_kind"`
	Error     string         `json:"error"`
	Payload   any            `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Stats summarizes the on-disk queue.
type Stats struct {
	TotalRecords  int       `json:"total_records"`
	OldestFailure time.Time `json:"oldest_failure"`
	DiskUsage     int64     `json:"disk_usage_bytes"`
}

// FileDLQ persists records under basePath/records/YYYY-MM-DD/. Writes go
// through a temp file and rename so readers never see partial JSON.
type FileDLQ struct {
	config  config.DLQConfig
	counter uint64
	mu      sync.Mutex
	logger  *slog.Logger
}

func NewFileDLQ(cfg config.DLQConfig, logger *slog.Logger) *FileDLQ {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileDLQ{
		config: cfg,
		logger: logger,
	}
}

// Publish writes one record to disk. Failures to publish are logged and
// returned but must never abort the calling cycle.
func (q *FileDLQ) Publish(ctx context.Context, record Record) error {
	q.mu.Lock()
	q.counter++
	record.ID = fmt.Sprintf("dlq_%s_%06d", time.Now().Format("20060102"), q.counter)
	q.mu.Unlock()

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	if err := q.writeRecord(record); err != nil {
		q.logger.Error("dead letter publish failed",
			"record_id", record.ID,
			"source_id", record.SourceID,
			"stage", record.Stage,
			"error", err)
		return err
	}

	q.logger.Info("dead letter recorded",
		"record_id", record.ID,
		"source_id", record.SourceID,
		"stage", record.Stage,
		"error_kind", record.ErrorKind)
	return nil
}

func (q *FileDLQ) writeRecord(record Record) error {
	dateDir := record.Timestamp.Format("2006-01-02")
	dir := filepath.Join(q.config.BasePath, "records", dateDir)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create directory failed: %w", err)
	}

	targetPath := filepath.Join(dir, record.ID+".json")
	tempFile := targetPath + ".tmp"

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("write temp file failed: %w", err)
	}
	if err := os.Rename(tempFile, targetPath); err != nil {
		if cleanupErr := os.Remove(tempFile); cleanupErr != nil {
			q.logger.Warn("failed to cleanup temp file", "temp_file", tempFile, "error", cleanupErr)
		}
		return fmt.Errorf("rename file failed: %w", err)
	}
	return nil
}

// GetStats walks the queue directory and aggregates counts and sizes.
func (q *FileDLQ) GetStats() (Stats, error) {
	stats := Stats{}

	recordsDir := filepath.Join(q.config.BasePath, "records")
	if _, err := os.Stat(recordsDir); os.IsNotExist(err) {
		return stats, nil
	}

	err := filepath.Walk(recordsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".json" {
			stats.TotalRecords++
			stats.DiskUsage += info.Size()
			if stats.OldestFailure.IsZero() || info.ModTime().Before(stats.OldestFailure) {
				stats.OldestFailure = info.ModTime()
			}
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to calculate stats: %w", err)
	}
	return stats, nil
}

// StartCleanup runs retention cleanup once a day until the context ends.
func (q *FileDLQ) StartCleanup(ctx context.Context) {
	if !q.config.EnableCleanup {
		q.logger.Info("dead letter cleanup disabled")
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	q.logger.Info("dead letter cleanup started",
		"retention", q.config.Retention,
		"base_path", q.config.BasePath)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("dead letter cleanup stopped")
			return
		case <-ticker.C:
			if err := q.Cleanup(); err != nil {
				q.logger.Error("dead letter cleanup failed", "error", err)
			}
		}
	}
}

// Cleanup removes records older than the configured retention.
func (q *FileDLQ) Cleanup() error {
	cutoff := time.Now().Add(-q.config.Retention)
	removedCount := 0

	recordsDir := filepath.Join(q.config.BasePath, "records")
	if _, err := os.Stat(recordsDir); os.IsNotExist(err) {
		return nil
	}

	err := filepath.Walk(recordsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				q.logger.Warn("failed to remove old dead letter file", "file", path, "error", err)
				return nil
			}
			removedCount++
		}
		return nil
	})

	if removedCount > 0 {
		q.logger.Info("dead letter cleanup completed",
			"removed_files", removedCount,
			"cutoff", cutoff)
	}
	return err
}
