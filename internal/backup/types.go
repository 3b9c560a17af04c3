// Package backup takes periodic JSON snapshots of the statistics ledger,
// verifies them, prunes them with a tiered retention policy and restores
// them into any ledger store.
package backup

import (
	"context"
	"time"

	"github.com/coder/quartz"

	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/pkg/types"
)

// Source supplies the ledger to back up.
type Source interface {
	Snapshot(ctx context.Context) (types.LedgerSnapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (types.LedgerSnapshot, error)

// Snapshot implements Source.
func (f SourceFunc) Snapshot(ctx context.Context) (types.LedgerSnapshot, error) {
	return f(ctx)
}

// StoreSource backs up whatever a ledger store last persisted.
func StoreSource(s storage.LedgerStore) Source {
	return SourceFunc(func(ctx context.Context) (types.LedgerSnapshot, error) {
		return s.Load(ctx)
	})
}

// TrackerSource backs up the in-memory ledger of a running tracker.
func TrackerSource(t interface{ Snapshot() types.LedgerSnapshot }) Source {
	return SourceFunc(func(context.Context) (types.LedgerSnapshot, error) {
		return t.Snapshot(), nil
	})
}

// BackupConfig holds backup service configuration.
type BackupConfig struct {
	// Source is the ledger to back up.
	Source Source

	// BackupDir is the directory where backups will be stored
	BackupDir string

	// Interval is the duration between automated backups (default: 1 hour)
	Interval time.Duration

	// Retention defines how many backups to keep at different intervals
	Retention RetentionPolicy

	// VerifyBackups re-reads each backup and compares it with the source
	// snapshot (default: false)
	VerifyBackups bool

	// Clock defaults to the real clock.
	Clock quartz.Clock
}

// RetentionPolicy defines how many backups to keep at each tier.
// Backups are categorized by age:
// - Hourly: backups less than 24 hours old
// - Daily: backups between 1-7 days old
// - Weekly: backups between 7-30 days old
// - Monthly: backups between 30-365 days old
type RetentionPolicy struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
}

// BackupInfo contains metadata about a backup file.
type BackupInfo struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// BackupResult contains the result of a backup operation.
type BackupResult struct {
	Path     string
	Duration time.Duration
	Size     int64
	Entities int
	Verified bool
	Error    error
}

// HealthStatus represents the health of the backup service.
type HealthStatus struct {
	// Status is the overall health status: "healthy" or "warning"
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	LastBackup    time.Time `json:"last_backup"`
	NextBackup    time.Time `json:"next_backup"`
	TotalBackups  int       `json:"total_backups"`
	BackupDir     string    `json:"backup_dir"`
	DiskSpaceUsed int64     `json:"disk_space_used"`
}
