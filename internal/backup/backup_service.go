package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/pkg/types"
)

// BackupService handles automated ledger backups with verification and retention.
type BackupService struct {
	source        Source
	backupDir     string
	interval      time.Duration
	retention     RetentionPolicy
	verifyBackups bool
	clock         quartz.Clock

	mu             sync.Mutex
	running        bool
	stopCh         chan struct{}
	lastBackupTime time.Time
	nextBackupTime time.Time
}

// NewBackupService creates a new backup service with the given configuration.
func NewBackupService(config BackupConfig) (*BackupService, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("backup source is required")
	}
	if config.BackupDir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Clock == nil {
		config.Clock = quartz.NewReal()
	}

	if config.Retention.Hourly == 0 {
		config.Retention.Hourly = 24
	}
	if config.Retention.Daily == 0 {
		config.Retention.Daily = 7
	}
	if config.Retention.Weekly == 0 {
		config.Retention.Weekly = 4
	}
	if config.Retention.Monthly == 0 {
		config.Retention.Monthly = 12
	}

	if err := os.MkdirAll(config.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &BackupService{
		source:        config.Source,
		backupDir:     config.BackupDir,
		interval:      config.Interval,
		retention:     config.Retention,
		verifyBackups: config.VerifyBackups,
		clock:         config.Clock,
		stopCh:        make(chan struct{}),
	}, nil
}

// Start runs scheduled backups until ctx is cancelled or Stop is called.
// It blocks; run it on its own goroutine.
func (s *BackupService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup service is already running")
	}
	s.running = true
	s.nextBackupTime = s.clock.Now().Add(s.interval)
	stopCh := s.stopCh
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.interval, "backup")
	defer ticker.Stop()

	log.Printf("backup: service started: interval=%v, backup_dir=%s", s.interval, s.backupDir)

	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			return ctx.Err()

		case <-stopCh:
			return nil

		case <-ticker.C:
			result, err := s.BackupNow(ctx)
			if err != nil {
				log.Printf("ERROR: backup: scheduled backup failed: %v", err)
			} else {
				log.Printf("backup: scheduled backup completed: path=%s, entities=%d, size=%d bytes, duration=%v, verified=%v",
					result.Path, result.Entities, result.Size, result.Duration, result.Verified)
			}

			s.mu.Lock()
			s.nextBackupTime = s.clock.Now().Add(s.interval)
			s.mu.Unlock()
		}
	}
}

func (s *BackupService) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Stop stops the backup service gracefully.
func (s *BackupService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("backup service is not running")
	}

	close(s.stopCh)
	s.stopCh = make(chan struct{})
	s.running = false
	return nil
}

// BackupNow snapshots the source ledger into a timestamped file, optionally
// verifies it, and applies the retention policy.
func (s *BackupService) BackupNow(ctx context.Context) (*BackupResult, error) {
	start := s.clock.Now()

	snap, err := s.source.Snapshot(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		snap, err = types.LedgerSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	backupPath := filepath.Join(s.backupDir, backupName(start))
	result := &BackupResult{Path: backupPath, Entities: len(snap)}

	if err := writeSnapshot(backupPath, snap); err != nil {
		result.Duration = s.clock.Since(start)
		result.Error = err
		return result, err
	}

	info, err := os.Stat(backupPath)
	if err != nil {
		result.Error = fmt.Errorf("failed to stat backup: %w", err)
		return result, result.Error
	}
	result.Size = info.Size()

	if s.verifyBackups {
		if err := verifyBackup(backupPath, snap); err != nil {
			result.Error = fmt.Errorf("backup verification failed: %w", err)
			return result, result.Error
		}
		result.Verified = true
	}
	result.Duration = s.clock.Since(start)

	s.mu.Lock()
	s.lastBackupTime = s.clock.Now()
	s.mu.Unlock()

	// Retention errors do not fail the backup.
	if err := applyRetention(s.backupDir, s.retention, s.clock.Now()); err != nil {
		log.Printf("WARNING: backup: failed to apply retention policy: %v", err)
	}

	return result, nil
}

// ListBackups lists all available backups, newest first.
func (s *BackupService) ListBackups() ([]BackupInfo, error) {
	return listBackups(s.backupDir)
}

// RestoreBackup replaces the ledger in target with the contents of a backup
// file. If the save fails, the previous ledger is written back. Scheduled
// backups must be stopped first.
func (s *BackupService) RestoreBackup(ctx context.Context, backupPath string, target storage.LedgerStore) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("cannot restore while backup service is running")
	}

	return Restore(ctx, backupPath, target)
}

// Restore writes the ledger from backupPath into target.
func Restore(ctx context.Context, backupPath string, target storage.LedgerStore) error {
	snap, err := readBackup(backupPath)
	if err != nil {
		return fmt.Errorf("backup verification failed: %w", err)
	}

	previous, prevErr := target.Load(ctx)

	if err := target.Save(ctx, snap); err != nil {
		if prevErr == nil {
			if rollbackErr := target.Save(ctx, previous); rollbackErr != nil {
				return fmt.Errorf("restore failed and rollback failed: %v (restore error: %w)", rollbackErr, err)
			}
			return fmt.Errorf("restore failed, rolled back to previous state: %w", err)
		}
		return fmt.Errorf("restore failed: %w", err)
	}

	log.Printf("backup: ledger restored from %s (%d entities) into %s store", backupPath, len(snap), target.Backend())
	return nil
}

// HealthCheck returns the current health status of the backup service.
func (s *BackupService) HealthCheck() (*HealthStatus, error) {
	s.mu.Lock()
	lastBackup := s.lastBackupTime
	nextBackup := s.nextBackupTime
	s.mu.Unlock()

	backups, err := s.ListBackups()
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	diskUsage, err := calculateDiskUsage(s.backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate disk usage: %w", err)
	}

	status := &HealthStatus{
		LastBackup:    lastBackup,
		NextBackup:    nextBackup,
		TotalBackups:  len(backups),
		BackupDir:     s.backupDir,
		DiskSpaceUsed: diskUsage,
		Status:        "healthy",
	}

	since := s.clock.Since(lastBackup)
	switch {
	case lastBackup.IsZero():
		status.Message = "No backups yet"
	case since > s.interval*2:
		status.Status = "warning"
		status.Message = fmt.Sprintf("Backup overdue by %v", since-s.interval)
	default:
		status.Message = fmt.Sprintf("Last backup: %v ago", since.Round(time.Minute))
	}

	return status, nil
}
