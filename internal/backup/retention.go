package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// listBackups lists all backup files in the backup directory, newest first.
// The timestamp comes from the file name, or the modification time for
// files that were renamed.
func listBackups(backupDir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		ts, ok := parseBackupTime(entry.Name())
		if !ok {
			ts = info.ModTime()
		}

		backups = append(backups, BackupInfo{
			Path:      filepath.Join(backupDir, entry.Name()),
			Timestamp: ts,
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// applyRetention removes old backups according to the retention policy.
// It categorizes backups by age relative to now and keeps only the newest
// ones in each tier. Backups older than a year are always removed.
func applyRetention(backupDir string, policy RetentionPolicy, now time.Time) error {
	backups, err := listBackups(backupDir)
	if err != nil {
		return err
	}

	var toDelete []string
	tiers := make([][]BackupInfo, 4)
	limits := []int{policy.Hourly, policy.Daily, policy.Weekly, policy.Monthly}

	for _, b := range backups {
		switch age := now.Sub(b.Timestamp); {
		case age < 24*time.Hour:
			tiers[0] = append(tiers[0], b)
		case age < 7*24*time.Hour:
			tiers[1] = append(tiers[1], b)
		case age < 30*24*time.Hour:
			tiers[2] = append(tiers[2], b)
		case age < 365*24*time.Hour:
			tiers[3] = append(tiers[3], b)
		default:
			toDelete = append(toDelete, b.Path)
		}
	}

	for i, tier := range tiers {
		if len(tier) > limits[i] {
			for _, b := range tier[limits[i]:] {
				toDelete = append(toDelete, b.Path)
			}
		}
	}

	// Keep deleting after a failure.
	var lastErr error
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete some backups: %w", lastErr)
	}
	return nil
}

// calculateDiskUsage calculates total bytes used by all backups.
func calculateDiskUsage(backupDir string) (int64, error) {
	backups, err := listBackups(backupDir)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, b := range backups {
		total += b.Size
	}
	return total, nil
}
