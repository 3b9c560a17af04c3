package backup

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/scrypster/dwell/internal/storage/jsonfile"
	"github.com/scrypster/dwell/pkg/types"
)

const (
	filePrefix      = "dwell-backup-"
	fileExt         = ".json"
	timestampLayout = "20060102-150405.000000"
)

// backupName returns the file name for a backup taken at t. Names sort in
// time order.
func backupName(t time.Time) string {
	return filePrefix + t.UTC().Format(timestampLayout) + fileExt
}

// parseBackupTime extracts the creation time from a backup file name.
func parseBackupTime(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
	t, err := time.ParseInLocation(timestampLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// writeSnapshot writes the ledger document atomically to path.
func writeSnapshot(path string, snap types.LedgerSnapshot) error {
	data, err := jsonfile.Encode(snap)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// readBackup parses a backup file with the same rules as the json ledger.
func readBackup(path string) (types.LedgerSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup %s: %w", filepath.Base(path), err)
	}
	return jsonfile.Decode(data)
}

// verifyBackup re-reads a backup and checks it matches want.
func verifyBackup(path string, want types.LedgerSnapshot) error {
	got, err := readBackup(path)
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return fmt.Errorf("backup %s does not match the source ledger", filepath.Base(path))
	}
	return nil
}
