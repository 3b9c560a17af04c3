// Package jsonfile stores the ledger as a single JSON document.
//
// The document maps entity ids to {visits, total_time, last_seen,
// session_start}. Writes go through a temp file and rename so a reader never
// sees a partial ledger, and an advisory lock file keeps a second process
// from writing the same ledger.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/pkg/types"
)

const (
	backendName = "json"

	// LedgerFile is the ledger document name inside the data directory.
	LedgerFile = "ledger.json"

	lockFile = "ledger.lock"
)

// LedgerStore implements storage.LedgerStore on a JSON file.
type LedgerStore struct {
	path string
	lock *flock.Flock
}

var _ storage.LedgerStore = (*LedgerStore)(nil)

// NewLedgerStore opens the ledger in dataDir, creating the directory if
// needed. Returns storage.ErrLocked when another process holds the ledger.
func NewLedgerStore(dataDir string) (*LedgerStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, &storage.IOError{Op: "open", Backend: backendName, Err: err}
	}

	lock := flock.New(filepath.Join(dataDir, lockFile))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, &storage.IOError{Op: "lock", Backend: backendName, Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("json: %s: %w", dataDir, storage.ErrLocked)
	}

	return &LedgerStore{
		path: filepath.Join(dataDir, LedgerFile),
		lock: lock,
	}, nil
}

// Path returns the ledger file path.
func (s *LedgerStore) Path() string {
	return s.path
}

// Backend implements storage.LedgerStore.
func (s *LedgerStore) Backend() string {
	return backendName
}

// Load implements storage.LedgerStore.
func (s *LedgerStore) Load(ctx context.Context) (types.LedgerSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, &storage.IOError{Op: "load", Backend: backendName, Err: err}
	}
	return Decode(data)
}

// Save implements storage.LedgerStore. The file is replaced atomically.
func (s *LedgerStore) Save(ctx context.Context, snapshot types.LedgerSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(snapshot)
	if err != nil {
		return &storage.IOError{Op: "save", Backend: backendName, Err: err}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return &storage.IOError{Op: "save", Backend: backendName, Err: err}
	}
	return nil
}

// Close releases the ledger lock.
func (s *LedgerStore) Close() error {
	if s.lock == nil {
		return nil
	}
	if err := s.lock.Unlock(); err != nil {
		log.Printf("json: failed to release ledger lock: %v", err)
		return err
	}
	return nil
}

// Encode renders a snapshot in the persisted ledger format.
func Encode(snapshot types.LedgerSnapshot) ([]byte, error) {
	if snapshot == nil {
		snapshot = types.LedgerSnapshot{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses the persisted ledger format. Decoding and validation
// failures wrap storage.ErrCorrupt.
func Decode(data []byte) (types.LedgerSnapshot, error) {
	snap := types.LedgerSnapshot{}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("json: %w: empty document", storage.ErrCorrupt)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("json: %w: %v", storage.ErrCorrupt, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("json: %w: %v", storage.ErrCorrupt, err)
	}
	return snap, nil
}
