// Package sqlite provides a SQLite implementation of the ledger storage
// interfaces. The schema is applied from embedded migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/pkg/types"
)

const backendName = "sqlite"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// LedgerStore implements storage.LedgerStore and storage.DepartureRecorder
// using SQLite.
type LedgerStore struct {
	db *sql.DB
}

var (
	_ storage.LedgerStore       = (*LedgerStore)(nil)
	_ storage.DepartureRecorder = (*LedgerStore)(nil)
)

// NewLedgerStore opens a SQLite ledger with WAL self-healing.
// If the initial open fails due to stale WAL files (left behind by a crashed
// process), it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func NewLedgerStore(dsn string) (*LedgerStore, error) {
	store, err := openLedgerStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openLedgerStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

func openLedgerStore(dsn string) (*LedgerStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	s := &LedgerStore{db: db}
	if err := s.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// RunMigrations applies all pending embedded migrations.
func (s *LedgerStore) RunMigrations() error {
	mgr, err := storage.NewMigrationManager(s.db, migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: failed to create migration manager: %w", err)
	}
	n, err := mgr.Up()
	if err != nil {
		return fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}
	if n > 0 {
		log.Printf("sqlite: applied %d migrations", n)
	}
	return nil
}

// Backend implements storage.LedgerStore.
func (s *LedgerStore) Backend() string {
	return backendName
}

// GetDB returns the underlying database handle.
func (s *LedgerStore) GetDB() *sql.DB {
	return s.db
}

// Load implements storage.LedgerStore.
func (s *LedgerStore) Load(ctx context.Context) (types.LedgerSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, visits, total_time, last_seen, session_start
		FROM entity_stats
	`)
	if err != nil {
		return nil, &storage.IOError{Op: "load", Backend: backendName, Err: err}
	}
	defer rows.Close()

	snap := types.LedgerSnapshot{}
	for rows.Next() {
		var (
			id                     string
			stats                  types.EntityStats
			lastSeen, sessionStart sql.NullString
		)
		if err := rows.Scan(&id, &stats.VisitCount, &stats.TotalDwellSeconds, &lastSeen, &sessionStart); err != nil {
			return nil, &storage.IOError{Op: "load", Backend: backendName, Err: err}
		}
		if stats.LastSeenAt, err = parseNullTime(lastSeen); err != nil {
			return nil, fmt.Errorf("sqlite: %w: entity %q last_seen: %v", storage.ErrCorrupt, id, err)
		}
		if stats.CurrentSessionStartedAt, err = parseNullTime(sessionStart); err != nil {
			return nil, fmt.Errorf("sqlite: %w: entity %q session_start: %v", storage.ErrCorrupt, id, err)
		}
		snap[types.EntityID(id)] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.IOError{Op: "load", Backend: backendName, Err: err}
	}

	if len(snap) == 0 {
		return nil, storage.ErrNotFound
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("sqlite: %w: %v", storage.ErrCorrupt, err)
	}
	return snap, nil
}

// Save implements storage.LedgerStore. The ledger is replaced inside one
// transaction.
func (s *LedgerStore) Save(ctx context.Context, snapshot types.LedgerSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &storage.IOError{Op: "save", Backend: backendName, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM entity_stats"); err != nil {
		return &storage.IOError{Op: "save", Backend: backendName, Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entity_stats (entity_id, visits, total_time, last_seen, session_start, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return &storage.IOError{Op: "save", Backend: backendName, Err: err}
	}
	defer stmt.Close()

	for _, id := range snapshot.IDs() {
		stats := snapshot[id]
		if _, err := stmt.ExecContext(ctx, string(id), stats.VisitCount, stats.TotalDwellSeconds,
			formatNullTime(stats.LastSeenAt), formatNullTime(stats.CurrentSessionStartedAt)); err != nil {
			return &storage.IOError{Op: "save", Backend: backendName, Err: fmt.Errorf("entity %q: %w", id, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &storage.IOError{Op: "save", Backend: backendName, Err: err}
	}
	return nil
}

// RecordDeparture implements storage.DepartureRecorder.
func (s *LedgerStore) RecordDeparture(ctx context.Context, ev types.DepartureEvent) error {
	if ev.Entity.IsBlank() {
		return fmt.Errorf("%w: departure entity is required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO departures (session_id, entity_id, started_at, last_seen_at, departed_at, duration_seconds, total_seconds_after)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.SessionID, string(ev.Entity), formatTime(ev.StartedAt), formatTime(ev.LastSeenAt),
		formatTime(ev.DepartedAt), ev.DurationSeconds, ev.TotalSecondsAfter)
	if err != nil {
		return &storage.IOError{Op: "record", Backend: backendName, Err: err}
	}
	return nil
}

// ListDepartures implements storage.DepartureRecorder.
func (s *LedgerStore) ListDepartures(ctx context.Context, q storage.DepartureQuery) ([]types.DepartureEvent, error) {
	q.Normalize()

	var (
		where []string
		args  []interface{}
	)
	if q.Entity != "" {
		where = append(where, "entity_id = ?")
		args = append(args, string(q.Entity))
	}
	if !q.Since.IsZero() {
		where = append(where, "departed_at >= ?")
		args = append(args, formatTime(q.Since))
	}

	query := `
		SELECT session_id, entity_id, started_at, last_seen_at, departed_at, duration_seconds, total_seconds_after
		FROM departures`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY departed_at DESC, id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ListDepartures: %w", err)
	}
	defer rows.Close()

	var out []types.DepartureEvent
	for rows.Next() {
		var (
			ev                         types.DepartureEvent
			entity                     string
			started, lastSeen, departed string
		)
		if err := rows.Scan(&ev.SessionID, &entity, &started, &lastSeen, &departed,
			&ev.DurationSeconds, &ev.TotalSecondsAfter); err != nil {
			return nil, fmt.Errorf("sqlite: ListDepartures scan: %w", err)
		}
		ev.Entity = types.EntityID(entity)
		if ev.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("sqlite: ListDepartures: %w", err)
		}
		if ev.LastSeenAt, err = time.Parse(timeLayout, lastSeen); err != nil {
			return nil, fmt.Errorf("sqlite: ListDepartures: %w", err)
		}
		if ev.DepartedAt, err = time.Parse(timeLayout, departed); err != nil {
			return nil, fmt.Errorf("sqlite: ListDepartures: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetSetting returns a persisted setting; ok is false when the key is absent.
func (s *LedgerStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: GetSetting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a persisted setting.
func (s *LedgerStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: SetSetting %s: %w", key, err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *LedgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// dbPathFromDSN extracts the filesystem path from a DSN.
// Returns "" for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused by
// stale WAL files left behind after a crash.
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale reports whether -shm/-wal files exist for dbPath and no process
// holds them open. Returns false when lsof is unavailable.
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"
	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	output, err := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath).Output()
	if err != nil {
		// lsof exits 1 when no process has the files open.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
