package config_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scrypster/dwell/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	_ = os.Unsetenv("DWELL_HOST")
	_ = os.Unsetenv("DWELL_GRACE_PERIOD")
	_ = os.Unsetenv("DWELL_DURATION_POLICY")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host,
		"Default host must be 127.0.0.1 for security")
	assert.Equal(t, 3*time.Second, cfg.Tracker.GracePeriod)
	assert.Equal(t, "last_seen", cfg.Tracker.DurationPolicy)
	assert.Equal(t, "unknown", cfg.Tracker.Unrecognized)
	assert.Equal(t, 256, cfg.Tracker.QueueSize)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DWELL_HOST", "0.0.0.0")
	t.Setenv("DWELL_GRACE_PERIOD", "5s")
	t.Setenv("DWELL_SWEEP_INTERVAL", "0.5")
	t.Setenv("DWELL_DURATION_POLICY", "sweep")
	t.Setenv("DWELL_UNRECOGNIZED_LABEL", "Desconhecido")
	t.Setenv("DWELL_ASYNC_SAVE", "YES")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 5*time.Second, cfg.Tracker.GracePeriod)
	assert.Equal(t, 500*time.Millisecond, cfg.Tracker.SweepInterval, "bare numbers are seconds")
	assert.Equal(t, "sweep", cfg.Tracker.DurationPolicy)
	assert.Equal(t, "Desconhecido", cfg.Tracker.Unrecognized)
	assert.True(t, cfg.Tracker.AsyncSave)
}

func TestLoadConfig_RejectsUnknownEngine(t *testing.T) {
	t.Setenv("DWELL_STORAGE_ENGINE", "mongo")
	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfig_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("DWELL_STORAGE_ENGINE", "postgres")
	t.Setenv("DWELL_POSTGRES_DSN", "")
	_, err := config.LoadConfig()
	assert.Error(t, err)
}

func TestValidate_ClampsOutOfRange(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.StorageEngine = "json"
	cfg.Tracker.DurationPolicy = "last_seen"
	cfg.Tracker.GracePeriod = -time.Second
	cfg.Tracker.QueueSize = -1

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Second, cfg.Tracker.GracePeriod)
	assert.Equal(t, 256, cfg.Tracker.QueueSize)
	assert.Equal(t, time.Second, cfg.Tracker.SweepInterval)
	assert.Equal(t, "unknown", cfg.Tracker.Unrecognized)
}

// TestSaveConfig_PersistsTunables verifies that SaveConfig writes the tracker
// tunables to the settings table.
func TestSaveConfig_PersistsTunables(t *testing.T) {
	db := openTestDB(t)
	defer func() { _ = db.Close() }()

	cfg := &config.Config{}
	cfg.Tracker.GracePeriod = 4 * time.Second
	cfg.Tracker.DurationPolicy = "sweep"

	require.NoError(t, cfg.SaveConfig(db))

	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = 'grace_period'").Scan(&value)
	require.NoError(t, err, "grace_period must be stored in settings table")
	assert.Equal(t, "4s", value)
}

// TestLoadConfigFromDB_DBOverridesEnvVar verifies that the database value
// takes precedence over the environment variable.
func TestLoadConfigFromDB_DBOverridesEnvVar(t *testing.T) {
	db := openTestDB(t)
	defer func() { _ = db.Close() }()

	t.Setenv("DWELL_GRACE_PERIOD", "10s")
	_, err := db.Exec(`INSERT INTO settings (key, value) VALUES ('grace_period', '2s')`)
	require.NoError(t, err)

	cfg, err := config.LoadConfigFromDB(db)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Tracker.GracePeriod,
		"Database value must take precedence over environment variable")
}

func TestLoadConfigFromDB_FallsBackToEnvVar(t *testing.T) {
	db := openTestDB(t)
	defer func() { _ = db.Close() }()

	t.Setenv("DWELL_DURATION_POLICY", "sweep")

	cfg, err := config.LoadConfigFromDB(db)
	require.NoError(t, err)
	assert.Equal(t, "sweep", cfg.Tracker.DurationPolicy,
		"Must fall back to env var when no DB entry exists")
}

func TestLoadConfigFromDB_IgnoresMalformedGrace(t *testing.T) {
	db := openTestDB(t)
	defer func() { _ = db.Close() }()

	_ = os.Unsetenv("DWELL_GRACE_PERIOD")
	_, err := db.Exec(`INSERT INTO settings (key, value) VALUES ('grace_period', 'soon')`)
	require.NoError(t, err)

	cfg, err := config.LoadConfigFromDB(db)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Tracker.GracePeriod)
}

// TestSaveConfig_UpdatesExistingEntry verifies upsert semantics.
func TestSaveConfig_UpdatesExistingEntry(t *testing.T) {
	db := openTestDB(t)
	defer func() { _ = db.Close() }()

	cfg := &config.Config{}
	cfg.Tracker.DurationPolicy = "last_seen"
	require.NoError(t, cfg.SaveConfig(db))

	cfg.Tracker.DurationPolicy = "sweep"
	require.NoError(t, cfg.SaveConfig(db))

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM settings WHERE key = 'duration_policy'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "Must have exactly one row for duration_policy")

	loaded, err := config.LoadConfigFromDB(db)
	require.NoError(t, err)
	assert.Equal(t, "sweep", loaded.Tracker.DurationPolicy)
}

func TestLoadConfigFromDB_NilDB(t *testing.T) {
	_, err := config.LoadConfigFromDB(nil)
	assert.Error(t, err)
}

func TestSaveConfig_NilDB(t *testing.T) {
	cfg := &config.Config{}
	assert.Error(t, cfg.SaveConfig(nil))
}

func TestLoadDotEnv_ExistingEnvWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DWELL_TEST_FROM_FILE=file\nDWELL_TEST_PRESET=file\n"), 0o600))

	t.Setenv("DWELL_DOTENV", "")
	t.Setenv("DWELL_TEST_PRESET", "env")
	t.Cleanup(func() { _ = os.Unsetenv("DWELL_TEST_FROM_FILE") })

	require.NoError(t, config.LoadDotEnv(dir))
	assert.Equal(t, "file", os.Getenv("DWELL_TEST_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("DWELL_TEST_PRESET"))
}

func TestLoadDotEnv_Disabled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DWELL_TEST_DISABLED=file\n"), 0o600))

	t.Setenv("DWELL_DOTENV", "off")
	require.NoError(t, config.LoadDotEnv(dir))
	assert.Empty(t, os.Getenv("DWELL_TEST_DISABLED"))
}

// openTestDB creates an in-memory SQLite database with the settings schema.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err, "Failed to open in-memory SQLite database")
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	require.NoError(t, err, "Failed to create settings table")

	return db
}
