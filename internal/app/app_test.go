package app_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/dwell/internal/app"
	"github.com/scrypster/dwell/internal/catalog"
	"github.com/scrypster/dwell/internal/config"
	"github.com/scrypster/dwell/internal/engine"
	"github.com/scrypster/dwell/internal/presence"
	"github.com/scrypster/dwell/internal/storage/jsonfile"
	"github.com/scrypster/dwell/pkg/types"
)

func testConfig(t *testing.T, engineName string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.StorageEngine = engineName
	cfg.Storage.DataPath = filepath.Join(dir, "data")
	cfg.Tracker.DurationPolicy = "last_seen"
	cfg.Tracker.GracePeriod = 3 * time.Second
	cfg.Tracker.CatalogPath = filepath.Join(dir, "pics")
	cfg.Feed.Source = app.SourceWatch
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpenStore_Backends(t *testing.T) {
	for _, name := range []string{"json", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t, name)
			store, err := app.OpenStore(cfg)
			require.NoError(t, err)
			defer func() { _ = store.Close() }()

			assert.Equal(t, name, store.Backend())
			assert.DirExists(t, cfg.Storage.DataPath)
		})
	}
}

func TestOpenStore_UnknownEngine(t *testing.T) {
	cfg := testConfig(t, "json")
	cfg.Storage.StorageEngine = "mongo"
	_, err := app.OpenStore(cfg)
	assert.Error(t, err)
}

func TestApplyStoredSettings_SQLiteOverridesTunables(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	store, err := app.OpenStore(cfg)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	settings, ok := store.(config.SettingsStore)
	require.True(t, ok)
	require.NoError(t, settings.SetSetting(context.Background(), config.SettingGracePeriod, "7s"))

	merged, err := app.ApplyStoredSettings(context.Background(), cfg, store)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, merged.Tracker.GracePeriod)
	assert.Equal(t, cfg.Storage.DataPath, merged.Storage.DataPath)
}

func TestApplyStoredSettings_JSONStoreUnchanged(t *testing.T) {
	cfg := testConfig(t, "json")
	store, err := app.OpenStore(cfg)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	merged, err := app.ApplyStoredSettings(context.Background(), cfg, store)
	require.NoError(t, err)
	assert.Same(t, cfg, merged)
}

func TestLoadCatalog_MissingPathIsEmpty(t *testing.T) {
	cfg := testConfig(t, "json")
	cat, err := app.LoadCatalog(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())
}

func TestEngineConfig_SourceModes(t *testing.T) {
	cfg := testConfig(t, "json")
	cfg.Tracker.SweepInterval = 2 * time.Second

	live, err := app.EngineConfig(cfg)
	require.NoError(t, err)
	assert.True(t, live.RestampTicks)
	assert.Equal(t, 2*time.Second, live.SweepInterval)
	assert.Equal(t, presence.DurationToLastSeen, live.Tracker.DurationPolicy)

	cfg.Feed.Source = "ticks.jsonl"
	replay, err := app.EngineConfig(cfg)
	require.NoError(t, err)
	assert.False(t, replay.RestampTicks)
	assert.Zero(t, replay.SweepInterval)
}

func TestEngineConfig_BadPolicy(t *testing.T) {
	cfg := testConfig(t, "json")
	cfg.Tracker.DurationPolicy = "forever"
	_, err := app.EngineConfig(cfg)
	assert.Error(t, err)
}

// TestRunFeed_ReplayFileIntoJSONLedger replays a recorded feed end to end:
// alice is seen at 0s and 1s, then only at 5s, which is past the 3s grace.
func TestRunFeed_ReplayFileIntoJSONLedger(t *testing.T) {
	cfg := testConfig(t, "json")
	require.NoError(t, os.MkdirAll(cfg.Tracker.CatalogPath, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Tracker.CatalogPath, "alice.jpg"), []byte("img"), 0o600))

	lines := []string{
		`{"at":"2024-01-01T00:00:00Z","detected":["alice","unknown"]}`,
		`{"at":"2024-01-01T00:00:01Z","detected":["alice"]}`,
		`{"at":"2024-01-01T00:00:05Z","detected":[]}`,
	}
	feedPath := filepath.Join(t.TempDir(), "ticks.jsonl")
	require.NoError(t, os.WriteFile(feedPath, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	cfg.Feed.Source = feedPath

	ctx := context.Background()
	store, err := app.OpenStore(cfg)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	cat, err := app.LoadCatalog(cfg)
	require.NoError(t, err)
	ec, err := app.EngineConfig(cfg)
	require.NoError(t, err)

	eng, err := engine.NewPresenceEngine(ctx, ec, cat, store)
	require.NoError(t, err)
	require.NoError(t, eng.Start(ctx))

	require.NoError(t, app.RunFeed(ctx, cfg, eng, nil))
	require.NoError(t, eng.Shutdown(ctx))
	// Shutdown leaves the store open; release its lock before reopening.
	require.NoError(t, store.Close())

	reopened, err := jsonfile.NewLedgerStore(cfg.Storage.DataPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	snap, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, snap, types.EntityID("alice"))
	assert.Equal(t, 1, snap["alice"].VisitCount)
	assert.InDelta(t, 1.0, snap["alice"].TotalDwellSeconds, 1e-9)
	assert.NotContains(t, snap, types.EntityID("unknown"))
}

func TestRunFeed_MissingFile(t *testing.T) {
	cfg := testConfig(t, "json")
	cfg.Feed.Source = filepath.Join(t.TempDir(), "absent.jsonl")
	store, err := app.OpenStore(cfg)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ec, err := app.EngineConfig(cfg)
	require.NoError(t, err)
	eng, err := engine.NewPresenceEngine(context.Background(), ec, catalog.New(types.Unrecognized), store)
	require.NoError(t, err)

	assert.Error(t, app.RunFeed(context.Background(), cfg, eng, nil))
}

func TestBackupConfig_ParsesInterval(t *testing.T) {
	cfg := testConfig(t, "json")
	cfg.Backup.BackupPath = t.TempDir()
	cfg.Backup.BackupInterval = "30m"
	cfg.Backup.BackupRetentionDaily = 3

	bc := app.BackupConfig(cfg, nil)
	assert.Equal(t, 30*time.Minute, bc.Interval)
	assert.Equal(t, 3, bc.Retention.Daily)

	cfg.Backup.BackupInterval = "often"
	assert.Zero(t, app.BackupConfig(cfg, nil).Interval)
}
