package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recordedFeed = `{"at":"2024-01-01T00:00:00Z","detected":["alice","unknown"]}
{"at":"2024-01-01T00:00:02Z","detected":["alice","bob"]}
# bob is never seen again
{"at":"2024-01-01T00:00:06Z","detected":[]}
`

type env struct {
	dataPath string
	feedPath string
}

// setupEnv points the configuration at a scratch directory with a two-entity
// catalog and a recorded feed.
func setupEnv(t *testing.T, storageEngine string) env {
	t.Helper()
	dir := t.TempDir()

	pics := filepath.Join(dir, "pics")
	require.NoError(t, os.MkdirAll(pics, 0o700))
	for _, name := range []string{"alice.jpg", "bob.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(pics, name), []byte("img"), 0o600))
	}
	feedPath := filepath.Join(dir, "ticks.jsonl")
	require.NoError(t, os.WriteFile(feedPath, []byte(recordedFeed), 0o600))

	e := env{dataPath: filepath.Join(dir, "data"), feedPath: feedPath}
	t.Setenv("DWELL_DOTENV", "off")
	t.Setenv("DWELL_STORAGE_ENGINE", storageEngine)
	t.Setenv("DWELL_DATA_PATH", e.dataPath)
	t.Setenv("DWELL_CATALOG_PATH", pics)
	t.Setenv("DWELL_BACKUP_PATH", filepath.Join(dir, "backups"))
	t.Setenv("DWELL_GRACE_PERIOD", "3s")
	t.Setenv("DWELL_DURATION_POLICY", "last_seen")
	return e
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReplay_PrintsDepartures(t *testing.T) {
	e := setupEnv(t, "json")

	out, err := execute(t, "", "replay", e.feedPath)
	require.NoError(t, err)
	assert.Contains(t, out, "alice stayed 2.00s - total 2.00s")
	assert.Contains(t, out, "bob stayed 0.00s - total 0.00s")
	assert.Contains(t, out, "replayed 3 ticks: 2 arrivals, 2 departures, 0 still present")

	// A scratch replay leaves the configured ledger untouched.
	_, err = os.Stat(filepath.Join(e.dataPath, "ledger.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestReplay_StdinPersistThenStats(t *testing.T) {
	setupEnv(t, "json")

	_, err := execute(t, recordedFeed, "replay", "--persist", "-")
	require.NoError(t, err)

	out, err := execute(t, "", "stats")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ENTITY")
	assert.Contains(t, lines[1], "alice")
	assert.Contains(t, lines[1], "2.00s")
	assert.Contains(t, lines[2], "bob")

	out, err = execute(t, "", "stats", "alice", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"visits": 1`)
	assert.NotContains(t, out, "bob")

	_, err = execute(t, "", "stats", "carol")
	assert.Error(t, err)
}

func TestReplay_MissingFeed(t *testing.T) {
	e := setupEnv(t, "json")
	_, err := execute(t, "", "replay", filepath.Join(filepath.Dir(e.feedPath), "absent.jsonl"))
	assert.Error(t, err)
}

func TestVisits_SQLiteHistory(t *testing.T) {
	e := setupEnv(t, "sqlite")

	_, err := execute(t, "", "replay", "--persist", e.feedPath)
	require.NoError(t, err)

	out, err := execute(t, "", "visits", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-01-01T00:00:00Z")
	assert.Contains(t, out, "2.00s")
}

func TestVisits_JSONHasNoHistory(t *testing.T) {
	setupEnv(t, "json")
	_, err := execute(t, "", "visits", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeps no visit history")
}

func TestInject_WritesDetectionFile(t *testing.T) {
	e := setupEnv(t, "json")

	out, err := execute(t, "", "inject", "alice", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "queued detection of 2 ids")

	files, err := os.ReadDir(filepath.Join(e.dataPath, "detections"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(filepath.Join(e.dataPath, "detections", files[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"alice"`)
}

func TestBackup_NowListRestore(t *testing.T) {
	setupEnv(t, "json")

	_, err := execute(t, recordedFeed, "replay", "--persist", "-")
	require.NoError(t, err)

	out, err := execute(t, "", "backup", "now")
	require.NoError(t, err)
	assert.Contains(t, out, "2 entities")
	assert.Contains(t, out, "verified=true")

	out, err = execute(t, "", "backup", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[1])
	backupPath := fields[len(fields)-1]
	assert.FileExists(t, backupPath)

	out, err = execute(t, "", "backup", "restore", backupPath)
	require.NoError(t, err)
	assert.Contains(t, out, "into the json ledger")

	out, err = execute(t, "", "backup", "health")
	require.NoError(t, err)
	assert.Contains(t, out, `"total_backups": 1`)
}

func TestSettings_SetAndShow(t *testing.T) {
	setupEnv(t, "sqlite")

	_, err := execute(t, "", "settings", "set", "--grace", "5s", "--policy", "sweep")
	require.NoError(t, err)

	out, err := execute(t, "", "settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "grace_period=5s")
	assert.Contains(t, out, "duration_policy=sweep")

	_, err = execute(t, "", "settings", "set", "--policy", "forever")
	assert.Error(t, err)
}

func TestSettings_JSONHasNoTable(t *testing.T) {
	setupEnv(t, "json")
	_, err := execute(t, "", "settings", "set")
	assert.Error(t, err)
}
