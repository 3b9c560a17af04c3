package catalog_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/dwell/internal/catalog"
	"github.com/scrypster/dwell/pkg/types"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o600))
}

func TestLoadDir_EnrolsImageStems(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "alice.jpg"))
	touch(t, filepath.Join(dir, "bob.PNG"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, ".hidden.jpg"))
	touch(t, filepath.Join(dir, "unknown.jpg"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "carol.jpg"), 0o700))

	c, err := catalog.Load(dir, types.Unrecognized)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Contains("alice"))
	assert.True(t, c.Contains("bob"))
	assert.False(t, c.Contains("notes"))
	assert.False(t, c.Contains(types.Unrecognized), "sentinel must never be enrolled")
	assert.False(t, c.Contains("carol"))

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, filepath.Join(dir, "alice.jpg"), entries[0].Source)
}

func TestLoadDir_EmptyDirectoryIsValid(t *testing.T) {
	c, err := catalog.LoadDir(t.TempDir(), types.Unrecognized)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Contains("alice"))
}

func TestLoadFile_YAMLRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	roster := `
entities:
  - id: alice
    display_name: Alice Souza
  - id: bob
  - id: alice
    display_name: Duplicate
  - id: Desconhecido
  - id: "  "
`
	require.NoError(t, os.WriteFile(path, []byte(roster), 0o600))

	c, err := catalog.Load(path, "Desconhecido")
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "Alice Souza", c.DisplayName("alice"))
	assert.Equal(t, "bob", c.DisplayName("bob"))
	assert.False(t, c.Contains("Desconhecido"))
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities: [unterminated"), 0o600))

	_, err := catalog.LoadFile(path, types.Unrecognized)
	assert.Error(t, err)
}

func TestLoad_MissingPath(t *testing.T) {
	_, err := catalog.Load(filepath.Join(t.TempDir(), "nope"), types.Unrecognized)
	assert.True(t, errors.Is(err, catalog.ErrNoCatalog))
}

func TestNew_DropsUntrackable(t *testing.T) {
	c := catalog.New(types.Unrecognized, "alice", "", types.Unrecognized)
	assert.Equal(t, 1, c.Len())

	var nilCatalog *catalog.Catalog
	assert.False(t, nilCatalog.Contains("alice"))
	assert.Equal(t, 0, nilCatalog.Len())
}
