package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/internal/storage/postgres"
	"github.com/scrypster/dwell/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If DWELL_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("DWELL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DWELL_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a store on a freshly truncated test database.
func newTestStore(t *testing.T) *postgres.LedgerStore {
	t.Helper()

	store, err := postgres.NewLedgerStore(postgresTestDSN(t))
	require.NoError(t, err, "NewLedgerStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))

	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestLedgerStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	seen := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)
	snap := types.LedgerSnapshot{
		"alice": {VisitCount: 2, TotalDwellSeconds: 1.5, LastSeenAt: &seen},
		"bob":   {VisitCount: 1},
	}
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Equal(loaded))
}

func TestLedgerStore_Departures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []types.EntityID{"alice", "bob", "alice"} {
		ev := types.DepartureEvent{
			Entity:     id,
			SessionID:  string(id) + "-" + time.Duration(i).String(),
			StartedAt:  base.Add(time.Duration(i*10) * time.Second),
			LastSeenAt: base.Add(time.Duration(i*10+1) * time.Second),
			DepartedAt: base.Add(time.Duration(i*10+5) * time.Second),
		}
		require.NoError(t, store.RecordDeparture(ctx, ev))
	}

	alice, err := store.ListDepartures(ctx, storage.DepartureQuery{Entity: "alice"})
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.True(t, alice[0].DepartedAt.After(alice[1].DepartedAt))
}

func TestLedgerStore_Settings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, "grace_period", "3s"))
	require.NoError(t, store.SetSetting(ctx, "grace_period", "4s"))

	v, ok, err := store.GetSetting(ctx, "grace_period")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4s", v)
}
