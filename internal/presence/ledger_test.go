package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/dwell/pkg/types"
)

func TestLedger_GetOrInsertCreatesZeroRecordOnce(t *testing.T) {
	l := NewLedger()

	s := l.GetOrInsert("alice")
	require.NotNil(t, s)
	assert.Equal(t, types.EntityStats{}, *s)

	s.VisitCount = 2
	assert.Same(t, s, l.GetOrInsert("alice"))
	assert.Equal(t, 1, l.Len())
}

func TestLedger_GetDoesNotInsert(t *testing.T) {
	l := NewLedger()
	_, ok := l.Get("alice")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}

func TestLedger_FromSnapshotIsDetached(t *testing.T) {
	seen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := types.LedgerSnapshot{"bob": {VisitCount: 1, LastSeenAt: &seen}}

	l := NewLedgerFrom(snap)
	l.GetOrInsert("bob").VisitCount = 9

	assert.Equal(t, 1, snap["bob"].VisitCount)
	got, _ := l.Get("bob")
	assert.Equal(t, 9, got.VisitCount)
	assert.Equal(t, []types.EntityID{"bob"}, l.IDs())
}

func TestSessionStore_OpenIsIdempotentPerEntity(t *testing.T) {
	s := NewSessionStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first, created := s.Open("alice", now)
	require.True(t, created)
	second, created := s.Open("alice", now.Add(time.Second))
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, 1, s.Len())

	closed, ok := s.Close("alice")
	require.True(t, ok)
	assert.Equal(t, first.ID, closed.ID)
	_, ok = s.Close("alice")
	assert.False(t, ok)
}

func TestSessionStore_ListOrdersByStart(t *testing.T) {
	s := NewSessionStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Open("carol", now.Add(2*time.Second))
	s.Open("bob", now)
	s.Open("alice", now)

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, types.EntityID("alice"), list[0].Entity)
	assert.Equal(t, types.EntityID("bob"), list[1].Entity)
	assert.Equal(t, types.EntityID("carol"), list[2].Entity)
}
