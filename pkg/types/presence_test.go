package types_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/dwell/pkg/types"
)

func TestIsTrackable(t *testing.T) {
	tests := []struct {
		name         string
		id           types.EntityID
		unrecognized types.EntityID
		want         bool
	}{
		{"known name", "alice", "", true},
		{"blank", "", "", false},
		{"whitespace", "  ", "", false},
		{"default sentinel", types.Unrecognized, "", false},
		{"custom sentinel", "Desconhecido", "Desconhecido", false},
		{"default sentinel with custom configured", types.Unrecognized, "Desconhecido", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, types.IsTrackable(tt.id, tt.unrecognized))
		})
	}
}

func TestEntityStats_CloneDoesNotShareTimestamps(t *testing.T) {
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orig := types.EntityStats{VisitCount: 2, TotalDwellSeconds: 12.5, LastSeenAt: &seen}

	clone := orig.Clone()
	*clone.LastSeenAt = seen.Add(time.Hour)

	assert.True(t, orig.LastSeenAt.Equal(seen), "mutating the clone must not change the original")
	assert.Nil(t, clone.CurrentSessionStartedAt)
}

func TestEntityStats_JSONFieldNames(t *testing.T) {
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stats := types.EntityStats{VisitCount: 3, TotalDwellSeconds: 4.25, LastSeenAt: &seen}

	data, err := json.Marshal(stats)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(3), raw["visits"])
	assert.Equal(t, 4.25, raw["total_time"])
	assert.Equal(t, "2026-01-02T03:04:05Z", raw["last_seen"])
	_, hasStart := raw["session_start"]
	assert.False(t, hasStart, "absent session_start must be omitted")
}

func TestEntityStats_DecodeToleratesUnknownFields(t *testing.T) {
	var stats types.EntityStats
	err := json.Unmarshal([]byte(`{"visits":1,"total_time":2,"last_seen":null,"mood":"happy"}`), &stats)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VisitCount)
	assert.Nil(t, stats.LastSeenAt)
}

func TestEntityStats_DecodeZonelessTimestamps(t *testing.T) {
	var stats types.EntityStats
	err := json.Unmarshal([]byte(`{"visits":3,"total_time":12.5,"last_seen":"2026-01-02T03:04:05.250000","session_start":""}`), &stats)
	require.NoError(t, err)
	require.NotNil(t, stats.LastSeenAt)
	assert.True(t, stats.LastSeenAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 250_000_000, time.UTC)))
	assert.Nil(t, stats.CurrentSessionStartedAt)

	err = json.Unmarshal([]byte(`{"visits":1,"last_seen":"yesterday"}`), &stats)
	assert.Error(t, err)
}

func TestLedgerSnapshot_Validate(t *testing.T) {
	assert.NoError(t, types.LedgerSnapshot{"alice": {VisitCount: 1}}.Validate())

	bad := []types.LedgerSnapshot{
		{"": {}},
		{"alice": {VisitCount: -1}},
		{"alice": {TotalDwellSeconds: -0.5}},
		{"alice": {TotalDwellSeconds: math.NaN()}},
	}
	for _, snap := range bad {
		err := snap.Validate()
		assert.True(t, errors.Is(err, types.ErrInvalidLedger), "expected ErrInvalidLedger, got %v", err)
	}
}

func TestLedgerSnapshot_EqualIgnoresLocation(t *testing.T) {
	utc := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	local := utc.In(time.FixedZone("X", 3600))

	a := types.LedgerSnapshot{"alice": {VisitCount: 1, LastSeenAt: &utc}}
	b := types.LedgerSnapshot{"alice": {VisitCount: 1, LastSeenAt: &local}}
	assert.True(t, a.Equal(b))

	b["bob"] = types.EntityStats{}
	assert.False(t, a.Equal(b))
}

func TestLedgerSnapshot_IDsSorted(t *testing.T) {
	snap := types.LedgerSnapshot{"carol": {}, "alice": {}, "bob": {}}
	assert.Equal(t, []types.EntityID{"alice", "bob", "carol"}, snap.IDs())
}
