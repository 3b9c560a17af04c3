package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/dwell/pkg/types"
	"github.com/scrypster/dwell/web/handlers"
)

func TestGetStats(t *testing.T) {
	tracker, _, cat := newFixture(t)
	h := handlers.NewPresenceHandlers(tracker, fixedStats{TicksProcessed: 4}, cat, nil)

	w := serve(h.GetStats, "GET /api/stats", "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp handlers.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entities, 2)

	alice, bob := resp.Entities[0], resp.Entities[1]
	assert.Equal(t, types.EntityID("alice"), alice.Entity)
	assert.True(t, alice.Present)
	assert.Equal(t, 1, alice.Stats.VisitCount)
	assert.NotNil(t, alice.Stats.CurrentSessionStartedAt)

	assert.False(t, bob.Present)
	assert.Equal(t, 2.0, bob.Stats.TotalDwellSeconds)

	assert.Equal(t, 2, resp.TotalVisits)
	assert.Equal(t, 2.0, resp.TotalDwellSeconds)
	require.NotNil(t, resp.Engine)
	assert.Equal(t, uint64(4), resp.Engine.TicksProcessed)
}

func TestGetEntityStats(t *testing.T) {
	tracker, _, cat := newFixture(t)
	h := handlers.NewPresenceHandlers(tracker, nil, cat, nil)

	w := serve(h.GetEntityStats, "GET /api/stats/{id}", "/api/stats/bob")
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.EntityStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bob", resp.DisplayName)
	assert.Equal(t, 1, resp.Stats.VisitCount)
	assert.Nil(t, resp.Stats.CurrentSessionStartedAt)

	w = serve(h.GetEntityStats, "GET /api/stats/{id}", "/api/stats/carol")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var errResp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "Not Found", errResp.Code)
}
