package handlers

import (
	"net/http"

	"github.com/scrypster/dwell/pkg/types"
)

// GetStats handles GET /api/stats - the whole ledger sorted by entity, with
// engine counters when available.
func (h *PresenceHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	ledger := h.tracker.Snapshot()
	open := h.openSet()

	resp := StatsResponse{Entities: make([]EntityStatsResponse, 0, len(ledger))}
	for _, id := range ledger.IDs() {
		stats := ledger[id]
		resp.Entities = append(resp.Entities, EntityStatsResponse{
			Entity:      id,
			DisplayName: h.catalog.DisplayName(id),
			Present:     open[id],
			Stats:       stats,
		})
		resp.TotalVisits += stats.VisitCount
		resp.TotalDwellSeconds += stats.TotalDwellSeconds
	}

	if h.engine != nil {
		s := h.engine.Stats()
		resp.Engine = &s
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetEntityStats handles GET /api/stats/{id}.
func (h *PresenceHandlers) GetEntityStats(w http.ResponseWriter, r *http.Request) {
	id := types.EntityID(extractID(r, "id"))
	if id.IsBlank() {
		respondError(w, http.StatusBadRequest, "entity ID is required", nil)
		return
	}

	stats, ok := h.tracker.Stats(id)
	if !ok {
		respondError(w, http.StatusNotFound, "entity has no recorded visits", nil)
		return
	}

	respondJSON(w, http.StatusOK, EntityStatsResponse{
		Entity:      id,
		DisplayName: h.catalog.DisplayName(id),
		Present:     h.openSet()[id],
		Stats:       stats,
	})
}

func (h *PresenceHandlers) openSet() map[types.EntityID]bool {
	open := make(map[types.EntityID]bool)
	for _, sess := range h.tracker.OpenSessions() {
		open[sess.Entity] = true
	}
	return open
}
