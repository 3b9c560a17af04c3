package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/dwell/internal/catalog"
	"github.com/scrypster/dwell/internal/engine"
	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/pkg/types"
)

// Tracker is the read side of presence.Tracker.
type Tracker interface {
	Snapshot() types.LedgerSnapshot
	Stats(id types.EntityID) (types.EntityStats, bool)
	OpenSessions() []types.Session
	LastTick() time.Time
}

// EngineStats is satisfied by *engine.PresenceEngine.
type EngineStats interface {
	Stats() engine.Stats
}

// PresenceHandlers serves the read-only tracker API.
type PresenceHandlers struct {
	tracker Tracker
	engine  EngineStats
	catalog *catalog.Catalog
	history storage.DepartureRecorder
}

// NewPresenceHandlers creates the API handlers. eng and history may be nil;
// without history the visits endpoint answers 501.
func NewPresenceHandlers(tracker Tracker, eng EngineStats, cat *catalog.Catalog, history storage.DepartureRecorder) *PresenceHandlers {
	return &PresenceHandlers{
		tracker: tracker,
		engine:  eng,
		catalog: cat,
		history: history,
	}
}

// Health handles GET /api/health. A tripped ledger breaker reports "degraded".
func (h *PresenceHandlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Version: Version}
	if h.engine != nil {
		s := h.engine.Stats()
		resp.Backend = s.Backend
		resp.Breaker = s.BreakerState
		if s.BreakerState == "open" {
			resp.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListSessions handles GET /api/sessions - the currently open sessions.
// Elapsed time is measured against the most recent tick.
func (h *PresenceHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	asOf := h.tracker.LastTick()
	open := h.tracker.OpenSessions()

	resp := SessionsResponse{Sessions: make([]SessionResponse, 0, len(open)), AsOf: asOf}
	for _, sess := range open {
		item := SessionResponse{
			ID:          sess.ID,
			Entity:      sess.Entity,
			DisplayName: h.catalog.DisplayName(sess.Entity),
			StartedAt:   sess.StartedAt,
		}
		if stats, ok := h.tracker.Stats(sess.Entity); ok {
			item.LastSeenAt = stats.LastSeenAt
		}
		if d := asOf.Sub(sess.StartedAt); d > 0 {
			item.ElapsedSeconds = d.Seconds()
		}
		resp.Sessions = append(resp.Sessions, item)
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListVisits handles GET /api/entities/{id}/visits - closed sessions of one
// entity, newest first. Accepts since (RFC 3339) and limit query parameters.
func (h *PresenceHandlers) ListVisits(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondError(w, http.StatusNotImplemented, "visit history requires the sqlite or postgres backend", nil)
		return
	}

	id := types.EntityID(extractID(r, "id"))
	if id.IsBlank() {
		respondError(w, http.StatusBadRequest, "entity ID is required", nil)
		return
	}

	q := storage.DepartureQuery{
		Entity: id,
		Limit:  parseInt(r.URL.Query().Get("limit"), 0),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp", err)
			return
		}
		q.Since = t
	}

	visits, err := h.history.ListDepartures(r.Context(), q)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "invalid query", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to list visits", err)
		return
	}
	if visits == nil {
		visits = []types.DepartureEvent{}
	}

	respondJSON(w, http.StatusOK, VisitsResponse{Entity: id, Visits: visits, Total: len(visits)})
}

// GetCatalog handles GET /api/catalog - the enrolled entities.
func (h *PresenceHandlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	ledger := h.tracker.Snapshot()
	entries := h.catalog.Entries()

	resp := CatalogResponse{Entities: make([]CatalogEntryResponse, 0, len(entries)), Total: len(entries)}
	for _, e := range entries {
		_, tracked := ledger[e.ID]
		resp.Entities = append(resp.Entities, CatalogEntryResponse{
			ID:          e.ID,
			DisplayName: h.catalog.DisplayName(e.ID),
			Tracked:     tracked,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// extractID extracts a path parameter from the request.
func extractID(r *http.Request, key string) string {
	return r.PathValue(key)
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		log.Printf("handlers: failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}
