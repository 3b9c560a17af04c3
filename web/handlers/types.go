package handlers

import (
	"time"

	"github.com/scrypster/dwell/internal/engine"
	"github.com/scrypster/dwell/pkg/types"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend,omitempty"`
	Breaker string `json:"breaker,omitempty"`
}

// EntityStatsResponse is one ledger row.
type EntityStatsResponse struct {
	Entity      types.EntityID    `json:"entity"`
	DisplayName string            `json:"display_name"`
	Present     bool              `json:"present"`
	Stats       types.EntityStats `json:"stats"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	Entities          []EntityStatsResponse `json:"entities"`
	TotalVisits       int                   `json:"total_visits"`
	TotalDwellSeconds float64               `json:"total_dwell_seconds"`
	Engine            *engine.Stats         `json:"engine,omitempty"`
}

// SessionResponse describes one open session.
type SessionResponse struct {
	ID             string         `json:"id"`
	Entity         types.EntityID `json:"entity"`
	DisplayName    string         `json:"display_name"`
	StartedAt      time.Time      `json:"started_at"`
	LastSeenAt     *time.Time     `json:"last_seen_at,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
}

// SessionsResponse is the response format for GET /api/sessions.
type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	AsOf     time.Time         `json:"as_of"`
}

// VisitsResponse is the response format for GET /api/entities/{id}/visits.
type VisitsResponse struct {
	Entity types.EntityID         `json:"entity"`
	Visits []types.DepartureEvent `json:"visits"`
	Total  int                    `json:"total"`
}

// CatalogEntryResponse is one enrolled entity.
type CatalogEntryResponse struct {
	ID          types.EntityID `json:"id"`
	DisplayName string         `json:"display_name"`
	Tracked     bool           `json:"tracked"`
}

// CatalogResponse is the response format for GET /api/catalog.
type CatalogResponse struct {
	Entities []CatalogEntryResponse `json:"entities"`
	Total    int                    `json:"total"`
}

// Event types sent over /ws.
const (
	EventArrival   = "arrival"
	EventDeparture = "departure"
)

// Event is a session transition pushed to websocket clients.
type Event struct {
	Type      string                `json:"type"`
	Arrival   *types.ArrivalEvent   `json:"arrival,omitempty"`
	Departure *types.DepartureEvent `json:"departure,omitempty"`
}

// TrackerSettings are the tunables persisted in the settings table.
type TrackerSettings struct {
	GracePeriod    string `json:"grace_period,omitempty"`
	DurationPolicy string `json:"duration_policy,omitempty"`
}

// SettingsResponse compares the running configuration with the stored one.
type SettingsResponse struct {
	Active          TrackerSettings `json:"active"`
	Stored          TrackerSettings `json:"stored"`
	RestartRequired bool            `json:"restart_required"`
}
