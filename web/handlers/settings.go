package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/scrypster/dwell/internal/config"
	"github.com/scrypster/dwell/internal/presence"
)

// SettingsHandlers reads and persists the tracker tunables kept in the
// ledger database. Saved values take effect on the next tracker start.
type SettingsHandlers struct {
	store  config.SettingsStore
	active presence.Config
}

// NewSettingsHandlers creates settings handlers. active is the configuration
// the running tracker was built with.
func NewSettingsHandlers(store config.SettingsStore, active presence.Config) *SettingsHandlers {
	return &SettingsHandlers{store: store, active: active}
}

// GetSettings handles GET /api/settings.
func (h *SettingsHandlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	resp := SettingsResponse{
		Active: TrackerSettings{
			GracePeriod:    h.active.GracePeriod.String(),
			DurationPolicy: string(h.active.DurationPolicy),
		},
	}

	grace, ok, err := h.store.GetSetting(r.Context(), config.SettingGracePeriod)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read settings", err)
		return
	}
	if ok {
		resp.Stored.GracePeriod = grace
	}
	policy, ok, err := h.store.GetSetting(r.Context(), config.SettingDurationPolicy)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read settings", err)
		return
	}
	if ok {
		resp.Stored.DurationPolicy = policy
	}

	resp.RestartRequired = resp.Stored.differsFrom(h.active)
	respondJSON(w, http.StatusOK, resp)
}

// UpdateSettings handles PUT /api/settings. Omitted fields keep their
// stored value.
func (h *SettingsHandlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req TrackerSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}
	if req.GracePeriod == "" && req.DurationPolicy == "" {
		respondError(w, http.StatusBadRequest, "nothing to update", nil)
		return
	}

	if req.GracePeriod != "" {
		d, err := time.ParseDuration(req.GracePeriod)
		if err != nil || d < 0 {
			respondError(w, http.StatusBadRequest, "grace_period must be a non-negative duration", err)
			return
		}
		req.GracePeriod = d.String()
	}
	if req.DurationPolicy != "" {
		if _, err := presence.ParseDurationPolicy(req.DurationPolicy); err != nil {
			respondError(w, http.StatusBadRequest, "invalid duration_policy", err)
			return
		}
	}

	if req.GracePeriod != "" {
		if err := h.store.SetSetting(r.Context(), config.SettingGracePeriod, req.GracePeriod); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save grace_period", err)
			return
		}
	}
	if req.DurationPolicy != "" {
		if err := h.store.SetSetting(r.Context(), config.SettingDurationPolicy, req.DurationPolicy); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to save duration_policy", err)
			return
		}
	}

	h.GetSettings(w, r)
}

// differsFrom reports whether any stored value would change cfg.
func (s TrackerSettings) differsFrom(cfg presence.Config) bool {
	if s.GracePeriod != "" {
		if d, err := time.ParseDuration(s.GracePeriod); err == nil && d != cfg.GracePeriod {
			return true
		}
	}
	return s.DurationPolicy != "" && s.DurationPolicy != string(cfg.DurationPolicy)
}
