package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tilmanb/osm-wikidata/pkg/config"
)

// SettingsHandler reads and changes the runtime overrides.
type SettingsHandler struct {
	store config.StateStore
	prov  config.Provider
}

// NewSettingsHandler creates a settings handler.
func NewSettingsHandler(st config.StateStore, prov config.Provider) *SettingsHandler {
	return &SettingsHandler{store: st, prov: prov}
}

// SettingsResponse is the effective value of every override.
type SettingsResponse struct {
	Radius                float64 `json:"radius"`
	MaxAreaKm2            float64 `json:"max_area_km2"`
	OverpassServerTimeout int     `json:"overpass_server_timeout"`
	EditsPaused           bool    `json:"edits_paused"`
}

// SettingsRequest changes the fields that are set. A zero number removes the
// override and restores the configured value.
type SettingsRequest struct {
	Radius                *float64 `json:"radius,omitempty"`
	MaxAreaKm2            *float64 `json:"max_area_km2,omitempty"`
	OverpassServerTimeout *int     `json:"overpass_server_timeout,omitempty"`
	EditsPaused           *bool    `json:"edits_paused,omitempty"`
}

// HandleGet handles GET /api/settings.
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current(r.Context()))
}

func (h *SettingsHandler) current(ctx context.Context) SettingsResponse {
	return SettingsResponse{
		Radius:                h.prov.Radius(ctx),
		MaxAreaKm2:            h.prov.MaxAreaKm2(ctx),
		OverpassServerTimeout: h.prov.OverpassServerTimeout(ctx),
		EditsPaused:           h.prov.EditsPaused(ctx),
	}
}

// HandleSet handles PUT /api/settings and returns the new effective values.
func (h *SettingsHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if (req.Radius != nil && *req.Radius < 0) ||
		(req.MaxAreaKm2 != nil && *req.MaxAreaKm2 < 0) ||
		(req.OverpassServerTimeout != nil && *req.OverpassServerTimeout < 0) {
		http.Error(w, "negative value", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var err error
	if req.Radius != nil {
		err = h.updateNumber(ctx, config.KeyRadius, *req.Radius)
	}
	if err == nil && req.MaxAreaKm2 != nil {
		err = h.updateNumber(ctx, config.KeyMaxAreaKm2, *req.MaxAreaKm2)
	}
	if err == nil && req.OverpassServerTimeout != nil {
		err = h.updateNumber(ctx, config.KeyOverpassTimeout, float64(*req.OverpassServerTimeout))
	}
	if err == nil && req.EditsPaused != nil {
		err = h.store.SetState(ctx, config.KeyEditsPaused, strconv.FormatBool(*req.EditsPaused))
	}
	if err != nil {
		slog.Error("Failed to save setting", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.current(ctx))
}

func (h *SettingsHandler) updateNumber(ctx context.Context, key string, v float64) error {
	if v == 0 {
		return h.store.DeleteState(ctx, key)
	}
	return h.store.SetState(ctx, key, strconv.FormatFloat(v, 'f', -1, 64))
}
