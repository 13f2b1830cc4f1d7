package handlers

import (
	"net/http"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/services"
)

// SettingsHandler reads and updates scan settings
type SettingsHandler struct {
	session *services.ScanSession
	hub     *services.FeedHub
}

// NewSettingsHandler creates a new SettingsHandler. hub may be nil.
func NewSettingsHandler(session *services.ScanSession, hub *services.FeedHub) *SettingsHandler {
	return &SettingsHandler{session: session, hub: hub}
}

// Get returns the duplicate guard and the scan gate
// @Summary Get settings
// @Tags settings
// @Produce json
// @Success 200 {object} models.SettingsResponse
// @Router /api/settings [get]
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.current(r)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetDuplicateGuard returns the duplicate guard settings
// @Summary Get duplicate guard
// @Tags settings
// @Produce json
// @Success 200 {object} models.DuplicateGuardSettings
// @Router /api/settings/duplicate-guard [get]
func (h *SettingsHandler) GetDuplicateGuard(w http.ResponseWriter, r *http.Request) {
	guard, err := h.session.Store().DuplicateGuard(r.Context())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, guard)
}

// UpdateDuplicateGuard changes the guard; omitted fields keep their value
// @Summary Update duplicate guard
// @Tags settings
// @Accept json
// @Produce json
// @Param request body models.DuplicateGuardRequest true "Fields to change"
// @Success 200 {object} models.DuplicateGuardSettings
// @Failure 400 {object} models.ErrorResponse "Negative window"
// @Router /api/settings/duplicate-guard [put]
func (h *SettingsHandler) UpdateDuplicateGuard(w http.ResponseWriter, r *http.Request) {
	var req models.DuplicateGuardRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	guard, err := h.session.Store().UpdateDuplicateGuard(r.Context(), req.Enabled, req.WindowMs)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, guard)
}

// UpdateScanEnabled opens or closes the scan input gate
// @Summary Toggle scan input
// @Tags settings
// @Accept json
// @Produce json
// @Param request body models.ScanEnabledRequest true "Gate state"
// @Success 200 {object} models.SettingsResponse
// @Router /api/settings/scan-enabled [put]
func (h *SettingsHandler) UpdateScanEnabled(w http.ResponseWriter, r *http.Request) {
	var req models.ScanEnabledRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	h.session.SetScanEnabled(req.Enabled)

	resp, err := h.current(r)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	// The gate is not persisted, so the preference watcher never sees it
	if h.hub != nil && !h.hub.Refresh(services.TopicSettings) {
		h.hub.BroadcastToTopic(services.TopicSettings, services.WSMessage{
			Type:    services.WSTypeSettings,
			Payload: services.SettingsPayload{DuplicateGuard: resp.DuplicateGuard, ScanEnabled: resp.ScanEnabled},
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *SettingsHandler) current(r *http.Request) (models.SettingsResponse, error) {
	guard, err := h.session.Store().DuplicateGuard(r.Context())
	if err != nil {
		return models.SettingsResponse{}, err
	}
	return models.SettingsResponse{DuplicateGuard: guard, ScanEnabled: h.session.ScanEnabled()}, nil
}
