package handlers

import (
	"net/http"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/services"
)

// ScanHandler accepts scanner input and exposes undo and the recent feed
type ScanHandler struct {
	session *services.ScanSession
}

// NewScanHandler creates a new ScanHandler
func NewScanHandler(session *services.ScanSession) *ScanHandler {
	return &ScanHandler{session: session}
}

// Record handles one scanned code
// @Summary Record a scan
// @Description Counts the code for today. Blank, duplicate and gated scans
// @Description are reported in the outcome field and change nothing.
// @Tags scans
// @Accept json
// @Produce json
// @Param request body models.ScanRequest true "Scanned code"
// @Success 200 {object} models.RecordResult
// @Failure 400 {object} models.ErrorResponse "Malformed body"
// @Failure 500 {object} models.ErrorResponse "Storage failure"
// @Router /api/scans [post]
func (h *ScanHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req models.ScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Request body must be {\"code\": \"...\"}.")
		return
	}

	result, err := h.session.OnScanInput(r.Context(), req.Code)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Undo reverses the last scan of today
// @Summary Undo last scan
// @Tags scans
// @Produce json
// @Success 200 {object} models.UndoResult
// @Router /api/scans/undo [post]
func (h *ScanHandler) Undo(w http.ResponseWriter, r *http.Request) {
	result, err := h.session.Undo(r.Context())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Recent lists the most recent recorded scans, newest first
// @Summary Recent scans
// @Tags scans
// @Produce json
// @Success 200 {object} models.RecentScansResponse
// @Router /api/scans/recent [get]
func (h *ScanHandler) Recent(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.RecentScansResponse{Events: h.session.Recent()})
}
