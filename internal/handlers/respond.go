package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}

// respondStoreError maps validation errors to 400 and everything else to 500
func respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var tallyErr models.TallyError
	if errors.As(err, &tallyErr) {
		respondError(w, http.StatusBadRequest, tallyErr.Message)
		return
	}

	observability.GetLogger().WithContext(r.Context()).Error("request failed",
		"method", r.Method, "path", r.URL.Path, "error", err)
	respondError(w, http.StatusInternalServerError, "Failed to update the tally.")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pathParam returns the unescaped chi URL parameter
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
