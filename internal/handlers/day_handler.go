package handlers

import (
	"bytes"
	"net/http"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/services"
)

// DayHandler serves per-day tallies and their edits
type DayHandler struct {
	store     *services.TallyStore
	projector *services.Projector
	catalog   *services.Catalog
}

// NewDayHandler creates a new DayHandler
func NewDayHandler(store *services.TallyStore, projector *services.Projector, catalog *services.Catalog) *DayHandler {
	if catalog == nil {
		catalog = services.EmptyCatalog()
	}
	return &DayHandler{store: store, projector: projector, catalog: catalog}
}

// List returns every day with data
// @Summary List days
// @Tags days
// @Produce json
// @Success 200 {object} models.DaysResponse "Days, newest first"
// @Router /api/days [get]
func (h *DayHandler) List(w http.ResponseWriter, r *http.Request) {
	days, err := h.projector.Days(r.Context())
	if err != nil {
		respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.DaysResponse{Days: days})
}

// Today returns today's counts
// @Summary Today's counts
// @Tags days
// @Produce json
// @Param sort query string false "count (default) or code"
// @Success 200 {object} models.DayCountsResponse
// @Router /api/days/today [get]
func (h *DayHandler) Today(w http.ResponseWriter, r *http.Request) {
	h.writeDay(w, r, h.store.TodayKey())
}

// Get returns one day's counts
// @Summary Day counts
// @Tags days
// @Produce json
// @Param day path string true "Day key (YYYY-MM-DD)"
// @Param sort query string false "count (default) or code"
// @Success 200 {object} models.DayCountsResponse
// @Failure 400 {object} models.ErrorResponse "Invalid day"
// @Router /api/days/{day} [get]
func (h *DayHandler) Get(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}
	h.writeDay(w, r, day)
}

func (h *DayHandler) writeDay(w http.ResponseWriter, r *http.Request, day string) {
	mode := models.ParseSortMode(r.URL.Query().Get("sort"))
	entries, err := h.projector.Sorted(r.Context(), day, mode)
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	resp := models.DayCountsResponse{
		Day:     day,
		Sort:    mode,
		Entries: make([]models.CountEntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		name, _ := h.catalog.Name(e.Code)
		resp.Entries = append(resp.Entries, models.CountEntryResponse{
			Code:        e.Code,
			Count:       e.Count,
			Name:        name,
			DisplayText: h.catalog.DisplayText(e.Code),
		})
		resp.Total += e.Count
	}
	respondJSON(w, http.StatusOK, resp)
}

// EditCode applies a delta to a code or sets its count
// @Summary Edit a code's count
// @Tags days
// @Accept json
// @Produce json
// @Param day path string true "Day key (YYYY-MM-DD)"
// @Param code path string true "Code"
// @Param request body models.EditCodeRequest true "delta or count"
// @Success 200 {object} models.EditCodeResponse
// @Failure 400 {object} models.ErrorResponse "Invalid request"
// @Router /api/days/{day}/codes/{code} [patch]
func (h *DayHandler) EditCode(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}
	code := services.Normalize(pathParam(r, "code"))
	if code == "" {
		respondError(w, http.StatusBadRequest, models.ErrEmptyCode.Message)
		return
	}

	var req models.EditCodeRequest
	if err := decodeJSON(w, r, &req); err != nil || (req.Delta == nil) == (req.Count == nil) {
		respondError(w, http.StatusBadRequest, "Request body must set exactly one of delta or count.")
		return
	}

	var (
		qty int
		err error
	)
	if req.Delta != nil {
		qty, err = h.store.IncrementCode(r.Context(), day, code, *req.Delta)
	} else {
		qty, err = h.store.SetCodeCount(r.Context(), day, code, *req.Count)
	}
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.EditCodeResponse{Day: day, Code: code, Count: qty})
}

// DeleteCode removes a code from a day
// @Summary Delete a code
// @Tags days
// @Param day path string true "Day key (YYYY-MM-DD)"
// @Param code path string true "Code"
// @Success 204 "Deleted"
// @Router /api/days/{day}/codes/{code} [delete]
func (h *DayHandler) DeleteCode(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteCode(r.Context(), day, pathParam(r, "code")); err != nil {
		respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteDay removes a whole day
// @Summary Delete a day
// @Tags days
// @Param day path string true "Day key (YYYY-MM-DD)"
// @Success 204 "Deleted"
// @Router /api/days/{day} [delete]
func (h *DayHandler) DeleteDay(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteDay(r.Context(), day); err != nil {
		respondStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export downloads a day as Code,Count CSV
// @Summary Export a day
// @Tags days
// @Produce text/csv
// @Param day path string true "Day key (YYYY-MM-DD)"
// @Param sort query string false "count (default) or code"
// @Success 200 {file} file
// @Router /api/days/{day}/export.csv [get]
func (h *DayHandler) Export(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}

	entries, err := h.projector.Sorted(r.Context(), day, models.ParseSortMode(r.URL.Query().Get("sort")))
	if err != nil {
		respondStoreError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := services.WriteCSV(&buf, entries); err != nil {
		respondStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+services.ExportFilename(day)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *DayHandler) dayParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	day := pathParam(r, "day")
	if err := models.ValidateDayKey(day); err != nil {
		respondError(w, http.StatusBadRequest, models.ErrInvalidDay.Message)
		return "", false
	}
	return day, true
}
