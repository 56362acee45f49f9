package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/vitalis-health/clinsight/internal/shared/errors"
	"github.com/vitalis-health/clinsight/internal/shared/types"
)

// Handler provides the administrative audit query API
type Handler struct {
	repo Repository
}

// NewHandler creates a new audit handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the audit routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/{predictionID}", h.GetByPredictionID)

	return r
}

// List handles filtered audit queries
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		PatientRef: r.URL.Query().Get("patient_ref"),
		Outcome:    Outcome(r.URL.Query().Get("outcome")),
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			filter.Limit = limit
		}
	}
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, apperrors.BadRequest("invalid start time, want RFC3339"))
			return
		}
		filter.StartTime = &t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, apperrors.BadRequest("invalid end time, want RFC3339"))
			return
		}
		filter.EndTime = &t
	}

	records, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, apperrors.Wrap(err, "audit query failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// GetByPredictionID returns the single record for a prediction
func (h *Handler) GetByPredictionID(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "predictionID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid prediction id"))
		return
	}

	rec, err := h.repo.GetByPredictionID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*apperrors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
