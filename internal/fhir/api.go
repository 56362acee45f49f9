package fhir

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vitalis-health/clinsight/internal/analysis"
	apperrors "github.com/vitalis-health/clinsight/internal/shared/errors"
)

// Analyzer is the core workflow at this boundary.
type Analyzer interface {
	AnalyzePatient(ctx context.Context, p analysis.PatientData) (*analysis.RiskAssessment, error)
}

// Handler exposes the analysis operation over FHIR
type Handler struct {
	analyzer Analyzer
}

// NewHandler creates a new FHIR handler
func NewHandler(analyzer Analyzer) *Handler {
	return &Handler{analyzer: analyzer}
}

// Routes registers the analysis routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/analyze", h.Analyze)

	return r
}

// Analyze accepts a FHIR Bundle of patient data and returns a FHIR
// RiskAssessment
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var bundle Bundle
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	patientData, err := ToPatientData(&bundle)
	if err != nil {
		writeError(w, apperrors.BadRequest(err.Error()))
		return
	}

	assessment, err := h.analyzer.AnalyzePatient(r.Context(), patientData)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromAssessment(assessment))
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/fhir+json")
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
