package analysis

import (
	"time"

	"github.com/vitalis-health/clinsight/internal/shared/types"
)

// ReasonCount is the exact number of clinical reasons every assessment
// carries. The validator enforces it; the model is never trusted to.
const ReasonCount = 3

// LowConfidenceThreshold is the confidence score below which assessments
// carry a low-confidence warning.
const LowConfidenceThreshold = 0.75

// LabResult is a single laboratory finding.
type LabResult struct {
	Name  string    `json:"name"`
	Value float64   `json:"value"`
	Unit  string    `json:"unit"`
	Flag  string    `json:"flag,omitempty"` // high, low, critical
	Taken time.Time `json:"taken"`
}

// VitalSign is a single vital-sign measurement.
type VitalSign struct {
	Name  string    `json:"name"`
	Value float64   `json:"value"`
	Unit  string    `json:"unit"`
	Taken time.Time `json:"taken"`
}

// ClinicalNote is a free-text note. Note text is PHI until scrubbed; it
// never leaves the request except through the redaction policy.
type ClinicalNote struct {
	Category string    `json:"category"`
	Text     string    `json:"text"`
	Recorded time.Time `json:"recorded"`
}

// PatientData is the validated input delivered by the FHIR layer. It is
// immutable once constructed and owned exclusively by a single analysis
// request.
type PatientData struct {
	PatientRef string         `json:"patient_ref"`
	Labs       []LabResult    `json:"labs"`
	Vitals     []VitalSign    `json:"vitals"`
	Notes      []ClinicalNote `json:"notes"`
	Recorded   time.Time      `json:"recorded"`
}

// Signals extracts the clinical signals used to query the knowledge base:
// flagged labs, vital-sign names and note categories. No free text and no
// identifiers, so the search query itself carries no PHI.
func (p PatientData) Signals() []string {
	var signals []string
	for _, lab := range p.Labs {
		if lab.Flag != "" {
			signals = append(signals, lab.Flag+" "+lab.Name)
		}
	}
	for _, vital := range p.Vitals {
		signals = append(signals, vital.Name)
	}
	seen := make(map[string]bool)
	for _, note := range p.Notes {
		if note.Category != "" && !seen[note.Category] {
			seen[note.Category] = true
			signals = append(signals, note.Category)
		}
	}
	return signals
}

// ClinicalReason is one of the exactly three justifications on an
// assessment. EvidenceIDs weakly reference knowledge-base entries by id.
type ClinicalReason struct {
	Text        string   `json:"text"`
	EvidenceIDs []string `json:"evidence_ids"`
	DataPoints  []string `json:"data_points"`
}

// RiskAssessment is the orchestrator's returned value. It is created once
// per request and never mutated after validation completes.
type RiskAssessment struct {
	PredictionID         types.ID         `json:"prediction_id"`
	PatientRef           string           `json:"patient_ref"`
	RiskScore            float64          `json:"risk_score"`
	ConfidenceScore      float64          `json:"confidence_score"`
	Reasons              []ClinicalReason `json:"reasons"`
	LowConfidenceWarning bool             `json:"low_confidence_warning"`
	CreatedAt            time.Time        `json:"created_at"`
}

// ValidationResult is transient diagnostic output from the validator. It is
// never persisted.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
