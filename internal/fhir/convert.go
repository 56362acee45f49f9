package fhir

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/vitalis-health/clinsight/internal/analysis"
)

const (
	categoryLaboratory = "laboratory"
	categoryVitalSigns = "vital-signs"
)

// ToPatientData converts a validated FHIR Bundle into the core's input
// value. Observations map to labs or vitals by category; DocumentReference
// attachments map to clinical notes.
func ToPatientData(bundle *Bundle) (analysis.PatientData, error) {
	var p analysis.PatientData
	p.Recorded = time.Now().UTC()

	if bundle.ResourceType != "Bundle" {
		return p, fmt.Errorf("expected Bundle, got %q", bundle.ResourceType)
	}

	for _, entry := range bundle.Entry {
		res := entry.Resource
		switch res.ResourceType {
		case "Observation":
			if ref := subjectRef(res.Subject); ref != "" {
				p.PatientRef = ref
			}
			taken := parseTime(res.EffectiveDateTime)
			name := conceptText(res.Code)
			if res.ValueQuantity == nil || name == "" {
				continue
			}
			if hasCategory(res.Category, categoryVitalSigns) {
				p.Vitals = append(p.Vitals, analysis.VitalSign{
					Name:  name,
					Value: res.ValueQuantity.Value,
					Unit:  res.ValueQuantity.Unit,
					Taken: taken,
				})
			} else {
				p.Labs = append(p.Labs, analysis.LabResult{
					Name:  name,
					Value: res.ValueQuantity.Value,
					Unit:  res.ValueQuantity.Unit,
					Flag:  interpretationFlag(res.Interpretation),
					Taken: taken,
				})
			}

		case "DocumentReference":
			if ref := subjectRef(res.Subject); ref != "" {
				p.PatientRef = ref
			}
			for _, content := range res.Content {
				text, err := decodeAttachment(content.Attachment)
				if err != nil || text == "" {
					continue
				}
				p.Notes = append(p.Notes, analysis.ClinicalNote{
					Category: conceptText(res.Type),
					Text:     text,
					Recorded: parseTime(res.Date),
				})
			}
		}
	}

	if p.PatientRef == "" {
		return p, fmt.Errorf("bundle carries no patient reference")
	}

	return p, nil
}

// FromAssessment formats the core's result as a FHIR RiskAssessment.
func FromAssessment(a *analysis.RiskAssessment) *RiskAssessmentResource {
	resource := &RiskAssessmentResource{
		ResourceType:       "RiskAssessment",
		ID:                 a.PredictionID.String(),
		Status:             "final",
		Subject:            ReferenceField{Reference: "Patient/" + a.PatientRef},
		OccurrenceDateTime: a.CreatedAt.UTC().Format(time.RFC3339),
		Method: &CodeableConcept{
			Text: "foundation-model risk analysis",
		},
	}

	for _, reason := range a.Reasons {
		rationale := reason.Text
		if len(reason.DataPoints) > 0 {
			rationale += " [data: " + strings.Join(reason.DataPoints, ", ") + "]"
		}
		if len(reason.EvidenceIDs) > 0 {
			rationale += " [evidence: " + strings.Join(reason.EvidenceIDs, ", ") + "]"
		}
		resource.Prediction = append(resource.Prediction, RiskPrediction{
			ProbabilityDecimal: a.RiskScore,
			Rationale:          rationale,
		})
	}

	resource.Note = append(resource.Note, Annotation{
		Text: fmt.Sprintf("confidence_score=%.2f", a.ConfidenceScore),
	})
	if a.LowConfidenceWarning {
		resource.Note = append(resource.Note, Annotation{
			Text: "low confidence: review before clinical use",
		})
	}

	return resource
}

func subjectRef(ref *ReferenceField) string {
	if ref == nil {
		return ""
	}
	return strings.TrimPrefix(ref.Reference, "Patient/")
}

func conceptText(c *CodeableConcept) string {
	if c == nil {
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	for _, coding := range c.Coding {
		if coding.Display != "" {
			return coding.Display
		}
	}
	return ""
}

func hasCategory(categories []CodeableConcept, code string) bool {
	for _, cat := range categories {
		for _, coding := range cat.Coding {
			if coding.Code == code {
				return true
			}
		}
		if cat.Text == code {
			return true
		}
	}
	return false
}

// interpretationFlag maps FHIR interpretation codes to the core's flags
func interpretationFlag(interpretations []CodeableConcept) string {
	for _, interp := range interpretations {
		for _, coding := range interp.Coding {
			switch coding.Code {
			case "H", "HH":
				return "high"
			case "L", "LL":
				return "low"
			case "AA":
				return "critical"
			}
		}
	}
	return ""
}

func decodeAttachment(att Attachment) (string, error) {
	if att.Data == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
