package fhir

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/vitalis-health/clinsight/internal/analysis"
	"github.com/vitalis-health/clinsight/internal/shared/types"
)

func observation(code, category, interp string, value float64, unit string) Resource {
	res := Resource{
		ResourceType:      "Observation",
		Status:            "final",
		Code:              &CodeableConcept{Text: code},
		Subject:           &ReferenceField{Reference: "Patient/patient-42"},
		EffectiveDateTime: "2026-03-14T09:30:00Z",
		ValueQuantity:     &Quantity{Value: value, Unit: unit},
	}
	if category != "" {
		res.Category = []CodeableConcept{{Coding: []Coding{{Code: category}}}}
	}
	if interp != "" {
		res.Interpretation = []CodeableConcept{{Coding: []Coding{{Code: interp}}}}
	}
	return res
}

func TestToPatientData(t *testing.T) {
	note := base64.StdEncoding.EncodeToString([]byte("Increasing oxygen requirement overnight."))
	bundle := &Bundle{
		ResourceType: "Bundle",
		Type:         "collection",
		Entry: []BundleEntry{
			{Resource: observation("lactate", "laboratory", "HH", 4.1, "mmol/L")},
			{Resource: observation("heart rate", "vital-signs", "", 118, "bpm")},
			{Resource: Resource{
				ResourceType: "DocumentReference",
				Subject:      &ReferenceField{Reference: "Patient/patient-42"},
				Type:         &CodeableConcept{Text: "nursing"},
				Date:         "2026-03-14T07:00:00Z",
				Content:      []DocumentContent{{Attachment: Attachment{ContentType: "text/plain", Data: note}}},
			}},
		},
	}

	p, err := ToPatientData(bundle)
	if err != nil {
		t.Fatalf("ToPatientData() error = %v", err)
	}

	if p.PatientRef != "patient-42" {
		t.Errorf("PatientRef = %q", p.PatientRef)
	}
	if len(p.Labs) != 1 || len(p.Vitals) != 1 || len(p.Notes) != 1 {
		t.Fatalf("labs=%d vitals=%d notes=%d, want 1 each", len(p.Labs), len(p.Vitals), len(p.Notes))
	}
	if p.Labs[0].Name != "lactate" || p.Labs[0].Flag != "high" {
		t.Errorf("lab = %+v, want lactate flagged high", p.Labs[0])
	}
	if p.Vitals[0].Name != "heart rate" || p.Vitals[0].Value != 118 {
		t.Errorf("vital = %+v", p.Vitals[0])
	}
	if p.Notes[0].Category != "nursing" || !strings.Contains(p.Notes[0].Text, "oxygen requirement") {
		t.Errorf("note = %+v", p.Notes[0])
	}
	if want := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC); !p.Labs[0].Taken.Equal(want) {
		t.Errorf("lab taken = %v, want %v", p.Labs[0].Taken, want)
	}
}

func TestToPatientDataInterpretationFlags(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"H", "high"},
		{"HH", "high"},
		{"L", "low"},
		{"LL", "low"},
		{"AA", "critical"},
		{"N", ""},
	}

	for _, tt := range tests {
		bundle := &Bundle{
			ResourceType: "Bundle",
			Entry:        []BundleEntry{{Resource: observation("lactate", "laboratory", tt.code, 4.1, "mmol/L")}},
		}
		p, err := ToPatientData(bundle)
		if err != nil {
			t.Fatalf("ToPatientData() error = %v", err)
		}
		if p.Labs[0].Flag != tt.want {
			t.Errorf("interpretation %q -> flag %q, want %q", tt.code, p.Labs[0].Flag, tt.want)
		}
	}
}

func TestToPatientDataRejectsNonBundle(t *testing.T) {
	if _, err := ToPatientData(&Bundle{ResourceType: "Patient"}); err == nil {
		t.Error("expected error for non-Bundle resource type")
	}
}

func TestToPatientDataRequiresPatientRef(t *testing.T) {
	bundle := &Bundle{
		ResourceType: "Bundle",
		Entry: []BundleEntry{{Resource: Resource{
			ResourceType:  "Observation",
			Code:          &CodeableConcept{Text: "lactate"},
			ValueQuantity: &Quantity{Value: 4.1, Unit: "mmol/L"},
		}}},
	}
	if _, err := ToPatientData(bundle); err == nil {
		t.Error("expected error for bundle without a patient reference")
	}
}

func TestToPatientDataSkipsMalformedEntries(t *testing.T) {
	bundle := &Bundle{
		ResourceType: "Bundle",
		Entry: []BundleEntry{
			{Resource: observation("lactate", "laboratory", "", 4.1, "mmol/L")},
			// No value quantity: skipped, not fatal.
			{Resource: Resource{
				ResourceType: "Observation",
				Code:         &CodeableConcept{Text: "hemoglobin"},
				Subject:      &ReferenceField{Reference: "Patient/patient-42"},
			}},
			// Unknown resource types are ignored.
			{Resource: Resource{ResourceType: "Medication"}},
		},
	}

	p, err := ToPatientData(bundle)
	if err != nil {
		t.Fatalf("ToPatientData() error = %v", err)
	}
	if len(p.Labs) != 1 {
		t.Errorf("got %d labs, want 1", len(p.Labs))
	}
}

func TestFromAssessment(t *testing.T) {
	id := types.NewID()
	a := &analysis.RiskAssessment{
		PredictionID:    id,
		PatientRef:      "patient-42",
		RiskScore:       0.7,
		ConfidenceScore: 0.62,
		Reasons: []analysis.ClinicalReason{
			{Text: "Elevated lactate", EvidenceIDs: []string{"kb-1"}, DataPoints: []string{"lactate"}},
			{Text: "Tachycardia", DataPoints: []string{"heart rate"}},
			{Text: "Oxygen requirement rising", DataPoints: []string{"nursing note"}},
		},
		LowConfidenceWarning: true,
		CreatedAt:            time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	res := FromAssessment(a)

	if res.ResourceType != "RiskAssessment" || res.Status != "final" {
		t.Errorf("resource type/status = %q/%q", res.ResourceType, res.Status)
	}
	if res.ID != id.String() {
		t.Errorf("ID = %q, want prediction id", res.ID)
	}
	if res.Subject.Reference != "Patient/patient-42" {
		t.Errorf("Subject = %q", res.Subject.Reference)
	}
	if len(res.Prediction) != 3 {
		t.Fatalf("got %d predictions, want 3", len(res.Prediction))
	}
	if res.Prediction[0].ProbabilityDecimal != 0.7 {
		t.Errorf("probability = %v", res.Prediction[0].ProbabilityDecimal)
	}
	if !strings.Contains(res.Prediction[0].Rationale, "kb-1") {
		t.Errorf("rationale missing evidence id: %q", res.Prediction[0].Rationale)
	}

	var sawConfidence, sawWarning bool
	for _, note := range res.Note {
		if strings.Contains(note.Text, "confidence_score=0.62") {
			sawConfidence = true
		}
		if strings.Contains(note.Text, "low confidence") {
			sawWarning = true
		}
	}
	if !sawConfidence || !sawWarning {
		t.Errorf("notes = %+v, want confidence and low-confidence annotations", res.Note)
	}
}
