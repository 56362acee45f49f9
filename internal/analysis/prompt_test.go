package analysis

import (
	"strings"
	"testing"
	"time"

	"github.com/vitalis-health/clinsight/internal/knowledge"
)

func samplePatient() PatientData {
	taken := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return PatientData{
		PatientRef: "patient-42",
		Labs: []LabResult{
			{Name: "lactate", Value: 4.1, Unit: "mmol/L", Flag: "high", Taken: taken},
			{Name: "creatinine", Value: 1.1, Unit: "mg/dL", Taken: taken},
		},
		Vitals: []VitalSign{
			{Name: "heart rate", Value: 118, Unit: "bpm", Taken: taken},
		},
		Notes: []ClinicalNote{
			{Category: "nursing", Text: "Increasing oxygen requirement overnight.", Recorded: taken},
		},
		Recorded: taken,
	}
}

func sampleReferences() []knowledge.Reference {
	return []knowledge.Reference{
		{ID: "kb-1", Title: "Lactate and deterioration", Content: "Serum lactate above 4 predicts deterioration.", Source: "guideline", Relevance: 0.93},
		{ID: "kb-2", Title: "Tachycardia thresholds", Content: "Sustained HR above 110 warrants review.", Source: "guideline", Relevance: 0.81},
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewPromptBuilder()
	p := samplePatient()
	refs := sampleReferences()

	first := b.Build(p, refs)
	for i := 0; i < 10; i++ {
		if got := b.Build(p, refs); got != first {
			t.Fatalf("Build() not deterministic on iteration %d", i)
		}
	}
}

func TestBuildIncludesAllSections(t *testing.T) {
	b := NewPromptBuilder()
	prompt := b.Build(samplePatient(), sampleReferences())

	for _, want := range []string{
		"## Lab results",
		"## Vital signs",
		"## Clinical notes",
		"## Supporting references",
		"lactate: 4.1 mmol/L [high]",
		"heart rate: 118 bpm",
		"Increasing oxygen requirement",
		"id=kb-1",
		"id=kb-2",
		"exactly 3 entries",
		"2026-03-14T09:30:00Z",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildEmptySections(t *testing.T) {
	b := NewPromptBuilder()
	prompt := b.Build(PatientData{PatientRef: "p"}, nil)

	if strings.Count(prompt, "(none)") != 3 {
		t.Errorf("empty labs, vitals and notes should each render a placeholder:\n%s", prompt)
	}
	if !strings.Contains(prompt, "no external evidence available") {
		t.Error("missing-references placeholder absent")
	}
}

func TestBuildOmitsPatientIdentifier(t *testing.T) {
	b := NewPromptBuilder()
	p := samplePatient()
	prompt := b.Build(p, nil)

	if strings.Contains(prompt, p.PatientRef) {
		t.Error("prompt must not contain the patient identifier")
	}
}

func TestSignals(t *testing.T) {
	p := samplePatient()
	p.Notes = append(p.Notes, ClinicalNote{Category: "nursing", Text: "duplicate category"})

	signals := p.Signals()
	want := []string{"high lactate", "heart rate", "nursing"}

	if len(signals) != len(want) {
		t.Fatalf("Signals() = %v, want %v", signals, want)
	}
	for i := range want {
		if signals[i] != want[i] {
			t.Errorf("signals[%d] = %q, want %q", i, signals[i], want[i])
		}
	}
}
