package audit

import (
	"strings"
	"testing"
)

func TestScrubRemovesSuppliedIdentifiers(t *testing.T) {
	p := NewRegexPolicy()

	text := `{"patient_ref":"patient-42","note":"PATIENT-42 seen again today"}`
	got := p.Scrub(text, []string{"patient-42"})

	if strings.Contains(strings.ToLower(got), "patient-42") {
		t.Errorf("identifier survived scrub: %q", got)
	}
	if !strings.Contains(got, RedactionToken) {
		t.Errorf("redaction token absent: %q", got)
	}
}

func TestScrubIdentifierAfterMultibyteRunes(t *testing.T) {
	p := NewRegexPolicy()

	// Runes whose lowercase mapping changes byte length (İ U+0130) must
	// not shift the redaction span onto the wrong bytes.
	tests := []string{
		"İ patient-42 seen in clinic",
		"İİİ note for PATIENT-42 today",
		"Ärztin İnci reviewed patient-42 and patient-42 again",
	}

	for _, text := range tests {
		got := p.Scrub(text, []string{"patient-42"})
		if strings.Contains(strings.ToLower(got), "patient-42") {
			t.Errorf("Scrub(%q) leaked identifier: %q", text, got)
		}
		if strings.Contains(got, "42") {
			t.Errorf("Scrub(%q) leaked identifier fragment: %q", text, got)
		}
		if !strings.Contains(got, RedactionToken) {
			t.Errorf("Scrub(%q) did not redact: %q", text, got)
		}
	}
}

func TestScrubPatterns(t *testing.T) {
	p := NewRegexPolicy()

	tests := []struct {
		name string
		text string
		leak string
	}{
		{"email", "contact jane.doe@example.org for records", "jane.doe@example.org"},
		{"phone", "call +381 11 555 1234 to confirm", "555 1234"},
		{"mrn", "admitted under MRN: 8841-2290", "8841-2290"},
		{"digit run", "insurance number 77421983 on file", "77421983"},
		{"honorific name", "reviewed by Dr. Petrovic this morning", "Petrovic"},
		{"patient name", "Patient Ana Kovac reports dizziness", "Ana Kovac"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Scrub(tt.text, nil)
			if strings.Contains(got, tt.leak) {
				t.Errorf("Scrub(%q) leaked %q: %q", tt.text, tt.leak, got)
			}
			if !strings.Contains(got, RedactionToken) {
				t.Errorf("Scrub(%q) did not redact anything: %q", tt.text, got)
			}
		})
	}
}

func TestScrubLeavesClinicalContent(t *testing.T) {
	p := NewRegexPolicy()

	text := "lactate 4.1 mmol/L, heart rate 118 bpm, oxygen requirement increasing"
	got := p.Scrub(text, []string{"patient-42"})

	if got != text {
		t.Errorf("clinical values altered: %q -> %q", text, got)
	}
}

func TestScrubEmptyInput(t *testing.T) {
	p := NewRegexPolicy()
	if got := p.Scrub("", []string{"patient-42"}); got != "" {
		t.Errorf("Scrub(\"\") = %q", got)
	}
}
