package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/vitalis-health/clinsight/internal/knowledge"
)

// SystemPrompt frames every risk-assessment invocation.
const SystemPrompt = `You are a clinical decision-support assistant. You assess patient deterioration risk from structured clinical data and cited evidence. You respond with JSON only, no prose outside the JSON object.`

const outputInstructions = `Respond with a single JSON object of this exact shape:
{"risk_score": <number 0.0-1.0>, "confidence_score": <number 0.0-1.0>, "reasons": [{"text": "...", "evidence_ids": ["..."], "data_points": ["..."]}]}
Requirements:
- risk_score and confidence_score must be between 0.0 and 1.0
- reasons must contain exactly 3 entries
- each reason must cite one or more specific data points from the patient data by name
- evidence_ids may only contain ids of the provided references`

// PromptBuilder constructs model prompts. Build is a pure function: the
// same patient data and references always produce the same text.
type PromptBuilder struct{}

// NewPromptBuilder creates a prompt builder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// Build renders the reasoning request. Sequences are rendered in their
// given order; no map iteration, no clock reads.
func (b *PromptBuilder) Build(p PatientData, refs []knowledge.Reference) string {
	var sb strings.Builder

	sb.WriteString("Assess the deterioration risk for the following patient.\n\n")

	sb.WriteString("## Lab results\n")
	if len(p.Labs) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, lab := range p.Labs {
		flag := ""
		if lab.Flag != "" {
			flag = " [" + lab.Flag + "]"
		}
		fmt.Fprintf(&sb, "- %s: %g %s%s (%s)\n", lab.Name, lab.Value, lab.Unit, flag, lab.Taken.UTC().Format(time.RFC3339))
	}

	sb.WriteString("\n## Vital signs\n")
	if len(p.Vitals) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, vital := range p.Vitals {
		fmt.Fprintf(&sb, "- %s: %g %s (%s)\n", vital.Name, vital.Value, vital.Unit, vital.Taken.UTC().Format(time.RFC3339))
	}

	sb.WriteString("\n## Clinical notes\n")
	if len(p.Notes) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, note := range p.Notes {
		fmt.Fprintf(&sb, "- [%s, %s] %s\n", note.Category, note.Recorded.UTC().Format(time.RFC3339), note.Text)
	}

	sb.WriteString("\n## Supporting references\n")
	if len(refs) == 0 {
		sb.WriteString("(no external evidence available; reason from the patient data alone)\n")
	}
	for _, ref := range refs {
		fmt.Fprintf(&sb, "- id=%s source=%s relevance=%.2f: %s — %s\n", ref.ID, ref.Source, ref.Relevance, ref.Title, ref.Content)
	}

	sb.WriteString("\n")
	sb.WriteString(outputInstructions)

	return sb.String()
}

// BuildParseRepair renders the clarified re-prompt issued after output
// that could not be parsed.
func (b *PromptBuilder) BuildParseRepair(original, rawOutput string) string {
	var sb strings.Builder
	sb.WriteString("Your previous response could not be parsed as JSON. ")
	sb.WriteString("Reply again with only the JSON object, no surrounding text.\n\n")
	sb.WriteString("Previous response:\n")
	sb.WriteString(rawOutput)
	sb.WriteString("\n\nOriginal request:\n")
	sb.WriteString(original)
	return sb.String()
}

// BuildReasonRepair renders the re-prompt issued when the output carried
// fewer than the required three reasons.
func (b *PromptBuilder) BuildReasonRepair(original, rawOutput string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your previous response did not contain exactly %d reasons. ", ReasonCount)
	fmt.Fprintf(&sb, "Reply again with the same JSON shape and exactly %d reasons, each citing specific data points.\n\n", ReasonCount)
	sb.WriteString("Previous response:\n")
	sb.WriteString(rawOutput)
	sb.WriteString("\n\nOriginal request:\n")
	sb.WriteString(original)
	return sb.String()
}
