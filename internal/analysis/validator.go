package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vitalis-health/clinsight/internal/model"
	apperrors "github.com/vitalis-health/clinsight/internal/shared/errors"
)

// paddedReasonText fills assessments the model under-justified even after
// the repair re-prompt. Its presence always forces the low-confidence
// warning.
const paddedReasonText = "Insufficient model-provided reasoning; this reason was added to complete the assessment and carries no specific clinical justification."

// degradedReasonSuffix marks reasons produced without knowledge-base
// evidence so the absence of citations is visible in the output itself.
const degradedReasonSuffix = " (no knowledge-base evidence was available for this assessment)"

// Repairer re-invokes the model once with a corrective instruction. The
// orchestrator supplies it so the validator stays free of transport
// concerns.
type Repairer func(ctx context.Context, instruction string) (*model.Response, error)

// validatorState tracks progress through the validation state machine.
type validatorState int

const (
	stateParsing validatorState = iota
	stateRepairing
	stateValid
	stateFatalInvalid
)

// Outcome is the validator's accepted result.
type Outcome struct {
	RiskScore            float64
	ConfidenceScore      float64
	Reasons              []ClinicalReason
	ForcedLowConfidence  bool
	LowConfidenceWarning bool
	// FinalRaw is the raw content of the response the outcome was built
	// from, retained for the audit record.
	FinalRaw string
	Result   ValidationResult
}

// rawOutput is the wire shape the model is instructed to emit.
type rawOutput struct {
	RiskScore       *float64    `json:"risk_score"`
	ConfidenceScore *float64    `json:"confidence_score"`
	Reasons         []rawReason `json:"reasons"`
}

type rawReason struct {
	Text        string   `json:"text"`
	EvidenceIDs []string `json:"evidence_ids"`
	DataPoints  []string `json:"data_points"`
}

// Validator parses, bounds-checks and repairs structured model output.
// Each repair path re-invokes the model at most once; the total number of
// model calls per validation is bounded at three (initial + parse repair +
// reason repair).
type Validator struct {
	prompts         *PromptBuilder
	threshold       float64
	degradedPenalty float64
	log             zerolog.Logger
}

// NewValidator creates a validator.
func NewValidator(prompts *PromptBuilder, log zerolog.Logger) *Validator {
	return &Validator{
		prompts:         prompts,
		threshold:       LowConfidenceThreshold,
		degradedPenalty: 0.1,
		log:             log,
	}
}

// Validate runs the state machine over a raw model response. prompt is the
// text the response answered, needed to build repair re-prompts. degraded
// indicates the analysis ran without knowledge-base evidence.
func (v *Validator) Validate(ctx context.Context, resp *model.Response, prompt string, degraded bool, repair Repairer) (*Outcome, error) {
	state := stateParsing
	raw := resp.Content
	var result ValidationResult
	var parsed *rawOutput

	// Parsing: structured extraction, one clarified re-prompt on failure.
	for state == stateParsing || state == stateRepairing {
		out, err := parseOutput(raw)
		if err == nil {
			parsed = out
			break
		}

		if state == stateRepairing {
			// Second parse failure is terminal. No silent fabrication.
			state = stateFatalInvalid
			result.Valid = state == stateValid
			result.Errors = append(result.Errors, "repair response also unparseable: "+err.Error())
			return nil, apperrors.MalformedOutput(err)
		}

		result.Warnings = append(result.Warnings, "initial output unparseable: "+err.Error())
		v.log.Warn().Err(err).Msg("model output unparseable, re-prompting once")

		repaired, rerr := repair(ctx, v.prompts.BuildParseRepair(prompt, raw))
		if rerr != nil {
			return nil, rerr
		}
		raw = repaired.Content
		state = stateRepairing
	}

	riskScore, clampedRisk := clamp01(*parsed.RiskScore)
	if clampedRisk {
		result.Warnings = append(result.Warnings, fmt.Sprintf("risk_score %g clamped into [0,1]", *parsed.RiskScore))
	}
	confidence, clampedConf := clamp01(*parsed.ConfidenceScore)
	if clampedConf {
		result.Warnings = append(result.Warnings, fmt.Sprintf("confidence_score %g clamped into [0,1]", *parsed.ConfidenceScore))
	}

	// Reason-count check: one explicit re-prompt, then pad.
	reasons := parsed.Reasons
	forced := false
	if len(reasons) < ReasonCount {
		result.Warnings = append(result.Warnings, fmt.Sprintf("model returned %d reasons, re-prompting for %d", len(reasons), ReasonCount))
		v.log.Warn().Int("reasons", len(reasons)).Msg("too few reasons, re-prompting once")

		repaired, rerr := repair(ctx, v.prompts.BuildReasonRepair(prompt, raw))
		if rerr != nil {
			// A bounds-checked assessment is already in hand; a failed
			// re-prompt downgrades to the padded fallback instead of
			// discarding it.
			v.log.Warn().Err(rerr).Msg("reason re-prompt failed, falling back to padding")
			result.Warnings = append(result.Warnings, "reason re-prompt failed; padding instead")
		} else if out, err := parseOutput(repaired.Content); err == nil && len(out.Reasons) > len(reasons) {
			raw = repaired.Content
			reasons = out.Reasons
			// Scores follow the response the reasons came from.
			if out.RiskScore != nil {
				var clamped bool
				riskScore, clamped = clamp01(*out.RiskScore)
				if clamped {
					result.Warnings = append(result.Warnings, fmt.Sprintf("risk_score %g clamped into [0,1]", *out.RiskScore))
				}
			}
			if out.ConfidenceScore != nil {
				var clamped bool
				confidence, clamped = clamp01(*out.ConfidenceScore)
				if clamped {
					result.Warnings = append(result.Warnings, fmt.Sprintf("confidence_score %g clamped into [0,1]", *out.ConfidenceScore))
				}
			}
		}

		if len(reasons) < ReasonCount {
			// Padded fallback: fill to three and force the warning
			// regardless of the confidence score.
			for len(reasons) < ReasonCount {
				reasons = append(reasons, rawReason{Text: paddedReasonText})
			}
			forced = true
			result.Warnings = append(result.Warnings, "padded to required reason count; low-confidence warning forced")
		}
	}
	if len(reasons) > ReasonCount {
		reasons = reasons[:ReasonCount]
		result.Warnings = append(result.Warnings, "model returned extra reasons; truncated")
	}

	if degraded {
		confidence = max(0, confidence-v.degradedPenalty)
		result.Warnings = append(result.Warnings, "knowledge base unavailable; confidence penalized")
	}

	outReasons := make([]ClinicalReason, 0, ReasonCount)
	for _, r := range reasons {
		text := strings.TrimSpace(r.Text)
		evidence := r.EvidenceIDs
		if degraded {
			// No references were supplied, so citations cannot be real.
			evidence = nil
			if !strings.HasSuffix(text, degradedReasonSuffix) {
				text += degradedReasonSuffix
			}
		}
		outReasons = append(outReasons, ClinicalReason{
			Text:        text,
			EvidenceIDs: evidence,
			DataPoints:  r.DataPoints,
		})
	}

	// Derived value: low confidence follows the score unless the padded
	// fallback already forced it. The two paths stay distinguishable.
	warning := confidence < v.threshold
	if forced {
		warning = true
	}

	state = stateValid
	result.Valid = state == stateValid

	return &Outcome{
		RiskScore:            riskScore,
		ConfidenceScore:      confidence,
		Reasons:              outReasons,
		ForcedLowConfidence:  forced,
		LowConfidenceWarning: warning,
		FinalRaw:             raw,
		Result:               result,
	}, nil
}

// parseOutput extracts the JSON object from raw model text. Models wrap
// JSON in prose or fences often enough that we scan for the outermost
// object instead of decoding the whole string.
func parseOutput(raw string) (*rawOutput, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in output")
	}

	var out rawOutput
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if out.RiskScore == nil {
		return nil, fmt.Errorf("missing risk_score")
	}
	if out.ConfidenceScore == nil {
		return nil, fmt.Errorf("missing confidence_score")
	}
	return &out, nil
}

func clamp01(v float64) (float64, bool) {
	if v < 0 {
		return 0, true
	}
	if v > 1 {
		return 1, true
	}
	return v, false
}
