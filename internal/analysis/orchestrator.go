package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalis-health/clinsight/internal/audit"
	"github.com/vitalis-health/clinsight/internal/consent"
	"github.com/vitalis-health/clinsight/internal/knowledge"
	"github.com/vitalis-health/clinsight/internal/model"
	apperrors "github.com/vitalis-health/clinsight/internal/shared/errors"
	"github.com/vitalis-health/clinsight/internal/shared/events"
	"github.com/vitalis-health/clinsight/internal/shared/metrics"
	"github.com/vitalis-health/clinsight/internal/shared/types"
)

// ConsentChecker fronts the pipeline with the fail-safe opt-out check.
type ConsentChecker interface {
	Check(ctx context.Context, patientRef string) consent.Decision
}

// ContextRetriever fetches supporting evidence, reporting degraded mode
// instead of failing.
type ContextRetriever interface {
	Retrieve(ctx context.Context, signals []string) ([]knowledge.Reference, bool)
}

// ModelInvoker calls the foundation model under the bounded retry policy.
type ModelInvoker interface {
	InvokeWithRetry(ctx context.Context, req model.Request) (*model.Response, error)
}

// Recorder persists the audit trail. Its failures are absorbed internally
// and never surface here.
type Recorder interface {
	Record(ctx context.Context, rec *audit.Record) error
}

// Publisher emits analysis lifecycle events; may be absent.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Orchestrator sequences one analysis end to end. Collaborators are
// injected per instance, never process-global, so concurrent requests
// share nothing but the downstream services themselves.
type Orchestrator struct {
	consent   ConsentChecker
	retriever ContextRetriever
	prompts   *PromptBuilder
	invoker   ModelInvoker
	validator *Validator
	recorder  Recorder
	publisher Publisher
	modelID   string
	log       zerolog.Logger
}

// NewOrchestrator wires the pipeline. publisher may be nil.
func NewOrchestrator(
	consentGate ConsentChecker,
	retriever ContextRetriever,
	prompts *PromptBuilder,
	invoker ModelInvoker,
	validator *Validator,
	recorder Recorder,
	publisher Publisher,
	modelID string,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		consent:   consentGate,
		retriever: retriever,
		prompts:   prompts,
		invoker:   invoker,
		validator: validator,
		recorder:  recorder,
		publisher: publisher,
		modelID:   modelID,
		log:       log,
	}
}

// AnalyzePatient runs the full workflow: consent, retrieval, prompt,
// invocation, validation, audit. Every attempted prediction produces
// exactly one audit record, whatever the outcome, and a pending audit
// write is never cancelled by the caller going away.
func (o *Orchestrator) AnalyzePatient(ctx context.Context, p PatientData) (*RiskAssessment, error) {
	if p.PatientRef == "" {
		return nil, apperrors.BadRequest("patient identifier is required")
	}

	start := time.Now()
	predictionID := types.NewID()

	snapshot, err := json.Marshal(p)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	rec := &audit.Record{
		PredictionID:  predictionID,
		PatientRef:    p.PatientRef,
		InputSnapshot: string(snapshot),
		ModelName:     o.modelID,
		CreatedAt:     time.Now().UTC(),
	}

	switch o.consent.Check(ctx, p.PatientRef) {
	case consent.DecisionDenied:
		o.finish(ctx, rec, audit.OutcomeRejectedConsent, start)
		return nil, apperrors.ConsentDenied()
	case consent.DecisionUndetermined:
		o.finish(ctx, rec, audit.OutcomeRejectedUndetermined, start)
		return nil, apperrors.ConsentUndetermined()
	}

	refs, degraded := o.retriever.Retrieve(ctx, p.Signals())
	rec.DegradedContext = degraded
	rec.ReferenceIDs = referenceIDs(refs)

	prompt := o.prompts.Build(p, refs)
	rec.Prompt = prompt

	resp, err := o.invoker.InvokeWithRetry(ctx, model.Request{
		Prompt:      prompt,
		System:      SystemPrompt,
		Temperature: 0,
	})
	if err != nil {
		o.finish(ctx, rec, modelOutcome(err), start)
		return nil, err
	}
	if resp.Model != "" {
		rec.ModelName = resp.Model
	}
	rec.ModelOutput = resp.Content

	repair := func(ctx context.Context, instruction string) (*model.Response, error) {
		return o.invoker.InvokeWithRetry(ctx, model.Request{
			Prompt:      instruction,
			System:      SystemPrompt,
			Temperature: 0,
		})
	}

	outcome, err := o.validator.Validate(ctx, resp, prompt, degraded, repair)
	if err != nil {
		if errors.Is(err, apperrors.ErrMalformedOutput) {
			o.finish(ctx, rec, audit.OutcomeInvalidOutput, start)
		} else {
			o.finish(ctx, rec, modelOutcome(err), start)
		}
		return nil, err
	}
	rec.ModelOutput = outcome.FinalRaw

	assessment := &RiskAssessment{
		PredictionID:         predictionID,
		PatientRef:           p.PatientRef,
		RiskScore:            outcome.RiskScore,
		ConfidenceScore:      outcome.ConfidenceScore,
		Reasons:              outcome.Reasons,
		LowConfidenceWarning: outcome.LowConfidenceWarning,
		CreatedAt:            time.Now().UTC(),
	}

	if assessmentJSON, err := json.Marshal(assessment); err == nil {
		rec.Assessment = assessmentJSON
	}

	o.finish(ctx, rec, audit.OutcomeCompleted, start)

	o.log.Info().
		Str("prediction_id", predictionID.String()).
		Float64("risk_score", assessment.RiskScore).
		Float64("confidence_score", assessment.ConfidenceScore).
		Bool("low_confidence", assessment.LowConfidenceWarning).
		Bool("degraded_context", degraded).
		Msg("analysis completed")

	return assessment, nil
}

// finish records the audit trail and emits metrics and events for one
// terminal outcome. The audit context is detached from the caller so a
// cancelled request cannot cancel its own audit write.
func (o *Orchestrator) finish(ctx context.Context, rec *audit.Record, outcome audit.Outcome, start time.Time) {
	rec.Outcome = outcome

	auditCtx := context.WithoutCancel(ctx)
	if err := o.recorder.Record(auditCtx, rec); err != nil {
		// The recorder absorbs write failures; an error here is a
		// programming error, and the request outcome stands regardless.
		o.log.Error().Err(err).Str("prediction_id", rec.PredictionID.String()).Msg("audit recording failed")
	}

	metrics.RecordAnalysis(string(outcome), time.Since(start))

	if o.publisher != nil {
		event := events.NewEvent(eventType(outcome), rec.PredictionID, map[string]any{
			"outcome":          string(outcome),
			"degraded_context": rec.DegradedContext,
		})
		if err := o.publisher.Publish(auditCtx, event); err != nil {
			o.log.Warn().Err(err).Msg("failed to publish analysis event")
		}
	}
}

func eventType(outcome audit.Outcome) string {
	switch outcome {
	case audit.OutcomeCompleted:
		return events.TypeAnalysisCompleted
	case audit.OutcomeRejectedConsent, audit.OutcomeRejectedUndetermined:
		return events.TypeAnalysisRejected
	default:
		return events.TypeAnalysisFailed
	}
}

func modelOutcome(err error) audit.Outcome {
	if errors.Is(err, apperrors.ErrModelTimeout) {
		return audit.OutcomeModelTimeout
	}
	return audit.OutcomeModelFailure
}

func referenceIDs(refs []knowledge.Reference) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ID)
	}
	return ids
}
