package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalis-health/clinsight/internal/alert"
	"github.com/vitalis-health/clinsight/internal/shared/config"
	"github.com/vitalis-health/clinsight/internal/shared/metrics"
)

// Recorder persists audit records. The synchronous attempt never blocks
// the caller's response: a failed write is queued for background retry and
// the caller proceeds. Exhausted retries raise an operational alert; they
// never reverse an already-returned result.
type Recorder struct {
	repo     Repository
	policy   RedactionPolicy
	notifier alert.Notifier
	log      zerolog.Logger

	writeTimeout time.Duration
	retryDelay   time.Duration
	attempts     int
	redactTerms  []string

	queue  chan *Record
	stopCh chan struct{}
	done   chan struct{}
}

// NewRecorder creates a recorder. Call Start before use and Stop on
// shutdown to drain the retry queue.
func NewRecorder(repo Repository, policy RedactionPolicy, notifier alert.Notifier, cfg config.AuditConfig, log zerolog.Logger) *Recorder {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 5
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 10 * time.Second
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	return &Recorder{
		repo:         repo,
		policy:       policy,
		notifier:     notifier,
		log:          log,
		writeTimeout: writeTimeout,
		retryDelay:   retryDelay,
		attempts:     attempts,
		redactTerms:  cfg.RedactTerms,
		queue:        make(chan *Record, queueSize),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the background retry worker.
func (r *Recorder) Start() {
	go r.retryLoop()
}

// Stop signals the worker and waits for it to finish the record in hand.
// Records still queued at shutdown are surfaced as an alert.
func (r *Recorder) Stop() {
	close(r.stopCh)
	<-r.done

	remaining := len(r.queue)
	if remaining > 0 {
		r.log.Error().Int("records", remaining).Msg("audit retry queue not empty at shutdown")
		r.notifier.Critical(context.Background(), "audit records lost at shutdown", map[string]any{
			"count": remaining,
		})
	}
}

// Record scrubs and persists one audit record. The error return is always
// nil today; it stays in the signature so callers treat recording as
// fallible.
func (r *Recorder) Record(ctx context.Context, rec *Record) error {
	// Scrub before any persistence attempt so the raw text cannot reach
	// the store on any path. The structured PatientRef field survives as
	// an opaque key; its value must not appear in free text. Configured
	// redaction terms cover names the regex patterns cannot know about.
	identifiers := append([]string{rec.PatientRef}, r.redactTerms...)
	rec.InputSnapshot = r.policy.Scrub(rec.InputSnapshot, identifiers)
	rec.Prompt = r.policy.Scrub(rec.Prompt, identifiers)
	rec.ModelOutput = r.policy.Scrub(rec.ModelOutput, identifiers)

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()

	if err := r.repo.Insert(writeCtx, rec); err != nil {
		r.log.Warn().Err(err).Str("prediction_id", rec.PredictionID.String()).Msg("audit write failed, queuing for retry")
		r.enqueue(rec)
		return nil
	}

	metrics.RecordAuditWrite("sync")
	return nil
}

func (r *Recorder) enqueue(rec *Record) {
	select {
	case r.queue <- rec:
		metrics.SetAuditQueueDepth(len(r.queue))
	default:
		// Queue full: this record will never be written. Escalate now.
		metrics.RecordAuditWriteFailure()
		r.notifier.Critical(context.Background(), "audit retry queue full, record dropped", map[string]any{
			"prediction_id": rec.PredictionID.String(),
		})
	}
}

// retryLoop drains the retry queue, retrying each record with backoff
// until it is written or attempts are exhausted.
func (r *Recorder) retryLoop() {
	defer close(r.done)

	for {
		select {
		case rec := <-r.queue:
			metrics.SetAuditQueueDepth(len(r.queue))
			r.retryRecord(rec)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Recorder) retryRecord(rec *Record) {
	for attempt := 1; attempt <= r.attempts; attempt++ {
		select {
		case <-time.After(r.retryDelay * time.Duration(attempt)):
		case <-r.stopCh:
			// One final immediate try before shutdown.
		}

		metrics.RecordAuditRetry()

		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		err := r.repo.Insert(ctx, rec)
		cancel()

		if err == nil {
			metrics.RecordAuditWrite("background")
			r.log.Info().Str("prediction_id", rec.PredictionID.String()).Int("attempt", attempt).Msg("audit record written on retry")
			return
		}

		r.log.Warn().Err(err).Str("prediction_id", rec.PredictionID.String()).Int("attempt", attempt).Msg("audit retry failed")
	}

	metrics.RecordAuditWriteFailure()
	r.notifier.Critical(context.Background(), "audit write retries exhausted", map[string]any{
		"prediction_id": rec.PredictionID.String(),
		"attempts":      r.attempts,
	})
}
