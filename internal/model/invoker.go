package model

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/vitalis-health/clinsight/internal/shared/errors"
	"github.com/vitalis-health/clinsight/internal/shared/metrics"
)

// Invoker wraps the model client with the bounded retry policy:
//
//   - throttling-class failures back off exponentially, 3 attempts total
//   - a timed-out attempt (30s deadline) is retried exactly once; a second
//     timeout is fatal
//   - auth and malformed-request failures surface immediately
//
// The policy is an explicit loop over bounded counters so the worst-case
// number of model calls and total latency can be read off the code.
type Invoker struct {
	client         Client
	maxAttempts    int
	attemptTimeout time.Duration
	baseBackoff    time.Duration
	log            zerolog.Logger
}

// NewInvoker creates an invoker with the given bounds. maxAttempts counts
// throttle-class attempts in total, not retries.
func NewInvoker(client Client, maxAttempts int, attemptTimeout time.Duration, log zerolog.Logger) *Invoker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	return &Invoker{
		client:         client,
		maxAttempts:    maxAttempts,
		attemptTimeout: attemptTimeout,
		baseBackoff:    time.Second,
		log:            log,
	}
}

// Invoke performs one attempt under the per-attempt deadline, recording
// duration and token usage whether or not the attempt succeeded.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, inv.attemptTimeout)
	defer cancel()

	start := time.Now()
	resp, err := inv.client.Invoke(attemptCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordModelInvocation(resultLabel(err), elapsed)
		// The failed attempt still consumed input tokens at the endpoint;
		// without a response we estimate from the prompt length.
		metrics.RecordModelTokens(estimateTokens(req.Prompt)+estimateTokens(req.System), 0)
		return nil, err
	}

	metrics.RecordModelInvocation("success", elapsed)
	metrics.RecordModelTokens(resp.InputTokens, resp.OutputTokens)
	return resp, nil
}

// InvokeWithRetry runs the full retry policy around Invoke.
func (inv *Invoker) InvokeWithRetry(ctx context.Context, req Request) (*Response, error) {
	attempt := 0
	timeoutRetries := 0

	for {
		attempt++
		resp, err := inv.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}

		switch KindOf(err) {
		case KindThrottled:
			if attempt >= inv.maxAttempts {
				inv.log.Warn().Int("attempts", attempt).Msg("model throttling retries exhausted")
				return nil, apperrors.ModelThrottled(err)
			}
			backoff := inv.baseBackoff << (attempt - 1)
			inv.log.Debug().Int("attempt", attempt).Dur("backoff", backoff).Msg("model throttled, backing off")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, classifyErr(ctx.Err())
			}

		case KindTimeout:
			if timeoutRetries >= 1 {
				inv.log.Warn().Msg("model timed out twice, giving up")
				return nil, apperrors.ModelTimeout(err)
			}
			timeoutRetries++
			inv.log.Debug().Msg("model timed out, retrying once")

		default:
			// Auth and malformed-request failures are not retryable.
			return nil, err
		}
	}
}

func resultLabel(err error) string {
	switch KindOf(err) {
	case KindThrottled:
		return "throttled"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth_error"
	case KindBadRequest:
		return "bad_request"
	default:
		return "error"
	}
}

// estimateTokens approximates token usage for attempts that produced no
// usage report. Four characters per token is the conventional estimate.
func estimateTokens(text string) int {
	return len(text) / 4
}
