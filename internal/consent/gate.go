package consent

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Decision is the outcome of a consent check.
type Decision string

const (
	// DecisionAllowed means the patient has not opted out of AI analysis.
	DecisionAllowed Decision = "allowed"
	// DecisionDenied means the patient has opted out.
	DecisionDenied Decision = "denied"
	// DecisionUndetermined means the opt-out registry could not be reached.
	// Callers must treat Undetermined exactly like Denied.
	DecisionUndetermined Decision = "undetermined"
)

// Store looks up opt-out status in whichever registry owns it.
type Store interface {
	// OptOut reports whether the patient has opted out of AI processing.
	OptOut(ctx context.Context, patientRef string) (bool, error)
}

// Gate performs the fail-safe consent check that fronts every analysis.
// Ambiguity always resolves toward rejection: a store error, a timeout or
// an empty identifier all yield Undetermined, never Allowed.
type Gate struct {
	store   Store
	timeout time.Duration
	log     zerolog.Logger
}

// NewGate creates a consent gate over the given registry.
func NewGate(store Store, timeout time.Duration, log zerolog.Logger) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{store: store, timeout: timeout, log: log}
}

// Check resolves the consent decision for a patient.
func (g *Gate) Check(ctx context.Context, patientRef string) Decision {
	if patientRef == "" {
		return DecisionUndetermined
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	optedOut, err := g.store.OptOut(ctx, patientRef)
	if err != nil {
		g.log.Warn().Err(err).Msg("consent store unreachable, rejecting")
		return DecisionUndetermined
	}

	if optedOut {
		return DecisionDenied
	}
	return DecisionAllowed
}
