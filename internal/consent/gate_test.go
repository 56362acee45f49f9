package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	optedOut bool
	err      error
	calls    int
}

func (f *fakeStore) OptOut(ctx context.Context, patientRef string) (bool, error) {
	f.calls++
	return f.optedOut, f.err
}

func TestCheckAllowed(t *testing.T) {
	gate := NewGate(&fakeStore{optedOut: false}, time.Second, zerolog.Nop())

	if d := gate.Check(context.Background(), "patient-1"); d != DecisionAllowed {
		t.Errorf("Expected allowed, got %s", d)
	}
}

func TestCheckDenied(t *testing.T) {
	gate := NewGate(&fakeStore{optedOut: true}, time.Second, zerolog.Nop())

	if d := gate.Check(context.Background(), "patient-1"); d != DecisionDenied {
		t.Errorf("Expected denied, got %s", d)
	}
}

// A consent store failure must never resolve to Allowed.
func TestCheckStoreErrorIsUndetermined(t *testing.T) {
	gate := NewGate(&fakeStore{err: errors.New("connection refused")}, time.Second, zerolog.Nop())

	if d := gate.Check(context.Background(), "patient-1"); d != DecisionUndetermined {
		t.Errorf("Expected undetermined, got %s", d)
	}
}

func TestCheckEmptyPatientRef(t *testing.T) {
	store := &fakeStore{}
	gate := NewGate(store, time.Second, zerolog.Nop())

	if d := gate.Check(context.Background(), ""); d != DecisionUndetermined {
		t.Errorf("Expected undetermined for empty ref, got %s", d)
	}
	if store.calls != 0 {
		t.Errorf("Expected no store call for empty ref, got %d", store.calls)
	}
}

type slowStore struct{}

func (slowStore) OptOut(ctx context.Context, patientRef string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(time.Second):
		return false, nil
	}
}

func TestCheckTimeoutIsUndetermined(t *testing.T) {
	gate := NewGate(slowStore{}, 10*time.Millisecond, zerolog.Nop())

	if d := gate.Check(context.Background(), "patient-1"); d != DecisionUndetermined {
		t.Errorf("Expected undetermined on timeout, got %s", d)
	}
}
