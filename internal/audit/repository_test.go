package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/vitalis-health/clinsight/internal/shared/errors"
	"github.com/vitalis-health/clinsight/internal/shared/types"
)

// fakeRow replays stored column values through scanRecord, in the same
// column order the Postgres queries select.
type fakeRow struct {
	vals []any
}

func (r *fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan arity mismatch: %d != %d", len(dest), len(r.vals))
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *types.ID:
			*v = r.vals[i].(types.ID)
		case *int64:
			*v = r.vals[i].(int64)
		case *string:
			*v = r.vals[i].(string)
		case *Outcome:
			*v = r.vals[i].(Outcome)
		case *bool:
			*v = r.vals[i].(bool)
		case *[]byte:
			*v = r.vals[i].([]byte)
		case *time.Time:
			*v = r.vals[i].(time.Time)
		default:
			return fmt.Errorf("unsupported scan destination %T", d)
		}
	}
	return nil
}

// memRepository stores records column-wise, mirroring the Postgres
// repository's chain position handling and serialization, and rehydrates
// reads through scanRecord so the round trip exercises the same path.
type memRepository struct {
	mu       sync.Mutex
	lastHash string
	seq      int64
	rows     [][]any
}

func (m *memRepository) Insert(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.PrevHash = m.lastHash
	rec.Hash = rec.ComputeHash()
	m.seq++
	rec.Sequence = m.seq

	refIDs, err := json.Marshal(rec.ReferenceIDs)
	if err != nil {
		return err
	}
	var assessment []byte
	if len(rec.Assessment) > 0 {
		assessment = append([]byte(nil), rec.Assessment...)
	}

	m.rows = append(m.rows, []any{
		rec.PredictionID, rec.Sequence, rec.PatientRef, rec.Outcome,
		rec.InputSnapshot, rec.Prompt, rec.ModelOutput,
		refIDs, assessment, rec.DegradedContext,
		rec.ModelName, rec.ModelVersion, rec.Hash, rec.PrevHash, rec.CreatedAt,
	})
	m.lastHash = rec.Hash
	return nil
}

func (m *memRepository) GetByPredictionID(ctx context.Context, id types.ID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row[0].(types.ID) == id {
			return scanRecord(&fakeRow{vals: row})
		}
	}
	return nil, apperrors.NotFound("audit record", id.String())
}

func (m *memRepository) List(ctx context.Context, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []Record
	for i := len(m.rows) - 1; i >= 0; i-- {
		rec, err := scanRecord(&fakeRow{vals: m.rows[i]})
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func TestRecordRoundTrip(t *testing.T) {
	repo := &memRepository{}
	recorder := NewRecorder(repo, NewRegexPolicy(), newCapturingNotifier(), testRecorderConfig(), zerolog.Nop())
	recorder.Start()
	defer recorder.Stop()

	written := auditTestRecord()
	written.ReferenceIDs = []string{"kb-1", "kb-2"}
	written.Assessment = json.RawMessage(`{"risk_score":0.7,"confidence_score":0.9}`)
	written.DegradedContext = true
	written.ModelVersion = "2026-01"

	if err := recorder.Record(context.Background(), written); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// written now holds the scrubbed, hashed state the store received.
	got, err := repo.GetByPredictionID(context.Background(), written.PredictionID)
	if err != nil {
		t.Fatalf("GetByPredictionID() error = %v", err)
	}

	if got.InputSnapshot != written.InputSnapshot {
		t.Errorf("InputSnapshot = %q, want %q", got.InputSnapshot, written.InputSnapshot)
	}
	if got.Prompt != written.Prompt {
		t.Errorf("Prompt = %q, want %q", got.Prompt, written.Prompt)
	}
	if got.ModelOutput != written.ModelOutput {
		t.Errorf("ModelOutput = %q, want %q", got.ModelOutput, written.ModelOutput)
	}
	if !reflect.DeepEqual(got.ReferenceIDs, written.ReferenceIDs) {
		t.Errorf("ReferenceIDs = %v, want %v", got.ReferenceIDs, written.ReferenceIDs)
	}
	if string(got.Assessment) != string(written.Assessment) {
		t.Errorf("Assessment = %s, want %s", got.Assessment, written.Assessment)
	}
	if got.Outcome != written.Outcome || got.DegradedContext != written.DegradedContext {
		t.Errorf("outcome/degraded = %v/%v, want %v/%v", got.Outcome, got.DegradedContext, written.Outcome, written.DegradedContext)
	}
	if got.ModelName != written.ModelName || got.ModelVersion != written.ModelVersion {
		t.Errorf("model = %s/%s, want %s/%s", got.ModelName, got.ModelVersion, written.ModelName, written.ModelVersion)
	}
	if !got.CreatedAt.Equal(written.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, written.CreatedAt)
	}

	if !got.VerifyHash() {
		t.Error("read-back record failed hash verification")
	}
}

func TestRecordRoundTripChain(t *testing.T) {
	repo := &memRepository{}
	recorder := NewRecorder(repo, NewRegexPolicy(), newCapturingNotifier(), testRecorderConfig(), zerolog.Nop())
	recorder.Start()
	defer recorder.Stop()

	first := auditTestRecord()
	second := auditTestRecord()
	second.PredictionID = types.NewID()
	second.Outcome = OutcomeModelTimeout

	for _, rec := range []*Record{first, second} {
		if err := recorder.Record(context.Background(), rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := repo.GetByPredictionID(context.Background(), second.PredictionID)
	if err != nil {
		t.Fatalf("GetByPredictionID() error = %v", err)
	}
	if got.PrevHash != first.Hash {
		t.Errorf("PrevHash = %q, want the first record's hash %q", got.PrevHash, first.Hash)
	}
	if !got.VerifyHash() {
		t.Error("chained record failed hash verification")
	}

	records, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(records))
	}
	if records[0].PredictionID != second.PredictionID {
		t.Error("List() must return newest records first")
	}
	for _, rec := range records {
		if !rec.VerifyHash() {
			t.Errorf("listed record %s failed hash verification", rec.PredictionID)
		}
	}

	if _, err := repo.GetByPredictionID(context.Background(), types.NewID()); err == nil {
		t.Error("expected an error for an unknown prediction id")
	}
}
