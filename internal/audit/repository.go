package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/vitalis-health/clinsight/internal/shared/errors"
	"github.com/vitalis-health/clinsight/internal/shared/types"
)

// Repository is the durable audit store at its interface boundary.
type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	GetByPredictionID(ctx context.Context, id types.ID) (*Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// PGRepository provides append-only audit operations on Postgres.
type PGRepository struct {
	pool     *pgxpool.Pool
	mu       sync.Mutex
	lastHash string
}

// NewPGRepository creates a Postgres audit repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Initialize loads the last hash so new records chain onto the existing
// trail.
func (r *PGRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT hash FROM audit.predictions
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&hash)

	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Wrap(err, "failed to load last audit hash")
	}

	r.lastHash = hash
	return nil
}

// Insert appends a record, setting its chain position (thread-safe).
func (r *PGRepository) Insert(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.PrevHash = r.lastHash
	rec.Hash = rec.ComputeHash()

	refIDs, err := json.Marshal(rec.ReferenceIDs)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal reference ids")
	}

	var assessment []byte
	if len(rec.Assessment) > 0 {
		assessment = rec.Assessment
	}

	query := `
		INSERT INTO audit.predictions (
			prediction_id, patient_ref, outcome,
			input_snapshot, prompt, model_output,
			reference_ids, assessment, degraded_context,
			model_name, model_version, hash, prev_hash, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		) RETURNING sequence`

	err = r.pool.QueryRow(ctx, query,
		rec.PredictionID, rec.PatientRef, rec.Outcome,
		rec.InputSnapshot, rec.Prompt, rec.ModelOutput,
		refIDs, assessment, rec.DegradedContext,
		rec.ModelName, rec.ModelVersion, rec.Hash, rec.PrevHash, rec.CreatedAt,
	).Scan(&rec.Sequence)

	if err != nil {
		return apperrors.Wrap(err, "failed to append audit record")
	}

	r.lastHash = rec.Hash
	return nil
}

const selectColumns = `
	prediction_id, sequence, patient_ref, outcome,
	input_snapshot, prompt, model_output,
	reference_ids, assessment, degraded_context,
	model_name, model_version, hash, prev_hash, created_at`

// GetByPredictionID returns the record for one attempted prediction.
func (r *PGRepository) GetByPredictionID(ctx context.Context, id types.ID) (*Record, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM audit.predictions WHERE prediction_id = $1
	`, selectColumns), id)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("audit record", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load audit record")
	}
	return rec, nil
}

// List returns records matching the filter, newest first.
func (r *PGRepository) List(ctx context.Context, filter Filter) ([]Record, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if !filter.PredictionID.IsZero() {
		conditions = append(conditions, fmt.Sprintf("prediction_id = $%d", argNum))
		args = append(args, filter.PredictionID)
		argNum++
	}
	if filter.PatientRef != "" {
		conditions = append(conditions, fmt.Sprintf("patient_ref = $%d", argNum))
		args = append(args, filter.PatientRef)
		argNum++
	}
	if filter.Outcome != "" {
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", argNum))
		args = append(args, filter.Outcome)
		argNum++
	}
	if filter.StartTime != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argNum))
		args = append(args, *filter.StartTime)
		argNum++
	}
	if filter.EndTime != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argNum))
		args = append(args, *filter.EndTime)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 500 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT %s FROM audit.predictions
		%s
		ORDER BY sequence DESC
		LIMIT %d
	`, selectColumns, whereClause, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list audit records")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan audit record")
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var refIDs []byte
	var assessment []byte

	err := row.Scan(
		&rec.PredictionID, &rec.Sequence, &rec.PatientRef, &rec.Outcome,
		&rec.InputSnapshot, &rec.Prompt, &rec.ModelOutput,
		&refIDs, &assessment, &rec.DegradedContext,
		&rec.ModelName, &rec.ModelVersion, &rec.Hash, &rec.PrevHash, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(refIDs) > 0 {
		if err := json.Unmarshal(refIDs, &rec.ReferenceIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reference ids: %w", err)
		}
	}
	if len(assessment) > 0 {
		rec.Assessment = json.RawMessage(assessment)
	}
	return &rec, nil
}
