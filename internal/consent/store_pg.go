package consent

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads the opt-out registry from Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed consent store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// OptOut reports whether the patient has an active opt-out row. A patient
// with no row has not opted out.
func (s *PGStore) OptOut(ctx context.Context, patientRef string) (bool, error) {
	var optedOut bool
	err := s.pool.QueryRow(ctx, `
		SELECT opted_out FROM consent.opt_outs
		WHERE patient_ref = $1
	`, patientRef).Scan(&optedOut)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return optedOut, nil
}
