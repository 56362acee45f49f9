package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/vitalis-health/clinsight/internal/shared/config"
)

// LegacyStore reads opt-out status from a legacy hospital information
// system that still owns the registry at some facilities. The HIS runs on
// SQL Server; the table name varies per installation and is configured.
type LegacyStore struct {
	db    *sql.DB
	table string
}

// NewLegacyStore opens a connection to the legacy HIS registry.
func NewLegacyStore(cfg config.LegacyHISConfig) (*LegacyStore, error) {
	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open HIS connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	return &LegacyStore{db: db, table: cfg.OptOutTable}, nil
}

// OptOut reports whether the patient has an opt-out row in the HIS table.
func (s *LegacyStore) OptOut(ctx context.Context, patientRef string) (bool, error) {
	query := fmt.Sprintf(`SELECT OptedOut FROM %s WHERE PatientRef = @p1`, s.table)

	var optedOut bool
	err := s.db.QueryRowContext(ctx, query, patientRef).Scan(&optedOut)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return optedOut, nil
}

// Close closes the HIS connection.
func (s *LegacyStore) Close() error {
	return s.db.Close()
}
