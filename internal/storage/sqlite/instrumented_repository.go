package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/fetch/internal/storage"
	"github.com/italolelis/fetch/internal/telemetry"
)

// InstrumentedAttemptRepository wraps AttemptRepository with telemetry.
type InstrumentedAttemptRepository struct {
	repo      *AttemptRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedAttemptRepository creates a new instrumented attempt repository.
func NewInstrumentedAttemptRepository(db *sql.DB, tel *telemetry.Telemetry) *InstrumentedAttemptRepository {
	return &InstrumentedAttemptRepository{
		repo:      NewAttemptRepository(db),
		telemetry: tel,
	}
}

// RecordAttempt stores an attempt with telemetry.
func (r *InstrumentedAttemptRepository) RecordAttempt(ctx context.Context, rec storage.AttemptRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_attempt", func(ctx context.Context) error {
		return r.repo.RecordAttempt(ctx, rec)
	})
}

// ListAttempts lists the attempts of a run with telemetry.
func (r *InstrumentedAttemptRepository) ListAttempts(ctx context.Context, runID string) ([]storage.AttemptRecord, error) {
	var result []storage.AttemptRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "list_attempts", func(ctx context.Context) error {
		result, err = r.repo.ListAttempts(ctx, runID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
