package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/fetch/internal/storage"
)

// AttemptRepository implements storage.AttemptRepository on SQLite.
type AttemptRepository struct {
	db *sql.DB
}

func NewAttemptRepository(db *sql.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) RecordAttempt(ctx context.Context, rec storage.AttemptRecord) error {
	var errMsg sql.NullString
	if rec.Error != "" {
		errMsg = sql.NullString{String: rec.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fetch_attempts
			(run_id, url, destination, attempt, status, status_code, bytes, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.URL, rec.Destination, rec.Attempt, rec.Status, rec.StatusCode, rec.Bytes, errMsg,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)

	return err
}

// ListAttempts returns the attempts of a run ordered by attempt number.
func (r *AttemptRepository) ListAttempts(ctx context.Context, runID string) ([]storage.AttemptRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, url, destination, attempt, status, status_code, bytes, error, started_at, finished_at
		FROM fetch_attempts
		WHERE run_id = ?
		ORDER BY attempt`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.AttemptRecord

	for rows.Next() {
		var (
			rec                   storage.AttemptRecord
			errMsg                sql.NullString
			startedAt, finishedAt string
		)

		if err := rows.Scan(&rec.RunID, &rec.URL, &rec.Destination, &rec.Attempt, &rec.Status,
			&rec.StatusCode, &rec.Bytes, &errMsg, &startedAt, &finishedAt); err != nil {
			return nil, err
		}

		if errMsg.Valid {
			rec.Error = errMsg.String
		}

		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, err
		}

		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
