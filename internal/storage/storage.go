package storage

import (
	"context"
	"time"
)

// Attempt statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// AttemptRecord is one transfer attempt of a fetch run.
type AttemptRecord struct {
	RunID       string
	URL         string
	Destination string
	Attempt     int
	Status      string
	StatusCode  int // HTTP status code, 0 when the failure was not an HTTP response
	Bytes       int64
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// AttemptRepository persists the attempt history of fetch runs.
type AttemptRepository interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
	ListAttempts(ctx context.Context, runID string) ([]AttemptRecord, error)
}
