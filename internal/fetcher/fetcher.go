package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/fetch/internal/logctx"
	"github.com/italolelis/fetch/internal/storage"
	"github.com/italolelis/fetch/internal/telemetry"
	"github.com/italolelis/fetch/internal/transfer"
)

// Request describes a single fetch.
type Request struct {
	URL         string
	Destination string
	MaxAttempts int
}

// Result reports what a fetch did, whether it succeeded or not.
type Result struct {
	RunID        string
	Attempts     int
	BytesWritten int64
	Duration     time.Duration
}

type Fetcher struct {
	transport  transfer.Transport
	history    storage.AttemptRepository
	telemetry  *telemetry.Telemetry
	retryDelay time.Duration

	// OpenDestination opens the destination file. Defaults to OpenFile.
	OpenDestination OpenFunc
}

// NewFetcher creates a Fetcher. history may be nil, in which case attempts
// are not persisted.
func NewFetcher(
	transport transfer.Transport,
	history storage.AttemptRepository,
	tel *telemetry.Telemetry,
	retryDelay time.Duration,
) *Fetcher {
	if tel == nil {
		tel = &telemetry.Telemetry{}
	}

	return &Fetcher{
		transport:       transport,
		history:         history,
		telemetry:       tel,
		retryDelay:      retryDelay,
		OpenDestination: OpenFile,
	}
}

// Fetch writes the content of req.URL to req.Destination, trying at most
// req.MaxAttempts times. It returns nil as soon as one attempt succeeds.
//
// The destination is opened once before the first attempt and closed once
// after the last, on every path. It is emptied before each retry so a failed
// attempt never leaves its bytes mixed into the next one.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	ctx = logctx.WithRunID(ctx, res.RunID)
	start := time.Now()

	err := f.telemetry.InstrumentFetch(ctx, req.MaxAttempts, func(ctx context.Context) error {
		return f.fetch(ctx, req, res)
	})

	res.Duration = time.Since(start)

	return res, err
}

func (f *Fetcher) fetch(ctx context.Context, req Request, res *Result) (err error) {
	logger := logctx.LoggerFromContext(ctx).With("url", req.URL, "destination", req.Destination)

	dst, err := f.OpenDestination(req.Destination)
	if err != nil {
		logger.ErrorContext(ctx, "cannot open destination", "err", err)

		return &DestinationOpenError{Path: req.Destination, Err: err}
	}

	defer func() {
		if cerr := dst.Close(); cerr != nil {
			logger.ErrorContext(ctx, "failed to close destination", "err", cerr)

			if err == nil {
				err = fmt.Errorf("failed to close destination: %w", cerr)
			}
		}
	}()

	if req.MaxAttempts < 1 {
		logger.ErrorContext(ctx, "no attempts configured", "max_attempts", req.MaxAttempts)

		return &ExhaustionError{URL: req.URL}
	}

	var lastErr error

	for attempt := 1; attempt <= req.MaxAttempts; attempt++ {
		res.Attempts = attempt

		n, attemptErr := f.attempt(ctx, dst, req, attempt)
		if attemptErr == nil {
			res.BytesWritten = n

			logger.InfoContext(ctx, "fetch succeeded",
				"attempt", attempt,
				"size", humanize.Bytes(uint64(n)),
			)

			return nil
		}

		lastErr = attemptErr
		logFailure(ctx, logger, attempt, req.MaxAttempts, attemptErr)

		if ctx.Err() != nil {
			return fmt.Errorf("fetch interrupted after attempt %d: %w", attempt, ctx.Err())
		}

		if attempt < req.MaxAttempts {
			logger.ErrorContext(ctx, "retrying", "next_attempt", attempt+1, "max_attempts", req.MaxAttempts)
			f.telemetry.RecordRetry(ctx)

			if err := f.wait(ctx); err != nil {
				return fmt.Errorf("fetch interrupted after attempt %d: %w", attempt, err)
			}
		}
	}

	return &ExhaustionError{URL: req.URL, Attempts: res.Attempts, Last: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, dst Destination, req Request, attempt int) (int64, error) {
	started := time.Now()
	cw := &transfer.CountingWriter{W: dst}

	var err error
	if attempt > 1 {
		err = dst.Reset()
	}

	if err == nil {
		err = f.transport.Perform(ctx, req.URL, cw)
	}

	f.record(ctx, req, attempt, cw.N, err, started)

	return cw.N, err
}

func (f *Fetcher) record(ctx context.Context, req Request, attempt int, n int64, err error, started time.Time) {
	if f.history == nil {
		return
	}

	rec := storage.AttemptRecord{
		RunID:       logctx.RunIDFromContext(ctx),
		URL:         req.URL,
		Destination: req.Destination,
		Attempt:     attempt,
		Status:      storage.StatusSucceeded,
		Bytes:       n,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}

	if err != nil {
		rec.Status = storage.StatusFailed
		rec.Error = err.Error()
		rec.StatusCode = statusCode(err)
	}

	// Recorded even when ctx is cancelled.
	if herr := f.history.RecordAttempt(context.WithoutCancel(ctx), rec); herr != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to record attempt", "attempt", attempt, "err", herr)
	}
}

func (f *Fetcher) wait(ctx context.Context) error {
	if f.retryDelay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(f.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// logFailure emits the diagnostic line for a failed attempt. HTTP failures
// carry the response status code.
func logFailure(ctx context.Context, logger *slog.Logger, attempt, maxAttempts int, err error) {
	attrs := []any{
		"attempt", attempt,
		"max_attempts", maxAttempts,
		"err", err,
	}

	if code := statusCode(err); code != 0 {
		attrs = append(attrs, "status_code", code)
	}

	logger.ErrorContext(ctx, "attempt failed", attrs...)
}

func statusCode(err error) int {
	var httpErr *transfer.HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}

	return 0
}
