package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/fetch/internal/logctx"
	"github.com/italolelis/fetch/internal/storage"
	"github.com/italolelis/fetch/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is the scripted behaviour of one Perform call.
type step struct {
	body []byte
	err  error
}

// scriptedTransport replays steps in order; once exhausted it repeats the last one.
type scriptedTransport struct {
	steps []step
	calls int
}

func (s *scriptedTransport) Perform(_ context.Context, _ string, sink io.Writer) error {
	st := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++

	if len(st.body) > 0 {
		if _, err := sink.Write(st.body); err != nil {
			return err
		}
	}

	return st.err
}

func ok(body string) step { return step{body: []byte(body)} }

func fail(body string, err error) step { return step{body: []byte(body), err: err} }

func httpFail(code int) step {
	return step{err: &transfer.HTTPStatusError{URL: "http://x", StatusCode: code}}
}

var errConnReset = &transfer.TransportError{URL: "http://x", Operation: "copy_body", Err: errors.New("connection reset by peer")}

// trackingOpener wraps OpenFile and counts opens and closes.
type trackingOpener struct {
	opens  int
	closes int
}

func (o *trackingOpener) open(path string) (Destination, error) {
	o.opens++

	d, err := OpenFile(path)
	if err != nil {
		return nil, err
	}

	return &trackedDestination{Destination: d, opener: o}, nil
}

type trackedDestination struct {
	Destination
	opener *trackingOpener
}

func (d *trackedDestination) Close() error {
	d.opener.closes++

	return d.Destination.Close()
}

type memoryHistory struct {
	records []storage.AttemptRecord
}

func (m *memoryHistory) RecordAttempt(_ context.Context, rec storage.AttemptRecord) error {
	m.records = append(m.records, rec)

	return nil
}

func (m *memoryHistory) ListAttempts(_ context.Context, runID string) ([]storage.AttemptRecord, error) {
	var out []storage.AttemptRecord

	for _, rec := range m.records {
		if rec.RunID == runID {
			out = append(out, rec)
		}
	}

	return out, nil
}

// logLines decodes the JSON log output into one map per line.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any

	dec := json.NewDecoder(buf)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))

		lines = append(lines, entry)
	}

	return lines
}

func countMsg(lines []map[string]any, msg string) int {
	n := 0

	for _, l := range lines {
		if l["msg"] == msg {
			n++
		}
	}

	return n
}

type harness struct {
	transport *scriptedTransport
	opener    *trackingOpener
	history   *memoryHistory
	fetcher   *Fetcher
	logs      *bytes.Buffer
	ctx       context.Context
	dest      string
}

func newHarness(t *testing.T, steps ...step) *harness {
	t.Helper()

	h := &harness{
		transport: &scriptedTransport{steps: steps},
		opener:    &trackingOpener{},
		history:   &memoryHistory{},
		logs:      &bytes.Buffer{},
		dest:      filepath.Join(t.TempDir(), "out.bin"),
	}

	h.fetcher = NewFetcher(h.transport, h.history, nil, 0)
	h.fetcher.OpenDestination = h.opener.open

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(h.logs, nil)))
	h.ctx = logctx.WithLogger(context.Background(), logger)

	return h
}

func (h *harness) fetch(maxAttempts int) (*Result, error) {
	return h.fetcher.Fetch(h.ctx, Request{URL: "http://x/ok", Destination: h.dest, MaxAttempts: maxAttempts})
}

func TestFetch_SucceedsFirstTry(t *testing.T) {
	for _, maxAttempts := range []int{1, 2, 5} {
		h := newHarness(t, ok("hello"))

		res, err := h.fetch(maxAttempts)
		require.NoError(t, err)

		assert.Equal(t, 1, h.transport.calls)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, int64(5), res.BytesWritten)
		assert.NotEmpty(t, res.RunID)

		content, err := os.ReadFile(h.dest)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(content))

		lines := logLines(t, h.logs)
		assert.Zero(t, countMsg(lines, "attempt failed"))
		assert.Zero(t, countMsg(lines, "retrying"))
	}
}

func TestFetch_SucceedsOnLastAttempt(t *testing.T) {
	for _, n := range []int{1, 2, 4} {
		steps := make([]step, 0, n)
		for i := 1; i < n; i++ {
			steps = append(steps, fail("junk", errConnReset))
		}

		steps = append(steps, ok("payload"))

		h := newHarness(t, steps...)

		res, err := h.fetch(n)
		require.NoError(t, err, "n=%d", n)

		assert.Equal(t, n, h.transport.calls)
		assert.Equal(t, n, res.Attempts)

		lines := logLines(t, h.logs)
		assert.Equal(t, n-1, countMsg(lines, "attempt failed"))
		assert.Equal(t, n-1, countMsg(lines, "retrying"))
	}
}

func TestFetch_AlwaysFails(t *testing.T) {
	for _, n := range []int{1, 3} {
		h := newHarness(t, fail("x", errConnReset))

		res, err := h.fetch(n)

		var exhausted *ExhaustionError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, n, exhausted.Attempts)
		assert.ErrorIs(t, err, errConnReset)

		assert.Equal(t, n, h.transport.calls)
		assert.Equal(t, n, res.Attempts)

		lines := logLines(t, h.logs)
		assert.Equal(t, n, countMsg(lines, "attempt failed"))
		assert.Equal(t, n-1, countMsg(lines, "retrying"))
	}
}

func TestFetch_OpensAndClosesDestinationOnce(t *testing.T) {
	tests := []struct {
		name        string
		steps       []step
		maxAttempts int
		wantErr     bool
	}{
		{name: "success", steps: []step{ok("a")}, maxAttempts: 3},
		{name: "success after retries", steps: []step{httpFail(500), httpFail(502), ok("a")}, maxAttempts: 3},
		{name: "exhausted", steps: []step{httpFail(500)}, maxAttempts: 4, wantErr: true},
		{name: "no attempts", steps: []step{ok("a")}, maxAttempts: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.steps...)

			_, err := h.fetch(tt.maxAttempts)
			assert.Equal(t, tt.wantErr, err != nil)

			assert.Equal(t, 1, h.opener.opens)
			assert.Equal(t, 1, h.opener.closes)
		})
	}
}

func TestFetch_UnwritableDestination(t *testing.T) {
	h := newHarness(t, ok("never"))
	h.dest = filepath.Join(t.TempDir(), "missing", "out.bin")

	res, err := h.fetch(3)

	var openErr *DestinationOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, h.dest, openErr.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Zero(t, h.transport.calls)
	assert.Zero(t, res.Attempts)
	assert.Zero(t, h.opener.closes)
	assert.Empty(t, h.history.records)
}

func TestFetch_ZeroAttempts(t *testing.T) {
	h := newHarness(t, ok("never"))

	res, err := h.fetch(0)

	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Zero(t, exhausted.Attempts)
	assert.NoError(t, exhausted.Last)
	assert.Zero(t, h.transport.calls)
	assert.Zero(t, res.Attempts)
}

func TestFetch_RetryStartsFromEmptyFile(t *testing.T) {
	h := newHarness(t,
		fail("first attempt partial bytes that are long", errConnReset),
		ok("second"),
	)

	res, err := h.fetch(3)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int64(len("second")), res.BytesWritten)

	content, err := os.ReadFile(h.dest)
	require.NoError(t, err)
	assert.Equal(t, "second", string(content))

	lines := logLines(t, h.logs)
	assert.Equal(t, 1, countMsg(lines, "retrying"))
}

func TestFetch_TruncatesExistingDestination(t *testing.T) {
	h := newHarness(t, ok("new"))
	require.NoError(t, os.WriteFile(h.dest, []byte("previous much longer content"), 0o600))

	_, err := h.fetch(1)
	require.NoError(t, err)

	content, err := os.ReadFile(h.dest)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

func TestFetch_HTTPStatusDiagnostics(t *testing.T) {
	h := newHarness(t, httpFail(404))

	_, err := h.fetch(2)

	var httpErr *transfer.HTTPStatusError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 404, httpErr.StatusCode)

	var failures []map[string]any

	for _, l := range logLines(t, h.logs) {
		if l["msg"] == "attempt failed" {
			failures = append(failures, l)
		}
	}

	require.Len(t, failures, 2)

	for _, l := range failures {
		assert.EqualValues(t, 404, l["status_code"])
		assert.NotEmpty(t, l["run_id"])
	}
}

func TestFetch_RecordsHistory(t *testing.T) {
	h := newHarness(t, httpFail(503), fail("", errConnReset), ok("done"))

	res, err := h.fetch(3)
	require.NoError(t, err)

	records, err := h.history.ListAttempts(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, storage.StatusFailed, records[0].Status)
	assert.Equal(t, 503, records[0].StatusCode)

	assert.Equal(t, storage.StatusFailed, records[1].Status)
	assert.Zero(t, records[1].StatusCode)
	assert.Contains(t, records[1].Error, "connection reset")

	assert.Equal(t, storage.StatusSucceeded, records[2].Status)
	assert.Equal(t, int64(4), records[2].Bytes)

	for i, rec := range records {
		assert.Equal(t, i+1, rec.Attempt)
		assert.Equal(t, "http://x/ok", rec.URL)
		assert.Equal(t, h.dest, rec.Destination)
	}
}

func TestFetch_CancelledDuringRetryDelay(t *testing.T) {
	h := newHarness(t, httpFail(500))
	h.fetcher.retryDelay = time.Hour

	ctx, cancel := context.WithCancel(h.ctx)
	h.ctx = ctx

	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := h.fetch(5)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, h.opener.closes)
}

func TestFetch_NoHistoryConfigured(t *testing.T) {
	h := newHarness(t, ok("x"))
	h.fetcher.history = nil

	_, err := h.fetch(1)
	assert.NoError(t, err)
}

func TestFetch_DiagnosticsSurviveErrorLogLevel(t *testing.T) {
	h := newHarness(t, httpFail(503), httpFail(503), ok("x"))

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelError})))
	h.ctx = logctx.WithLogger(context.Background(), logger)

	_, err := h.fetch(3)
	require.NoError(t, err)

	lines := logLines(t, h.logs)
	assert.Equal(t, 2, countMsg(lines, "attempt failed"))
	assert.Equal(t, 2, countMsg(lines, "retrying"))
}
