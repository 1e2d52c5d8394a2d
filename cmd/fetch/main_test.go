package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")

	var stderr bytes.Buffer
	code := run([]string{"--url", server.URL, "--destination_file", dest}, io.Discard, &stderr)
	require.Equal(t, ExitSuccess, code, stderr.String())

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte("third time"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")

	var stderr bytes.Buffer
	code := run([]string{"--url", server.URL, "--destination_file", dest, "--attempts", "3"}, io.Discard, &stderr)
	require.Equal(t, ExitSuccess, code, stderr.String())

	assert.EqualValues(t, 3, hits.Load())
	assert.Contains(t, stderr.String(), "attempt failed")
	assert.Contains(t, stderr.String(), "status_code=502")
}

func TestRun_Failures(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing url", args: []string{"--destination_file", filepath.Join(dir, "a")}},
		{name: "missing destination", args: []string{"--url", server.URL}},
		{name: "unknown option", args: []string{"--url", server.URL, "--destination_file", filepath.Join(dir, "b"), "--nope"}},
		{name: "unopenable destination", args: []string{"--url", server.URL, "--destination_file", filepath.Join(dir, "missing", "c")}},
		{name: "exhausted", args: []string{"--url", server.URL, "--destination_file", filepath.Join(dir, "d"), "--attempts", "2"}},
		{name: "zero attempts", args: []string{"--url", server.URL, "--destination_file", filepath.Join(dir, "e"), "--attempts", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, ExitFailure, run(tt.args, io.Discard, &stderr))
			assert.NotEmpty(t, stderr.String())
		})
	}
}

func TestRun_Help(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, ExitSuccess, run([]string{"--help"}, io.Discard, &stderr))
	assert.Contains(t, stderr.String(), "--destination_file")
}

func TestRun_JSONLogsAndHistory(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("FETCH_HISTORY_DB", filepath.Join(t.TempDir(), "history.db"))

	var notified atomic.Int32

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		notified.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	t.Setenv("NOTIFY_WEBHOOK_URL", hook.URL)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var stderr bytes.Buffer
	code := run([]string{"--url", server.URL, "--destination_file", filepath.Join(t.TempDir(), "out")}, io.Discard, &stderr)
	assert.Equal(t, ExitFailure, code)
	assert.EqualValues(t, 1, notified.Load())

	var failed int

	dec := json.NewDecoder(&stderr)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))

		if entry["msg"] == "attempt failed" {
			assert.EqualValues(t, 500, entry["status_code"])
			assert.NotEmpty(t, entry["run_id"])

			failed++
		}
	}

	assert.Equal(t, 1, failed)
}

func TestRun_ListHistory(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("FETCH_HISTORY_DB", filepath.Join(t.TempDir(), "history.db"))

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte("done"))
	}))
	defer server.Close()

	var stderr bytes.Buffer
	code := run([]string{"--url", server.URL, "--destination_file", filepath.Join(t.TempDir(), "out"), "--attempts", "2"}, io.Discard, &stderr)
	require.Equal(t, ExitSuccess, code, stderr.String())

	var runID string

	dec := json.NewDecoder(&stderr)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))

		if entry["msg"] == "fetch succeeded" {
			runID, _ = entry["run_id"].(string)
		}
	}

	require.NotEmpty(t, runID)

	var stdout bytes.Buffer
	require.Equal(t, ExitSuccess, run([]string{"--history", runID}, &stdout, io.Discard))

	out := stdout.String()
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "ATTEMPT")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "503")
	assert.Contains(t, out, "succeeded")

	assert.Equal(t, ExitFailure, run([]string{"--history", "no-such-run"}, io.Discard, io.Discard))
}
