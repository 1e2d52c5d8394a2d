package transfer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/italolelis/fetch/internal/telemetry"
)

// InstrumentedTransport wraps a Transport with telemetry.
type InstrumentedTransport struct {
	transport Transport
	telemetry *telemetry.Telemetry
}

// NewInstrumentedTransport creates a new instrumented transport.
func NewInstrumentedTransport(transport Transport, tel *telemetry.Telemetry) *InstrumentedTransport {
	return &InstrumentedTransport{
		transport: transport,
		telemetry: tel,
	}
}

// Perform performs the transfer with a span, attempt metrics and a byte count.
func (t *InstrumentedTransport) Perform(ctx context.Context, url string, sink io.Writer) error {
	start := time.Now()
	cw := &CountingWriter{W: sink}

	err := t.telemetry.InstrumentOperation(ctx, "transfer_perform", "transport", func(ctx context.Context) error {
		return t.transport.Perform(ctx, url, cw)
	})

	t.telemetry.RecordAttempt(ctx, Outcome(err), time.Since(start))
	t.telemetry.RecordBytes(ctx, cw.N)

	return err
}

// Outcome classifies a Perform result into a bounded label.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 {
			return "http_5xx"
		}

		return "http_4xx"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	return "transport_error"
}

// CountingWriter passes writes through to W and counts the bytes written.
type CountingWriter struct {
	W io.Writer
	N int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += int64(n)

	return n, err
}
