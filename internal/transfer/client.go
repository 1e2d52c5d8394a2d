package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Transport performs a single transfer of url into sink.
//
// Implementations stream the response body into sink as it arrives and
// return nil only when the whole body was copied and the server did not
// answer with an error status.
type Transport interface {
	Perform(ctx context.Context, url string, sink io.Writer) error
}

// Options configures the HTTP transport.
type Options struct {
	// Timeout bounds a single attempt, including reading the body.
	// Zero means no timeout.
	Timeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string

	// BearerToken, when set, is sent as an OAuth2 bearer token.
	BearerToken string

	// Instrument wraps the round tripper with OpenTelemetry HTTP instrumentation.
	Instrument bool
}

// HTTPClient is the net/http backed Transport. It owns its connection pool;
// call Close once the fetch is over.
type HTTPClient struct {
	client    *http.Client
	userAgent string
}

func NewHTTPClient(opts Options) *HTTPClient {
	var rt http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()

	if opts.Instrument {
		rt = otelhttp.NewTransport(rt)
	}

	if opts.BearerToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.BearerToken}),
			Base:   rt,
		}
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: rt,
			Timeout:   opts.Timeout,
		},
		userAgent: opts.UserAgent,
	}
}

// Perform issues a GET for url and copies the body into sink.
func (c *HTTPClient) Perform(ctx context.Context, url string, sink io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &TransportError{URL: url, Operation: "build_request", Err: err}
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{URL: url, Operation: "send_request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}

	if _, err := io.Copy(sink, resp.Body); err != nil {
		return &TransportError{URL: url, Operation: "copy_body", Err: fmt.Errorf("failed to copy body: %w", err)}
	}

	return nil
}

// Close releases idle connections held by the client.
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}
