package transfer

import "fmt"

// HTTPStatusError is returned when the server answers with an error status
// (400 or above). No body bytes are written to the sink in that case.
type HTTPStatusError struct {
	URL        string // Requested URL
	StatusCode int    // Numeric HTTP status code
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("request to %s failed (HTTP %d)", e.URL, e.StatusCode)
}

// TransportError represents any failure below the HTTP status level:
// malformed URLs, DNS and connection errors, timeouts, and interrupted bodies.
type TransportError struct {
	URL       string // Requested URL
	Operation string // Step that failed: "build_request", "send_request" or "copy_body"
	Err       error  // Underlying error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport error during %s for %s", e.Operation, e.URL)
	}

	return fmt.Sprintf("transport error during %s for %s: %v", e.Operation, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
