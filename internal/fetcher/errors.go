package fetcher

import "fmt"

// DestinationOpenError is returned when the destination cannot be opened for
// writing. No transfer is attempted in that case.
type DestinationOpenError struct {
	Path string // Destination path that failed to open
	Err  error  // Underlying error
}

func (e *DestinationOpenError) Error() string {
	return fmt.Sprintf("cannot open destination %s: %v", e.Path, e.Err)
}

func (e *DestinationOpenError) Unwrap() error {
	return e.Err
}

// ExhaustionError is returned when every configured attempt failed.
// The destination content is unspecified in that case.
type ExhaustionError struct {
	URL      string // Requested URL
	Attempts int    // Number of attempts made
	Last     error  // Failure of the last attempt, nil when no attempt was made
}

func (e *ExhaustionError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("no attempts made to fetch %s", e.URL)
	}

	return fmt.Sprintf("fetching %s failed after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *ExhaustionError) Unwrap() error {
	return e.Last
}
