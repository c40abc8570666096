package transfer

import "fmt"

// NetworkError represents network failures and server errors during a
// transfer, including 5xx responses, connection timeouts and rate limiting.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "fetch", "resume")
	URL        string // The enclosure URL being transferred
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s of %s (HTTP %d)", e.Operation, e.URL, e.StatusCode)
	}

	return fmt.Sprintf("network error during %s of %s: %v", e.Operation, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StorageError represents failures on the local side of a transfer: cache
// directory creation, file writes, or deleting a cached copy.
type StorageError struct {
	Path   string // The local path that caused the error
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error for '%s': %s", e.Path, e.Reason)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
