package firelite

import (
	"errors"
	"fmt"

	"github.com/firelite/firelite.go/pkg/connection"
	"github.com/firelite/firelite.go/pkg/constants"
)

// APIError is re-exported so callers do not need to import pkg/connection to
// inspect transport failures.
type APIError = connection.APIError

// BulkWriterError reports the terminal failure of one queued bulk-write
// operation.
type BulkWriterError struct {
	// Ref is the document the operation targeted.
	Ref *DocumentRef
	// Operation is the kind of write that failed (create, set, update, delete).
	Operation string
	// Status is the rpc status name of the last failure.
	Status string
	// Attempts is how many times the operation was sent.
	Attempts int
	// Err is the underlying error of the last attempt.
	Err error
}

func (e *BulkWriterError) Error() string {
	return fmt.Sprintf("bulk writer: %s %s failed with %s after %d attempt(s): %v",
		e.Operation, e.Ref.Path, e.Status, e.Attempts, e.Err)
}

func (e *BulkWriterError) Unwrap() error { return e.Err }

// statusOf extracts the rpc status name from an error, or UNKNOWN.
func statusOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return constants.StatusUnknown
}

// isRetryableForTransaction reports whether a transaction attempt may be
// re-run after err.
func isRetryableForTransaction(err error) bool {
	switch statusOf(err) {
	case constants.StatusAborted, constants.StatusUnavailable, constants.StatusDeadlineExceeded:
		return true
	}
	return false
}

// isRetryableForBulkWriter is the default bulk-writer retry policy. Unlike
// the transaction policy it does not retry DEADLINE_EXCEEDED.
func isRetryableForBulkWriter(err error) bool {
	switch statusOf(err) {
	case constants.StatusAborted, constants.StatusUnavailable:
		return true
	}
	return false
}
