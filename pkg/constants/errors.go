package constants

import "errors"

// Errors
var (
	ErrNoProjectID    = errors.New("project id not set")
	ErrClientClosed   = errors.New("client is closed")
	ErrStreamClosed   = errors.New("stream channel is closed")
	ErrWriterClosed   = errors.New("bulk writer is closed")
	ErrStopped        = errors.New("snapshot iterator has been stopped")
	ErrNilDocRef      = errors.New("nil document reference")
	ErrReadAfterWrite = errors.New("transactions require all reads before all writes")
)
