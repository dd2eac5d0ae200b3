package constants

import "time"

const (
	// APIVersion is the REST API version prefix every request path starts with.
	APIVersion = "v1"

	// ListenChannelPath is the fixed RPC path the streaming subscription
	// channel is addressed at.
	ListenChannelPath = "/google.firestore.v1.Firestore/Listen/channel"

	// DefaultEndpoint is used when the Config does not name one.
	DefaultEndpoint = "https://firestore.googleapis.com"

	DefaultHTTPTimeout = 30 * time.Second

	// RequestIDLength is the length of stream frame correlation ids.
	RequestIDLength = 16

	// TokenRefreshMargin is how long before expiry a cached bearer token is
	// treated as stale and refreshed.
	TokenRefreshMargin = time.Minute
)

// RPC status names as they appear in error payloads. Only the ones this
// client inspects are listed.
const (
	StatusAborted            = "ABORTED"
	StatusUnavailable        = "UNAVAILABLE"
	StatusDeadlineExceeded   = "DEADLINE_EXCEEDED"
	StatusNotFound           = "NOT_FOUND"
	StatusAlreadyExists      = "ALREADY_EXISTS"
	StatusFailedPrecondition = "FAILED_PRECONDITION"
	StatusPermissionDenied   = "PERMISSION_DENIED"
	StatusInvalidArgument    = "INVALID_ARGUMENT"
	StatusResourceExhausted  = "RESOURCE_EXHAUSTED"
	StatusInternal           = "INTERNAL"
	StatusUnauthenticated    = "UNAUTHENTICATED"
	StatusUnknown            = "UNKNOWN"
)

// WebsocketScheme constants mirror the endpoint schemes the stream dialer
// rewrites between.
var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)
