package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelite/firelite.go/pkg/constants"
)

func TestDecodeAPIError(t *testing.T) {
	err := decodeAPIError(409, []byte(`{"error":{"code":409,"message":"contention","status":"ABORTED"}}`))
	assert.Equal(t, 409, err.HTTPStatus)
	assert.Equal(t, "ABORTED", err.Status)
	assert.Equal(t, "contention", err.Message)

	// A stripped body still classifies by HTTP code.
	err = decodeAPIError(503, []byte("Service Unavailable"))
	assert.Equal(t, constants.StatusUnavailable, err.Status)
	assert.Equal(t, "Service Unavailable", err.Message)

	err = decodeAPIError(418, nil)
	assert.Equal(t, constants.StatusUnknown, err.Status)
}

func TestStatusFromHTTP(t *testing.T) {
	cases := map[int]string{
		http.StatusConflict:           constants.StatusAborted,
		http.StatusServiceUnavailable: constants.StatusUnavailable,
		http.StatusGatewayTimeout:     constants.StatusDeadlineExceeded,
		http.StatusNotFound:           constants.StatusNotFound,
		http.StatusForbidden:          constants.StatusPermissionDenied,
		http.StatusUnauthorized:       constants.StatusUnauthenticated,
		http.StatusBadRequest:         constants.StatusInvalidArgument,
		http.StatusTooManyRequests:    constants.StatusResourceExhausted,
		http.StatusTeapot:             constants.StatusUnknown,
	}
	for code, want := range cases {
		assert.Equal(t, want, statusFromHTTP(code), "code %d", code)
	}
}

func TestAPIErrorIs(t *testing.T) {
	err := &APIError{HTTPStatus: 409, Status: "ABORTED", Message: "contention"}
	assert.ErrorIs(t, err, &APIError{Status: "ABORTED"})
	assert.NotErrorIs(t, err, &APIError{Status: "UNAVAILABLE"})
	// A target without a status matches any api error.
	assert.ErrorIs(t, err, &APIError{})
}

type staticToken string

func (s staticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

func TestDoSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transaction":"txn-1"}`))
	}))
	defer srv.Close()

	c := NewRESTConnection(NewConnectionParams{
		BaseURL:      srv.URL,
		DatabasePath: "projects/p/databases/(default)",
		Token:        staticToken("secret"),
	})

	resp, err := c.BeginTransaction(context.Background(), &BeginTransactionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "txn-1", resp.Transaction)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestGetDocumentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"missing","status":"NOT_FOUND"}}`))
	}))
	defer srv.Close()

	c := NewRESTConnection(NewConnectionParams{BaseURL: srv.URL})
	doc, err := c.GetDocument(context.Background(), "projects/p/databases/(default)/documents/users/x")
	require.NoError(t, err)
	assert.Nil(t, doc)
}
