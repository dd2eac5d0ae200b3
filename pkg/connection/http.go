package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	json "github.com/goccy/go-json"

	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/constants"
	"github.com/firelite/firelite.go/pkg/logger"
)

// TokenProvider supplies the bearer token attached to every call. An empty
// token with a nil error means unauthenticated access (local endpoints).
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// NewConnectionParams carries everything a connection needs. DatabasePath is
// the resource prefix projects/{project}/databases/{database}.
type NewConnectionParams struct {
	BaseURL      string
	DatabasePath string
	HTTPClient   *http.Client
	Token        TokenProvider
	Logger       logger.Logger
}

// RESTConnection performs one HTTPS exchange per logical operation.
type RESTConnection struct {
	baseURL      string
	databasePath string
	httpClient   *http.Client
	token        TokenProvider
	logger       logger.Logger
}

func NewRESTConnection(p NewConnectionParams) *RESTConnection {
	c := &RESTConnection{
		baseURL:      p.BaseURL,
		databasePath: p.DatabasePath,
		httpClient:   p.HTTPClient,
		token:        p.Token,
		logger:       p.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: constants.DefaultHTTPTimeout}
	}
	if c.logger == nil {
		c.logger = logger.Nop{}
	}
	return c
}

// DatabasePath returns the resource prefix this connection is bound to.
func (c *RESTConnection) DatabasePath() string {
	return c.databasePath
}

// resourceURL builds {base}/v1/{name}{verb}. The resource name itself is
// never escaped; only the final URL path is, which net/http does for us.
func (c *RESTConnection) resourceURL(name, verb string) string {
	return fmt.Sprintf("%s/%s/%s%s", c.baseURL, constants.APIVersion, name, verb)
}

// GetDocument fetches one document by full resource name. A NOT_FOUND
// response is returned as (nil, nil) so callers can build a non-existent
// snapshot.
func (c *RESTConnection) GetDocument(ctx context.Context, name string) (*codec.Document, error) {
	var doc codec.Document
	err := c.do(ctx, http.MethodGet, c.resourceURL(name, ""), nil, &doc)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatus == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument deletes one document, optionally guarded by a precondition
// passed as query parameters.
func (c *RESTConnection) DeleteDocument(ctx context.Context, name string, pre *codec.Precondition) error {
	u := c.resourceURL(name, "")
	if pre != nil {
		q := url.Values{}
		if pre.Exists != nil {
			q.Set("currentDocument.exists", fmt.Sprintf("%t", *pre.Exists))
		}
		if pre.UpdateTime != "" {
			q.Set("currentDocument.updateTime", pre.UpdateTime)
		}
		u += "?" + q.Encode()
	}
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

// RunQuery executes a structured query under parent and returns the streamed
// response rows.
func (c *RESTConnection) RunQuery(ctx context.Context, parent string, req *RunQueryRequest) ([]RunQueryResponse, error) {
	var out []RunQueryResponse
	if err := c.do(ctx, http.MethodPost, c.resourceURL(parent, ":runQuery"), req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunAggregationQuery executes an aggregation query under parent.
func (c *RESTConnection) RunAggregationQuery(ctx context.Context, parent string, req *RunAggregationQueryRequest) ([]RunAggregationQueryResponse, error) {
	var out []RunAggregationQueryResponse
	if err := c.do(ctx, http.MethodPost, c.resourceURL(parent, ":runAggregationQuery"), req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PartitionQuery returns one page of split points for the given query.
func (c *RESTConnection) PartitionQuery(ctx context.Context, parent string, req *PartitionQueryRequest) (*PartitionQueryResponse, error) {
	var out PartitionQueryResponse
	if err := c.do(ctx, http.MethodPost, c.resourceURL(parent, ":partitionQuery"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BeginTransaction starts a transaction and returns its id.
func (c *RESTConnection) BeginTransaction(ctx context.Context, req *BeginTransactionRequest) (*BeginTransactionResponse, error) {
	var out BeginTransactionResponse
	if err := c.do(ctx, http.MethodPost, c.resourceURL(c.databasePath+"/documents", ":beginTransaction"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Commit applies writes atomically, under a transaction id when set.
func (c *RESTConnection) Commit(ctx context.Context, req *CommitRequest) (*CommitResponse, error) {
	var out CommitResponse
	if err := c.do(ctx, http.MethodPost, c.resourceURL(c.databasePath+"/documents", ":commit"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rollback abandons a transaction.
func (c *RESTConnection) Rollback(ctx context.Context, req *RollbackRequest) error {
	return c.do(ctx, http.MethodPost, c.resourceURL(c.databasePath+"/documents", ":rollback"), req, nil)
}

// BatchGet reads several documents in one call. The response order is not
// guaranteed to match the request order.
func (c *RESTConnection) BatchGet(ctx context.Context, req *BatchGetRequest) ([]BatchGetResponse, error) {
	var out []BatchGetResponse
	if err := c.do(ctx, http.MethodPost, c.resourceURL(c.databasePath+"/documents", ":batchGet"), req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchWrite applies writes best-effort with a per-item status array.
func (c *RESTConnection) BatchWrite(ctx context.Context, req *BatchWriteRequest) (*BatchWriteResponse, error) {
	var out BatchWriteResponse
	if err := c.do(ctx, http.MethodPost, c.resourceURL(c.databasePath+"/documents", ":batchWrite"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDocuments returns one page of documents in the collection under parent.
func (c *RESTConnection) ListDocuments(ctx context.Context, parent, collectionID, pageToken string, pageSize int32) (*ListDocumentsResponse, error) {
	u := c.resourceURL(parent, "") + "/" + collectionID
	q := url.Values{}
	// Listing without field data keeps the payload to names only.
	q.Set("showMissing", "true")
	q.Set("mask.fieldPaths", "__name__")
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	if pageSize > 0 {
		q.Set("pageSize", fmt.Sprintf("%d", pageSize))
	}
	var out ListDocumentsResponse
	if err := c.do(ctx, http.MethodGet, u+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCollectionIDs returns one page of collection ids under parent.
func (c *RESTConnection) ListCollectionIDs(ctx context.Context, parent string, req *ListCollectionIDsRequest) (*ListCollectionIDsResponse, error) {
	var out ListCollectionIDsResponse
	if err := c.do(ctx, http.MethodPost, c.resourceURL(parent, ":listCollectionIds"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RESTConnection) do(ctx context.Context, method, rawURL string, body, dest any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		token, err := c.token.Token(ctx)
		if err != nil {
			return fmt.Errorf("acquiring token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, respBytes)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, dest); err != nil {
		return fmt.Errorf("unmarshaling response: %w", err)
	}
	return nil
}

func decodeAPIError(httpStatus int, body []byte) *APIError {
	apiErr := &APIError{HTTPStatus: httpStatus, Message: string(body)}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		apiErr.Status = eb.Error.Status
		apiErr.Message = eb.Error.Message
	}
	// Some proxies strip the body; fall back to a status derived from the
	// HTTP code so retry policies still classify the failure.
	if apiErr.Status == "" {
		apiErr.Status = statusFromHTTP(httpStatus)
	}
	return apiErr
}

func statusFromHTTP(code int) string {
	switch code {
	case http.StatusConflict:
		return constants.StatusAborted
	case http.StatusServiceUnavailable:
		return constants.StatusUnavailable
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return constants.StatusDeadlineExceeded
	case http.StatusNotFound:
		return constants.StatusNotFound
	case http.StatusForbidden:
		return constants.StatusPermissionDenied
	case http.StatusUnauthorized:
		return constants.StatusUnauthenticated
	case http.StatusBadRequest:
		return constants.StatusInvalidArgument
	case http.StatusTooManyRequests:
		return constants.StatusResourceExhausted
	default:
		return constants.StatusUnknown
	}
}
