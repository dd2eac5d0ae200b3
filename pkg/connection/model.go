package connection

import (
	"fmt"

	"github.com/firelite/firelite.go/pkg/codec"
)

// APIError is a non-2xx response from the REST surface or a structural error
// reported on the streaming channel. Status carries the rpc status name
// (ABORTED, UNAVAILABLE, ...) when the server body was parseable.
type APIError struct {
	HTTPStatus int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.HTTPStatus, e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.HTTPStatus, e.Message)
}

func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Status == "" || t.Status == e.Status
}

// errorBody is the JSON error envelope the server wraps failures in.
type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Request/response shapes, one set per REST endpoint.

type BeginTransactionRequest struct {
	Options *TransactionOptions `json:"options,omitempty"`
}

type TransactionOptions struct {
	ReadOnly  *ReadOnlyOptions  `json:"readOnly,omitempty"`
	ReadWrite *ReadWriteOptions `json:"readWrite,omitempty"`
}

type ReadOnlyOptions struct {
	ReadTime string `json:"readTime,omitempty"`
}

type ReadWriteOptions struct {
	RetryTransaction string `json:"retryTransaction,omitempty"`
}

type BeginTransactionResponse struct {
	Transaction string `json:"transaction"`
}

type CommitRequest struct {
	Writes      []codec.Write `json:"writes,omitempty"`
	Transaction string        `json:"transaction,omitempty"`
}

type CommitResponse struct {
	WriteResults []codec.WriteResult `json:"writeResults,omitempty"`
	CommitTime   string              `json:"commitTime,omitempty"`
}

type RollbackRequest struct {
	Transaction string `json:"transaction"`
}

type BatchGetRequest struct {
	Documents      []string            `json:"documents,omitempty"`
	Mask           *codec.DocumentMask `json:"mask,omitempty"`
	Transaction    string              `json:"transaction,omitempty"`
	NewTransaction *TransactionOptions `json:"newTransaction,omitempty"`
}

// BatchGetResponse is one element of the response array: either a found
// document or the name of a missing one.
type BatchGetResponse struct {
	Found       *codec.Document `json:"found,omitempty"`
	Missing     string          `json:"missing,omitempty"`
	Transaction string          `json:"transaction,omitempty"`
	ReadTime    string          `json:"readTime,omitempty"`
}

type RunQueryRequest struct {
	StructuredQuery *codec.StructuredQuery `json:"structuredQuery,omitempty"`
	Transaction     string                 `json:"transaction,omitempty"`
	ReadTime        string                 `json:"readTime,omitempty"`
}

// RunQueryResponse is one element of the streamed result array.
type RunQueryResponse struct {
	Transaction    string          `json:"transaction,omitempty"`
	Document       *codec.Document `json:"document,omitempty"`
	ReadTime       string          `json:"readTime,omitempty"`
	SkippedResults int32           `json:"skippedResults,omitempty"`
	Done           bool            `json:"done,omitempty"`
}

type RunAggregationQueryRequest struct {
	StructuredAggregationQuery *codec.StructuredAggregationQuery `json:"structuredAggregationQuery,omitempty"`
	Transaction                string                            `json:"transaction,omitempty"`
}

type RunAggregationQueryResponse struct {
	Result   *AggregationResult `json:"result,omitempty"`
	ReadTime string             `json:"readTime,omitempty"`
}

type AggregationResult struct {
	AggregateFields map[string]*codec.Value `json:"aggregateFields,omitempty"`
}

type PartitionQueryRequest struct {
	StructuredQuery *codec.StructuredQuery `json:"structuredQuery,omitempty"`
	PartitionCount  int64                  `json:"partitionCount,omitempty,string"`
	PageToken       string                 `json:"pageToken,omitempty"`
	PageSize        int32                  `json:"pageSize,omitempty"`
}

type PartitionQueryResponse struct {
	Partitions    []codec.Cursor `json:"partitions,omitempty"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type BatchWriteRequest struct {
	Writes []codec.Write     `json:"writes,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

type BatchWriteResponse struct {
	WriteResults []codec.WriteResult `json:"writeResults,omitempty"`
	Status       []codec.Status      `json:"status,omitempty"`
}

type ListDocumentsResponse struct {
	Documents     []codec.Document `json:"documents,omitempty"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

type ListCollectionIDsRequest struct {
	PageSize  int32  `json:"pageSize,omitempty"`
	PageToken string `json:"pageToken,omitempty"`
}

type ListCollectionIDsResponse struct {
	CollectionIDs []string `json:"collectionIds,omitempty"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
}

// Streaming channel frames.

// ListenRequest is an outbound frame: add or remove one target.
type ListenRequest struct {
	Database     string  `json:"database,omitempty"`
	AddTarget    *Target `json:"addTarget,omitempty"`
	RemoveTarget int32   `json:"removeTarget,omitempty"`
}

type Target struct {
	TargetID  int32            `json:"targetId,omitempty"`
	Documents *DocumentsTarget `json:"documents,omitempty"`
	Query     *QueryTarget     `json:"query,omitempty"`
	Once      bool             `json:"once,omitempty"`
}

type DocumentsTarget struct {
	Documents []string `json:"documents,omitempty"`
}

type QueryTarget struct {
	Parent          string                 `json:"parent,omitempty"`
	StructuredQuery *codec.StructuredQuery `json:"structuredQuery,omitempty"`
}

// ListenResponse is an inbound frame. Exactly one field is set.
type ListenResponse struct {
	TargetChange   *TargetChange    `json:"targetChange,omitempty"`
	DocumentChange *DocumentChange  `json:"documentChange,omitempty"`
	DocumentDelete *DocumentDelete  `json:"documentDelete,omitempty"`
	DocumentRemove *DocumentRemove  `json:"documentRemove,omitempty"`
	Filter         *ExistenceFilter `json:"filter,omitempty"`
}

type TargetChange struct {
	TargetChangeType string        `json:"targetChangeType,omitempty"`
	TargetIDs        []int32       `json:"targetIds,omitempty"`
	Cause            *codec.Status `json:"cause,omitempty"`
	ResumeToken      string        `json:"resumeToken,omitempty"`
	ReadTime         string        `json:"readTime,omitempty"`
}

// Target change kinds. An absent targetChangeType field means NO_CHANGE.
const (
	TargetNoChange = "NO_CHANGE"
	TargetAdd      = "ADD"
	TargetRemove   = "REMOVE"
	TargetCurrent  = "CURRENT"
	TargetReset    = "RESET"
)

type DocumentChange struct {
	Document         *codec.Document `json:"document,omitempty"`
	TargetIDs        []int32         `json:"targetIds,omitempty"`
	RemovedTargetIDs []int32         `json:"removedTargetIds,omitempty"`
}

type DocumentDelete struct {
	Document         string  `json:"document,omitempty"`
	RemovedTargetIDs []int32 `json:"removedTargetIds,omitempty"`
	ReadTime         string  `json:"readTime,omitempty"`
}

type DocumentRemove struct {
	Document         string  `json:"document,omitempty"`
	RemovedTargetIDs []int32 `json:"removedTargetIds,omitempty"`
	ReadTime         string  `json:"readTime,omitempty"`
}

type ExistenceFilter struct {
	TargetID int32 `json:"targetId,omitempty"`
	Count    int32 `json:"count,omitempty"`
}
