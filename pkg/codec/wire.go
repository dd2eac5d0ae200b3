// Package codec maps native Go values to and from the database's tagged wire
// representation, and defines the wire JSON shapes shared by the REST gateway
// and the streaming channel.
package codec

import json "github.com/goccy/go-json"

// Value is the tagged wire union. Exactly one field is set.
//
// NullValue is a RawMessage so an explicit JSON null survives both marshal
// and unmarshal: omitempty drops the field only when the slice is empty,
// and an incoming "nullValue": null decodes to the non-empty literal "null".
type Value struct {
	NullValue      json.RawMessage `json:"nullValue,omitempty"`
	BooleanValue   *bool           `json:"booleanValue,omitempty"`
	IntegerValue   *string         `json:"integerValue,omitempty"`
	DoubleValue    *float64        `json:"doubleValue,omitempty"`
	TimestampValue *string         `json:"timestampValue,omitempty"`
	StringValue    *string         `json:"stringValue,omitempty"`
	BytesValue     *string         `json:"bytesValue,omitempty"`
	ReferenceValue *string         `json:"referenceValue,omitempty"`
	GeoPointValue  *LatLng         `json:"geoPointValue,omitempty"`
	ArrayValue     *ArrayValue     `json:"arrayValue,omitempty"`
	MapValue       *MapValue       `json:"mapValue,omitempty"`
}

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type ArrayValue struct {
	Values []*Value `json:"values,omitempty"`
}

type MapValue struct {
	Fields map[string]*Value `json:"fields,omitempty"`
}

// Document is a stored document on the wire.
type Document struct {
	Name       string            `json:"name,omitempty"`
	Fields     map[string]*Value `json:"fields,omitempty"`
	CreateTime string            `json:"createTime,omitempty"`
	UpdateTime string            `json:"updateTime,omitempty"`
}

// DocumentMask is the list of field paths a write may touch.
type DocumentMask struct {
	FieldPaths []string `json:"fieldPaths,omitempty"`
}

// Precondition restricts when a write applies.
type Precondition struct {
	Exists     *bool  `json:"exists,omitempty"`
	UpdateTime string `json:"updateTime,omitempty"`
}

// FieldTransform is one server-side computed mutation.
type FieldTransform struct {
	FieldPath                string      `json:"fieldPath"`
	SetToServerValue         string      `json:"setToServerValue,omitempty"`
	Increment                *Value      `json:"increment,omitempty"`
	Maximum                  *Value      `json:"maximum,omitempty"`
	Minimum                  *Value      `json:"minimum,omitempty"`
	AppendMissingElements    *ArrayValue `json:"appendMissingElements,omitempty"`
	RemoveAllFromArray       *ArrayValue `json:"removeAllFromArray,omitempty"`
}

// ServerValueRequestTime is the only server value the transform supports.
const ServerValueRequestTime = "REQUEST_TIME"

// Write is one wire write: an update (set), a delete, or a bare transform.
type Write struct {
	Update           *Document        `json:"update,omitempty"`
	Delete           string           `json:"delete,omitempty"`
	UpdateMask       *DocumentMask    `json:"updateMask,omitempty"`
	UpdateTransforms []FieldTransform `json:"updateTransforms,omitempty"`
	CurrentDocument  *Precondition    `json:"currentDocument,omitempty"`
}

// WriteResult reports one applied write.
type WriteResult struct {
	UpdateTime       string   `json:"updateTime,omitempty"`
	TransformResults []*Value `json:"transformResults,omitempty"`
}

// Status is the rpc error shape carried inside batch-write responses.
type Status struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StructuredQuery and friends.

type StructuredQuery struct {
	Select  *Projection          `json:"select,omitempty"`
	From    []CollectionSelector `json:"from,omitempty"`
	Where   *Filter              `json:"where,omitempty"`
	OrderBy []Order              `json:"orderBy,omitempty"`
	StartAt *Cursor              `json:"startAt,omitempty"`
	EndAt   *Cursor              `json:"endAt,omitempty"`
	Offset  int32                `json:"offset,omitempty"`
	Limit   *int32               `json:"limit,omitempty"`
}

type Projection struct {
	Fields []FieldReference `json:"fields,omitempty"`
}

type CollectionSelector struct {
	CollectionID   string `json:"collectionId,omitempty"`
	AllDescendants bool   `json:"allDescendants,omitempty"`
}

type FieldReference struct {
	FieldPath string `json:"fieldPath"`
}

type Order struct {
	Field     FieldReference `json:"field"`
	Direction string         `json:"direction,omitempty"`
}

const (
	DirectionAscending  = "ASCENDING"
	DirectionDescending = "DESCENDING"
)

type Cursor struct {
	Values []*Value `json:"values,omitempty"`
	Before bool     `json:"before,omitempty"`
}

// Filter is the wire filter union.
type Filter struct {
	CompositeFilter *CompositeFilter `json:"compositeFilter,omitempty"`
	FieldFilter     *FieldFilter     `json:"fieldFilter,omitempty"`
	UnaryFilter     *UnaryFilter     `json:"unaryFilter,omitempty"`
}

type CompositeFilter struct {
	Op      string   `json:"op"`
	Filters []Filter `json:"filters,omitempty"`
}

type FieldFilter struct {
	Field FieldReference `json:"field"`
	Op    string         `json:"op"`
	Value *Value         `json:"value"`
}

type UnaryFilter struct {
	Field FieldReference `json:"field"`
	Op    string         `json:"op"`
}

// StructuredAggregationQuery wraps a StructuredQuery with aggregations.
type StructuredAggregationQuery struct {
	StructuredQuery *StructuredQuery `json:"structuredQuery,omitempty"`
	Aggregations    []Aggregation    `json:"aggregations,omitempty"`
}

type Aggregation struct {
	Alias string            `json:"alias,omitempty"`
	Count *CountAggregation `json:"count,omitempty"`
	Sum   *FieldAggregation `json:"sum,omitempty"`
	Avg   *FieldAggregation `json:"avg,omitempty"`
}

type CountAggregation struct {
	UpTo *string `json:"upTo,omitempty"`
}

type FieldAggregation struct {
	Field FieldReference `json:"field"`
}
