package firelite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
)

// Direction orders query results.
type Direction string

const (
	Asc  Direction = codec.DirectionAscending
	Desc Direction = codec.DirectionDescending
)

// A Query describes a structured query over one collection or a collection
// group. Queries are immutable value objects: every mutator returns a
// derived Query and never touches its receiver, so a base query can be
// shared across cursor and partition derivations.
type Query struct {
	c *Client

	// parentPath is the resource name the query runs under: a document name
	// or the database's documents root.
	parentPath     string
	collectionID   string
	allDescendants bool

	filters   []Filter
	orders    []order
	selection []FieldPath

	offset      int32
	limit       *int32
	limitToLast bool

	startVals, endVals     []any
	startDoc, endDoc       *DocumentSnapshot
	startBefore, endBefore bool
	hasStart, hasEnd       bool

	// err defers builder mistakes until the query runs.
	err error
}

type order struct {
	fp  FieldPath
	dir Direction
}

// Where returns a derived query also filtering on the field at a dotted
// path. Repeated calls combine conjunctively.
func (q Query) Where(path, operator string, value any) Query {
	fp, err := parseFieldPath(path)
	if err != nil {
		q.err = err
		return q
	}
	return q.WherePath(fp, operator, value)
}

// WherePath is Where for a pre-parsed field path.
func (q Query) WherePath(fp FieldPath, operator string, value any) Query {
	return q.WhereEntity(PropertyPathFilter{Path: fp, Operator: operator, Value: value})
}

// WhereEntity adds an arbitrary filter tree node.
func (q Query) WhereEntity(f Filter) Query {
	q.filters = append(q.filters[:len(q.filters):len(q.filters)], f)
	return q
}

// OrderBy appends an ordering clause on a dotted field path.
func (q Query) OrderBy(path string, dir Direction) Query {
	fp, err := parseFieldPath(path)
	if err != nil {
		q.err = err
		return q
	}
	return q.OrderByPath(fp, dir)
}

// OrderByPath is OrderBy for a pre-parsed field path.
func (q Query) OrderByPath(fp FieldPath, dir Direction) Query {
	if err := fp.validate(); err != nil {
		q.err = err
		return q
	}
	if dir != Asc && dir != Desc {
		q.err = fmt.Errorf("invalid direction %q", dir)
		return q
	}
	q.orders = append(q.orders[:len(q.orders):len(q.orders)], order{fp: fp, dir: dir})
	return q
}

// Limit caps the result to the first n documents.
func (q Query) Limit(n int) Query {
	if n < 0 {
		q.err = fmt.Errorf("limit %d is negative", n)
		return q
	}
	l := int32(n)
	q.limit = &l
	q.limitToLast = false
	return q
}

// LimitToLast caps the result to the last n documents in query order. The
// results are still returned in ascending query order.
func (q Query) LimitToLast(n int) Query {
	if n < 0 {
		q.err = fmt.Errorf("limit %d is negative", n)
		return q
	}
	l := int32(n)
	q.limit = &l
	q.limitToLast = true
	return q
}

// Offset skips the first n results.
func (q Query) Offset(n int) Query {
	if n < 0 {
		q.err = fmt.Errorf("offset %d is negative", n)
		return q
	}
	q.offset = int32(n)
	return q
}

// Select projects the result documents to the given dotted field paths. An
// empty call projects to the document name only.
func (q Query) Select(paths ...string) Query {
	fps := make([]FieldPath, 0, len(paths))
	for _, p := range paths {
		fp, err := parseFieldPath(p)
		if err != nil {
			q.err = err
			return q
		}
		fps = append(fps, fp)
	}
	return q.SelectPaths(fps...)
}

// SelectPaths is Select for pre-parsed field paths.
func (q Query) SelectPaths(paths ...FieldPath) Query {
	if len(paths) == 0 {
		paths = []FieldPath{DocumentID}
	}
	q.selection = paths
	return q
}

// StartAt anchors the query at the row with the given ordering values,
// inclusive. A single *DocumentSnapshot argument anchors at that document.
func (q Query) StartAt(values ...any) Query {
	q.startVals, q.startDoc, q.err = q.cursorArgs(values)
	q.startBefore = true
	q.hasStart = true
	return q
}

// StartAfter anchors the query just past the given row.
func (q Query) StartAfter(values ...any) Query {
	q.startVals, q.startDoc, q.err = q.cursorArgs(values)
	q.startBefore = false
	q.hasStart = true
	return q
}

// EndAt bounds the query at the given row, inclusive.
func (q Query) EndAt(values ...any) Query {
	q.endVals, q.endDoc, q.err = q.cursorArgs(values)
	q.endBefore = false
	q.hasEnd = true
	return q
}

// EndBefore bounds the query just before the given row.
func (q Query) EndBefore(values ...any) Query {
	q.endVals, q.endDoc, q.err = q.cursorArgs(values)
	q.endBefore = true
	q.hasEnd = true
	return q
}

func (q *Query) cursorArgs(values []any) ([]any, *DocumentSnapshot, error) {
	if q.err != nil {
		return nil, nil, q.err
	}
	if len(values) == 1 {
		if snap, ok := values[0].(*DocumentSnapshot); ok {
			return nil, snap, nil
		}
	}
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("cursor requires at least one value")
	}
	return values, nil, nil
}

// toWire compiles the query to its wire shape.
func (q Query) toWire() (*codec.StructuredQuery, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.collectionID == "" {
		return nil, fmt.Errorf("query has no collection")
	}

	sq := &codec.StructuredQuery{
		From: []codec.CollectionSelector{{
			CollectionID:   q.collectionID,
			AllDescendants: q.allDescendants,
		}},
		Offset: q.offset,
		Limit:  q.limit,
	}

	orders := q.normalizedOrders()

	dirs := make([]Direction, len(orders))
	for i, o := range orders {
		dirs[i] = o.dir
	}
	if q.limitToLast {
		// A tail limit is executed as a head limit against the reversed
		// ordering; the decoded rows are reversed back after execution.
		for i := range dirs {
			if dirs[i] == Asc {
				dirs[i] = Desc
			} else {
				dirs[i] = Asc
			}
		}
	}
	for i, o := range orders {
		sq.OrderBy = append(sq.OrderBy, codec.Order{
			Field:     codec.FieldReference{FieldPath: o.fp.serverPath()},
			Direction: string(dirs[i]),
		})
	}

	startVals, startDoc, startBefore := q.startVals, q.startDoc, q.startBefore
	endVals, endDoc, endBefore := q.endVals, q.endDoc, q.endBefore
	hasStart, hasEnd := q.hasStart, q.hasEnd
	if q.limitToLast {
		startVals, endVals = endVals, startVals
		startDoc, endDoc = endDoc, startDoc
		startBefore, endBefore = !endBefore, !startBefore
		hasStart, hasEnd = hasEnd, hasStart
	}
	if hasStart {
		cur, err := q.toCursor(startVals, startDoc, startBefore, orders)
		if err != nil {
			return nil, err
		}
		sq.StartAt = cur
	}
	if hasEnd {
		cur, err := q.toCursor(endVals, endDoc, endBefore, orders)
		if err != nil {
			return nil, err
		}
		sq.EndAt = cur
	}

	if len(q.filters) == 1 {
		wf, err := q.filters[0].toWire()
		if err != nil {
			return nil, err
		}
		sq.Where = wf
	} else if len(q.filters) > 1 {
		wf, err := compositeToWire("AND", q.filters)
		if err != nil {
			return nil, err
		}
		sq.Where = wf
	}

	if q.selection != nil {
		proj := &codec.Projection{}
		for _, fp := range q.selection {
			if err := fp.validate(); err != nil {
				return nil, err
			}
			proj.Fields = append(proj.Fields, codec.FieldReference{FieldPath: fp.serverPath()})
		}
		sq.Select = proj
	}
	return sq, nil
}

// normalizedOrders resolves the effective ordering: once a cursor bound or
// tail limit demands deterministic pagination, ordering by document
// identity is implied, inheriting the final clause's direction.
func (q Query) normalizedOrders() []order {
	orders := q.orders
	needsName := q.limitToLast || q.hasStart || q.hasEnd
	if !needsName {
		return orders
	}
	if len(orders) == 0 {
		return []order{{fp: DocumentID, dir: Asc}}
	}
	last := orders[len(orders)-1]
	if last.fp.isDocumentID() {
		return orders
	}
	return append(orders[:len(orders):len(orders)], order{fp: DocumentID, dir: last.dir})
}

// toCursor positionally matches cursor values against the resolved
// ordering. A document snapshot expands into that snapshot's own field
// values (or its reference when ordering by identity).
func (q Query) toCursor(vals []any, doc *DocumentSnapshot, before bool, orders []order) (*codec.Cursor, error) {
	cur := &codec.Cursor{Before: before}
	if doc != nil {
		for _, o := range orders {
			var v any
			if o.fp.isDocumentID() {
				v = doc.Ref
			} else {
				dv, err := doc.DataAtPath(o.fp)
				if err != nil {
					return nil, fmt.Errorf("snapshot cursor: %w", err)
				}
				v = dv
			}
			wv, err := q.encodeCursorValue(o.fp, v)
			if err != nil {
				return nil, err
			}
			cur.Values = append(cur.Values, wv)
		}
		return cur, nil
	}

	if len(vals) > len(orders) {
		return nil, fmt.Errorf("got %d cursor values for %d ordering clauses", len(vals), len(orders))
	}
	for i, v := range vals {
		wv, err := q.encodeCursorValue(orders[i].fp, v)
		if err != nil {
			return nil, err
		}
		cur.Values = append(cur.Values, wv)
	}
	return cur, nil
}

func (q Query) encodeCursorValue(fp FieldPath, v any) (*codec.Value, error) {
	if !fp.isDocumentID() {
		return codec.Encode(v, codec.EncodeOptions{})
	}
	// Ordering by identity: the cursor value must become a reference.
	switch x := v.(type) {
	case *DocumentRef:
		return codec.Encode(x, codec.EncodeOptions{})
	case string:
		name, err := q.cursorDocumentName(x)
		if err != nil {
			return nil, err
		}
		return &codec.Value{ReferenceValue: &name}, nil
	default:
		return nil, fmt.Errorf("cursor value for document identity must be a string or *DocumentRef, got %T", v)
	}
}

func (q Query) cursorDocumentName(rel string) (string, error) {
	if q.allDescendants {
		segs, err := splitPath(rel)
		if err != nil {
			return "", err
		}
		if len(segs)%2 != 0 {
			return "", fmt.Errorf("cursor document path %q has an odd number of segments", rel)
		}
		return q.c.documentsPath() + "/" + strings.Join(segs, "/"), nil
	}
	if strings.Contains(rel, "/") {
		return "", fmt.Errorf("cursor document id %q must not contain '/'", rel)
	}
	return q.parentPath + "/" + q.collectionID + "/" + rel, nil
}

// GetAll runs the query and returns every matching snapshot in query order.
func (q Query) GetAll(ctx context.Context) ([]*DocumentSnapshot, error) {
	return q.getAll(ctx, "")
}

func (q Query) getAll(ctx context.Context, transaction string) ([]*DocumentSnapshot, error) {
	if q.err != nil {
		return nil, q.err
	}
	if err := q.c.checkOpen(); err != nil {
		return nil, err
	}
	sq, err := q.toWire()
	if err != nil {
		return nil, err
	}
	rows, err := q.c.conn.RunQuery(ctx, q.parentPath, &connection.RunQueryRequest{
		StructuredQuery: sq,
		Transaction:     transaction,
	})
	if err != nil {
		return nil, err
	}
	var snaps []*DocumentSnapshot
	for i := range rows {
		if rows[i].Document == nil {
			continue
		}
		snap, err := newDocumentSnapshot(q.c, rows[i].Document, rows[i].ReadTime)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if q.limitToLast {
		for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
			snaps[i], snaps[j] = snaps[j], snaps[i]
		}
	}
	return snaps, nil
}

// Partitions splits the query into up to partitionCount disjoint ranges
// that together cover it. The receiver must be an unfiltered, uncursored
// query; each returned Query carries the identity-ordered cursor bounds of
// its range.
func (q Query) Partitions(ctx context.Context, partitionCount int) ([]Query, error) {
	if q.err != nil {
		return nil, q.err
	}
	if partitionCount < 1 {
		return nil, fmt.Errorf("partition count %d must be positive", partitionCount)
	}
	if q.hasStart || q.hasEnd || q.limit != nil || q.offset != 0 {
		return nil, fmt.Errorf("a query with cursors, a limit or an offset cannot be partitioned")
	}
	if partitionCount == 1 {
		return []Query{q}, nil
	}

	// Split points are resolved against the identity-ordered form of the
	// otherwise unmodified query.
	ordered := q.OrderByPath(DocumentID, Asc)
	sq, err := ordered.toWire()
	if err != nil {
		return nil, err
	}

	var splitRefs []*DocumentRef
	pageToken := ""
	for {
		resp, err := q.c.conn.PartitionQuery(ctx, q.parentPath, &connection.PartitionQueryRequest{
			StructuredQuery: sq,
			PartitionCount:  int64(partitionCount - 1),
			PageToken:       pageToken,
		})
		if err != nil {
			return nil, err
		}
		for _, cur := range resp.Partitions {
			if len(cur.Values) == 0 || cur.Values[0].ReferenceValue == nil {
				return nil, fmt.Errorf("partition split point is not a document reference")
			}
			splitRefs = append(splitRefs, q.c.docRefFromName(*cur.Values[0].ReferenceValue))
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	sort.Slice(splitRefs, func(i, j int) bool { return splitRefs[i].Path < splitRefs[j].Path })

	out := make([]Query, 0, len(splitRefs)+1)
	cursor := q
	for _, ref := range splitRefs {
		out = append(out, cursor.EndBefore(ref))
		cursor = q.StartAt(ref)
	}
	out = append(out, cursor)
	return out, nil
}

// NewAggregationQuery starts an aggregation over the query's result set.
func (q Query) NewAggregationQuery() *AggregationQuery {
	return &AggregationQuery{q: q}
}

// An AggregationQuery computes aggregates (count, sum, average) over a
// query's results server-side.
type AggregationQuery struct {
	q    Query
	aggs []codec.Aggregation
}

// WithCount adds a count of matching documents under alias.
func (a *AggregationQuery) WithCount(alias string) *AggregationQuery {
	a.aggs = append(a.aggs, codec.Aggregation{Alias: alias, Count: &codec.CountAggregation{}})
	return a
}

// WithSum adds a sum of the field at a dotted path under alias.
func (a *AggregationQuery) WithSum(path, alias string) *AggregationQuery {
	return a.withField(path, alias, "sum")
}

// WithAvg adds an average of the field at a dotted path under alias.
func (a *AggregationQuery) WithAvg(path, alias string) *AggregationQuery {
	return a.withField(path, alias, "avg")
}

func (a *AggregationQuery) withField(path, alias, kind string) *AggregationQuery {
	fp, err := parseFieldPath(path)
	if err != nil {
		a.q.err = err
		return a
	}
	agg := codec.Aggregation{Alias: alias}
	field := &codec.FieldAggregation{Field: codec.FieldReference{FieldPath: fp.serverPath()}}
	if kind == "sum" {
		agg.Sum = field
	} else {
		agg.Avg = field
	}
	a.aggs = append(a.aggs, agg)
	return a
}

// AggregationResult maps aliases to their computed values.
type AggregationResult map[string]any

// Get runs the aggregation.
func (a *AggregationQuery) Get(ctx context.Context) (AggregationResult, error) {
	if a.q.err != nil {
		return nil, a.q.err
	}
	if err := a.q.c.checkOpen(); err != nil {
		return nil, err
	}
	if len(a.aggs) == 0 {
		return nil, fmt.Errorf("aggregation query requires at least one aggregation")
	}
	sq, err := a.q.toWire()
	if err != nil {
		return nil, err
	}
	rows, err := a.q.c.conn.RunAggregationQuery(ctx, a.q.parentPath, &connection.RunAggregationQueryRequest{
		StructuredAggregationQuery: &codec.StructuredAggregationQuery{
			StructuredQuery: sq,
			Aggregations:    a.aggs,
		},
	})
	if err != nil {
		return nil, err
	}
	out := AggregationResult{}
	for i := range rows {
		if rows[i].Result == nil {
			continue
		}
		for alias, wv := range rows[i].Result.AggregateFields {
			v, err := codec.Decode(wv, a.q.c.decodeOptions())
			if err != nil {
				return nil, fmt.Errorf("aggregate %q: %w", alias, err)
			}
			out[alias] = v
		}
	}
	return out, nil
}
