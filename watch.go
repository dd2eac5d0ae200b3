package firelite

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/firelite/firelite.go/pkg/connection"
	"github.com/firelite/firelite.go/pkg/constants"
	"github.com/firelite/firelite.go/pkg/logger"
	"github.com/firelite/firelite.go/pkg/models"
)

// watchTargetID is the target id used on every channel; a channel carries
// exactly one subscription so the id never varies.
const watchTargetID int32 = 1

// watchState is one live subscription over a dedicated stream channel. It
// buffers change frames into a working set and exposes consistent snapshots
// only at settle points.
type watchState struct {
	c      *Client
	ch     *connection.StreamChannel
	logger logger.Logger

	// compare orders query results; nil for a single-document target.
	compare func(a, b *DocumentSnapshot) (int, error)

	// working is the buffered set, keyed by document resource name.
	working map[string]*DocumentSnapshot
	// current is set once the server declares the target caught up.
	current bool
	// prev is the last emitted ordering, for diffing.
	prev []*DocumentSnapshot
	// readTime is the server time of the last target change.
	readTime time.Time

	stopOnce sync.Once
}

func (c *Client) openWatch(ctx context.Context, target *connection.Target, compare func(a, b *DocumentSnapshot) (int, error)) (*watchState, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	ch, err := c.streams.Dial(ctx)
	if err != nil {
		return nil, err
	}
	target.TargetID = watchTargetID
	if err := ch.Send(ctx, &connection.ListenRequest{
		Database:  c.path(),
		AddTarget: target,
	}); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &watchState{
		c:       c,
		ch:      ch,
		logger:  c.logger,
		compare: compare,
		working: make(map[string]*DocumentSnapshot),
	}, nil
}

// stop tears the channel down. Safe to call any number of times.
func (w *watchState) stop() {
	w.stopOnce.Do(func() {
		if err := w.ch.Close(); err != nil {
			w.logger.Debug("closing stream channel", "error", err)
		}
	})
}

// nextSettled consumes frames until the target settles, then returns the
// ordered working set. The error is terminal for the subscription.
func (w *watchState) nextSettled(ctx context.Context) ([]*DocumentSnapshot, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case frame, ok := <-w.ch.Frames():
			if !ok {
				if err := w.ch.Err(); err != nil {
					return nil, err
				}
				return nil, constants.ErrStreamClosed
			}
			settled, err := w.apply(frame)
			if err != nil {
				w.stop()
				return nil, err
			}
			if settled {
				return w.ordered()
			}
		}
	}
}

// apply folds one frame into the working set and reports whether the target
// reached a settle point.
func (w *watchState) apply(frame *connection.ListenResponse) (bool, error) {
	switch {
	case frame.TargetChange != nil:
		return w.applyTargetChange(frame.TargetChange)
	case frame.DocumentChange != nil:
		dc := frame.DocumentChange
		if dc.Document == nil {
			return false, nil
		}
		for _, id := range dc.RemovedTargetIDs {
			if id == watchTargetID {
				delete(w.working, dc.Document.Name)
				return false, nil
			}
		}
		snap, err := newDocumentSnapshot(w.c, dc.Document, "")
		if err != nil {
			return false, err
		}
		w.working[dc.Document.Name] = snap
	case frame.DocumentDelete != nil:
		delete(w.working, frame.DocumentDelete.Document)
	case frame.DocumentRemove != nil:
		delete(w.working, frame.DocumentRemove.Document)
	case frame.Filter != nil:
		// Existence filters exist for resumable streams; this engine opens a
		// fresh target per subscription, so a mismatch cannot be reconciled
		// and is logged only.
		if int(frame.Filter.Count) != len(w.working) {
			w.logger.Warn("existence filter mismatch",
				"server", frame.Filter.Count, "local", len(w.working))
		}
	}
	return false, nil
}

func (w *watchState) applyTargetChange(tc *connection.TargetChange) (bool, error) {
	if len(tc.TargetIDs) > 0 && !containsTarget(tc.TargetIDs, watchTargetID) {
		return false, nil
	}
	if tc.ReadTime != "" {
		t, err := parseWireTime(tc.ReadTime)
		if err == nil {
			w.readTime = t
		}
	}
	switch tc.TargetChangeType {
	case connection.TargetAdd:
		return false, nil
	case connection.TargetCurrent:
		w.current = true
		return true, nil
	case connection.TargetNoChange, "":
		// NO_CHANGE settles only once the target has been current.
		return w.current, nil
	case connection.TargetReset:
		w.working = make(map[string]*DocumentSnapshot)
		w.current = false
		return false, nil
	case connection.TargetRemove:
		if tc.Cause != nil {
			return false, &APIError{
				Status:  statusNameFromCode(tc.Cause.Code),
				Message: tc.Cause.Message,
			}
		}
		return false, fmt.Errorf("target removed by server")
	}
	w.logger.Debug("ignoring unknown target change", "type", tc.TargetChangeType)
	return false, nil
}

func containsTarget(ids []int32, id int32) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// ordered returns the working set sorted by the subscription's ordering.
func (w *watchState) ordered() ([]*DocumentSnapshot, error) {
	out := make([]*DocumentSnapshot, 0, len(w.working))
	for _, snap := range w.working {
		out = append(out, snap)
	}
	if w.compare == nil {
		return out, nil
	}
	var sortErr error
	sort.Slice(out, func(i, j int) bool {
		c, err := w.compare(out[i], out[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

// diff computes the document changes between the previous emission and the
// new ordering. A document in both sets counts as modified when its update
// time or its position changed.
func diffSnapshots(prev, next []*DocumentSnapshot) []DocumentChange {
	prevIdx := make(map[string]int, len(prev))
	for i, s := range prev {
		prevIdx[s.Ref.Path] = i
	}
	nextIdx := make(map[string]int, len(next))
	for i, s := range next {
		nextIdx[s.Ref.Path] = i
	}

	var changes []DocumentChange
	for i, s := range prev {
		if _, ok := nextIdx[s.Ref.Path]; !ok {
			changes = append(changes, DocumentChange{
				Kind: DocumentRemoved, Doc: s, OldIndex: i, NewIndex: -1,
			})
		}
	}
	for i, s := range next {
		old, ok := prevIdx[s.Ref.Path]
		if !ok {
			changes = append(changes, DocumentChange{
				Kind: DocumentAdded, Doc: s, OldIndex: -1, NewIndex: i,
			})
			continue
		}
		if old != i || !prev[old].UpdateTime.Equal(s.UpdateTime) {
			changes = append(changes, DocumentChange{
				Kind: DocumentModified, Doc: s, OldIndex: old, NewIndex: i,
			})
		}
	}
	return changes
}

// Snapshots subscribes to the document. Each Next returns its latest state
// once the server settles; a deleted document yields a non-existent
// snapshot.
func (d *DocumentRef) Snapshots(ctx context.Context) (*DocumentSnapshotIterator, error) {
	if d.err != nil {
		return nil, d.err
	}
	w, err := d.c.openWatch(ctx, &connection.Target{
		Documents: &connection.DocumentsTarget{Documents: []string{d.Path}},
	}, nil)
	if err != nil {
		return nil, err
	}
	return &DocumentSnapshotIterator{ref: d, w: w}, nil
}

// DocumentSnapshotIterator yields a document's states at settle points.
type DocumentSnapshotIterator struct {
	ref *DocumentRef
	w   *watchState
	err error
}

// Next blocks until the next settled state. Errors are terminal: once Next
// fails it fails the same way forever.
func (it *DocumentSnapshotIterator) Next(ctx context.Context) (*DocumentSnapshot, error) {
	if it.err != nil {
		return nil, it.err
	}
	docs, err := it.w.nextSettled(ctx)
	if err != nil {
		it.err = err
		return nil, err
	}
	for _, snap := range docs {
		if snap.Ref.Path == it.ref.Path {
			return snap, nil
		}
	}
	return missingSnapshot(it.ref, ""), nil
}

// Stop tears down the subscription. Idempotent.
func (it *DocumentSnapshotIterator) Stop() {
	it.w.stop()
	if it.err == nil {
		it.err = constants.ErrStopped
	}
}

// Snapshots subscribes to the query. Each Next returns the full result set
// plus the diff against the previous one.
func (q Query) Snapshots(ctx context.Context) (*QuerySnapshotIterator, error) {
	if q.err != nil {
		return nil, q.err
	}
	sq, err := q.toWire()
	if err != nil {
		return nil, err
	}
	cmp := q.snapshotComparator()
	w, err := q.c.openWatch(ctx, &connection.Target{
		Query: &connection.QueryTarget{
			Parent:          q.parentPath,
			StructuredQuery: sq,
		},
	}, cmp)
	if err != nil {
		return nil, err
	}
	return &QuerySnapshotIterator{w: w}, nil
}

// QuerySnapshotIterator yields a query's result sets at settle points.
type QuerySnapshotIterator struct {
	w   *watchState
	err error
}

// Next blocks until the next settled result set.
func (it *QuerySnapshotIterator) Next(ctx context.Context) (*QuerySnapshot, error) {
	if it.err != nil {
		return nil, it.err
	}
	docs, err := it.w.nextSettled(ctx)
	if err != nil {
		it.err = err
		return nil, err
	}
	qs := &QuerySnapshot{
		Documents: docs,
		Changes:   diffSnapshots(it.w.prev, docs),
		ReadTime:  it.w.readTime,
		Size:      len(docs),
	}
	it.w.prev = docs
	return qs, nil
}

// Stop tears down the subscription. Idempotent.
func (it *QuerySnapshotIterator) Stop() {
	it.w.stop()
	if it.err == nil {
		it.err = constants.ErrStopped
	}
}

// snapshotComparator builds the in-memory ordering matching what the server
// would return: the query's clauses in turn, then document identity.
func (q Query) snapshotComparator() func(a, b *DocumentSnapshot) (int, error) {
	orders := q.normalizedOrders()
	return func(a, b *DocumentSnapshot) (int, error) {
		for _, o := range orders {
			var av, bv any
			if o.fp.isDocumentID() {
				av, bv = a.Ref.Path, b.Ref.Path
			} else {
				var err error
				if av, err = a.DataAtPath(o.fp); err != nil {
					return 0, err
				}
				if bv, err = b.DataAtPath(o.fp); err != nil {
					return 0, err
				}
			}
			c, err := compareValues(av, bv)
			if err != nil {
				return 0, err
			}
			if o.dir == Desc {
				c = -c
			}
			if c != 0 {
				return c, nil
			}
		}
		return strings.Compare(a.Ref.Path, b.Ref.Path), nil
	}
}

// Type order of values, lowest first. Mirrors the server's cross-type sort.
const (
	typeOrderNull = iota
	typeOrderBool
	typeOrderNumber
	typeOrderTimestamp
	typeOrderString
	typeOrderBytes
	typeOrderReference
	typeOrderGeoPoint
	typeOrderArray
	typeOrderMap
)

func typeOrderOf(v any) (int, error) {
	switch v.(type) {
	case nil:
		return typeOrderNull, nil
	case bool:
		return typeOrderBool, nil
	case int64, float64:
		return typeOrderNumber, nil
	case time.Time:
		return typeOrderTimestamp, nil
	case string:
		return typeOrderString, nil
	case []byte:
		return typeOrderBytes, nil
	case *DocumentRef:
		return typeOrderReference, nil
	case models.GeoPoint:
		return typeOrderGeoPoint, nil
	case []any:
		return typeOrderArray, nil
	case map[string]any:
		return typeOrderMap, nil
	}
	return 0, fmt.Errorf("cannot order value of type %T", v)
}

// compareValues orders two decoded values the way the server does: by type
// order first, then within the type.
func compareValues(a, b any) (int, error) {
	ta, err := typeOrderOf(a)
	if err != nil {
		return 0, err
	}
	tb, err := typeOrderOf(b)
	if err != nil {
		return 0, err
	}
	if ta != tb {
		return cmpInt(ta, tb), nil
	}
	switch ta {
	case typeOrderNull:
		return 0, nil
	case typeOrderBool:
		x, y := a.(bool), b.(bool)
		if x == y {
			return 0, nil
		}
		if !x {
			return -1, nil
		}
		return 1, nil
	case typeOrderNumber:
		return cmpFloat(numberOf(a), numberOf(b)), nil
	case typeOrderTimestamp:
		x, y := a.(time.Time), b.(time.Time)
		if x.Equal(y) {
			return 0, nil
		}
		if x.Before(y) {
			return -1, nil
		}
		return 1, nil
	case typeOrderString:
		return strings.Compare(a.(string), b.(string)), nil
	case typeOrderBytes:
		return bytes.Compare(a.([]byte), b.([]byte)), nil
	case typeOrderReference:
		return strings.Compare(a.(*DocumentRef).Path, b.(*DocumentRef).Path), nil
	case typeOrderGeoPoint:
		x, y := a.(models.GeoPoint), b.(models.GeoPoint)
		if c := cmpFloat(x.Latitude, y.Latitude); c != 0 {
			return c, nil
		}
		return cmpFloat(x.Longitude, y.Longitude), nil
	case typeOrderArray:
		x, y := a.([]any), b.([]any)
		for i := 0; i < len(x) && i < len(y); i++ {
			c, err := compareValues(x[i], y[i])
			if err != nil || c != 0 {
				return c, err
			}
		}
		return cmpInt(len(x), len(y)), nil
	case typeOrderMap:
		x, y := a.(map[string]any), b.(map[string]any)
		xk, yk := sortedKeys(x), sortedKeys(y)
		for i := 0; i < len(xk) && i < len(yk); i++ {
			if c := strings.Compare(xk[i], yk[i]); c != 0 {
				return c, nil
			}
			c, err := compareValues(x[xk[i]], y[yk[i]])
			if err != nil || c != 0 {
				return c, err
			}
		}
		return cmpInt(len(xk), len(yk)), nil
	}
	return 0, nil
}

func numberOf(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
