package firelite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelite/firelite.go/internal/fakefs"
	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
	"github.com/firelite/firelite.go/pkg/constants"
)

func targetChange(kind string) *connection.ListenResponse {
	return &connection.ListenResponse{TargetChange: &connection.TargetChange{
		TargetChangeType: kind,
		TargetIDs:        []int32{watchTargetID},
		ReadTime:         "2024-03-01T00:00:00Z",
	}}
}

func docChange(name string, fields map[string]*codec.Value) *connection.ListenResponse {
	return &connection.ListenResponse{DocumentChange: &connection.DocumentChange{
		Document:  wireDoc(name, fields),
		TargetIDs: []int32{watchTargetID},
	}}
}

func TestDocumentSnapshots(t *testing.T) {
	c, srv := newFakeClient(t)
	ref := c.Doc("users/alice")

	added := make(chan connection.ListenRequest, 1)
	srv.OnListen(func(s *fakefs.ListenSession) {
		var req connection.ListenRequest
		if err := s.Recv(&req); err != nil {
			return
		}
		added <- req

		_ = s.Send(targetChange(connection.TargetAdd))
		_ = s.Send(docChange(ref.Path, map[string]*codec.Value{"name": {StringValue: strp("Alice")}}))
		_ = s.Send(targetChange(connection.TargetCurrent))

		// Second settle: the document is deleted.
		_ = s.Send(&connection.ListenResponse{DocumentDelete: &connection.DocumentDelete{
			Document:         ref.Path,
			RemovedTargetIDs: []int32{watchTargetID},
		}})
		_ = s.Send(targetChange(connection.TargetNoChange))

		// Keep the channel open until the client hangs up.
		var discard connection.ListenRequest
		_ = s.Recv(&discard)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	it, err := ref.Snapshots(ctx)
	require.NoError(t, err)
	defer it.Stop()

	req := <-added
	require.NotNil(t, req.AddTarget)
	assert.Equal(t, watchTargetID, req.AddTarget.TargetID)
	require.NotNil(t, req.AddTarget.Documents)
	assert.Equal(t, []string{ref.Path}, req.AddTarget.Documents.Documents)

	snap, err := it.Next(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Exists())
	assert.Equal(t, "Alice", snap.Data()["name"])

	snap, err = it.Next(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestQuerySnapshotsDiff(t *testing.T) {
	c, srv := newFakeClient(t)
	col := c.Collection("users")
	aliceName := col.Path + "/alice"
	bobName := col.Path + "/bob"

	srv.OnListen(func(s *fakefs.ListenSession) {
		var req connection.ListenRequest
		if err := s.Recv(&req); err != nil {
			return
		}

		_ = s.Send(docChange(bobName, map[string]*codec.Value{"age": {IntegerValue: strp("20")}}))
		_ = s.Send(docChange(aliceName, map[string]*codec.Value{"age": {IntegerValue: strp("10")}}))
		_ = s.Send(targetChange(connection.TargetCurrent))

		// Bob leapfrogs below alice.
		bob := wireDoc(bobName, map[string]*codec.Value{"age": {IntegerValue: strp("5")}})
		bob.UpdateTime = "2024-01-05T00:00:00Z"
		_ = s.Send(&connection.ListenResponse{DocumentChange: &connection.DocumentChange{
			Document:  bob,
			TargetIDs: []int32{watchTargetID},
		}})
		_ = s.Send(targetChange(connection.TargetNoChange))

		var discard connection.ListenRequest
		_ = s.Recv(&discard)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	it, err := col.Query.OrderBy("age", Asc).Snapshots(ctx)
	require.NoError(t, err)
	defer it.Stop()

	qs, err := it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, qs.Size)
	// Ordered by age regardless of arrival order.
	assert.Equal(t, "alice", qs.Documents[0].Ref.ID)
	assert.Equal(t, "bob", qs.Documents[1].Ref.ID)
	require.Len(t, qs.Changes, 2)
	for _, ch := range qs.Changes {
		assert.Equal(t, DocumentAdded, ch.Kind)
		assert.Equal(t, -1, ch.OldIndex)
	}

	qs, err = it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, qs.Size)
	assert.Equal(t, "bob", qs.Documents[0].Ref.ID)

	// Both documents moved position, so both are modified; nothing was
	// added or removed.
	require.Len(t, qs.Changes, 2)
	for _, ch := range qs.Changes {
		assert.Equal(t, DocumentModified, ch.Kind)
	}
}

func TestWatchTargetRemoveIsTerminal(t *testing.T) {
	c, srv := newFakeClient(t)
	ref := c.Doc("users/alice")

	srv.OnListen(func(s *fakefs.ListenSession) {
		var req connection.ListenRequest
		if err := s.Recv(&req); err != nil {
			return
		}
		_ = s.Send(&connection.ListenResponse{TargetChange: &connection.TargetChange{
			TargetChangeType: connection.TargetRemove,
			TargetIDs:        []int32{watchTargetID},
			Cause:            &codec.Status{Code: 7, Message: "forbidden"},
		}})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	it, err := ref.Snapshots(ctx)
	require.NoError(t, err)
	defer it.Stop()

	_, err = it.Next(ctx)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "PERMISSION_DENIED", apiErr.Status)

	// The failure sticks.
	_, err2 := it.Next(ctx)
	assert.Equal(t, err, err2)
}

func TestWatchResetClearsWorkingSet(t *testing.T) {
	c, srv := newFakeClient(t)
	col := c.Collection("users")
	aliceName := col.Path + "/alice"
	bobName := col.Path + "/bob"

	srv.OnListen(func(s *fakefs.ListenSession) {
		var req connection.ListenRequest
		if err := s.Recv(&req); err != nil {
			return
		}
		_ = s.Send(docChange(aliceName, map[string]*codec.Value{"age": {IntegerValue: strp("10")}}))
		_ = s.Send(targetChange(connection.TargetReset))
		// After the reset only bob exists, and the target must become
		// current again before anything settles.
		_ = s.Send(docChange(bobName, map[string]*codec.Value{"age": {IntegerValue: strp("20")}}))
		_ = s.Send(targetChange(connection.TargetNoChange))
		_ = s.Send(targetChange(connection.TargetCurrent))

		var discard connection.ListenRequest
		_ = s.Recv(&discard)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	it, err := col.Query.OrderBy("age", Asc).Snapshots(ctx)
	require.NoError(t, err)
	defer it.Stop()

	qs, err := it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, qs.Size)
	assert.Equal(t, "bob", qs.Documents[0].Ref.ID)
}

func TestIteratorStopIdempotent(t *testing.T) {
	c, srv := newFakeClient(t)
	srv.OnListen(func(s *fakefs.ListenSession) {
		var req connection.ListenRequest
		_ = s.Recv(&req)
		var discard connection.ListenRequest
		_ = s.Recv(&discard)
	})

	ctx := context.Background()
	it, err := c.Doc("users/alice").Snapshots(ctx)
	require.NoError(t, err)

	it.Stop()
	it.Stop()

	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, constants.ErrStopped)
}

func TestDiffSnapshots(t *testing.T) {
	c := newTestClient(t)
	snap := func(id string, updated time.Time) *DocumentSnapshot {
		return &DocumentSnapshot{
			Ref:        c.Doc("users/" + id),
			UpdateTime: updated,
			exists:     true,
		}
	}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	a0, b0, c0 := snap("a", t0), snap("b", t0), snap("c", t0)

	changes := diffSnapshots(nil, []*DocumentSnapshot{a0, b0})
	require.Len(t, changes, 2)
	assert.Equal(t, DocumentAdded, changes[0].Kind)

	// b updated in place, c added, a removed.
	b1 := snap("b", t1)
	changes = diffSnapshots([]*DocumentSnapshot{a0, b0}, []*DocumentSnapshot{b1, c0})
	require.Len(t, changes, 3)

	kinds := map[string]DocumentChangeKind{}
	for _, ch := range changes {
		kinds[ch.Doc.Ref.ID] = ch.Kind
	}
	assert.Equal(t, DocumentRemoved, kinds["a"])
	assert.Equal(t, DocumentModified, kinds["b"])
	assert.Equal(t, DocumentAdded, kinds["c"])

	// Identical orderings produce no changes.
	changes = diffSnapshots([]*DocumentSnapshot{b1, c0}, []*DocumentSnapshot{b1, c0})
	assert.Empty(t, changes)
}

func TestCompareValues(t *testing.T) {
	lt := func(a, b any) {
		t.Helper()
		got, err := compareValues(a, b)
		require.NoError(t, err)
		assert.Equal(t, -1, got, "%v < %v", a, b)
		got, err = compareValues(b, a)
		require.NoError(t, err)
		assert.Equal(t, 1, got)
	}

	// Within a type.
	lt(false, true)
	lt(int64(1), int64(2))
	lt(int64(3), 3.5)
	lt("a", "b")
	lt([]any{int64(1)}, []any{int64(1), int64(2)})
	lt(map[string]any{"a": int64(1)}, map[string]any{"b": int64(1)})

	// Across types: numbers sort before strings, strings before arrays.
	lt(int64(999), "0")
	lt("zzz", []any{})
	lt(nil, false)

	eq, err := compareValues(int64(2), 2.0)
	require.NoError(t, err)
	assert.Equal(t, 0, eq)

	_, err = compareValues(struct{}{}, 1)
	assert.Error(t, err)
}
