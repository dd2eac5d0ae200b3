package firelite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelite/firelite.go/internal/fakefs"
	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
	"github.com/firelite/firelite.go/pkg/constants"
)

func newFakeClient(t *testing.T) (*Client, *fakefs.Server) {
	t.Helper()
	srv := fakefs.NewServer(constants.ListenChannelPath)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{
		ProjectID: "p",
		Endpoint:  srv.URL(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func strp(s string) *string { return &s }

func wireDoc(name string, fields map[string]*codec.Value) *codec.Document {
	return &codec.Document{
		Name:       name,
		Fields:     fields,
		CreateTime: "2024-01-01T00:00:00Z",
		UpdateTime: "2024-01-02T00:00:00Z",
	}
}

func TestNewClientValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, Config{})
	assert.ErrorIs(t, err, constants.ErrNoProjectID)

	// The default endpoint is HTTPS, which demands a token source.
	_, err = NewClient(ctx, Config{ProjectID: "p"})
	assert.Error(t, err)

	// Plain HTTP may omit it.
	c, err := NewClient(ctx, Config{ProjectID: "p", Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/databases/(default)/documents", c.documentsPath())
}

func TestClientClosed(t *testing.T) {
	c, err := NewClient(context.Background(), Config{ProjectID: "p", Endpoint: "http://127.0.0.1:1"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = c.GetAll(context.Background(), nil)
	assert.ErrorIs(t, err, constants.ErrClientClosed)

	// Closing twice is fine.
	assert.NoError(t, c.Close())
}

func TestPathParity(t *testing.T) {
	c := newTestClient(t)

	col := c.Collection("users")
	require.NoError(t, col.err)
	assert.Equal(t, "users", col.ID)
	assert.Nil(t, col.Parent)

	doc := c.Doc("users/alice")
	require.NoError(t, doc.err)
	assert.Equal(t, "alice", doc.ID)
	assert.Equal(t, "projects/p/databases/(default)/documents/users/alice", doc.Path)

	// A single-segment subcollection keeps its owning document.
	sub := doc.Collection("posts")
	require.NoError(t, sub.err)
	require.NotNil(t, sub.Parent)
	assert.True(t, sameDoc(sub.Parent, doc))

	// A multi-segment subcollection path chains back to the same anchor.
	deep := doc.Collection("a/b/c")
	require.NoError(t, deep.err)
	require.NotNil(t, deep.Parent)
	assert.Equal(t, doc.Path+"/a/b", deep.Parent.Path)
	require.NotNil(t, deep.Parent.Parent)
	assert.True(t, sameDoc(deep.Parent.Parent.Parent, doc))

	// Wrong parity is an error carried on the ref.
	assert.Error(t, c.Collection("users/alice").err)
	assert.Error(t, c.Doc("users").err)
	assert.Error(t, c.Doc("users//alice").err)
	assert.Error(t, c.Collection("").err)
}

func TestGetAllPositionalMatch(t *testing.T) {
	c, srv := newFakeClient(t)
	alice := c.Doc("users/alice")
	bob := c.Doc("users/bob")

	// The server answers out of order and reports bob missing.
	srv.AddStub(fakefs.Stub{
		Method:     "POST",
		PathSuffix: ":batchGet",
		Response: []connection.BatchGetResponse{
			{Missing: bob.Path, ReadTime: "2024-01-03T00:00:00Z"},
			{Found: wireDoc(alice.Path, map[string]*codec.Value{
				"name": {StringValue: strp("Alice")},
			}), ReadTime: "2024-01-03T00:00:00Z"},
		},
	})

	snaps, err := c.GetAll(context.Background(), []*DocumentRef{alice, bob})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	assert.True(t, snaps[0].Exists())
	assert.Equal(t, "Alice", snaps[0].Data()["name"])
	assert.False(t, snaps[1].Exists())
	assert.True(t, sameDoc(snaps[1].Ref, bob))
}

func TestGetAllNilRef(t *testing.T) {
	c, _ := newFakeClient(t)
	_, err := c.GetAll(context.Background(), []*DocumentRef{nil})
	assert.ErrorIs(t, err, constants.ErrNilDocRef)
}

func TestCollectionsListing(t *testing.T) {
	c, srv := newFakeClient(t)

	srv.AddStub(fakefs.Stub{
		Method:     "POST",
		PathSuffix: ":listCollectionIds",
		Response: connection.ListCollectionIDsResponse{
			CollectionIDs: []string{"users", "rooms"},
		},
	})

	cols, err := c.Collections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "users", cols[0].ID)
	assert.Equal(t, "rooms", cols[1].ID)
}

func TestDocRefFromNameForeignDatabase(t *testing.T) {
	c := newTestClient(t)

	ref := c.docRefFromName("projects/p/databases/(default)/documents/users/alice")
	require.NoError(t, ref.err)
	assert.Equal(t, "alice", ref.ID)

	// References into another database stay addressable but do not get
	// parsed into this client's hierarchy.
	foreign := c.docRefFromName("projects/other/databases/(default)/documents/users/bob")
	assert.Equal(t, "projects/other/databases/(default)/documents/users/bob", foreign.Path)
}
