package firelite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firelite/firelite.go/internal/rand"
	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
)

const autoIDLength = 20

// A CollectionRef refers to a collection. It embeds a Query over the
// collection's immediate documents, so filters and orderings chain directly
// off it.
type CollectionRef struct {
	Query

	// Parent is the owning document, or nil for a root collection.
	Parent *DocumentRef
	// Path is the full resource name of the collection.
	Path string
	// ID is the last path segment.
	ID string
}

// newCollectionRef builds a reference from validated path segments. base is
// the resource the segments hang off and anchor is the document that resource
// names, nil when it is the documents root. Intermediate refs along a
// multi-segment path are built recursively so the Parent chain reaches back
// to the anchor.
func newCollectionRef(c *Client, anchor *DocumentRef, base string, segs []string) *CollectionRef {
	parentDoc := anchor
	if len(segs) > 1 {
		parentDoc = newDocRef(c, anchor, base, segs[:len(segs)-1])
	}
	parentPath := base
	if parentDoc != nil {
		parentPath = parentDoc.Path
	}
	id := segs[len(segs)-1]
	return &CollectionRef{
		Query: Query{
			c:            c,
			parentPath:   parentPath,
			collectionID: id,
		},
		Parent: parentDoc,
		Path:   base + "/" + strings.Join(segs, "/"),
		ID:     id,
	}
}

func brokenCollection(c *Client, err error) *CollectionRef {
	return &CollectionRef{Query: Query{c: c, err: err}}
}

// Doc returns the document with the given id within the collection.
func (cr *CollectionRef) Doc(id string) *DocumentRef {
	if cr.err != nil {
		return &DocumentRef{err: cr.err}
	}
	if id == "" || strings.Contains(id, "/") {
		return &DocumentRef{err: fmt.Errorf("invalid document id %q", id)}
	}
	d := newDocRefUnder(cr, id)
	return d
}

// NewDoc returns a document reference with a fresh random id.
func (cr *CollectionRef) NewDoc() *DocumentRef {
	return cr.Doc(rand.NewRequestID(autoIDLength))
}

// Add creates a document with a random id holding data.
func (cr *CollectionRef) Add(ctx context.Context, data map[string]any) (*DocumentRef, *WriteResult, error) {
	doc := cr.NewDoc()
	wr, err := doc.Create(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	return doc, wr, nil
}

// DocumentRefs lists the references of every document in the collection,
// including missing documents that have live subcollections.
func (cr *CollectionRef) DocumentRefs(ctx context.Context) ([]*DocumentRef, error) {
	if cr.err != nil {
		return nil, cr.err
	}
	if err := cr.c.checkOpen(); err != nil {
		return nil, err
	}
	var out []*DocumentRef
	pageToken := ""
	for {
		resp, err := cr.c.conn.ListDocuments(ctx, cr.parentPath, cr.ID, pageToken, 0)
		if err != nil {
			return nil, err
		}
		for i := range resp.Documents {
			out = append(out, cr.c.docRefFromName(resp.Documents[i].Name))
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

// A DocumentRef refers to a single document.
type DocumentRef struct {
	c *Client

	// Parent is the collection holding the document.
	Parent *CollectionRef
	// Path is the full resource name,
	// projects/{p}/databases/{d}/documents/{path}.
	Path string
	// ID is the last path segment.
	ID string

	err error
}

func newDocRef(c *Client, anchor *DocumentRef, base string, segs []string) *DocumentRef {
	parent := newCollectionRef(c, anchor, base, segs[:len(segs)-1])
	return newDocRefUnder(parent, segs[len(segs)-1])
}

func newDocRefUnder(parent *CollectionRef, id string) *DocumentRef {
	return &DocumentRef{
		c:      parent.c,
		Parent: parent,
		Path:   parent.Path + "/" + id,
		ID:     id,
	}
}

// ResourceName returns the full wire resource name. It makes DocumentRef
// encodable as a reference value.
func (d *DocumentRef) ResourceName() string { return d.Path }

// Collection returns the subcollection at a slash-separated path with an
// odd number of segments under this document.
func (d *DocumentRef) Collection(path string) *CollectionRef {
	if d.err != nil {
		return brokenCollection(d.c, d.err)
	}
	segs, err := splitPath(path)
	if err == nil && len(segs)%2 == 0 {
		err = fmt.Errorf("collection path %q has an even number of segments", path)
	}
	if err != nil {
		return brokenCollection(d.c, err)
	}
	return newCollectionRef(d.c, d, d.Path, segs)
}

// Collections lists the document's subcollections.
func (d *DocumentRef) Collections(ctx context.Context) ([]*CollectionRef, error) {
	if d.err != nil {
		return nil, d.err
	}
	return listCollections(ctx, d.c, d)
}

// Get reads the document. A non-existent document is not an error: the
// returned snapshot reports Exists() == false.
func (d *DocumentRef) Get(ctx context.Context) (*DocumentSnapshot, error) {
	if d.err != nil {
		return nil, d.err
	}
	if err := d.c.checkOpen(); err != nil {
		return nil, err
	}
	doc, err := d.c.conn.GetDocument(ctx, d.Path)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return missingSnapshot(d, ""), nil
	}
	return newDocumentSnapshot(d.c, doc, "")
}

// Create writes the document, failing if it already exists.
func (d *DocumentRef) Create(ctx context.Context, data map[string]any) (*WriteResult, error) {
	w, err := d.newCreateWrite(data)
	if err != nil {
		return nil, err
	}
	return d.commitOne(ctx, w)
}

// Set writes the document. Without options it overwrites; with a merge
// option it only touches the named or provided fields.
func (d *DocumentRef) Set(ctx context.Context, data map[string]any, opts ...SetOption) (*WriteResult, error) {
	w, err := d.newSetWrite(data, opts)
	if err != nil {
		return nil, err
	}
	return d.commitOne(ctx, w)
}

// Update changes the named fields of an existing document. Keys are dotted
// field paths; the write fails if the document does not exist.
func (d *DocumentRef) Update(ctx context.Context, data map[string]any, preconds ...Precondition) (*WriteResult, error) {
	w, err := d.newUpdateWrite(data, preconds)
	if err != nil {
		return nil, err
	}
	return d.commitOne(ctx, w)
}

// Delete removes the document through the per-document delete endpoint.
// Deleting a non-existent document succeeds unless a precondition says
// otherwise. The endpoint returns no body, so the result carries a zero
// UpdateTime.
func (d *DocumentRef) Delete(ctx context.Context, preconds ...Precondition) (*WriteResult, error) {
	if d.err != nil {
		return nil, d.err
	}
	if err := d.c.checkOpen(); err != nil {
		return nil, err
	}
	pre, err := compilePreconditions(preconds)
	if err != nil {
		return nil, err
	}
	if err := d.c.conn.DeleteDocument(ctx, d.Path, pre); err != nil {
		return nil, err
	}
	return &WriteResult{}, nil
}

func (d *DocumentRef) commitOne(ctx context.Context, w codec.Write) (*WriteResult, error) {
	if err := d.c.checkOpen(); err != nil {
		return nil, err
	}
	resp, err := d.c.conn.Commit(ctx, &connection.CommitRequest{Writes: []codec.Write{w}})
	if err != nil {
		return nil, err
	}
	return writeResultFromCommit(resp, 0)
}

// WriteResult reports a successfully applied write.
type WriteResult struct {
	// UpdateTime is the server time at which the write took effect.
	UpdateTime time.Time
}

func writeResultFromCommit(resp *connection.CommitResponse, i int) (*WriteResult, error) {
	if i >= len(resp.WriteResults) {
		return nil, fmt.Errorf("commit response missing write result %d", i)
	}
	return writeResultFromWire(resp.WriteResults[i], resp.CommitTime)
}

func writeResultFromWire(wr codec.WriteResult, fallbackTime string) (*WriteResult, error) {
	ts := wr.UpdateTime
	if ts == "" {
		ts = fallbackTime
	}
	t, err := parseWireTime(ts)
	if err != nil {
		return nil, err
	}
	return &WriteResult{UpdateTime: t}, nil
}

func parseWireTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid wire timestamp %q: %w", s, err)
	}
	return t, nil
}

// sameDoc reports whether two refs address the same document.
func sameDoc(a, b *DocumentRef) bool {
	return a != nil && b != nil && a.Path == b.Path
}
