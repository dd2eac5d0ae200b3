package firelite

import (
	"fmt"
	"time"

	"github.com/firelite/firelite.go/pkg/codec"
)

// A DocumentSnapshot is an immutable view of a document at a point in time.
// It is never mutated after construction.
type DocumentSnapshot struct {
	// Ref is the document this snapshot describes.
	Ref *DocumentRef

	// CreateTime and UpdateTime are zero for non-existent documents.
	CreateTime time.Time
	UpdateTime time.Time
	// ReadTime is when the snapshot was taken.
	ReadTime time.Time

	exists bool
	data   map[string]any
}

func newDocumentSnapshot(c *Client, doc *codec.Document, readTime string) (*DocumentSnapshot, error) {
	data, err := codec.DecodeMap(doc.Fields, c.decodeOptions())
	if err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", doc.Name, err)
	}
	ct, err := parseWireTime(doc.CreateTime)
	if err != nil {
		return nil, err
	}
	ut, err := parseWireTime(doc.UpdateTime)
	if err != nil {
		return nil, err
	}
	rt, err := parseWireTime(readTime)
	if err != nil {
		return nil, err
	}
	if rt.IsZero() {
		rt = time.Now()
	}
	return &DocumentSnapshot{
		Ref:        c.docRefFromName(doc.Name),
		CreateTime: ct,
		UpdateTime: ut,
		ReadTime:   rt,
		exists:     true,
		data:       data,
	}, nil
}

func missingSnapshot(ref *DocumentRef, readTime string) *DocumentSnapshot {
	rt, err := parseWireTime(readTime)
	if err != nil || rt.IsZero() {
		rt = time.Now()
	}
	return &DocumentSnapshot{Ref: ref, ReadTime: rt}
}

// Exists reports whether the document was present.
func (s *DocumentSnapshot) Exists() bool { return s.exists }

// Data returns the decoded field map, or nil for a non-existent document.
func (s *DocumentSnapshot) Data() map[string]any { return s.data }

// DataAt returns the value at a dotted field path.
func (s *DocumentSnapshot) DataAt(path string) (any, error) {
	fp, err := parseFieldPath(path)
	if err != nil {
		return nil, err
	}
	return s.DataAtPath(fp)
}

// DataAtPath returns the value at fp, descending through nested maps.
func (s *DocumentSnapshot) DataAtPath(fp FieldPath) (any, error) {
	if err := fp.validate(); err != nil {
		return nil, err
	}
	if !s.exists {
		return nil, fmt.Errorf("document %s does not exist", s.Ref.Path)
	}
	var cur any = s.data
	for i, seg := range fp {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field path %q: %q is not a map", fp, fp[:i].serverPath())
		}
		cur, ok = m[seg]
		if !ok {
			return nil, fmt.Errorf("no field %q in document %s", fp, s.Ref.Path)
		}
	}
	return cur, nil
}

// DocumentChangeKind says how a document moved between two consecutive
// snapshots of the same query.
type DocumentChangeKind int

const (
	DocumentAdded DocumentChangeKind = iota
	DocumentRemoved
	DocumentModified
)

func (k DocumentChangeKind) String() string {
	switch k {
	case DocumentAdded:
		return "added"
	case DocumentRemoved:
		return "removed"
	case DocumentModified:
		return "modified"
	}
	return "unknown"
}

// A DocumentChange is one entry of a query snapshot's diff against its
// predecessor.
type DocumentChange struct {
	Kind DocumentChangeKind
	Doc  *DocumentSnapshot
	// OldIndex is the position in the previous snapshot, -1 for added.
	OldIndex int
	// NewIndex is the position in this snapshot, -1 for removed.
	NewIndex int
}

// A QuerySnapshot is an immutable, ordered view of a query's results plus
// the diff against the previously emitted snapshot of the same subscription.
type QuerySnapshot struct {
	// Documents are the results in query order.
	Documents []*DocumentSnapshot
	// Changes is the diff against the preceding snapshot; for the first
	// snapshot every document is an add.
	Changes []DocumentChange
	// ReadTime is when the server reported this state consistent.
	ReadTime time.Time
	// Size is len(Documents).
	Size int
}
